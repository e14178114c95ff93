package queue

import "errors"

var (
	// ErrNotFound reports an id that is not (or no longer) in the queue.
	ErrNotFound = errors.New("queue item not found")
	// ErrInvalidTransition reports a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrIndexOutOfRange reports a reorder index outside [0, len).
	ErrIndexOutOfRange = errors.New("queue index out of range")
	// ErrItemBusy reports an attempt to edit an item the engine is processing.
	ErrItemBusy = errors.New("queue item is being processed")
	// ErrImmutable reports an attempt to edit a completed or skipped item.
	ErrImmutable = errors.New("queue item is immutable")
	// ErrValidation reports payload or priority values outside accepted bounds.
	ErrValidation = errors.New("queue validation failed")
	// ErrUnsupportedFormat reports an unknown export format.
	ErrUnsupportedFormat = errors.New("unsupported export format")

	// errNoChange aborts a mutation that would not modify the snapshot.
	errNoChange = errors.New("no change")
)
