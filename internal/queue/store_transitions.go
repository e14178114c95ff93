package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"portalpilot/internal/logging"
)

const unknownFailure = "unknown error"

// NextEligible returns the first pending or retrying item in stored order, or
// nil when none remain. It does not change the item's status.
func (s *Store) NextEligible(_ context.Context) (*Item, error) {
	var (
		out   Item
		found bool
	)
	s.read(func(snap *Snapshot) {
		for _, item := range snap.Queue {
			if item.Status.Eligible() {
				out = item.Clone()
				found = true
				return
			}
		}
	})
	if !found {
		return nil, nil
	}
	return &out, nil
}

// Transition moves an item through the lifecycle:
//
//	pending|retrying -> processing
//	processing -> completed
//	processing -> failed (retrying while retries remain)
//	pending|processing|retrying -> skipped
//	failed -> retrying (retry count reset)
//	processing -> pending (attempt interrupted by stop)
//
// Anything else returns ErrInvalidTransition.
func (s *Store) Transition(ctx context.Context, id string, to Status, errMsg string) (*Item, error) {
	return s.transition(ctx, id, to, errMsg, 0)
}

// MarkProcessing claims an eligible item for the engine.
func (s *Store) MarkProcessing(ctx context.Context, id string) (*Item, error) {
	return s.transition(ctx, id, StatusProcessing, "", 0)
}

// MarkCompleted records a successful attempt. A zero elapsed value is derived
// from the time the item entered processing.
func (s *Store) MarkCompleted(ctx context.Context, id string, elapsed time.Duration) (*Item, error) {
	return s.transition(ctx, id, StatusCompleted, "", elapsed)
}

// MarkFailed records a failed attempt; the item ends retrying or failed.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) (*Item, error) {
	return s.transition(ctx, id, StatusFailed, errMsg, 0)
}

// MarkSkipped records an operator skip.
func (s *Store) MarkSkipped(ctx context.Context, id, reason string) (*Item, error) {
	return s.transition(ctx, id, StatusSkipped, reason, 0)
}

// Release returns an interrupted processing item to pending without
// charging a retry.
func (s *Store) Release(ctx context.Context, id string) (*Item, error) {
	return s.transition(ctx, id, StatusPending, "", 0)
}

// Retry moves one failed item back to retrying with a fresh retry budget.
func (s *Store) Retry(ctx context.Context, id string) (*Item, error) {
	return s.transition(ctx, id, StatusRetrying, "", 0)
}

// RetryFailed moves every failed item back to retrying and returns the count.
func (s *Store) RetryFailed(ctx context.Context) (int, error) {
	count := 0
	err := s.mutate(ctx, 1, func(snap *Snapshot) error {
		for i := range snap.Queue {
			if snap.Queue[i].Status == StatusFailed {
				resetForRetry(&snap.Queue[i])
				count++
			}
		}
		if count == 0 {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s.logger.Info("failed items queued for retry",
		logging.Int("count", count),
		logging.String(logging.FieldEventType, "retry_failed"),
	)
	return count, nil
}

func (s *Store) transition(ctx context.Context, id string, to Status, errMsg string, elapsed time.Duration) (*Item, error) {
	attempts := 1
	if to == StatusCompleted || to == StatusFailed {
		attempts = s.writeAttempts
	}
	var (
		out  Item
		from Status
	)
	err := s.mutate(ctx, attempts, func(snap *Snapshot) error {
		idx := snap.indexOf(id)
		if idx < 0 {
			return notFound(id)
		}
		item := &snap.Queue[idx]
		from = item.Status
		now := s.now().UTC()

		switch {
		case to == StatusProcessing && from.Eligible():
			item.Status = StatusProcessing
			item.StartedAt = &now
		case to == StatusCompleted && from == StatusProcessing:
			seconds := elapsed.Seconds()
			if elapsed <= 0 && item.StartedAt != nil {
				seconds = now.Sub(*item.StartedAt).Seconds()
			}
			item.Status = StatusCompleted
			item.ProcessedAt = &now
			item.ProcessingTime = &seconds
			item.Error = ""
			snap.Metadata.TotalProcessed++
		case to == StatusFailed && from == StatusProcessing:
			item.RetryCount++
			item.Error = strings.TrimSpace(errMsg)
			if item.Error == "" {
				item.Error = unknownFailure
			}
			if item.RetryCount >= item.MaxRetries {
				item.Status = StatusFailed
				snap.FailedItems = append(snap.FailedItems, item.Clone())
				snap.Metadata.TotalFailed++
			} else {
				item.Status = StatusRetrying
			}
		case to == StatusSkipped && (from.Eligible() || from == StatusProcessing):
			item.Status = StatusSkipped
			if reason := strings.TrimSpace(errMsg); reason != "" {
				item.Error = reason
			}
		case to == StatusRetrying && from == StatusFailed:
			resetForRetry(item)
		case to == StatusPending && from == StatusProcessing:
			item.Status = StatusPending
			item.StartedAt = nil
		default:
			return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, from, to)
		}
		out = item.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(from, out)
	return &out, nil
}

func resetForRetry(item *Item) {
	item.Status = StatusRetrying
	item.RetryCount = 0
	item.Error = ""
}

func (s *Store) logTransition(from Status, item Item) {
	attrs := []logging.Attr{
		logging.String(logging.FieldItemID, item.ID),
		logging.String("title", item.Payload.Title),
		logging.String("status", string(item.Status)),
		logging.String("from", string(from)),
	}
	switch item.Status {
	case StatusFailed:
		logging.ErrorWithContext(s.logger, "item failed permanently", "item_failed",
			append(attrs,
				logging.Int("retry_count", item.RetryCount),
				logging.String("error", item.Error),
				logging.String(logging.FieldErrorHint, "fix the cause and run 'portalpilot queue retry'"),
			)...)
	case StatusRetrying:
		if from == StatusProcessing {
			logging.WarnWithContext(s.logger, "item will be retried", "item_retry_scheduled",
				append(attrs,
					logging.Int("retry_count", item.RetryCount),
					logging.Int("max_retries", item.MaxRetries),
					logging.String("error", item.Error),
					logging.String(logging.FieldImpact, "item returns to the queue"),
				)...)
			return
		}
		s.logger.Info("item queued for retry", logging.Args(attrs...)...)
	case StatusCompleted:
		if item.ProcessingTime != nil {
			attrs = append(attrs, logging.Float64("processing_time", *item.ProcessingTime))
		}
		s.logger.Info("item completed", logging.Args(append(attrs, logging.String(logging.FieldEventType, "item_completed"))...)...)
	default:
		s.logger.Debug("item status changed", logging.Args(attrs...)...)
	}
}

// Reorder moves the item at oldIndex to newIndex. Either index outside
// [0, len) returns ErrIndexOutOfRange and leaves the queue unchanged.
func (s *Store) Reorder(ctx context.Context, oldIndex, newIndex int) error {
	return s.mutate(ctx, 1, func(snap *Snapshot) error {
		n := len(snap.Queue)
		if oldIndex < 0 || oldIndex >= n || newIndex < 0 || newIndex >= n {
			return fmt.Errorf("%w: move %d -> %d with %d items", ErrIndexOutOfRange, oldIndex, newIndex, n)
		}
		moved := snap.Queue[oldIndex]
		if err := ensureEditable(&moved); err != nil {
			return err
		}
		if oldIndex == newIndex {
			return nil
		}
		items := append(snap.Queue[:oldIndex:oldIndex], snap.Queue[oldIndex+1:]...)
		items = append(items[:newIndex], append([]Item{moved}, items[newIndex:]...)...)
		snap.Queue = items
		return nil
	})
}
