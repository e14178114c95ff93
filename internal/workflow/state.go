package workflow

import (
	"time"
)

// EngineStatus is the engine's coarse run state.
type EngineStatus string

const (
	StatusIdle                EngineStatus = "idle"
	StatusRunning             EngineStatus = "running"
	StatusPaused              EngineStatus = "paused"
	StatusCompleted           EngineStatus = "completed"
	StatusError               EngineStatus = "error"
	StatusWaitingConfirmation EngineStatus = "waiting_confirmation"
)

// ItemRef identifies the item currently being attempted.
type ItemRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Progress counts this run's outcomes against the live queue.
type Progress struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Total     int `json:"total"`
}

// State is a point-in-time snapshot of the engine.
type State struct {
	Status                 EngineStatus     `json:"status"`
	IsRunning              bool             `json:"isRunning"`
	IsPaused               bool             `json:"isPaused"`
	IsStopped              bool             `json:"isStopped"`
	WaitingForConfirmation ConfirmationKind `json:"waitingForConfirmation,omitempty"`
	ConfirmationMessage    string           `json:"confirmationMessage,omitempty"`
	CurrentStep            int              `json:"currentStep"`
	CurrentStepLabel       string           `json:"currentStepLabel,omitempty"`
	CurrentItem            *ItemRef         `json:"currentItem,omitempty"`
	Progress               Progress         `json:"progress"`
	StartTime              *time.Time       `json:"startTime,omitempty"`
	LastError              string           `json:"lastError,omitempty"`
}

// runState is the mutable portion of State guarded by Engine.mu.
type runState struct {
	status      EngineStatus
	step        int
	item        *ItemRef
	processed   int
	failed      int
	startTime   time.Time
	lastError   string
	waitingKind ConfirmationKind
	waitingMsg  string
}

// Subscribe registers an observer. Updates that do not fit in the buffer
// are dropped for that observer. The returned func unregisters it and closes
// the channel.
func (e *Engine) Subscribe(buffer int) (<-chan State, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan State, buffer)
	e.obsMu.Lock()
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = ch
	e.obsMu.Unlock()

	var once bool
	return ch, func() {
		e.obsMu.Lock()
		defer e.obsMu.Unlock()
		if once {
			return
		}
		once = true
		delete(e.observers, id)
		close(ch)
	}
}

// broadcast sends the current state to every observer without blocking.
func (e *Engine) broadcast() {
	snapshot := e.Status()
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	for _, ch := range e.observers {
		select {
		case ch <- snapshot:
		default:
			e.dropped.Add(1)
		}
	}
}

// DroppedUpdates reports how many observer updates were discarded.
func (e *Engine) DroppedUpdates() uint64 {
	return e.dropped.Load()
}
