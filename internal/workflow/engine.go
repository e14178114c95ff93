package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"portalpilot/internal/browser"
	"portalpilot/internal/config"
	"portalpilot/internal/locator"
	"portalpilot/internal/logging"
	"portalpilot/internal/notifications"
	"portalpilot/internal/queue"
)

var (
	// ErrAlreadyRunning reports Start while a run is active.
	ErrAlreadyRunning = errors.New("automation already running")
	// ErrNotRunning reports a control call that needs an active run.
	ErrNotRunning = errors.New("automation is not running")
	// ErrNoCurrentItem reports Skip with no item in progress.
	ErrNoCurrentItem = errors.New("no item is being processed")
	// ErrStillStopping reports Start while a forcibly stopped run has not exited.
	ErrStillStopping = errors.New("previous run is still shutting down")
)

// Engine runs the publishing pipeline against one browser session at a time.
type Engine struct {
	cfg      *config.Config
	store    *queue.Store
	driver   browser.Driver
	logger   *slog.Logger
	notifier notifications.Service
	locator  *locator.Locator
	clicker  *locator.Clicker
	diag     *Diagnostics
	steps    []StepDescriptor

	mu            sync.Mutex
	state         runState
	running       bool
	paused        bool
	stopped       bool
	skipRequested bool
	generation    uint64
	cancel        context.CancelFunc
	done          chan struct{}
	session       browser.Session
	gate          *gate

	obsMu        sync.Mutex
	observers    map[int]chan State
	nextObserver int
	dropped      atomic.Uint64
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithNotifier replaces the notification service built from config.
func WithNotifier(n notifications.Service) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// NewEngine constructs an idle engine.
func NewEngine(cfg *config.Config, store *queue.Store, driver browser.Driver, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "engine")
	loc := locator.New(logger, time.Duration(cfg.Timeouts.LocatorStrategy)*time.Second)
	e := &Engine{
		cfg:       cfg,
		store:     store,
		driver:    driver,
		logger:    logger,
		notifier:  notifications.NewService(cfg),
		locator:   loc,
		clicker:   locator.NewClicker(loc, cfg.Retry.ClickAttempts, time.Duration(cfg.Retry.ClickDelay)*time.Millisecond, logger),
		diag:      NewDiagnostics(cfg.Paths.ScreenshotDir, logger),
		steps:     StepTable(cfg.Timeouts),
		state:     runState{status: StatusIdle},
		observers: make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StepTable returns the engine's step descriptors.
func (e *Engine) StepTable() []StepDescriptor {
	return append([]StepDescriptor(nil), e.steps...)
}

// Start launches a run in the background. ctx bounds the whole run; callers
// serving requests should pass a long-lived context.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.awaitDetachedRun(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	if e.done != nil {
		select {
		case <-e.done:
		default:
			e.mu.Unlock()
			return ErrStillStopping
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.generation++
	gen := e.generation
	done := make(chan struct{})
	e.running = true
	e.paused = false
	e.stopped = false
	e.skipRequested = false
	e.cancel = cancel
	e.done = done
	e.gate = nil
	e.state = runState{status: StatusRunning, startTime: time.Now()}
	e.mu.Unlock()

	e.logger.Info("automation started", logging.String(logging.FieldEventType, "run_started"))
	e.broadcast()

	go e.run(withRunGeneration(runCtx, gen), gen, done)
	return nil
}

// awaitDetachedRun waits, up to the stop grace period, for a run that a
// forced Stop detached to exit.
func (e *Engine) awaitDetachedRun(ctx context.Context) error {
	e.mu.Lock()
	prev, running := e.done, e.running
	e.mu.Unlock()
	if prev == nil || running {
		return nil
	}
	timer := time.NewTimer(e.stopGrace())
	defer timer.Stop()
	select {
	case <-prev:
		return nil
	case <-timer.C:
		return ErrStillStopping
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) stopGrace() time.Duration {
	if e.cfg.Timeouts.StopGraceSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(e.cfg.Timeouts.StopGraceSeconds) * time.Second
}

type runGenerationKey struct{}

func withRunGeneration(ctx context.Context, gen uint64) context.Context {
	return context.WithValue(ctx, runGenerationKey{}, gen)
}

// ownsStateLocked reports whether ctx belongs to the current run, so a run
// detached by a forced stop cannot write into its successor's state. Callers
// hold e.mu.
func (e *Engine) ownsStateLocked(ctx context.Context) bool {
	gen, ok := ctx.Value(runGenerationKey{}).(uint64)
	return !ok || gen == e.generation
}

// Pause suspends the run at the next checkpoint.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.paused = true
	if e.state.status == StatusRunning {
		e.state.status = StatusPaused
	}
	e.mu.Unlock()
	e.logger.Info("automation paused", logging.String(logging.FieldEventType, "run_paused"))
	e.broadcast()
	return nil
}

// Resume continues a paused run.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.paused = false
	if e.state.status == StatusPaused {
		e.state.status = StatusRunning
	}
	e.mu.Unlock()
	e.logger.Info("automation resumed", logging.String(logging.FieldEventType, "run_resumed"))
	e.broadcast()
	return nil
}

// Stop ends the run, declines any open gate, and tears down the browser
// before returning. Calling Stop with no active run is a no-op. If the run
// does not wind down within the configured grace period the session is
// closed forcibly.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.stopped = true
		e.resetIdleLocked()
		e.mu.Unlock()
		e.broadcast()
		return nil
	}
	e.stopped = true
	e.paused = false
	cancel := e.cancel
	done := e.done
	g := e.gate
	e.gate = nil
	e.mu.Unlock()

	e.logger.Warn("automation stopping", logging.String(logging.FieldEventType, "run_stopping"))
	if g != nil {
		g.result <- stopDecline(g.kind)
	}
	if cancel != nil {
		cancel()
	}

	grace := e.stopGrace()
	timer := time.NewTimer(grace)
	defer timer.Stop()

	var forced bool
	select {
	case <-done:
	case <-timer.C:
		forced = true
	case <-ctx.Done():
		forced = true
	}
	if forced {
		logging.WarnWithContext(e.logger, "run did not stop in time; closing browser", "run_stop_forced",
			logging.Duration("grace", grace),
			logging.String(logging.FieldImpact, "the current step was abandoned"),
		)
		e.closeSession()
	}

	e.mu.Lock()
	if forced {
		// Detach the lingering run so its exit cannot overwrite the idle state.
		e.generation++
	}
	e.running = false
	e.cancel = nil
	e.resetIdleLocked()
	e.mu.Unlock()
	e.logger.Info("automation stopped", logging.String(logging.FieldEventType, "run_stopped"))
	e.broadcast()
	return nil
}

func (e *Engine) resetIdleLocked() {
	e.state.status = StatusIdle
	e.state.step = 0
	e.state.item = nil
	e.state.waitingKind = ""
	e.state.waitingMsg = ""
	e.gate = nil
	e.skipRequested = false
}

// Skip abandons the current item. An open banner or submit gate is released
// immediately; otherwise the skip takes effect at the next checkpoint.
func (e *Engine) Skip() error {
	e.mu.Lock()
	if e.state.item == nil {
		e.mu.Unlock()
		return ErrNoCurrentItem
	}
	e.skipRequested = true
	itemID := e.state.item.ID
	var g *gate
	if e.gate != nil && e.gate.kind != ConfirmLogin {
		g = e.gate
		e.gate = nil
	}
	e.mu.Unlock()

	e.logger.Info("skip requested",
		logging.String(logging.FieldItemID, itemID),
		logging.String(logging.FieldEventType, "item_skip_requested"),
	)
	if g != nil {
		g.result <- errSkipped
	}
	return nil
}

// Status returns a snapshot of the engine state with queue progress.
func (e *Engine) Status() State {
	e.mu.Lock()
	st := State{
		Status:                 e.state.status,
		IsRunning:              e.running,
		IsPaused:               e.paused,
		IsStopped:              e.stopped,
		WaitingForConfirmation: e.state.waitingKind,
		ConfirmationMessage:    e.state.waitingMsg,
		CurrentStep:            e.state.step,
		CurrentStepLabel:       StepLabel(e.steps, e.state.step),
		LastError:              e.state.lastError,
		Progress: Progress{
			Processed: e.state.processed,
			Failed:    e.state.failed,
		},
	}
	if e.state.item != nil {
		ref := *e.state.item
		st.CurrentItem = &ref
	}
	if !e.state.startTime.IsZero() {
		start := e.state.startTime
		st.StartTime = &start
	}
	e.mu.Unlock()

	if stats, err := e.store.Statistics(context.Background()); err == nil {
		st.Progress.Pending = stats.Remaining()
		st.Progress.Total = stats.Total
	}
	return st
}

func (e *Engine) currentItem() *ItemRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.item == nil {
		return nil
	}
	ref := *e.state.item
	return &ref
}
