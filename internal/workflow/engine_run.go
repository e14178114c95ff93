package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"portalpilot/internal/browser"
	"portalpilot/internal/logging"
	"portalpilot/internal/notifications"
	"portalpilot/internal/preflight"
	"portalpilot/internal/queue"
	"portalpilot/internal/services"
)

func (e *Engine) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	err := e.execute(ctx)
	e.closeSession()
	e.finish(gen, err)
}

func (e *Engine) execute(ctx context.Context) error {
	if err := e.runPreflight(); err != nil {
		return err
	}

	if stats, err := e.store.Statistics(ctx); err == nil {
		e.logger.Info("queue ready",
			logging.Int("pending", stats.Remaining()),
			logging.Int("total", stats.Total),
		)
		e.publish(notifications.EventRunStarted, notifications.Payload{"count": stats.Remaining()})
	}

	if err := e.setupSession(ctx); err != nil {
		return err
	}
	return e.processQueue(ctx)
}

// runPreflight validates the directories the run writes to.
func (e *Engine) runPreflight() error {
	if err := e.cfg.EnsureDirectories(); err != nil {
		return services.Wrap(services.ErrConfiguration, "workflow", "preflight", "create directories", err)
	}
	failed := preflight.Failed(preflight.CheckPaths(e.cfg))
	if len(failed) == 0 {
		return nil
	}
	details := make([]string, 0, len(failed))
	for _, r := range failed {
		e.logger.Error("preflight check failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "fix the reported issue and start again"),
		)
		details = append(details, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return services.Wrap(services.ErrConfiguration, "workflow", "preflight", strings.Join(details, "; "), nil)
}

// finish records the run outcome unless the run was detached by a forced stop.
func (e *Engine) finish(gen uint64, runErr error) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	stopped := e.stopped
	e.running = false
	e.cancel = nil
	e.gate = nil
	e.skipRequested = false
	e.state.item = nil
	e.state.waitingKind = ""
	e.state.waitingMsg = ""
	switch {
	case stopped || errors.Is(runErr, services.ErrStopped) || errors.Is(runErr, context.Canceled):
		e.state.status = StatusIdle
		e.state.step = 0
	case runErr == nil:
		e.state.status = StatusCompleted
	default:
		e.state.status = StatusError
		e.state.lastError = runErr.Error()
	}
	status := e.state.status
	processed, failed, started := e.state.processed, e.state.failed, e.state.startTime
	e.mu.Unlock()

	switch status {
	case StatusCompleted:
		e.logger.Info("automation completed",
			logging.Int("processed", processed),
			logging.Int("failed", failed),
			logging.Duration("elapsed", time.Since(started).Round(time.Millisecond)),
			logging.String(logging.FieldEventType, "run_completed"),
		)
	case StatusError:
		e.logger.Error("automation failed",
			logging.Error(runErr),
			logging.String(logging.FieldEventType, "run_failed"),
			logging.String(logging.FieldErrorHint, services.ErrorHint(runErr)),
		)
	default:
		e.logger.Info("automation ended", logging.String(logging.FieldEventType, "run_ended"))
	}
	e.notifyRunFinished(status, processed, failed, started, runErr)
	e.broadcast()
}

// processQueue pulls eligible items until the queue is exhausted or the run stops.
func (e *Engine) processQueue(ctx context.Context) error {
	for {
		if err := e.checkpoint(ctx, false); err != nil {
			return err
		}
		item, err := e.store.NextEligible(ctx)
		if err != nil {
			return fmt.Errorf("fetch next item: %w", err)
		}
		if item == nil {
			e.logger.Info("queue exhausted", logging.String(logging.FieldEventType, "queue_exhausted"))
			return nil
		}

		outcome, err := e.processItem(ctx, item)
		if err != nil {
			return err
		}
		if outcome != nil && outcome.Status == queue.StatusRetrying {
			delay := retryDelay(e.cfg.Retry, outcome.RetryCount)
			if delay > 0 {
				e.logger.Info("backing off before retry",
					logging.String(logging.FieldItemID, outcome.ID),
					logging.Int("retry_count", outcome.RetryCount),
					logging.Duration("delay", delay),
				)
			}
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		}
		if err := e.sleep(ctx, itemDelay(e.cfg.Waits)); err != nil {
			return err
		}
	}
}

// checkpoint observes stop, skip (when perItem), and pause. While paused it
// polls at the configured interval.
func (e *Engine) checkpoint(ctx context.Context, perItem bool) error {
	announced := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.mu.Lock()
		stopped, paused, skip := e.stopped, e.paused, e.skipRequested
		e.mu.Unlock()
		switch {
		case stopped:
			return services.ErrStopped
		case perItem && skip:
			return errSkipped
		case !paused:
			return nil
		}
		if !announced {
			e.logger.Debug("holding at checkpoint while paused")
			announced = true
		}
		if err := e.sleep(ctx, e.pausePoll()); err != nil {
			return err
		}
	}
}

func (e *Engine) pausePoll() time.Duration {
	if e.cfg.Waits.PausePoll <= 0 {
		return time.Second
	}
	return time.Duration(e.cfg.Waits.PausePoll) * time.Millisecond
}

// sleep waits for d or until ctx ends.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) waitMillis(ctx context.Context, ms int) error {
	return e.sleep(ctx, time.Duration(ms)*time.Millisecond)
}

// enterStep records step id as current, then returns a context bounded by
// the step timeout. Per-item steps also honour a pending skip.
func (e *Engine) enterStep(ctx context.Context, id int) (context.Context, context.CancelFunc, error) {
	var desc StepDescriptor
	for _, step := range e.steps {
		if step.ID == id {
			desc = step
			break
		}
	}
	if err := e.checkpoint(ctx, desc.PerItem); err != nil {
		return ctx, func() {}, err
	}

	e.mu.Lock()
	if e.ownsStateLocked(ctx) {
		e.state.step = id
	}
	e.mu.Unlock()
	e.broadcast()

	stepCtx := services.WithStep(ctx, id)
	logging.WithContext(stepCtx, e.logger).Info("step started",
		logging.String("label", desc.Label),
		logging.String(logging.FieldEventType, "step_started"),
	)
	if desc.Timeout <= 0 {
		return stepCtx, func() {}, nil
	}
	stepCtx, cancel := context.WithTimeout(stepCtx, desc.Timeout)
	return stepCtx, cancel, nil
}

// stepError classifies a step failure, turning deadline overruns into timeouts.
func (e *Engine) stepError(id int, operation string, err error) error {
	label := StepLabel(e.steps, id)
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, fmt.Sprintf("step %d", id), label, operation+" timed out", err)
	}
	return services.Wrap(services.ErrTransient, fmt.Sprintf("step %d", id), label, operation, err)
}

// notFoundError reports a required element that no strategy located.
func (e *Engine) notFoundError(id int, target string) error {
	return services.Wrap(services.ErrNotFound, fmt.Sprintf("step %d", id), StepLabel(e.steps, id), target+" not found", nil)
}

func (e *Engine) activePage() browser.Page {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.ActivePage()
}

func (e *Engine) currentSession() browser.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// closeSession tears down the browser. It may run concurrently from a forced
// stop and from the run's own exit.
func (e *Engine) closeSession() {
	session := e.currentSession()
	if session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		e.logger.Warn("browser close failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "browser_close_failed"),
			logging.String(logging.FieldImpact, "a browser process may be left running"),
		)
	} else {
		e.logger.Info("browser closed", logging.String(logging.FieldEventType, "browser_closed"))
	}
	e.mu.Lock()
	if e.session == session {
		e.session = nil
	}
	e.mu.Unlock()
}
