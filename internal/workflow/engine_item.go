package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"portalpilot/internal/browser"
	"portalpilot/internal/locator"
	"portalpilot/internal/logging"
	"portalpilot/internal/notifications"
	"portalpilot/internal/queue"
	"portalpilot/internal/services"
)

const skipReason = "skipped by operator"

// processItem runs one attempt for item and records the outcome. The
// returned error is fatal to the run; item-level failures are recorded on
// the item and reported through the returned copy.
func (e *Engine) processItem(ctx context.Context, item *queue.Item) (*queue.Item, error) {
	itemCtx := services.WithItemID(ctx, item.ID)
	logger := logging.WithContext(itemCtx, e.logger)

	claimed, err := e.store.MarkProcessing(itemCtx, item.ID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) || errors.Is(err, queue.ErrInvalidTransition) {
			logger.Warn("item changed before it could be claimed; moving on",
				logging.Error(err),
				logging.String(logging.FieldEventType, "item_claim_skipped"),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("claim item %s: %w", item.ID, err)
	}

	e.setCurrentItem(ctx, &ItemRef{ID: claimed.ID, Title: claimed.Title()})
	defer e.setCurrentItem(ctx, nil)

	logger.Info("processing item",
		logging.String("title", claimed.Title()),
		logging.Int("retry_count", claimed.RetryCount),
		logging.String(logging.FieldEventType, "item_started"),
	)
	start := time.Now()
	attemptErr := e.publishItem(itemCtx, claimed)
	return e.recordOutcome(itemCtx, claimed, attemptErr, time.Since(start))
}

// publishItem drives steps 5 through 15 for one item.
func (e *Engine) publishItem(ctx context.Context, item *queue.Item) error {
	p := e.cfg.Portal
	if err := e.clickStep(ctx, StepCategory, locator.Spec{Name: "news category", Path: p.CategoryXPath}); err != nil {
		return err
	}
	if err := e.clickStep(ctx, StepAddContent, locator.Spec{Name: "add content", Path: p.AddContentXPath}); err != nil {
		return err
	}

	_, cancel, err := e.enterStep(ctx, StepBanner)
	cancel()
	if err != nil {
		return err
	}
	if err := e.awaitConfirmation(ctx, ConfirmBanner, item.BannerPath); err != nil {
		return err
	}

	if err := e.fillForm(ctx, item.Payload); err != nil {
		return err
	}

	return e.submit(ctx, item)
}

// clickStep clicks a required navigation element and waits for the page to load.
func (e *Engine) clickStep(ctx context.Context, id int, spec locator.Spec) error {
	stepCtx, cancel, err := e.enterStep(ctx, id)
	defer cancel()
	if err != nil {
		return err
	}
	if err := e.waitMillis(stepCtx, e.cfg.Waits.ElementClick); err != nil {
		return e.stepError(id, "settle", err)
	}
	if !e.clicker.Click(stepCtx, e.activePage(), spec) {
		if err := stepCtx.Err(); err != nil {
			return e.stepError(id, "click "+spec.Name, err)
		}
		return e.notFoundError(id, spec.Name)
	}
	return e.waitMillis(ctx, e.cfg.Waits.PageLoad)
}

func (e *Engine) submit(ctx context.Context, item *queue.Item) error {
	_, cancel, err := e.enterStep(ctx, StepSubmit)
	cancel()
	if err != nil {
		return err
	}
	// The gate waits on the operator, outside the step budget.
	if err := e.awaitConfirmation(ctx, ConfirmSubmit, item.Title()); err != nil {
		return err
	}
	if err := e.checkpoint(ctx, true); err != nil {
		return err
	}
	stepCtx, cancel := context.WithTimeout(services.WithStep(ctx, StepSubmit), e.stepTimeout(StepSubmit))
	defer cancel()

	page := e.activePage()
	if !e.clicker.Click(stepCtx, page, locator.Spec{Name: "submit button", ID: e.cfg.Portal.SubmitButtonID}) {
		if err := stepCtx.Err(); err != nil {
			return e.stepError(StepSubmit, "click submit", err)
		}
		return e.notFoundError(StepSubmit, "submit button")
	}
	if err := e.waitMillis(ctx, e.cfg.Waits.AfterSubmit); err != nil {
		return err
	}
	e.verifySubmission(stepCtx, page)
	e.diag.Capture(ctx, page, "success-"+item.ID, false)
	return nil
}

// verifySubmission looks for the portal's success message. Absence is logged
// only; some portal versions redirect without one.
func (e *Engine) verifySubmission(ctx context.Context, page browser.Page) {
	xpath := strings.TrimSpace(e.cfg.Portal.SuccessXPath)
	if xpath == "" || page == nil {
		return
	}
	match, err := e.locator.Find(ctx, page, locator.Spec{Name: "success message", Path: xpath, Timeout: e.strategyTimeout()})
	if err != nil || match == nil {
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "success message not seen after submit", "submit_unconfirmed",
			logging.Alert("review"),
			logging.String(logging.FieldImpact, "the item is recorded as completed; verify it on the portal"),
		)
		return
	}
	e.logger.Debug("success message found", logging.String("frame", match.Frame))
}

func (e *Engine) stepTimeout(id int) time.Duration {
	for _, step := range e.steps {
		if step.ID == id && step.Timeout > 0 {
			return step.Timeout
		}
	}
	return time.Duration(e.cfg.Timeouts.Medium) * time.Second
}

// recordOutcome persists the attempt result. Writes use a context detached
// from cancellation so a stop cannot drop a terminal transition.
func (e *Engine) recordOutcome(ctx context.Context, item *queue.Item, attemptErr error, elapsed time.Duration) (*queue.Item, error) {
	logger := logging.WithContext(ctx, e.logger)
	persistCtx := context.WithoutCancel(ctx)

	switch {
	case attemptErr == nil:
		done, err := e.store.MarkCompleted(persistCtx, item.ID, elapsed)
		if err != nil {
			return e.vanishedOr(logger, err, "record completion")
		}
		e.mu.Lock()
		if e.ownsStateLocked(ctx) {
			e.state.processed++
		}
		e.mu.Unlock()
		logger.Info("item published",
			logging.String("title", item.Title()),
			logging.Duration("elapsed", elapsed.Round(time.Millisecond)),
			logging.String(logging.FieldEventType, "item_completed"),
		)
		e.broadcast()
		return done, nil

	case errors.Is(attemptErr, errSkipped) || e.skipPending():
		skipped, err := e.store.MarkSkipped(persistCtx, item.ID, skipReason)
		if err != nil {
			return e.vanishedOr(logger, err, "record skip")
		}
		logger.Info("item skipped", logging.String(logging.FieldEventType, "item_skipped"))
		e.broadcast()
		return skipped, nil

	case e.stopping(ctx, attemptErr):
		if _, err := e.store.Release(persistCtx, item.ID); err != nil && !errors.Is(err, queue.ErrNotFound) {
			logger.Warn("could not release interrupted item",
				logging.Error(err),
				logging.String(logging.FieldEventType, "item_release_failed"),
				logging.String(logging.FieldImpact, "item stays processing until the next restart"),
			)
		} else {
			logger.Info("item released after stop", logging.String(logging.FieldEventType, "item_released"))
		}
		if errors.Is(attemptErr, services.ErrStopped) {
			return nil, attemptErr
		}
		return nil, services.ErrStopped
	}

	e.diag.Capture(ctx, e.activePage(), "error-"+item.ID, false)
	failed, err := e.store.MarkFailed(persistCtx, item.ID, attemptErr.Error())
	if err != nil {
		return e.vanishedOr(logger, err, "record failure")
	}
	attrs := []logging.Attr{
		logging.Error(attemptErr),
		logging.String("title", item.Title()),
		logging.String("resolved_status", string(failed.Status)),
		logging.Int("retry_count", failed.RetryCount),
		logging.String(logging.FieldEventType, "item_failed"),
		logging.String(logging.FieldErrorHint, services.ErrorHint(attemptErr)),
	}
	if failed.Status == queue.StatusFailed {
		attrs = append(attrs, logging.Alert("retries_exhausted"))
	}
	logger.Error("item attempt failed", logging.Args(attrs...)...)
	if failed.Status == queue.StatusFailed {
		e.mu.Lock()
		if e.ownsStateLocked(ctx) {
			e.state.failed++
		}
		e.mu.Unlock()
		e.publish(notifications.EventItemFailed, notifications.Payload{
			"title": item.Title(),
			"error": attemptErr,
		})
	}
	e.broadcast()
	return failed, nil
}

// vanishedOr ignores an item deleted mid-attempt and surfaces any other
// persistence failure as fatal.
func (e *Engine) vanishedOr(logger *slog.Logger, err error, operation string) (*queue.Item, error) {
	if errors.Is(err, queue.ErrNotFound) {
		logger.Warn("item vanished during processing; outcome discarded",
			logging.String("operation", operation),
			logging.String(logging.FieldEventType, "item_vanished"),
		)
		return nil, nil
	}
	return nil, fmt.Errorf("%s: %w", operation, err)
}

func (e *Engine) stopping(ctx context.Context, attemptErr error) bool {
	if errors.Is(attemptErr, services.ErrStopped) || errors.Is(attemptErr, context.Canceled) {
		return true
	}
	if ctx.Err() != nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *Engine) skipPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.skipRequested
}

func (e *Engine) setCurrentItem(ctx context.Context, ref *ItemRef) {
	e.mu.Lock()
	if !e.ownsStateLocked(ctx) {
		e.mu.Unlock()
		return
	}
	e.state.item = ref
	e.skipRequested = false
	if ref == nil && e.state.status != StatusIdle {
		e.state.step = 0
	}
	e.mu.Unlock()
	e.broadcast()
}
