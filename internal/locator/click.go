package locator

import (
	"context"
	"log/slog"
	"time"

	"portalpilot/internal/browser"
	"portalpilot/internal/logging"
)

// Click retry defaults.
const (
	DefaultClickAttempts = 3
	DefaultClickDelay    = 2 * time.Second
)

// Clicker locates and clicks an element with a fixed retry budget.
type Clicker struct {
	locator  *Locator
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

// NewClicker returns a Clicker. Non-positive values use the defaults.
func NewClicker(locator *Locator, attempts int, delay time.Duration, logger *slog.Logger) *Clicker {
	if attempts <= 0 {
		attempts = DefaultClickAttempts
	}
	if delay < 0 {
		delay = DefaultClickDelay
	}
	return &Clicker{
		locator:  locator,
		attempts: attempts,
		delay:    delay,
		logger:   logging.NewComponentLogger(logger, "locator"),
	}
}

// Locator returns the underlying locator.
func (c *Clicker) Locator() *Locator { return c.locator }

// Click runs up to the configured number of locate+click cycles and reports
// whether one succeeded. A click error is retried like a miss.
func (c *Clicker) Click(ctx context.Context, page browser.Page, spec Spec) bool {
	_, ok := c.ClickMatch(ctx, page, spec)
	return ok
}

// ClickMatch is Click that also returns the match that was clicked.
func (c *Clicker) ClickMatch(ctx context.Context, page browser.Page, spec Spec) (*Match, bool) {
	for attempt := 1; attempt <= c.attempts; attempt++ {
		match, err := c.locator.Find(ctx, page, spec)
		if err != nil {
			return nil, false
		}
		if match != nil {
			clickErr := match.Element.Click(ctx)
			if clickErr == nil {
				return match, true
			}
			c.logger.Debug("click failed",
				logging.String("target", spec.label()),
				logging.Int("attempt", attempt),
				logging.Error(clickErr),
			)
		} else {
			c.logger.Debug("click target missing",
				logging.String("target", spec.label()),
				logging.Int("attempt", attempt),
			)
		}
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(c.delay):
		}
	}
	logging.WarnWithContext(c.logger, "click retries exhausted", "click_failed",
		logging.String("target", spec.label()),
		logging.Int("attempts", c.attempts),
		logging.String(logging.FieldImpact, "calling step decides whether this is fatal"),
	)
	return nil, false
}
