package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"portalpilot/internal/browser"
	"portalpilot/internal/logging"
)

// DefaultStrategyTimeout bounds a single strategy attempt in one frame.
const DefaultStrategyTimeout = 3 * time.Second

// Strategy names one way of locating an element.
type Strategy string

const (
	StrategyID   Strategy = "id"
	StrategyText Strategy = "text"
	StrategyHref Strategy = "href"
	StrategyPath Strategy = "xpath"
)

// Spec describes how to find one element. Empty fields are skipped.
type Spec struct {
	Name    string
	ID      string
	Text    string
	Href    string
	Path    string
	Timeout time.Duration
}

// Attempt is one strategy to try.
type Attempt struct {
	Strategy Strategy
	Query    browser.Query
}

// Attempts returns the strategies in fixed priority order.
func (s Spec) Attempts() []Attempt {
	var out []Attempt
	add := func(strategy Strategy, kind browser.QueryKind, value string) {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, Attempt{Strategy: strategy, Query: browser.Query{Kind: kind, Value: value}})
		}
	}
	add(StrategyID, browser.ByID, s.ID)
	add(StrategyText, browser.ByText, s.Text)
	add(StrategyHref, browser.ByHref, s.Href)
	add(StrategyPath, browser.ByXPath, s.Path)
	return out
}

func (s Spec) label() string {
	if s.Name != "" {
		return s.Name
	}
	if attempts := s.Attempts(); len(attempts) > 0 {
		return string(attempts[0].Strategy) + "=" + attempts[0].Query.Value
	}
	return "element"
}

// Match reports the element found and where.
type Match struct {
	Element    browser.Element
	Strategy   Strategy
	Frame      string
	FrameIndex int
}

// Locator runs Specs against a page.
type Locator struct {
	logger          *slog.Logger
	strategyTimeout time.Duration
}

// New returns a Locator. A non-positive strategyTimeout uses the default.
func New(logger *slog.Logger, strategyTimeout time.Duration) *Locator {
	if strategyTimeout <= 0 {
		strategyTimeout = DefaultStrategyTimeout
	}
	return &Locator{
		logger:          logging.NewComponentLogger(logger, "locator"),
		strategyTimeout: strategyTimeout,
	}
}

// Find returns the first element matching any strategy, main frame first.
// A miss returns (nil, nil); an error is returned only when ctx ends.
func (l *Locator) Find(ctx context.Context, page browser.Page, spec Spec) (*Match, error) {
	attempts := spec.Attempts()
	if len(attempts) == 0 {
		return nil, fmt.Errorf("locator %s: no strategy configured", spec.label())
	}
	searchCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	frames, err := page.Frames(searchCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		l.logger.Debug("frame enumeration failed; searching main frame only",
			logging.String("target", spec.label()),
			logging.Error(err),
		)
		frames = []browser.Frame{page.MainFrame()}
	}
	frames = mainFirst(frames)

	tried := make([]string, 0, len(frames)*len(attempts))
	for _, frame := range frames {
		for _, attempt := range attempts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if searchCtx.Err() != nil {
				l.logMiss(spec, tried)
				return nil, nil
			}
			el, err := l.try(searchCtx, frame, attempt.Query)
			tried = append(tried, string(attempt.Strategy)+"@"+frame.Name())
			if err == nil && el != nil {
				l.logger.Debug("element located",
					logging.String("target", spec.label()),
					logging.String("strategy", string(attempt.Strategy)),
					logging.String("frame", frame.Name()),
					logging.Int("frame_index", frame.Index()),
				)
				return &Match{Element: el, Strategy: attempt.Strategy, Frame: frame.Name(), FrameIndex: frame.Index()}, nil
			}
			if err != nil && !errors.Is(err, browser.ErrNoElement) && ctx.Err() == nil {
				l.logger.Debug("locator strategy errored",
					logging.String("target", spec.label()),
					logging.String("strategy", string(attempt.Strategy)),
					logging.String("frame", frame.Name()),
					logging.Error(err),
				)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.logMiss(spec, tried)
	return nil, nil
}

func (l *Locator) try(ctx context.Context, frame browser.Frame, q browser.Query) (browser.Element, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, l.strategyTimeout)
	defer cancel()
	return frame.Query(attemptCtx, q)
}

func (l *Locator) logMiss(spec Spec, tried []string) {
	l.logger.Debug("element not found",
		logging.String("target", spec.label()),
		logging.String("tried", strings.Join(tried, ", ")),
	)
}

func mainFirst(frames []browser.Frame) []browser.Frame {
	out := make([]browser.Frame, 0, len(frames))
	for _, frame := range frames {
		if frame.IsMain() {
			out = append(out, frame)
		}
	}
	for _, frame := range frames {
		if !frame.IsMain() {
			out = append(out, frame)
		}
	}
	return out
}
