package workflow

import (
	"context"
	"errors"
	"fmt"

	"portalpilot/internal/logging"
	"portalpilot/internal/notifications"
	"portalpilot/internal/services"
)

// ConfirmationKind names an operator gate.
type ConfirmationKind string

const (
	ConfirmLogin  ConfirmationKind = "login"
	ConfirmBanner ConfirmationKind = "banner_upload"
	ConfirmSubmit ConfirmationKind = "form_submit"
)

var (
	// ErrGateBusy reports a gate request while another gate is outstanding.
	ErrGateBusy = errors.New("a confirmation is already pending")
	// ErrNoPendingConfirmation reports Confirm with no open gate.
	ErrNoPendingConfirmation = errors.New("no confirmation is pending")

	errSkipped = errors.New("item skipped by operator")
)

var gateMessages = map[ConfirmationKind]string{
	ConfirmLogin:  "Log in to the portal, then confirm to continue",
	ConfirmBanner: "Upload the banner image, then confirm to continue",
	ConfirmSubmit: "Review the form; confirm to submit",
}

// gate is the single pending-confirmation slot.
type gate struct {
	kind   ConfirmationKind
	result chan error
}

// openGate claims the slot and moves the engine to waiting_confirmation.
func (e *Engine) openGate(kind ConfirmationKind, detail string) (*gate, error) {
	e.mu.Lock()
	if e.gate != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrGateBusy, e.gate.kind)
	}
	g := &gate{kind: kind, result: make(chan error, 1)}
	e.gate = g
	e.state.status = StatusWaitingConfirmation
	e.state.waitingKind = kind
	e.state.waitingMsg = gateMessages[kind]
	if detail != "" {
		e.state.waitingMsg += " (" + detail + ")"
	}
	message := e.state.waitingMsg
	e.mu.Unlock()
	e.broadcast()
	e.announceGate(kind, message)
	return g, nil
}

func (e *Engine) announceGate(kind ConfirmationKind, message string) {
	e.logger.Info("waiting for operator confirmation",
		logging.String("kind", string(kind)),
		logging.String("message", message),
		logging.String(logging.FieldEventType, "gate_opened"),
	)
	title := ""
	if ref := e.currentItem(); ref != nil {
		title = ref.Title
	}
	e.publish(notifications.EventConfirmationRequired, notifications.Payload{
		"kind":  string(kind),
		"title": title,
	})
}

// awaitConfirmation opens a gate and blocks until it is resolved or ctx ends.
// Approval returns nil; decline returns an error wrapping services.ErrDeclined.
func (e *Engine) awaitConfirmation(ctx context.Context, kind ConfirmationKind, detail string) error {
	g, err := e.openGate(kind, detail)
	if err != nil {
		return err
	}
	var result error
	select {
	case result = <-g.result:
	case <-ctx.Done():
		result = ctx.Err()
	}
	e.closeGate(g)
	if result == nil {
		e.logger.Info("operator confirmed",
			logging.String("kind", string(kind)),
			logging.String(logging.FieldEventType, "gate_confirmed"),
		)
	}
	return result
}

// closeGate clears g if it is still the open gate and restores the run status.
func (e *Engine) closeGate(g *gate) {
	e.mu.Lock()
	if e.gate == g {
		e.gate = nil
	}
	e.state.waitingKind = ""
	e.state.waitingMsg = ""
	if e.state.status == StatusWaitingConfirmation {
		if e.paused {
			e.state.status = StatusPaused
		} else {
			e.state.status = StatusRunning
		}
	}
	e.mu.Unlock()
	e.broadcast()
}

// takeGate removes and returns the open gate, if any.
func (e *Engine) takeGate() *gate {
	e.mu.Lock()
	defer e.mu.Unlock()
	g := e.gate
	e.gate = nil
	return g
}

// Confirm resolves the open gate. It returns ErrNoPendingConfirmation when
// nothing is waiting.
func (e *Engine) Confirm(approved bool) error {
	g := e.takeGate()
	if g == nil {
		return ErrNoPendingConfirmation
	}
	if approved {
		g.result <- nil
		return nil
	}
	e.logger.Warn("operator declined confirmation",
		logging.String("kind", string(g.kind)),
		logging.String(logging.FieldEventType, "gate_declined"),
	)
	g.result <- services.Wrap(services.ErrDeclined, "workflow", string(g.kind), "operator declined", nil)
	return nil
}

// PendingConfirmation reports the kind of the open gate, or "".
func (e *Engine) PendingConfirmation() ConfirmationKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gate == nil {
		return ""
	}
	return e.gate.kind
}

// stopDecline is the result delivered to a gate released by Stop: a decline
// that also identifies the stop.
func stopDecline(kind ConfirmationKind) error {
	return services.Wrap(services.ErrDeclined, "workflow", string(kind), "released by stop", services.ErrStopped)
}
