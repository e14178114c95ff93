package workflow

import (
	"context"
	"errors"
	"time"

	"portalpilot/internal/logging"
	"portalpilot/internal/notifications"
)

// publish sends a notification without blocking the caller on failure.
func (e *Engine) publish(event notifications.Event, payload notifications.Payload) {
	if e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			e.logger.Debug("notification cancelled", logging.String("event", string(event)))
			return
		}
		e.logger.Debug("notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

func (e *Engine) notifyRunFinished(status EngineStatus, processed, failed int, started time.Time, runErr error) {
	switch status {
	case StatusCompleted:
		duration := time.Duration(0)
		if !started.IsZero() {
			duration = time.Since(started)
		}
		e.publish(notifications.EventRunCompleted, notifications.Payload{
			"processed": processed,
			"failed":    failed,
			"duration":  duration,
		})
	case StatusError:
		e.publish(notifications.EventError, notifications.Payload{
			"error":   runErr,
			"context": "automation run",
		})
	}
}
