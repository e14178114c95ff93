package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("browser driver error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrDeclined      = errors.New("declined by operator")
	ErrStopped       = errors.New("stopped by operator")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorHint returns a short operator-facing hint for a classified error.
func ErrorHint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeclined):
		return "operator declined the confirmation"
	case errors.Is(err, ErrStopped):
		return "run was stopped"
	case errors.Is(err, ErrNotFound):
		return "page layout may have changed; check portal selectors in config"
	case errors.Is(err, ErrTimeout):
		return "portal responded slowly; consider raising timeouts"
	case errors.Is(err, ErrConfiguration):
		return "fix the configuration and restart"
	case errors.Is(err, ErrExternalTool):
		return "check that the browser is installed and reachable"
	case errors.Is(err, ErrValidation):
		return "fix the item content and retry"
	default:
		return "inspect the logs and screenshots for this item"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
