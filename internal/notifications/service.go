package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"portalpilot/internal/config"
)

const userAgent = "PortalPilot/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventRunStarted           Event = "run_started"
	EventRunCompleted         Event = "run_completed"
	EventConfirmationRequired Event = "confirmation_required"
	EventItemFailed           Event = "item_failed"
	EventError                Event = "error"
	EventTest                 Event = "test"
)

// Payload carries event specific values.
type Payload map[string]any

// Service publishes engine events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventRunStarted:           cfg.Notifications.Run,
			EventRunCompleted:         cfg.Notifications.Run,
			EventConfirmationRequired: cfg.Notifications.Confirmations,
			EventItemFailed:           cfg.Notifications.Failures,
			EventError:                cfg.Notifications.Errors,
			EventTest:                 true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventRunStarted:
		return message{
			title: "PortalPilot - Run Started",
			body:  fmt.Sprintf("Publishing run started with %d items queued", intValue(payload, "count")),
			tags:  []string{"portalpilot", "run", "started"},
		}, true
	case EventRunCompleted:
		processed := intValue(payload, "processed")
		failed := intValue(payload, "failed")
		duration := durationText(payload["duration"])
		if failed == 0 {
			return message{
				title: "PortalPilot - Run Complete",
				body:  fmt.Sprintf("Run complete: %d items published in %s", processed, duration),
				tags:  []string{"portalpilot", "run", "completed"},
			}, true
		}
		return message{
			title: "PortalPilot - Run Complete (with errors)",
			body:  fmt.Sprintf("Run complete: %d published, %d failed in %s", processed, failed, duration),
			tags:  []string{"portalpilot", "run", "completed"},
		}, true
	case EventConfirmationRequired:
		kind := stringValue(payload, "kind")
		body := fmt.Sprintf("Confirmation required: %s", kind)
		if title := stringValue(payload, "title"); title != "" {
			body = fmt.Sprintf("%s\nItem: %s", body, title)
		}
		return message{
			title:    "PortalPilot - Action Needed",
			body:     body,
			tags:     []string{"portalpilot", "confirm", kind},
			priority: "high",
		}, true
	case EventItemFailed:
		return message{
			title: "PortalPilot - Item Failed",
			body:  fmt.Sprintf("Failed after retries: %s\n%s", stringValue(payload, "title"), stringValue(payload, "error")),
			tags:  []string{"portalpilot", "item", "failed"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := stringValue(payload, "context"); label != "" {
			builder.WriteString(" during ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if detail := stringValue(payload, "error"); detail != "" {
			builder.WriteString(detail)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "PortalPilot - Error",
			body:     builder.String(),
			tags:     []string{"portalpilot", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "PortalPilot - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"portalpilot", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func stringValue(payload Payload, key string) string {
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func intValue(payload Payload, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func durationText(value any) string {
	d, _ := value.(time.Duration)
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
