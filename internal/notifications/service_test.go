package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"portalpilot/internal/config"
	"portalpilot/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventRunStarted, notifications.Payload{"count": 3}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "run started",
			event:         notifications.EventRunStarted,
			payload:       notifications.Payload{"count": 4},
			expectTitle:   "PortalPilot - Run Started",
			expectMessage: "Publishing run started with 4 items queued",
			expectTags:    "portalpilot,run,started",
		},
		{
			name:          "run completed",
			event:         notifications.EventRunCompleted,
			payload:       notifications.Payload{"processed": 3, "failed": 0, "duration": 90 * time.Second},
			expectTitle:   "PortalPilot - Run Complete",
			expectMessage: "Run complete: 3 items published in 1m30s",
			expectTags:    "portalpilot,run,completed",
		},
		{
			name:          "run completed with errors",
			event:         notifications.EventRunCompleted,
			payload:       notifications.Payload{"processed": 2, "failed": 1},
			expectTitle:   "PortalPilot - Run Complete (with errors)",
			expectMessage: "Run complete: 2 published, 1 failed in 0s",
			expectTags:    "portalpilot,run,completed",
		},
		{
			name:           "confirmation",
			event:          notifications.EventConfirmationRequired,
			payload:        notifications.Payload{"kind": "banner_upload", "title": "Bilim Fuarı"},
			expectTitle:    "PortalPilot - Action Needed",
			expectMessage:  "Confirmation required: banner_upload\nItem: Bilim Fuarı",
			expectTags:     "portalpilot,confirm,banner_upload",
			expectPriority: "high",
		},
		{
			name:           "error",
			event:          notifications.EventError,
			payload:        notifications.Payload{"context": "session setup", "error": errors.New("browser crashed")},
			expectTitle:    "PortalPilot - Error",
			expectMessage:  "❌ Error during session setup: browser crashed",
			expectTags:     "portalpilot,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceRespectsDisabledEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Run = false
	cfg.Notifications.Failures = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{
		notifications.EventRunStarted,
		notifications.EventRunCompleted,
		notifications.EventItemFailed,
		notifications.Event("unknown"),
	} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"value": "ignored"}); err != nil {
			t.Fatalf("expected no error for disabled event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
