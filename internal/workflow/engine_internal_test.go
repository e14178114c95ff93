package workflow

import (
	"errors"
	"testing"
	"time"

	"portalpilot/internal/browser/browsertest"
	"portalpilot/internal/config"
	"portalpilot/internal/logging"
	"portalpilot/internal/queue"
	"portalpilot/internal/services"
	"portalpilot/internal/testsupport"
)

func newIdleEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	return NewEngine(cfg, store, browsertest.New(), logging.NewNop())
}

func TestGateRejectsSecondRequest(t *testing.T) {
	e := newIdleEngine(t)

	first, err := e.openGate(ConfirmBanner, "banner.jpg")
	if err != nil {
		t.Fatalf("open first gate: %v", err)
	}
	if _, err := e.openGate(ConfirmSubmit, ""); !errors.Is(err, ErrGateBusy) {
		t.Fatalf("second gate err = %v, want ErrGateBusy", err)
	}
	st := e.Status()
	if st.WaitingForConfirmation != ConfirmBanner || st.Status != StatusWaitingConfirmation {
		t.Fatalf("state = %+v, want first gate still open", st)
	}
	if st.ConfirmationMessage == "" {
		t.Fatal("expected a confirmation message")
	}

	if err := e.Confirm(false); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got := <-first.result; !errors.Is(got, services.ErrDeclined) {
		t.Fatalf("gate result = %v, want declined", got)
	}
	e.closeGate(first)
	if e.PendingConfirmation() != "" {
		t.Fatal("gate should be cleared")
	}
}

func TestStopDeclineIdentifiesStop(t *testing.T) {
	err := stopDecline(ConfirmSubmit)
	if !errors.Is(err, services.ErrDeclined) || !errors.Is(err, services.ErrStopped) {
		t.Fatalf("stopDecline = %v, want declined and stopped", err)
	}
}

func TestRetryDelayBacksOffExponentially(t *testing.T) {
	policy := config.Retry{InitialDelay: 1000, BackoffMultiplier: 2, MaxDelay: 5000}
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := retryDelay(policy, tc.retry); got != tc.want {
			t.Fatalf("retryDelay(%d) = %v, want %v", tc.retry, got, tc.want)
		}
	}
	if got := retryDelay(config.Retry{InitialDelay: 0, BackoffMultiplier: 2}, 3); got != 0 {
		t.Fatalf("zero initial delay = %v", got)
	}
}

func TestItemDelayStaysInRange(t *testing.T) {
	waits := config.Waits{ItemDelayMin: 10, ItemDelayMax: 20}
	for i := 0; i < 50; i++ {
		got := itemDelay(waits)
		if got < 10*time.Millisecond || got > 20*time.Millisecond {
			t.Fatalf("itemDelay = %v outside [10ms, 20ms]", got)
		}
	}
	if got := itemDelay(config.Waits{ItemDelayMin: 7, ItemDelayMax: 7}); got != 7*time.Millisecond {
		t.Fatalf("fixed itemDelay = %v", got)
	}
}

func TestSanitizeSlug(t *testing.T) {
	cases := map[string]string{
		"success-queue-1-ab12":     "success-queue-1-ab12",
		"Step4 Content Not Found!": "step4-content-not-found",
		"  ":                       "",
	}
	for in, want := range cases {
		if got := sanitizeSlug(in); got != want {
			t.Fatalf("sanitizeSlug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormFieldsMarkOptionalPortalDefaults(t *testing.T) {
	e := newIdleEngine(t)
	fields := e.formFields(queue.Payload{Title: "Duyuru", Tags: []string{"a", "b"}})
	if len(fields) != 7 {
		t.Fatalf("fields = %d, want 7", len(fields))
	}
	for _, f := range fields {
		switch f.step {
		case StepEndDate, StepContentSource:
			if !f.optional {
				t.Fatalf("%s should be optional", f.name)
			}
		default:
			if f.optional {
				t.Fatalf("%s should be required", f.name)
			}
		}
	}
	if fields[4].value != "a, b" {
		t.Fatalf("tags value = %q", fields[4].value)
	}
	if fields[5].value != "" {
		t.Fatal("empty short content should stay empty so the step is skipped")
	}
}
