package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"portalpilot/internal/api"
	"portalpilot/internal/ipc"
	"portalpilot/internal/queue"
)

type fakeWatchBackend struct {
	status    api.DaemonStatus
	statusErr error
	calls     []string
	approved  []bool
	reply     ipc.ControlResponse
}

func (f *fakeWatchBackend) Status() (api.DaemonStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeWatchBackend) Control(action string, approved bool) (ipc.ControlResponse, error) {
	f.calls = append(f.calls, action)
	f.approved = append(f.approved, approved)
	return f.reply, nil
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

// drive runs cmd and feeds its message back into the model.
func drive(t *testing.T, m watchModel, cmd tea.Cmd) watchModel {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	next, _ := m.Update(cmd())
	return next.(watchModel)
}

func runningStatus() api.DaemonStatus {
	return api.DaemonStatus{
		Running: true,
		PID:     4242,
		Engine: api.EngineStatus{
			Status:           "running",
			IsRunning:        true,
			CurrentStep:      6,
			CurrentStepLabel: "Fill content form",
			TotalSteps:       7,
			CurrentItem:      &api.ItemRef{ID: "queue-1-abcd", Title: "Bilim Şenliği"},
			Progress:         api.EngineProgress{Processed: 1, Pending: 2, Total: 3},
		},
		Queue: queue.Statistics{Total: 3, Pending: 2, Completed: 1},
	}
}

func TestWatchModelRendersStatus(t *testing.T) {
	backend := &fakeWatchBackend{status: runningStatus()}
	m := newWatchModel(backend)

	m = drive(t, m, m.fetchStatus())
	if !m.loaded {
		t.Fatal("expected model to be loaded after a status reply")
	}
	view := m.View()
	for _, want := range []string{"pid 4242", "6/7 Fill content form", "Bilim Şenliği", "1 done, 0 failed, 2 pending of 3", "2 remaining"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected view to contain %q:\n%s", want, view)
		}
	}
}

func TestWatchModelSendsControlActions(t *testing.T) {
	backend := &fakeWatchBackend{status: runningStatus()}
	backend.reply = ipc.ControlResponse{OK: true, Engine: api.EngineStatus{Status: "paused", IsPaused: true}}
	m := newWatchModel(backend)
	m = drive(t, m, m.fetchStatus())

	next, cmd := m.Update(keyPress('p'))
	m = next.(watchModel)
	if m.pending != "pause" {
		t.Fatalf("expected pause pending, got %q", m.pending)
	}

	// Keys are ignored while a control call is in flight.
	if _, extra := m.Update(keyPress('s')); extra != nil {
		t.Fatal("expected no command while a control call is pending")
	}

	m = drive(t, m, cmd)
	if len(backend.calls) != 1 || backend.calls[0] != "pause" {
		t.Fatalf("expected one pause call, got %v", backend.calls)
	}
	if m.pending != "" || !m.status.Engine.IsPaused {
		t.Fatalf("expected engine state from control reply, got %+v", m.status.Engine)
	}
	if m.statusMessage != "pause sent" {
		t.Fatalf("unexpected status message %q", m.statusMessage)
	}
}

func TestWatchModelConfirmationKeys(t *testing.T) {
	backend := &fakeWatchBackend{status: runningStatus()}
	backend.reply = ipc.ControlResponse{OK: true}
	m := newWatchModel(backend)
	m = drive(t, m, m.fetchStatus())

	next, cmd := m.Update(keyPress('y'))
	m = next.(watchModel)
	if cmd != nil {
		t.Fatal("expected confirm to be ignored with nothing pending")
	}
	if !strings.Contains(m.statusMessage, "nothing is awaiting") {
		t.Fatalf("unexpected status message %q", m.statusMessage)
	}

	backend.status.Engine.WaitingForConfirmation = "submit"
	backend.status.Engine.ConfirmationMessage = "Submit Bilim Şenliği?"
	m = drive(t, m, m.fetchStatus())
	if !strings.Contains(m.View(), "Submit Bilim Şenliği? [y/n]") {
		t.Fatalf("expected confirmation prompt in view:\n%s", m.View())
	}

	next, cmd = m.Update(keyPress('n'))
	m = next.(watchModel)
	m = drive(t, m, cmd)
	if len(backend.calls) != 1 || backend.calls[0] != "confirm" || backend.approved[0] {
		t.Fatalf("expected one declined confirm, got %v %v", backend.calls, backend.approved)
	}
}

func TestWatchModelQuitsAfterRepeatedStatusFailures(t *testing.T) {
	backend := &fakeWatchBackend{statusErr: errors.New("connection reset")}
	m := newWatchModel(backend)

	var cmd tea.Cmd
	for i := 0; i < watchMaxStatusFailures; i++ {
		var next tea.Model
		next, cmd = m.Update(watchStatusMsg{err: backend.statusErr})
		m = next.(watchModel)
	}
	if m.fatalErr == nil {
		t.Fatal("expected fatal error after repeated failures")
	}
	if msg := cmd(); msg != (tea.QuitMsg{}) {
		t.Fatalf("expected quit, got %T", msg)
	}
}
