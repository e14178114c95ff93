package daemonctl_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"portalpilot/internal/daemonctl"
	"portalpilot/internal/testsupport"
)

func TestStopAndTerminateWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	socket := filepath.Join(t.TempDir(), "missing.sock")
	_, err := daemonctl.StopAndTerminate(socket, cfg, time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewItem(t, store, "Kitap Fuarı", 0)
	testsupport.NewItem(t, store, "Spor Şenliği", 1)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	socket := filepath.Join(t.TempDir(), "missing.sock")
	snapshot, err := daemonctl.BuildStatusSnapshot(context.Background(), socket, cfg, false)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if !snapshot.Offline || snapshot.Running {
		t.Fatalf("expected offline snapshot, got %+v", snapshot)
	}
	if snapshot.Queue.Total != 2 || snapshot.Queue.Pending != 2 {
		t.Fatalf("unexpected queue stats %+v", snapshot.Queue)
	}
	if snapshot.Backend == "" {
		t.Fatal("expected backend description")
	}
	if len(snapshot.Checks) == 0 {
		t.Fatal("expected local preflight checks")
	}
	if len(snapshot.Probes) != 0 {
		t.Fatalf("expected no probes without deep, got %d", len(snapshot.Probes))
	}
}

func TestBuildStatusSnapshotRequiresConfig(t *testing.T) {
	if _, err := daemonctl.BuildStatusSnapshot(context.Background(), "", nil, false); err == nil {
		t.Fatal("expected error without config")
	}
}
