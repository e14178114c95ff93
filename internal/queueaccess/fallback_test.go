package queueaccess_test

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"portalpilot/internal/api"
	"portalpilot/internal/ipc"
	"portalpilot/internal/queue"
	"portalpilot/internal/queueaccess"
	"portalpilot/internal/testsupport"
)

func TestOpenWithFallbackUsesStoreWhenDaemonAbsent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dial := func() (*ipc.Client, error) {
		return nil, fmt.Errorf("dial unix: %w", syscall.ECONNREFUSED)
	}
	openStore := func() (*queue.Store, error) {
		return queue.Open(context.Background(), cfg, nil)
	}

	session, err := queueaccess.OpenWithFallback(dial, openStore)
	if err != nil {
		t.Fatalf("OpenWithFallback: %v", err)
	}
	defer session.Close()
	if !session.Offline {
		t.Fatal("expected an offline session")
	}

	ctx := context.Background()
	added, err := session.Access.Add(ctx, api.EnqueueRequest{
		Payload: queue.Payload{Title: "Kitap Okuma Saati", Description: "Her cuma kütüphanede."},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	items, err := session.Access.List(ctx, "", []string{"pending"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].ID != added.ID {
		t.Fatalf("expected the added item, got %+v", items)
	}
	if _, err := session.Access.List(ctx, "", []string{"bogus"}); err == nil {
		t.Fatal("expected unknown status to fail")
	}
	n, err := session.Access.Retry(ctx, added.ID)
	if err == nil || n != 0 {
		t.Fatalf("expected retry of a pending item to fail, got %d, %v", n, err)
	}
}

func TestOpenWithFallbackReturnsUnexpectedDialErrors(t *testing.T) {
	boom := errors.New("permission denied")
	opened := false
	_, err := queueaccess.OpenWithFallback(
		func() (*ipc.Client, error) { return nil, boom },
		func() (*queue.Store, error) { opened = true; return nil, errors.New("unreachable") },
	)
	if !errors.Is(err, boom) {
		t.Fatalf("expected dial error, got %v", err)
	}
	if opened {
		t.Fatal("store should not open when the daemon may be running")
	}
}

func TestDaemonAbsent(t *testing.T) {
	if !queueaccess.DaemonAbsent(fmt.Errorf("dial: %w", syscall.ENOENT)) {
		t.Fatal("expected ENOENT to mean no daemon")
	}
	if queueaccess.DaemonAbsent(errors.New("timeout")) {
		t.Fatal("expected a generic error to not mean no daemon")
	}
}
