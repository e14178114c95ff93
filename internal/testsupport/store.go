package testsupport

import (
	"context"
	"testing"

	"portalpilot/internal/config"
	"portalpilot/internal/logging"
	"portalpilot/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewItem enqueues an item with the given title and priority.
func NewItem(t testing.TB, store *queue.Store, title string, priority int) *queue.Item {
	t.Helper()

	item, err := store.Enqueue(context.Background(), queue.Payload{
		Title:       title,
		Description: title + " description",
		Tags:        []string{"haber"},
	}, "", priority)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return item
}
