package api_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"portalpilot/internal/api"
	"portalpilot/internal/ingest"
	"portalpilot/internal/queue"
	"portalpilot/internal/testsupport"
)

func newService(t *testing.T) (*api.QueueService, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	return api.NewQueueService(store), store
}

func TestListFiltersBySearchAndStatus(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	keep := testsupport.NewItem(t, store, "İlkbahar Şenliği", 0)
	testsupport.NewItem(t, store, "Veli Toplantısı", 0)
	done := testsupport.NewItem(t, store, "İlkbahar Gezisi", 0)
	if _, err := store.MarkProcessing(ctx, done.ID); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if _, err := store.MarkCompleted(ctx, done.ID, 0); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	items, err := svc.List(ctx, "ilkbahar", queue.StatusPending)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != keep.ID {
		t.Fatalf("List = %+v, want only %s", items, keep.ID)
	}
	if items[0].Status != "pending" || items[0].AddedAt == "" {
		t.Fatalf("unexpected DTO: %+v", items[0])
	}

	all, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("List all failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List all = %d items, want 3", len(all))
	}
}

func TestDeleteMissingItemIsNotFound(t *testing.T) {
	svc, _ := newService(t)
	err := svc.Delete(context.Background(), "queue-missing")
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("Delete err = %v, want ErrNotFound", err)
	}
	if got := api.HTTPStatus(err); got != http.StatusNotFound {
		t.Fatalf("HTTPStatus = %d, want 404", got)
	}
}

func TestUploadAcceptsArrayAndReportsBadEntries(t *testing.T) {
	svc, store := newService(t)
	body := []byte(`[
		{"title": {"improved": "Cumhuriyet Bayramı", "original": "bayram"}, "etiketler": "bayram, tören"},
		{"aciklama": "başlıksız"}
	]`)

	results, err := svc.Upload(context.Background(), body, ingest.FormatJSON, 3)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Item == nil || results[0].Item.Title != "Cumhuriyet Bayramı" || results[0].Item.Priority != 3 {
		t.Fatalf("first result = %+v", results[0])
	}
	if results[1].Error == "" {
		t.Fatal("expected validation error for the untitled document")
	}
	items, _ := store.List(context.Background())
	if len(items) != 1 {
		t.Fatalf("queue holds %d items, want 1", len(items))
	}
}

func TestUploadRejectsEmptyBody(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Upload(context.Background(), []byte("  "), ingest.FormatAuto, 0)
	if got := api.HTTPStatus(err); got != http.StatusBadRequest {
		t.Fatalf("HTTPStatus = %d, want 400 (err %v)", got, err)
	}
}

func TestHTTPStatusClassifiesQueueErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{queue.ErrIndexOutOfRange, http.StatusBadRequest},
		{queue.ErrItemBusy, http.StatusConflict},
		{queue.ErrInvalidTransition, http.StatusConflict},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := api.HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
