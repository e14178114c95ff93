package queue_test

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"portalpilot/internal/queue"
	"portalpilot/internal/testsupport"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	a := testsupport.NewItem(t, source, "A", 0)
	b := testsupport.NewItem(t, source, "B", 4)
	c := testsupport.NewItem(t, source, "C", 0)
	if _, err := source.MarkProcessing(ctx, b.ID); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if _, err := source.MarkCompleted(ctx, b.ID, time.Second); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	before, _ := source.List(ctx)
	data, err := source.Export(ctx, queue.FormatJSON)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	after, _ := source.List(ctx)
	if len(before) != len(after) {
		t.Fatal("export must not modify the queue")
	}

	target := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	count, err := target.Import(ctx, data)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 imported items, got %d", count)
	}
	imported, _ := target.List(ctx)
	for i, want := range before {
		got := imported[i]
		if got.ID != want.ID || got.Status != want.Status || got.Title() != want.Title() {
			t.Fatalf("position %d: got %+v want %+v", i, got, want)
		}
	}
	assertOrder(t, target, b.ID, a.ID, c.ID)
	stats, _ := target.Statistics(ctx)
	if stats.TotalProcessed != 1 {
		t.Fatalf("metadata not imported: %+v", stats)
	}

	// New items keep sorting after the imported ones on priority ties.
	d := testsupport.NewItem(t, target, "D", 0)
	assertOrder(t, target, b.ID, a.ID, c.ID, d.ID)
}

func TestImportRejectsInvalidDocuments(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	cases := map[string]string{
		"not json":       "{",
		"unknown status": `{"queue":[{"id":"x","payload":{"title":"t"},"status":"weird"}]}`,
		"missing title":  `{"queue":[{"id":"x","payload":{"title":""},"status":"pending"}]}`,
		"duplicate id":   `{"queue":[{"id":"x","payload":{"title":"t"},"status":"pending"},{"id":"x","payload":{"title":"u"},"status":"pending"}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Import(ctx, []byte(doc)); !errors.Is(err, queue.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestImportResetsProcessingItems(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	doc := `{"queue":[{"id":"queue-1-abc","payload":{"title":"t"},"status":"processing","maxRetries":3}],"failedItems":[],"metadata":{}}`
	if _, err := store.Import(context.Background(), []byte(doc)); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	got, err := store.Get(context.Background(), "queue-1-abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
}

func TestExportCSV(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	item := testsupport.NewItem(t, store, "Başlık, virgüllü", 0)

	data, err := store.Export(ctx, "CSV")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(records))
	}
	if strings.Join(records[0], ",") != "ID,Title,Status,AddedAt,ProcessedAt" {
		t.Fatalf("unexpected header %v", records[0])
	}
	if records[1][0] != item.ID || records[1][1] != "Başlık, virgüllü" || records[1][4] != "" {
		t.Fatalf("unexpected row %v", records[1])
	}

	if _, err := store.Export(ctx, "xml"); !errors.Is(err, queue.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestBackupAndPrune(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.NewItem(t, store, "A", 0)

	path, err := store.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	if filepath.Dir(path) != cfg.BackupDir() || !strings.HasPrefix(filepath.Base(path), "backup-") {
		t.Fatalf("unexpected backup path %q", path)
	}
	if strings.Contains(filepath.Base(path), ":") {
		t.Fatalf("backup name must not contain colons: %q", path)
	}

	old := filepath.Join(cfg.BackupDir(), "backup-2020-01-01T00-00-00Z.json")
	testsupport.WriteFile(t, old, "{}")
	stale := time.Now().Add(-60 * 24 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	backups, err := store.ListBackups(ctx)
	if err != nil || len(backups) != 2 {
		t.Fatalf("ListBackups = %d, %v", len(backups), err)
	}
	removed, err := store.PruneBackups(ctx, 30)
	if err != nil {
		t.Fatalf("PruneBackups failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned backup, got %d", removed)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("fresh backup should remain: %v", err)
	}
}

func TestSQLiteBackendPersists(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithQueueBackend("sqlite"))
	ctx := context.Background()

	first := testsupport.MustOpenStore(t, cfg)
	if !strings.HasPrefix(first.Backend(), "sqlite:") {
		t.Fatalf("unexpected backend %q", first.Backend())
	}
	item := testsupport.NewItem(t, first, "Persisted", 2)
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second := testsupport.MustOpenStore(t, cfg)
	got, err := second.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Title() != "Persisted" || got.Priority != 2 {
		t.Fatalf("unexpected item %+v", got)
	}
}
