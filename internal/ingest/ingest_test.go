package ingest_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"portalpilot/internal/ingest"
	"portalpilot/internal/logging"
	"portalpilot/internal/queue"
	"portalpilot/internal/testsupport"
)

func TestNormalizeTurkishKeys(t *testing.T) {
	payload, err := ingest.Normalize([]byte(`{
		"baslik": "  Bilim Fuarı  ",
		"aciklama": "Okulumuzda fuar",
		"etiketler": ["bilim", " fuar ", ""],
		"kisaIcerik": "Kısa",
		"icerik": "<p>Uzun</p>"
	}`))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if payload.Title != "Bilim Fuarı" || payload.Description != "Okulumuzda fuar" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if strings.Join(payload.Tags, "|") != "bilim|fuar" {
		t.Fatalf("unexpected tags %v", payload.Tags)
	}
	if payload.ShortContent != "Kısa" || payload.DetailedContent != "<p>Uzun</p>" {
		t.Fatalf("unexpected content %+v", payload)
	}
	if len(payload.Raw) == 0 {
		t.Fatal("expected raw document to be kept")
	}
}

func TestNormalizeEnglishKeysWithTitleObject(t *testing.T) {
	payload, err := ingest.Normalize([]byte(`{
		"title": {"original": "Old", "improved": "New"},
		"description": "d",
		"tags": "a, b ,c",
		"shortContent": "s",
		"detailedContent": "l"
	}`))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if payload.Title != "New" {
		t.Fatalf("expected improved title, got %q", payload.Title)
	}
	if strings.Join(payload.Tags, "|") != "a|b|c" {
		t.Fatalf("unexpected tags %v", payload.Tags)
	}

	payload, err = ingest.Normalize([]byte(`{"title": {"original": "Only"}}`))
	if err != nil || payload.Title != "Only" {
		t.Fatalf("expected original fallback, got %q (%v)", payload.Title, err)
	}
}

func TestNormalizeYAML(t *testing.T) {
	payload, err := ingest.Normalize([]byte("baslik: Gezi\netiketler:\n  - okul\n  - gezi\n"))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if payload.Title != "Gezi" || len(payload.Tags) != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestNormalizeAppliesNFC(t *testing.T) {
	decomposed := "S\u0327enlik"
	payload, err := ingest.Normalize([]byte(`{"baslik": "` + decomposed + `"}`))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if payload.Title != "\u015Eenlik" {
		t.Fatalf("expected NFC title, got %q", payload.Title)
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":      "  ",
		"no title":   `{"aciklama": "x"}`,
		"bad json":   `{"baslik": `,
		"long title": `{"baslik": "` + strings.Repeat("x", queue.MaxTitleLength+1) + `"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ingest.Normalize([]byte(doc)); !errors.Is(err, queue.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestLoadFilesCollectsPerFileErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	dir := filepath.Join(testsupport.BaseDir(cfg), "incoming")
	testsupport.WriteFile(t, filepath.Join(dir, "a.json"), `{"baslik": "A"}`)
	testsupport.WriteFile(t, filepath.Join(dir, "b.yaml"), "title: B\n")
	testsupport.WriteFile(t, filepath.Join(dir, "c.json"), `{"aciklama": "no title"}`)
	testsupport.WriteFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	results, err := ingest.LoadFiles(context.Background(), store, []string{dir}, ingest.Options{Priority: 2, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("LoadFiles failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			continue
		}
		if result.Item.Priority != 2 {
			t.Fatalf("priority not applied: %+v", result.Item)
		}
	}
	if failed != 1 {
		t.Fatalf("expected one rejected file, got %d", failed)
	}
	stats, _ := store.Statistics(context.Background())
	if stats.Pending != 2 {
		t.Fatalf("expected 2 pending items, got %+v", stats)
	}
}
