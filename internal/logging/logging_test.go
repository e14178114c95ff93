package logging_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"portalpilot/internal/logging"
	"portalpilot/internal/services"
)

func TestConsoleLoggerWritesHeaderAndBullets(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := services.WithItemID(context.Background(), "queue-1-abcd1234")
	ctx = services.WithStep(ctx, 8)
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "workflow")).
		Info("title filled", logging.String("title", "Bilim Fuarı"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	for _, fragment := range []string{"INFO [workflow]", "Item queue-1-abcd1234 (step 8)", "– title filled", "    - Title: Bilim Fuarı"} {
		if !strings.Contains(text, fragment) {
			t.Fatalf("expected %q in %q", fragment, text)
		}
	}
	if strings.Contains(text, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", text)
	}
}

func TestConsoleLoggerPromotesAlertField(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logging.WarnWithContext(logger, "success message not seen after submit", "submit_unconfirmed",
		logging.String("title", "Bilim Fuarı"),
		logging.Alert("review"),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) < 2 || lines[1] != "    - Alert: review" {
		t.Fatalf("expected alert as the first field, got %q", content)
	}
}

func TestJSONPathsReceiveJSONLines(t *testing.T) {
	dir := t.TempDir()
	consolePath := filepath.Join(dir, "console.log")
	jsonPath := filepath.Join(dir, "portalpilot.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		OutputPaths: []string{consolePath},
		JSONPaths:   []string{jsonPath},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Warn("gate opened", logging.String(logging.FieldEventType, "gate_opened"))

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("read json log: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &line); err != nil {
		t.Fatalf("decode json line: %v (%s)", err, data)
	}
	if line["level"] != "warn" || line["msg"] != "gate opened" || line["event_type"] != "gate_opened" {
		t.Fatalf("unexpected json line: %v", line)
	}
	if _, ok := line["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestStreamHubCapturesLoggerAttrs(t *testing.T) {
	hub := logging.NewStreamHub(4)
	logger, err := logging.New(logging.Options{OutputPaths: []string{filepath.Join(t.TempDir(), "x.log")}, Stream: hub})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	itemLogger := logger.With(logging.String(logging.FieldItemID, "queue-9"), logging.Int(logging.FieldStep, 15))
	itemLogger.Info("submitted", logging.String("extra", "value"))

	events, next := hub.Tail(10)
	if len(events) != 1 || next != 1 {
		t.Fatalf("expected one event, got %d (next=%d)", len(events), next)
	}
	evt := events[0]
	if evt.ItemID != "queue-9" || evt.Step != 15 {
		t.Fatalf("unexpected event routing fields: %+v", evt)
	}
	if evt.Fields["extra"] != "value" {
		t.Fatalf("expected extra field, got %v", evt.Fields)
	}
}

func TestStreamHubRingBufferAndFetch(t *testing.T) {
	hub := logging.NewStreamHub(3)
	for i := 0; i < 5; i++ {
		hub.Publish(logging.LogEvent{Message: "evt"})
	}
	if first := hub.FirstSequence(); first != 3 {
		t.Fatalf("expected oldest sequence 3, got %d", first)
	}
	events, next, err := hub.Fetch(context.Background(), 3, 10, false)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 2 || events[0].Sequence != 4 || next != 5 {
		t.Fatalf("unexpected fetch result: %+v next=%d", events, next)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := hub.Fetch(ctx, 5, 10, true); err == nil {
		t.Fatal("expected context error while waiting for new events")
	}
}

func TestStreamHubFetchCursorHonoursLimit(t *testing.T) {
	hub := logging.NewStreamHub(8)
	for i := 0; i < 6; i++ {
		hub.Publish(logging.LogEvent{Message: "evt"})
	}
	events, next, err := hub.Fetch(context.Background(), 0, 4, false)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 4 || next != 4 {
		t.Fatalf("expected first page to end at 4, got %d events next=%d", len(events), next)
	}
	events, next, _ = hub.Fetch(context.Background(), next, 4, false)
	if len(events) != 2 || events[0].Sequence != 5 || next != 6 {
		t.Fatalf("unexpected second page: %+v next=%d", events, next)
	}
	if tail, _ := hub.Tail(2); len(tail) != 2 || tail[1].Sequence != 6 {
		t.Fatalf("unexpected tail %+v", tail)
	}
}

func TestCleanupOldFilesRespectsPatternAndExclusions(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().AddDate(0, 0, -40)
	paths := map[string]bool{
		"error-queue-1.png": true,
		"keep.log":          false,
		"current.png":       false,
	}
	for name := range paths {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}

	removed := logging.CleanupOldFiles(logging.NewNop(), 30, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "*.png",
		Exclude: []string{filepath.Join(dir, "current.png")},
	})
	if removed != 1 {
		t.Fatalf("expected one removal, got %d", removed)
	}
	for name, wantGone := range paths {
		_, err := os.Stat(filepath.Join(dir, name))
		if gone := os.IsNotExist(err); gone != wantGone {
			t.Fatalf("%s: gone=%v want %v", name, gone, wantGone)
		}
	}
}

func TestTeeHandlerRoutesByLevel(t *testing.T) {
	var debugBuf, warnBuf strings.Builder
	debugLevel, warnLevel := new(slog.LevelVar), new(slog.LevelVar)
	debugLevel.Set(slog.LevelDebug)
	warnLevel.Set(slog.LevelWarn)

	logger := slog.New(logging.TeeHandler(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: debugLevel}),
		nil,
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: warnLevel}),
	)).With(logging.String(logging.FieldComponent, "engine"))

	logger.Debug("step started")
	logger.Warn("gate timed out")

	if !strings.Contains(debugBuf.String(), "step started") || !strings.Contains(debugBuf.String(), "gate timed out") {
		t.Fatalf("debug handler missed records: %q", debugBuf.String())
	}
	if strings.Contains(warnBuf.String(), "step started") || !strings.Contains(warnBuf.String(), "component=engine") {
		t.Fatalf("warn handler output = %q", warnBuf.String())
	}
	if _, ok := logging.TeeHandler(nil).(logging.NoopHandler); !ok {
		t.Fatal("expected a noop handler when no children remain")
	}
}
