package queue

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"portalpilot/internal/logging"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ExportDocument is the json export layout.
type ExportDocument struct {
	Queue       []Item    `json:"queue"`
	FailedItems []Item    `json:"failedItems"`
	Metadata    Metadata  `json:"metadata"`
	ExportDate  time.Time `json:"exportDate"`
}

var csvHeader = []string{"ID", "Title", "Status", "AddedAt", "ProcessedAt"}

// Export serialises the queue without modifying it.
func (s *Store) Export(_ context.Context, format string) ([]byte, error) {
	var snap Snapshot
	s.read(func(live *Snapshot) { snap = live.clone() })

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		doc := ExportDocument{
			Queue:       snap.Queue,
			FailedItems: snap.FailedItems,
			Metadata:    snap.Metadata,
			ExportDate:  s.now().UTC(),
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode export: %w", err)
		}
		return data, nil
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(csvHeader); err != nil {
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		for _, item := range snap.Queue {
			processed := ""
			if item.ProcessedAt != nil {
				processed = item.ProcessedAt.Format(time.RFC3339)
			}
			row := []string{item.ID, item.Payload.Title, string(item.Status), item.AddedAt.Format(time.RFC3339), processed}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("write csv row: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("flush csv: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Import replaces the queue with a json export. Items recorded as processing
// come back pending. Import is refused while the engine holds an item.
func (s *Store) Import(ctx context.Context, data []byte) (int, error) {
	var doc ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("%w: decode import: %v", ErrValidation, err)
	}
	seen := make(map[string]struct{}, len(doc.Queue))
	for i := range doc.Queue {
		item := &doc.Queue[i]
		if strings.TrimSpace(item.ID) == "" {
			return 0, fmt.Errorf("%w: item %d has no id", ErrValidation, i)
		}
		if _, dup := seen[item.ID]; dup {
			return 0, fmt.Errorf("%w: duplicate id %s", ErrValidation, item.ID)
		}
		seen[item.ID] = struct{}{}
		if _, ok := ParseStatus(string(item.Status)); !ok {
			return 0, fmt.Errorf("%w: item %s has unknown status %q", ErrValidation, item.ID, item.Status)
		}
		if err := item.Payload.Validate(); err != nil {
			return 0, fmt.Errorf("item %s: %w", item.ID, err)
		}
	}

	err := s.mutate(ctx, 1, func(snap *Snapshot) error {
		for _, item := range snap.Queue {
			if item.Status == StatusProcessing {
				return fmt.Errorf("%w: %s is processing", ErrItemBusy, item.ID)
			}
		}
		imported, maxSeq, _ := prepareSnapshot(Snapshot{
			Queue:       doc.Queue,
			FailedItems: doc.FailedItems,
			Metadata:    doc.Metadata,
		}, s.maxRetries)
		*snap = imported
		if maxSeq > s.nextSeq {
			s.nextSeq = maxSeq
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("queue imported",
		logging.Int("count", len(doc.Queue)),
		logging.String(logging.FieldEventType, "queue_imported"),
	)
	return len(doc.Queue), nil
}
