package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"portalpilot/internal/ingest"
	"portalpilot/internal/queue"
)

// QueueStore abstracts the queue operations exposed to operators.
type QueueStore interface {
	List(ctx context.Context, statuses ...queue.Status) ([]queue.Item, error)
	Search(ctx context.Context, query string) ([]queue.Item, error)
	Get(ctx context.Context, id string) (*queue.Item, error)
	Enqueue(ctx context.Context, payload queue.Payload, bannerPath string, priority int) (*queue.Item, error)
	Update(ctx context.Context, id string, update queue.ItemUpdate) (*queue.Item, error)
	Delete(ctx context.Context, id string) (bool, error)
	BulkDelete(ctx context.Context, ids []string) ([]string, error)
	Retry(ctx context.Context, id string) (*queue.Item, error)
	RetryFailed(ctx context.Context) (int, error)
	Reorder(ctx context.Context, oldIndex, newIndex int) error
	Clear(ctx context.Context) (int, error)
	Statistics(ctx context.Context) (queue.Statistics, error)
	Export(ctx context.Context, format string) ([]byte, error)
	Import(ctx context.Context, data []byte) (int, error)
	Backup(ctx context.Context) (string, error)
}

// QueueService exposes queue operations returning API DTOs.
type QueueService struct {
	store QueueStore
}

// NewQueueService constructs a QueueService around the provided store.
func NewQueueService(store QueueStore) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns queue items filtered by status and an optional search query.
func (s *QueueService) List(ctx context.Context, query string, statuses ...queue.Status) ([]QueueItem, error) {
	if s == nil {
		return nil, nil
	}
	var (
		items []queue.Item
		err   error
	)
	if strings.TrimSpace(query) != "" {
		items, err = s.store.Search(ctx, query)
		items = filterStatuses(items, statuses)
	} else {
		items, err = s.store.List(ctx, statuses...)
	}
	if err != nil {
		return nil, err
	}
	return FromQueueItems(items), nil
}

func filterStatuses(items []queue.Item, statuses []queue.Status) []queue.Item {
	if len(statuses) == 0 {
		return items
	}
	out := items[:0]
	for _, item := range items {
		for _, status := range statuses {
			if item.Status == status {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

// Describe fetches a single queue item.
func (s *QueueService) Describe(ctx context.Context, id string) (*QueueItem, error) {
	item, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := FromQueueItem(*item)
	return &dto, nil
}

// Enqueue validates and adds one item.
func (s *QueueService) Enqueue(ctx context.Context, req EnqueueRequest) (*QueueItem, error) {
	item, err := s.store.Enqueue(ctx, req.Payload, strings.TrimSpace(req.BannerPath), req.Priority)
	if err != nil {
		return nil, err
	}
	dto := FromQueueItem(*item)
	return &dto, nil
}

// Update applies an operator edit.
func (s *QueueService) Update(ctx context.Context, id string, update queue.ItemUpdate) (*QueueItem, error) {
	item, err := s.store.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}
	dto := FromQueueItem(*item)
	return &dto, nil
}

// Delete removes one item. A missing id reports queue.ErrNotFound.
func (s *QueueService) Delete(ctx context.Context, id string) error {
	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", queue.ErrNotFound, id)
	}
	return nil
}

// BulkDelete removes the listed items and reports which were removed.
func (s *QueueService) BulkDelete(ctx context.Context, ids []string) (BulkDeleteResponse, error) {
	removed, err := s.store.BulkDelete(ctx, ids)
	if err != nil {
		return BulkDeleteResponse{}, err
	}
	return BulkDeleteResponse{Deleted: removed}, nil
}

// Retry moves one failed item back to retrying.
func (s *QueueService) Retry(ctx context.Context, id string) (*QueueItem, error) {
	item, err := s.store.Retry(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := FromQueueItem(*item)
	return &dto, nil
}

// RetryAll moves every failed item back to retrying.
func (s *QueueService) RetryAll(ctx context.Context) (CountResponse, error) {
	n, err := s.store.RetryFailed(ctx)
	return CountResponse{Count: n}, err
}

// Reorder moves an item between positions.
func (s *QueueService) Reorder(ctx context.Context, req ReorderRequest) error {
	return s.store.Reorder(ctx, req.OldIndex, req.NewIndex)
}

// Clear removes every item not under processing.
func (s *QueueService) Clear(ctx context.Context) (CountResponse, error) {
	n, err := s.store.Clear(ctx)
	return CountResponse{Count: n}, err
}

// Statistics returns per-status counts.
func (s *QueueService) Statistics(ctx context.Context) (queue.Statistics, error) {
	return s.store.Statistics(ctx)
}

// Export serialises the queue in the requested format.
func (s *QueueService) Export(ctx context.Context, format string) ([]byte, error) {
	return s.store.Export(ctx, format)
}

// Import replaces the queue with a json export.
func (s *QueueService) Import(ctx context.Context, data []byte) (CountResponse, error) {
	n, err := s.store.Import(ctx, data)
	return CountResponse{Count: n}, err
}

// Backup writes a point-in-time copy.
func (s *QueueService) Backup(ctx context.Context) (BackupResponse, error) {
	path, err := s.store.Backup(ctx)
	return BackupResponse{Path: path}, err
}

// Upload normalises a JSON or YAML document, or a JSON array of documents,
// and enqueues each entry. Per-document failures are reported in the results.
func (s *QueueService) Upload(ctx context.Context, data []byte, format ingest.Format, priority int) ([]UploadResult, error) {
	docs, err := splitDocuments(data, format)
	if err != nil {
		return nil, err
	}
	results := make([]UploadResult, 0, len(docs))
	for _, doc := range docs {
		payload, err := ingest.NormalizeFormat(doc, format)
		if err != nil {
			results = append(results, UploadResult{Error: err.Error()})
			continue
		}
		item, err := s.store.Enqueue(ctx, payload, "", priority)
		if err != nil {
			results = append(results, UploadResult{Error: err.Error()})
			continue
		}
		dto := FromQueueItem(*item)
		results = append(results, UploadResult{Item: &dto})
	}
	return results, nil
}

func splitDocuments(data []byte, format ingest.Format) ([][]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty upload", queue.ErrValidation)
	}
	if format == ingest.FormatYAML || trimmed[0] != '[' {
		return [][]byte{trimmed}, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode upload: %v", queue.ErrValidation, err)
	}
	docs := make([][]byte, 0, len(raw))
	for _, doc := range raw {
		docs = append(docs, doc)
	}
	return docs, nil
}

// HTTPStatus maps a queue or control error to a response code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrValidation),
		errors.Is(err, queue.ErrIndexOutOfRange),
		errors.Is(err, queue.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrInvalidTransition),
		errors.Is(err, queue.ErrItemBusy),
		errors.Is(err, queue.ErrImmutable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
