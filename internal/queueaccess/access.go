package queueaccess

import (
	"context"
	"fmt"

	"portalpilot/internal/api"
	"portalpilot/internal/ingest"
	"portalpilot/internal/ipc"
	"portalpilot/internal/queue"
)

// Access is the queue surface shared by the daemon and offline paths.
type Access interface {
	List(ctx context.Context, query string, statuses []string) ([]api.QueueItem, error)
	Describe(ctx context.Context, id string) (*api.QueueItem, error)
	Add(ctx context.Context, req api.EnqueueRequest) (*api.QueueItem, error)
	Upload(ctx context.Context, data []byte, format ingest.Format, priority int) ([]api.UploadResult, error)
	Update(ctx context.Context, id string, update queue.ItemUpdate) (*api.QueueItem, error)
	Delete(ctx context.Context, ids []string) ([]string, error)
	Retry(ctx context.Context, id string) (int, error)
	RetryAll(ctx context.Context) (int, error)
	Reorder(ctx context.Context, oldIndex, newIndex int) error
	Clear(ctx context.Context) (int, error)
	Stats(ctx context.Context) (queue.Statistics, error)
	Export(ctx context.Context, format string) ([]byte, error)
	Import(ctx context.Context, data []byte) (int, error)
	Backup(ctx context.Context) (string, error)
}

// NewIPCAccess returns an Access backed by daemon IPC.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) List(_ context.Context, query string, statuses []string) ([]api.QueueItem, error) {
	resp, err := a.client.QueueList(ipc.QueueListRequest{Statuses: statuses, Query: query})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (a *ipcAccess) Describe(_ context.Context, id string) (*api.QueueItem, error) {
	resp, err := a.client.QueueDescribe(id)
	if err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

func (a *ipcAccess) Add(_ context.Context, req api.EnqueueRequest) (*api.QueueItem, error) {
	resp, err := a.client.QueueAdd(req)
	if err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

func (a *ipcAccess) Upload(_ context.Context, data []byte, format ingest.Format, priority int) ([]api.UploadResult, error) {
	resp, err := a.client.QueueUpload(ipc.QueueUploadRequest{Data: data, Format: string(format), Priority: priority})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (a *ipcAccess) Update(_ context.Context, id string, update queue.ItemUpdate) (*api.QueueItem, error) {
	resp, err := a.client.QueueUpdate(ipc.QueueUpdateRequest{ID: id, Update: update})
	if err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

func (a *ipcAccess) Delete(_ context.Context, ids []string) ([]string, error) {
	resp, err := a.client.QueueDelete(ids)
	if err != nil {
		return nil, err
	}
	return resp.Deleted, nil
}

func (a *ipcAccess) Retry(_ context.Context, id string) (int, error) {
	resp, err := a.client.QueueRetry(id)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (a *ipcAccess) RetryAll(ctx context.Context) (int, error) {
	return a.Retry(ctx, "")
}

func (a *ipcAccess) Reorder(_ context.Context, oldIndex, newIndex int) error {
	return a.client.QueueReorder(oldIndex, newIndex)
}

func (a *ipcAccess) Clear(_ context.Context) (int, error) {
	resp, err := a.client.QueueClear()
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (a *ipcAccess) Stats(_ context.Context) (queue.Statistics, error) {
	resp, err := a.client.QueueStats()
	if err != nil {
		return queue.Statistics{}, err
	}
	return resp.Stats, nil
}

func (a *ipcAccess) Export(_ context.Context, format string) ([]byte, error) {
	resp, err := a.client.QueueExport(format)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (a *ipcAccess) Import(_ context.Context, data []byte) (int, error) {
	resp, err := a.client.QueueImport(data)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (a *ipcAccess) Backup(_ context.Context) (string, error) {
	resp, err := a.client.QueueBackup()
	if err != nil {
		return "", err
	}
	return resp.Path, nil
}

// NewStoreAccess returns an Access that works on the store directly.
func NewStoreAccess(store *queue.Store) Access {
	return &storeAccess{svc: api.NewQueueService(store)}
}

type storeAccess struct {
	svc *api.QueueService
}

func (a *storeAccess) List(ctx context.Context, query string, statuses []string) ([]api.QueueItem, error) {
	parsed, err := parseStatuses(statuses)
	if err != nil {
		return nil, err
	}
	return a.svc.List(ctx, query, parsed...)
}

func (a *storeAccess) Describe(ctx context.Context, id string) (*api.QueueItem, error) {
	return a.svc.Describe(ctx, id)
}

func (a *storeAccess) Add(ctx context.Context, req api.EnqueueRequest) (*api.QueueItem, error) {
	return a.svc.Enqueue(ctx, req)
}

func (a *storeAccess) Upload(ctx context.Context, data []byte, format ingest.Format, priority int) ([]api.UploadResult, error) {
	return a.svc.Upload(ctx, data, format, priority)
}

func (a *storeAccess) Update(ctx context.Context, id string, update queue.ItemUpdate) (*api.QueueItem, error) {
	return a.svc.Update(ctx, id, update)
}

func (a *storeAccess) Delete(ctx context.Context, ids []string) ([]string, error) {
	resp, err := a.svc.BulkDelete(ctx, ids)
	return resp.Deleted, err
}

func (a *storeAccess) Retry(ctx context.Context, id string) (int, error) {
	if _, err := a.svc.Retry(ctx, id); err != nil {
		return 0, err
	}
	return 1, nil
}

func (a *storeAccess) RetryAll(ctx context.Context) (int, error) {
	resp, err := a.svc.RetryAll(ctx)
	return resp.Count, err
}

func (a *storeAccess) Reorder(ctx context.Context, oldIndex, newIndex int) error {
	return a.svc.Reorder(ctx, api.ReorderRequest{OldIndex: oldIndex, NewIndex: newIndex})
}

func (a *storeAccess) Clear(ctx context.Context) (int, error) {
	resp, err := a.svc.Clear(ctx)
	return resp.Count, err
}

func (a *storeAccess) Stats(ctx context.Context) (queue.Statistics, error) {
	return a.svc.Statistics(ctx)
}

func (a *storeAccess) Export(ctx context.Context, format string) ([]byte, error) {
	return a.svc.Export(ctx, format)
}

func (a *storeAccess) Import(ctx context.Context, data []byte) (int, error) {
	resp, err := a.svc.Import(ctx, data)
	return resp.Count, err
}

func (a *storeAccess) Backup(ctx context.Context) (string, error) {
	resp, err := a.svc.Backup(ctx)
	return resp.Path, err
}

func parseStatuses(values []string) ([]queue.Status, error) {
	statuses := make([]queue.Status, 0, len(values))
	for _, value := range values {
		status, ok := queue.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
