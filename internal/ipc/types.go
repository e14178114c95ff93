package ipc

import (
	"portalpilot/internal/api"
	"portalpilot/internal/queue"
)

// QueueItem mirrors the HTTP API queue DTO for IPC callers.
type QueueItem = api.QueueItem

// Empty is the argument for calls that take no parameters.
type Empty struct{}

// ControlRequest names an engine control action.
type ControlRequest struct {
	Action   string `json:"action"`
	Approved bool   `json:"approved,omitempty"`
}

// ControlResponse reports the engine state after an action.
type ControlResponse struct {
	OK      bool             `json:"ok"`
	Message string           `json:"message,omitempty"`
	Engine  api.EngineStatus `json:"engine"`
}

// StatusResponse wraps daemon status.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// QueueListRequest filters queue listing by status and search text.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
	Query    string   `json:"query,omitempty"`
}

// QueueListResponse contains queue entries.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueItemRequest names one item.
type QueueItemRequest struct {
	ID string `json:"id"`
}

// QueueItemResponse returns one item.
type QueueItemResponse struct {
	Item QueueItem `json:"item"`
}

// QueueAddRequest enqueues an item.
type QueueAddRequest = api.EnqueueRequest

// QueueUploadRequest enqueues documents already read by the client.
type QueueUploadRequest struct {
	Data     []byte `json:"data"`
	Format   string `json:"format,omitempty"`
	Priority int    `json:"priority"`
}

// QueueUploadResponse reports per-document outcomes.
type QueueUploadResponse struct {
	Results []api.UploadResult `json:"results"`
}

// QueueUpdateRequest applies an operator edit.
type QueueUpdateRequest struct {
	ID     string           `json:"id"`
	Update queue.ItemUpdate `json:"update"`
}

// QueueDeleteRequest removes items.
type QueueDeleteRequest struct {
	IDs []string `json:"ids"`
}

// QueueDeleteResponse lists removed ids.
type QueueDeleteResponse = api.BulkDeleteResponse

// QueueRetryRequest retries one failed item, or all when ID is empty.
type QueueRetryRequest struct {
	ID string `json:"id,omitempty"`
}

// CountResponse reports how many items were touched.
type CountResponse = api.CountResponse

// QueueReorderRequest moves an item between positions.
type QueueReorderRequest = api.ReorderRequest

// QueueStatsResponse returns per-status counts.
type QueueStatsResponse struct {
	Stats queue.Statistics `json:"stats"`
}

// QueueExportRequest selects the export format.
type QueueExportRequest struct {
	Format string `json:"format"`
}

// QueueExportResponse carries the serialised queue.
type QueueExportResponse struct {
	Data []byte `json:"data"`
}

// QueueImportRequest carries a json export to restore.
type QueueImportRequest struct {
	Data []byte `json:"data"`
}

// BackupResponse reports a written backup.
type BackupResponse = api.BackupResponse

// TestNotificationResponse reports a test notification attempt.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
