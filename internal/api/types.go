package api

import (
	"time"

	"portalpilot/internal/logging"
	"portalpilot/internal/queue"
	"portalpilot/internal/workflow"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueItem describes a queue entry in a transport-friendly format.
type QueueItem struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	ShortContent    string   `json:"shortContent,omitempty"`
	DetailedContent string   `json:"detailedContent,omitempty"`
	BannerPath      string   `json:"bannerPath,omitempty"`
	Status          string   `json:"status"`
	Priority        int      `json:"priority"`
	RetryCount      int      `json:"retryCount"`
	MaxRetries      int      `json:"maxRetries"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
	AddedAt         string   `json:"addedAt,omitempty"`
	StartedAt       string   `json:"startedAt,omitempty"`
	ProcessedAt     string   `json:"processedAt,omitempty"`
	ProcessingTime  *float64 `json:"processingTime,omitempty"`
}

// EngineStatus mirrors the engine state snapshot.
type EngineStatus struct {
	Status                 string         `json:"status"`
	IsRunning              bool           `json:"isRunning"`
	IsPaused               bool           `json:"isPaused"`
	IsStopped              bool           `json:"isStopped"`
	WaitingForConfirmation string         `json:"waitingForConfirmation,omitempty"`
	ConfirmationMessage    string         `json:"confirmationMessage,omitempty"`
	CurrentStep            int            `json:"currentStep"`
	CurrentStepLabel       string         `json:"currentStepLabel,omitempty"`
	TotalSteps             int            `json:"totalSteps"`
	CurrentItem            *ItemRef       `json:"currentItem,omitempty"`
	Progress               EngineProgress `json:"progress"`
	StartTime              string         `json:"startTime,omitempty"`
	LastError              string         `json:"lastError,omitempty"`
}

// ItemRef identifies the item under processing.
type ItemRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// EngineProgress counts run outcomes against the live queue.
type EngineProgress struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Total     int `json:"total"`
}

// CheckResult is one preflight probe outcome.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus captures daemon runtime information.
type DaemonStatus struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	Backend      string           `json:"backend"`
	LockFilePath string           `json:"lockFilePath"`
	SocketPath   string           `json:"socketPath"`
	APIBind      string           `json:"apiBind,omitempty"`
	Engine       EngineStatus     `json:"engine"`
	Queue        queue.Statistics `json:"queue"`
	Checks       []CheckResult    `json:"checks,omitempty"`
}

// QueueListResponse wraps a list of queue items.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueItemResponse wraps a single queue item.
type QueueItemResponse struct {
	Item QueueItem `json:"item"`
}

// EnqueueRequest adds one item.
type EnqueueRequest struct {
	Payload    queue.Payload `json:"payload"`
	BannerPath string        `json:"bannerPath,omitempty"`
	Priority   int           `json:"priority"`
}

// ReorderRequest moves the item at OldIndex to NewIndex.
type ReorderRequest struct {
	OldIndex int `json:"oldIndex"`
	NewIndex int `json:"newIndex"`
}

// BulkDeleteRequest names items to remove.
type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// BulkDeleteResponse lists the ids actually removed.
type BulkDeleteResponse struct {
	Deleted []string `json:"deleted"`
}

// CountResponse reports how many items an operation touched.
type CountResponse struct {
	Count int `json:"count"`
}

// BackupResponse reports a written backup file.
type BackupResponse struct {
	Path string `json:"path"`
}

// UploadResult reports one uploaded document.
type UploadResult struct {
	Item  *QueueItem `json:"item,omitempty"`
	Error string     `json:"error,omitempty"`
}

// ConfirmRequest resolves the pending confirmation.
type ConfirmRequest struct {
	Approved bool `json:"approved"`
}

// ActionResponse reports a control action outcome.
type ActionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// LogStreamResponse wraps log events for streaming clients.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// FromQueueItem converts a queue item into its DTO.
func FromQueueItem(item queue.Item) QueueItem {
	dto := QueueItem{
		ID:              item.ID,
		Title:           item.Payload.Title,
		Description:     item.Payload.Description,
		Tags:            append([]string(nil), item.Payload.Tags...),
		ShortContent:    item.Payload.ShortContent,
		DetailedContent: item.Payload.DetailedContent,
		BannerPath:      item.BannerPath,
		Status:          string(item.Status),
		Priority:        item.Priority,
		RetryCount:      item.RetryCount,
		MaxRetries:      item.MaxRetries,
		ErrorMessage:    item.Error,
		AddedAt:         formatTime(item.AddedAt),
	}
	if item.StartedAt != nil {
		dto.StartedAt = formatTime(*item.StartedAt)
	}
	if item.ProcessedAt != nil {
		dto.ProcessedAt = formatTime(*item.ProcessedAt)
	}
	if item.ProcessingTime != nil {
		v := *item.ProcessingTime
		dto.ProcessingTime = &v
	}
	return dto
}

// FromQueueItems converts a slice, preserving order.
func FromQueueItems(items []queue.Item) []QueueItem {
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromQueueItem(item))
	}
	return out
}

// FromEngineState converts an engine snapshot.
func FromEngineState(st workflow.State, totalSteps int) EngineStatus {
	dto := EngineStatus{
		Status:                 string(st.Status),
		IsRunning:              st.IsRunning,
		IsPaused:               st.IsPaused,
		IsStopped:              st.IsStopped,
		WaitingForConfirmation: string(st.WaitingForConfirmation),
		ConfirmationMessage:    st.ConfirmationMessage,
		CurrentStep:            st.CurrentStep,
		CurrentStepLabel:       st.CurrentStepLabel,
		TotalSteps:             totalSteps,
		Progress: EngineProgress{
			Processed: st.Progress.Processed,
			Failed:    st.Progress.Failed,
			Pending:   st.Progress.Pending,
			Total:     st.Progress.Total,
		},
		LastError: st.LastError,
	}
	if st.CurrentItem != nil {
		dto.CurrentItem = &ItemRef{ID: st.CurrentItem.ID, Title: st.CurrentItem.Title}
	}
	if st.StartTime != nil {
		dto.StartTime = formatTime(*st.StartTime)
	}
	return dto
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
