package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusRetrying   Status = "retrying"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusSkipped,
	StatusRetrying,
}

// AllStatuses returns every known status in display order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a user supplied string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// Eligible reports whether the engine may pull an item in this status.
func (s Status) Eligible() bool {
	return s == StatusPending || s == StatusRetrying
}

// Editable reports whether operator edits, reorders, and deletes are allowed.
func (s Status) Editable() bool {
	return s == StatusPending || s == StatusRetrying || s == StatusFailed
}

// Payload limits applied on enqueue and update.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 500
	MaxTags              = 10
	MaxShortContent      = 5000
	MinPriority          = 0
	MaxPriority          = 10
	DefaultMaxRetries    = 3
)

// Payload is the structured content published for one item.
type Payload struct {
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	ShortContent    string          `json:"shortContent,omitempty"`
	DetailedContent string          `json:"detailedContent,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// Validate enforces the payload limits.
func (p Payload) Validate() error {
	title := strings.TrimSpace(p.Title)
	switch {
	case title == "":
		return fmt.Errorf("%w: title is required", ErrValidation)
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return fmt.Errorf("%w: title exceeds %d characters", ErrValidation, MaxTitleLength)
	case utf8.RuneCountInString(p.Description) > MaxDescriptionLength:
		return fmt.Errorf("%w: description exceeds %d characters", ErrValidation, MaxDescriptionLength)
	case len(p.Tags) > MaxTags:
		return fmt.Errorf("%w: at most %d tags allowed", ErrValidation, MaxTags)
	case utf8.RuneCountInString(p.ShortContent) > MaxShortContent:
		return fmt.Errorf("%w: short content exceeds %d characters", ErrValidation, MaxShortContent)
	}
	return nil
}

func (p Payload) clone() Payload {
	out := p
	out.Tags = append([]string(nil), p.Tags...)
	if p.Raw != nil {
		out.Raw = append(json.RawMessage(nil), p.Raw...)
	}
	return out
}

func validatePriority(priority int) error {
	if priority < MinPriority || priority > MaxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d", ErrValidation, MinPriority, MaxPriority)
	}
	return nil
}

// Item is one unit of content awaiting publication.
type Item struct {
	ID             string     `json:"id"`
	Payload        Payload    `json:"payload"`
	BannerPath     string     `json:"bannerPath,omitempty"`
	Status         Status     `json:"status"`
	RetryCount     int        `json:"retryCount"`
	MaxRetries     int        `json:"maxRetries"`
	Priority       int        `json:"priority"`
	Error          string     `json:"error,omitempty"`
	AddedAt        time.Time  `json:"addedAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	ProcessedAt    *time.Time `json:"processedAt,omitempty"`
	ProcessingTime *float64   `json:"processingTime,omitempty"`
	Sequence       int64      `json:"sequence"`
}

// Title returns the payload title.
func (i *Item) Title() string {
	if i == nil {
		return ""
	}
	return i.Payload.Title
}

// Clone returns a deep copy safe to hand out of the store.
func (i Item) Clone() Item {
	out := i
	out.Payload = i.Payload.clone()
	if i.StartedAt != nil {
		ts := *i.StartedAt
		out.StartedAt = &ts
	}
	if i.ProcessedAt != nil {
		ts := *i.ProcessedAt
		out.ProcessedAt = &ts
	}
	if i.ProcessingTime != nil {
		v := *i.ProcessingTime
		out.ProcessingTime = &v
	}
	return out
}

// ItemUpdate carries optional operator edits. Nil fields are left unchanged.
type ItemUpdate struct {
	Payload    *Payload `json:"payload,omitempty"`
	BannerPath *string  `json:"bannerPath,omitempty"`
	Priority   *int     `json:"priority,omitempty"`
	MaxRetries *int     `json:"maxRetries,omitempty"`
}

// Metadata holds lifetime counters that survive item deletion.
type Metadata struct {
	TotalProcessed int       `json:"totalProcessed"`
	TotalFailed    int       `json:"totalFailed"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Snapshot is the persisted document rewritten on every mutation.
type Snapshot struct {
	Queue       []Item   `json:"queue"`
	FailedItems []Item   `json:"failedItems"`
	Metadata    Metadata `json:"metadata"`
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{Metadata: s.Metadata}
	out.Queue = make([]Item, len(s.Queue))
	for i, item := range s.Queue {
		out.Queue[i] = item.Clone()
	}
	out.FailedItems = make([]Item, len(s.FailedItems))
	for i, item := range s.FailedItems {
		out.FailedItems[i] = item.Clone()
	}
	return out
}

func (s *Snapshot) indexOf(id string) int {
	for i := range s.Queue {
		if s.Queue[i].ID == id {
			return i
		}
	}
	return -1
}

// Statistics reports per-status counts plus lifetime totals.
type Statistics struct {
	Total          int `json:"total"`
	Pending        int `json:"pending"`
	Processing     int `json:"processing"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
	Retrying       int `json:"retrying"`
	TotalProcessed int `json:"totalProcessed"`
	TotalFailed    int `json:"totalFailed"`
}

// Remaining counts items the engine may still pull.
func (s Statistics) Remaining() int {
	return s.Pending + s.Retrying
}
