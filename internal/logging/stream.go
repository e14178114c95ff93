package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEvent represents a structured log line published to the streaming hub.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	Step          int               `json:"step,omitempty"`
	ItemID        string            `json:"item_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// StreamHub keeps the most recent log events in a ring and wakes long-poll
// readers when new events arrive. Sequence numbers are contiguous, so the
// position of any buffered event follows from its sequence.
type StreamHub struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ring    []LogEvent
	head    int // index of the oldest event
	size    int
	nextSeq uint64
}

// NewStreamHub constructs a hub retaining up to capacity events.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	h := &StreamHub{ring: make([]LogEvent, capacity)}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends a new log event, evicting the oldest when full.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if h.size < len(h.ring) {
		h.ring[(h.head+h.size)%len(h.ring)] = evt
		h.size++
	} else {
		h.ring[h.head] = evt
		h.head = (h.head + 1) % len(h.ring)
	}
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Fetch returns up to limit events with sequence greater than since. With
// wait set it blocks until one arrives or ctx ends.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}

	stopWake := make(chan struct{})
	defer close(stopWake)
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-stopWake:
			}
		}()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events := h.sinceLocked(since, limit)
		if len(events) > 0 || !wait {
			return events, h.cursorLocked(events), contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, h.nextSeq, err
		}
		h.cond.Wait()
	}
}

// Tail returns the most recent limit events without blocking.
func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > h.size {
		limit = h.size
	}
	return h.rangeLocked(h.size-limit, h.size), h.nextSeq
}

// FirstSequence reports the smallest sequence number still buffered.
func (h *StreamHub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.firstSeqLocked()
}

func (h *StreamHub) firstSeqLocked() uint64 {
	if h.size == 0 {
		return h.nextSeq
	}
	return h.nextSeq - uint64(h.size) + 1
}

func (h *StreamHub) sinceLocked(since uint64, limit int) []LogEvent {
	if since >= h.nextSeq || h.size == 0 {
		return nil
	}
	offset := 0
	if first := h.firstSeqLocked(); since >= first {
		offset = int(since - first + 1)
	}
	end := h.size
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return h.rangeLocked(offset, end)
}

// cursorLocked is the sequence a follow-up Fetch should pass as since.
func (h *StreamHub) cursorLocked(events []LogEvent) uint64 {
	if len(events) == 0 {
		return h.nextSeq
	}
	return events[len(events)-1].Sequence
}

func (h *StreamHub) rangeLocked(from, to int) []LogEvent {
	if from >= to {
		return nil
	}
	out := make([]LogEvent, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, h.ring[(h.head+i)%len(h.ring)])
	}
	return out
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

type streamHandler struct {
	next  slog.Handler
	hub   *StreamHub
	attrs []slog.Attr
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub, attrs: nil}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.hub != nil {
		h.hub.Publish(eventFromRecordWithAttrs(record, h.attrs))
	}
	return h.next.Handle(ctx, record.Clone())
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)
	return &streamHandler{
		next:  h.next.WithAttrs(attrs),
		hub:   h.hub,
		attrs: newAttrs,
	}
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	return &streamHandler{
		next: h.next.WithGroup(name),
		hub:  h.hub,
	}
}

func eventFromRecordWithAttrs(record slog.Record, preAttrs []slog.Attr) LogEvent {
	event := LogEvent{
		Timestamp: record.Time,
		Level:     strings.ToUpper(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
	}

	apply := func(attr slog.Attr) {
		key := strings.TrimSpace(attr.Key)
		if key == "" {
			return
		}
		switch key {
		case FieldItemID:
			event.ItemID = attrString(attr.Value)
		case FieldStep:
			if attr.Value.Kind() == slog.KindInt64 {
				event.Step = int(attr.Value.Int64())
			}
		case FieldCorrelationID:
			event.CorrelationID = attrString(attr.Value)
		case FieldComponent:
			event.Component = attrString(attr.Value)
		default:
			if event.Fields == nil {
				event.Fields = make(map[string]string)
			}
			event.Fields[key] = attrString(attr.Value)
		}
	}

	// call-site attrs override logger attrs
	for _, attr := range preAttrs {
		apply(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		apply(attr)
		return true
	})
	return event
}
