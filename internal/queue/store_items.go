package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"portalpilot/internal/logging"
)

// Enqueue validates payload, assigns an id, inserts the item as pending, and
// re-sorts the queue by descending priority (stable for ties).
func (s *Store) Enqueue(ctx context.Context, payload Payload, bannerPath string, priority int) (*Item, error) {
	payload.Title = strings.TrimSpace(payload.Title)
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if err := validatePriority(priority); err != nil {
		return nil, err
	}
	var created Item
	err := s.mutate(ctx, 1, func(snap *Snapshot) error {
		s.nextSeq++
		item := Item{
			ID:         s.newID(snap),
			Payload:    payload.clone(),
			BannerPath: strings.TrimSpace(bannerPath),
			Status:     StatusPending,
			MaxRetries: s.maxRetries,
			Priority:   priority,
			AddedAt:    s.now().UTC(),
			Sequence:   s.nextSeq,
		}
		snap.Queue = append(snap.Queue, item)
		sortByPriority(snap.Queue)
		created = item.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("item enqueued",
		logging.String(logging.FieldItemID, created.ID),
		logging.String("title", created.Payload.Title),
		logging.Int("priority", created.Priority),
		logging.String(logging.FieldEventType, "item_enqueued"),
	)
	return &created, nil
}

// Get returns a copy of the item with id.
func (s *Store) Get(_ context.Context, id string) (*Item, error) {
	var (
		out   Item
		found bool
	)
	s.read(func(snap *Snapshot) {
		if idx := snap.indexOf(id); idx >= 0 {
			out = snap.Queue[idx].Clone()
			found = true
		}
	})
	if !found {
		return nil, notFound(id)
	}
	return &out, nil
}

// List returns copies of the queue in stored order, optionally filtered by status.
func (s *Store) List(_ context.Context, statuses ...Status) ([]Item, error) {
	filter := make(map[Status]struct{}, len(statuses))
	for _, status := range statuses {
		filter[status] = struct{}{}
	}
	var out []Item
	s.read(func(snap *Snapshot) {
		out = make([]Item, 0, len(snap.Queue))
		for _, item := range snap.Queue {
			if len(filter) > 0 {
				if _, ok := filter[item.Status]; !ok {
					continue
				}
			}
			out = append(out, item.Clone())
		}
	})
	return out, nil
}

// FailedHistory returns the frozen copies recorded when items exhausted retries.
func (s *Store) FailedHistory(_ context.Context) ([]Item, error) {
	var out []Item
	s.read(func(snap *Snapshot) {
		out = make([]Item, len(snap.FailedItems))
		for i, item := range snap.FailedItems {
			out[i] = item.Clone()
		}
	})
	return out, nil
}

// Update applies operator edits to a pending, retrying, or failed item.
func (s *Store) Update(ctx context.Context, id string, update ItemUpdate) (*Item, error) {
	if update.Payload != nil {
		update.Payload.Title = strings.TrimSpace(update.Payload.Title)
		if err := update.Payload.Validate(); err != nil {
			return nil, err
		}
	}
	if update.Priority != nil {
		if err := validatePriority(*update.Priority); err != nil {
			return nil, err
		}
	}
	if update.MaxRetries != nil && *update.MaxRetries <= 0 {
		return nil, fmt.Errorf("%w: maxRetries must be positive", ErrValidation)
	}
	var out Item
	err := s.mutate(ctx, 1, func(snap *Snapshot) error {
		idx := snap.indexOf(id)
		if idx < 0 {
			return notFound(id)
		}
		item := &snap.Queue[idx]
		if err := ensureEditable(item); err != nil {
			return err
		}
		if update.Payload != nil {
			item.Payload = update.Payload.clone()
		}
		if update.BannerPath != nil {
			item.BannerPath = strings.TrimSpace(*update.BannerPath)
		}
		if update.MaxRetries != nil {
			item.MaxRetries = *update.MaxRetries
		}
		resort := false
		if update.Priority != nil && *update.Priority != item.Priority {
			item.Priority = *update.Priority
			resort = true
		}
		out = item.Clone()
		if resort {
			sortByPriority(snap.Queue)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPriority changes an item's priority and re-sorts the queue.
func (s *Store) SetPriority(ctx context.Context, id string, priority int) (*Item, error) {
	return s.Update(ctx, id, ItemUpdate{Priority: &priority})
}

// UpdateBanner records the prepared banner image path for an item.
func (s *Store) UpdateBanner(ctx context.Context, id, bannerPath string) (*Item, error) {
	return s.Update(ctx, id, ItemUpdate{BannerPath: &bannerPath})
}

func ensureEditable(item *Item) error {
	switch {
	case item.Status == StatusProcessing:
		return fmt.Errorf("%w: %s", ErrItemBusy, item.ID)
	case !item.Status.Editable():
		return fmt.Errorf("%w: %s is %s", ErrImmutable, item.ID, item.Status)
	}
	return nil
}

// Delete removes one item. The item the engine is processing cannot be
// deleted (ErrItemBusy); completed and skipped items can.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	busy := false
	s.read(func(snap *Snapshot) {
		if idx := snap.indexOf(id); idx >= 0 && snap.Queue[idx].Status == StatusProcessing {
			busy = true
		}
	})
	if busy {
		return false, fmt.Errorf("%w: %s", ErrItemBusy, id)
	}
	removed, err := s.BulkDelete(ctx, []string{id})
	if err != nil {
		return false, err
	}
	return len(removed) == 1, nil
}

// BulkDelete removes every listed item that exists and is not processing, and
// returns the removed ids.
func (s *Store) BulkDelete(ctx context.Context, ids []string) ([]string, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[strings.TrimSpace(id)] = struct{}{}
	}
	removed, err := s.removeWhere(ctx, func(item Item) bool {
		_, ok := want[item.ID]
		return ok
	})
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.logger.Info("items deleted",
			logging.Int("count", len(removed)),
			logging.String(logging.FieldEventType, "items_deleted"),
		)
	}
	return removed, nil
}

// Clear removes every item except one currently processing. Lifetime counters
// and the failed history remain.
func (s *Store) Clear(ctx context.Context) (int, error) {
	removed, err := s.removeWhere(ctx, func(Item) bool { return true })
	if err != nil {
		return 0, err
	}
	s.logger.Info("queue cleared",
		logging.Int("count", len(removed)),
		logging.String(logging.FieldEventType, "queue_cleared"),
	)
	return len(removed), nil
}

func (s *Store) removeWhere(ctx context.Context, match func(Item) bool) ([]string, error) {
	var removed []string
	err := s.mutate(ctx, 1, func(snap *Snapshot) error {
		kept := make([]Item, 0, len(snap.Queue))
		for _, item := range snap.Queue {
			if item.Status != StatusProcessing && match(item) {
				removed = append(removed, item.ID)
				continue
			}
			kept = append(kept, item)
		}
		if len(removed) == 0 {
			return errNoChange
		}
		snap.Queue = kept
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Search returns items whose title or description contains query, compared
// with Turkish case folding so "İçerik" matches "içerik".
func (s *Store) Search(_ context.Context, query string) ([]Item, error) {
	fold := cases.Lower(language.Turkish)
	needle := fold.String(strings.TrimSpace(query))
	var out []Item
	s.read(func(snap *Snapshot) {
		for _, item := range snap.Queue {
			if needle == "" ||
				strings.Contains(fold.String(item.Payload.Title), needle) ||
				strings.Contains(fold.String(item.Payload.Description), needle) {
				out = append(out, item.Clone())
			}
		}
	})
	return out, nil
}
