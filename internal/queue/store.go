package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"portalpilot/internal/config"
	"portalpilot/internal/logging"
)

const (
	defaultWriteAttempts = 3
	defaultWriteDelay    = 100 * time.Millisecond
)

// Store owns the canonical queue collection and rewrites the snapshot through
// its Persister on every mutation.
type Store struct {
	mu            sync.Mutex
	persister     Persister
	snap          Snapshot
	nextSeq       int64
	maxRetries    int
	backupDir     string
	logger        *slog.Logger
	now           func() time.Time
	writeAttempts int
	writeDelay    time.Duration
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logging.NewComponentLogger(logger, "queue")
	}
}

// WithMaxRetries sets the retry budget stamped on new items.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithBackupDir sets where Backup writes point-in-time copies.
func WithBackupDir(dir string) Option {
	return func(s *Store) { s.backupDir = dir }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWriteRetry bounds how often a terminal transition's write is retried.
func WithWriteRetry(attempts int, delay time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.writeAttempts = attempts
		}
		if delay >= 0 {
			s.writeDelay = delay
		}
	}
}

// Open builds the persister selected by cfg.Queue.Backend and loads the queue.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	var (
		persister Persister
		err       error
	)
	switch cfg.Queue.Backend {
	case "sqlite":
		persister, err = OpenSQLite(ctx, cfg.QueueDBPath())
	case "mysql":
		persister, err = OpenMySQL(ctx, cfg.Queue.DSN)
	default:
		persister = NewFilePersister(cfg.QueueFile())
	}
	if err != nil {
		return nil, err
	}
	store, err := New(ctx, persister,
		WithLogger(logger),
		WithMaxRetries(cfg.Retry.MaxRetries),
		WithBackupDir(cfg.BackupDir()),
	)
	if err != nil {
		_ = persister.Close()
		return nil, err
	}
	return store, nil
}

// New loads the snapshot from persister. A load failure is logged and the
// store starts empty.
func New(ctx context.Context, persister Persister, opts ...Option) (*Store, error) {
	if persister == nil {
		return nil, fmt.Errorf("queue persister is required")
	}
	s := &Store{
		persister:     persister,
		maxRetries:    DefaultMaxRetries,
		logger:        logging.NewComponentLogger(nil, "queue"),
		now:           time.Now,
		writeAttempts: defaultWriteAttempts,
		writeDelay:    defaultWriteDelay,
	}
	for _, opt := range opts {
		opt(s)
	}

	snap, err := persister.Load(ctx)
	if err != nil {
		logging.WarnWithContext(s.logger, "queue snapshot unreadable; starting empty", "queue_load_failed",
			logging.String("backend", persister.Describe()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restore the latest backup with 'portalpilot queue import'"),
			logging.String(logging.FieldImpact, "previous queue contents are not visible until restored"),
		)
		snap = Snapshot{}
	}
	recovered := s.adopt(snap)
	if recovered > 0 {
		if err := persister.Save(ctx, s.snap); err != nil {
			logging.WarnWithContext(s.logger, "failed to persist recovered items", "queue_recover_save_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "recovered items are pending in memory only"),
			)
		}
		s.logger.Info("interrupted items returned to pending",
			logging.Int("count", recovered),
			logging.String(logging.FieldEventType, "queue_recovered"),
		)
	}
	s.logger.Debug("queue loaded",
		logging.String("backend", persister.Describe()),
		logging.Int("items", len(s.snap.Queue)),
	)
	return s, nil
}

// adopt installs snap as the live collection.
func (s *Store) adopt(snap Snapshot) int {
	prepared, maxSeq, recovered := prepareSnapshot(snap, s.maxRetries)
	s.snap = prepared
	s.nextSeq = maxSeq
	return recovered
}

// prepareSnapshot assigns sequence numbers where missing and returns items
// left in processing by a previous run to pending.
func prepareSnapshot(snap Snapshot, maxRetries int) (Snapshot, int64, int) {
	var maxSeq int64
	for _, item := range snap.Queue {
		if item.Sequence > maxSeq {
			maxSeq = item.Sequence
		}
	}
	recovered := 0
	for i := range snap.Queue {
		item := &snap.Queue[i]
		if item.Sequence == 0 {
			maxSeq++
			item.Sequence = maxSeq
		}
		if item.MaxRetries <= 0 {
			item.MaxRetries = maxRetries
		}
		if item.Status == StatusProcessing {
			item.Status = StatusPending
			item.StartedAt = nil
			recovered++
		}
	}
	if snap.Queue == nil {
		snap.Queue = []Item{}
	}
	if snap.FailedItems == nil {
		snap.FailedItems = []Item{}
	}
	return snap, maxSeq, recovered
}

// Close releases the persister.
func (s *Store) Close() error {
	if s == nil || s.persister == nil {
		return nil
	}
	return s.persister.Close()
}

// Backend describes the active persister.
func (s *Store) Backend() string {
	return s.persister.Describe()
}

// mutate applies fn to a copy of the snapshot and commits it only after the
// persister accepted the write.
func (s *Store) mutate(ctx context.Context, attempts int, fn func(*Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap.clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.Metadata.LastUpdated = s.now().UTC()
	if err := s.save(ctx, next, attempts); err != nil {
		return err
	}
	s.snap = next
	return nil
}

func (s *Store) save(ctx context.Context, snap Snapshot, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = s.persister.Save(ctx, snap); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		logging.WarnWithContext(s.logger, "queue write failed; retrying", "queue_write_retry",
			logging.Int("attempt", attempt),
			logging.Error(err),
			logging.String(logging.FieldImpact, "status change not yet durable"),
		)
		select {
		case <-time.After(s.writeDelay):
		case <-ctx.Done():
			return fmt.Errorf("persist queue: %w", ctx.Err())
		}
	}
	logging.ErrorWithContext(s.logger, "queue write failed", "queue_write_failed",
		logging.String("backend", s.persister.Describe()),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check disk space and database connectivity"),
	)
	return fmt.Errorf("persist queue: %w", err)
}

// read runs fn against the live snapshot under the lock.
func (s *Store) read(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
}

func (s *Store) newID(snap *Snapshot) string {
	for {
		id := fmt.Sprintf("queue-%d-%s", s.now().UnixMilli(), uuid.NewString()[:8])
		if snap.indexOf(id) < 0 {
			return id
		}
	}
}

func sortByPriority(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority > items[j].Priority
	})
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
