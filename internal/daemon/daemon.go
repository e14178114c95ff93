package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"portalpilot/internal/api"
	"portalpilot/internal/config"
	"portalpilot/internal/logging"
	"portalpilot/internal/notifications"
	"portalpilot/internal/preflight"
	"portalpilot/internal/queue"
	"portalpilot/internal/workflow"
)

// ErrDaemonStopped reports a control call made while the daemon is not running.
var ErrDaemonStopped = errors.New("daemon is not running")

// Daemon owns the queue store, the engine, and the HTTP API.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	engine   *workflow.Engine
	queueSvc *api.QueueService
	notifier notifications.Service
	logHub   *logging.StreamHub

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	checks  []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, engine *workflow.Engine, logger *slog.Logger, logHub *logging.StreamHub, notifier notifications.Service) (*Daemon, error) {
	if cfg == nil || store == nil || engine == nil {
		return nil, errors.New("daemon requires config, store, and engine")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		engine:   engine,
		queueSvc: api.NewQueueService(store),
		notifier: notifier,
		logHub:   logHub,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, runs startup maintenance, and serves the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(d.cfg.Paths.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another portalpilot daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.ctx, d.cancel = runCtx, cancel
	d.mu.Unlock()

	d.maintainQueue(runCtx)
	d.runChecks(runCtx)

	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("portalpilot daemon started",
		logging.String("lock", d.lockPath),
		logging.String("queue_backend", d.store.Backend()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) maintainQueue(ctx context.Context) {
	if d.cfg.Queue.BackupOnStart {
		if _, err := d.store.Backup(ctx); err != nil {
			logging.WarnWithContext(d.logger, "startup queue backup failed", "queue_backup_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "no restore point for this session"),
			)
		}
	}
	days := d.cfg.Queue.BackupRetentionDays
	if days <= 0 {
		days = queue.DefaultBackupRetentionDays
	}
	if removed, err := d.store.PruneBackups(ctx, days); err != nil {
		logging.WarnWithContext(d.logger, "backup pruning failed", "queue_backup_prune_failed", logging.Error(err))
	} else if removed > 0 {
		d.logger.Info("old queue backups removed", logging.Int("count", removed))
	}
}

func (d *Daemon) runChecks(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	results := preflight.RunAll(checkCtx, d.cfg)
	d.mu.Lock()
	d.checks = results
	d.mu.Unlock()
	for _, r := range results {
		if r.Passed {
			d.logger.Debug("preflight passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "automation runs may fail until this is fixed"),
		)
	}
}

// Stop ends any automation run, stops the API, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	if err := d.engine.Stop(stopCtx); err != nil {
		d.logger.Warn("engine stop failed", logging.Error(err))
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx, d.cancel = nil, nil
	d.mu.Unlock()

	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("portalpilot daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

func (d *Daemon) runContext() (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil, ErrDaemonStopped
	}
	return d.ctx, nil
}

// StartAutomation begins a run bound to the daemon's lifetime.
func (d *Daemon) StartAutomation() error {
	ctx, err := d.runContext()
	if err != nil {
		return err
	}
	return d.engine.Start(ctx)
}

// StopAutomation stops the current run, if any.
func (d *Daemon) StopAutomation(ctx context.Context) error {
	return d.engine.Stop(ctx)
}

// PauseAutomation pauses the current run.
func (d *Daemon) PauseAutomation() error { return d.engine.Pause() }

// ResumeAutomation resumes a paused run.
func (d *Daemon) ResumeAutomation() error { return d.engine.Resume() }

// SkipItem abandons the item under processing.
func (d *Daemon) SkipItem() error { return d.engine.Skip() }

// Confirm resolves the pending confirmation.
func (d *Daemon) Confirm(approved bool) error { return d.engine.Confirm(approved) }

// Engine exposes the automation engine.
func (d *Daemon) Engine() *workflow.Engine { return d.engine }

// Queue exposes the queue facade.
func (d *Daemon) Queue() *api.QueueService { return d.queueSvc }

// LogStream returns the in-memory log hub, if any.
func (d *Daemon) LogStream() *logging.StreamHub { return d.logHub }

// EngineStatus returns the engine state as a DTO.
func (d *Daemon) EngineStatus() api.EngineStatus {
	return api.FromEngineState(d.engine.Status(), len(d.engine.StepTable()))
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Backend:      d.store.Backend(),
		LockFilePath: d.lockPath,
		SocketPath:   d.cfg.SocketPath(),
		APIBind:      d.api.address(),
		Engine:       d.EngineStatus(),
	}
	if stats, err := d.store.Statistics(ctx); err == nil {
		status.Queue = stats
	}
	d.mu.Lock()
	for _, r := range d.checks {
		status.Checks = append(status.Checks, api.CheckResult{Name: r.Name, OK: r.Passed, Detail: r.Detail})
	}
	d.mu.Unlock()
	return status
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, notifications.Payload{}); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
