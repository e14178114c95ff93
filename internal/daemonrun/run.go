package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"portalpilot/internal/browser"
	"portalpilot/internal/config"
	"portalpilot/internal/daemon"
	"portalpilot/internal/ipc"
	"portalpilot/internal/logging"
	"portalpilot/internal/notifications"
	"portalpilot/internal/queue"
	"portalpilot/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// AutoStart begins an automation run as soon as the daemon is up.
	AutoStart bool
}

// Run starts the portalpilot daemon and blocks until a termination signal
// or cancellation of cmdCtx.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("portalpilot-%s.log", runID))
	logHub := logging.NewStreamHub(4096)

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		JSONPaths:   []string{logPath},
		Development: opts.Development,
		Stream:      logHub,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update portalpilot.log link: %v\n", err)
	}
	logging.CleanupOldFiles(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "portalpilot-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: cfg.Paths.ScreenshotDir, Pattern: "*.png"},
	)
	logRuntimeSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.LogDir, "portalpilot.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	notifier := notifications.NewService(cfg)
	engine := workflow.NewEngine(cfg, store, browser.NewChromeDriver(), logger, workflow.WithNotifier(notifier))

	d, err := daemon.New(cfg, store, engine, logger, logHub, notifier)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check for another running daemon and queue storage access"),
			logging.String(logging.FieldImpact, "queue items will not be published"),
		)
		return err
	}

	if opts.AutoStart {
		if err := d.StartAutomation(); err != nil {
			logging.WarnWithContext(logger, "automation auto-start failed", "auto_start_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run must be started manually"),
			)
		}
	}

	<-signalCtx.Done()
	logger.Info("portalpilot daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "portalpilot.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logRuntimeSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("runtime snapshot",
		logging.String(logging.FieldEventType, "runtime_snapshot"),
		logging.String("queue_backend", cfg.Queue.Backend),
		logging.String("browser_exec", cfg.Browser.ExecPath),
		logging.Bool("browser_remote", cfg.Browser.RemoteURL != ""),
		logging.Bool("headless", cfg.Browser.Headless),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("api_enabled", cfg.Paths.APIBind != ""),
		logging.Int("max_retries", cfg.Retry.MaxRetries),
	)
}
