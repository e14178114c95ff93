package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"portalpilot/internal/api"
	"portalpilot/internal/config"
	"portalpilot/internal/ipc"
	"portalpilot/internal/preflight"
	"portalpilot/internal/queue"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	AutoStart  bool
}

// StartResult captures daemon launch state.
type StartResult struct {
	AlreadyRunning bool
	PID            int
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Launch starts a detached portalpilot daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon", "run"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if opts.AutoStart {
		args = append(args, "--auto-start")
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon when its socket is not answering.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	alreadyRunning := err == nil
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
	}
	defer client.Close()

	result := StartResult{AlreadyRunning: alreadyRunning}
	if status, statusErr := client.Status(); statusErr == nil {
		result.PID = status.Status.PID
	}
	return result, nil
}

// WaitForShutdown waits for daemon IPC to disappear.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			return nil
		}
		_ = client.Close()
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// StopResult captures daemon termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// StopAndTerminate signals the daemon to shut down and force-kills the
// process if its socket is still answering after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	status, statusErr := client.Status()
	_ = client.Close()
	if statusErr != nil {
		return StopResult{}, statusErr
	}

	pid := status.Status.PID
	logDir := ""
	if status.Status.LockFilePath != "" {
		logDir = filepath.Dir(status.Status.LockFilePath)
	} else if cfg != nil {
		logDir = cfg.Paths.LogDir
	}
	pidPath := filepath.Join(logDir, "portalpilot.pid")
	if pid <= 0 {
		pid = readPID(pidPath)
	}
	if pid <= 0 {
		return StopResult{}, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}

	result := StopResult{PID: pid}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	if err := WaitForShutdown(socketPath, gracePeriod); err == nil {
		return result, nil
	}

	if err := forceKill(pid, pidPath); err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	return result, nil
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func forceKill(pid int, pidPath string) error {
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return nil
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// StatusSnapshot is daemon status plus locally computed checks.
type StatusSnapshot struct {
	api.DaemonStatus
	// Offline is set when the daemon did not answer and queue counts were
	// read directly from storage.
	Offline bool
	Probes  []preflight.Result
}

// BuildStatusSnapshot collects daemon status and falls back to reading the
// queue directly when the daemon is down. A deep snapshot also probes the
// portal entry URL.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config, deep bool) (*StatusSnapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &StatusSnapshot{}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil {
			snapshot.DaemonStatus = resp.Status
		}
	}

	if !snapshot.Running {
		snapshot.Offline = true
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if store, openErr := queue.Open(queryCtx, cfg, nil); openErr == nil {
			if stats, statsErr := store.Statistics(queryCtx); statsErr == nil {
				snapshot.Queue = stats
			}
			snapshot.Backend = store.Backend()
			_ = store.Close()
		}
		for _, r := range preflight.RunAll(ctx, cfg) {
			snapshot.Checks = append(snapshot.Checks, api.CheckResult{Name: r.Name, OK: r.Passed, Detail: r.Detail})
		}
	}

	if deep {
		snapshot.Probes = append(snapshot.Probes, preflight.CheckPortal(ctx, cfg.Portal.EntryURL))
	}
	return snapshot, nil
}
