package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"portalpilot/internal/daemonctl"
	"portalpilot/internal/testsupport"
)

func TestControlCommandReportsEngineRefusal(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"pause"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected pause to fail while automation is idle")
	}
	requireContains(t, err.Error(), "not running")
}

func TestControlCommandWithoutDaemon(t *testing.T) {
	_, socket, configPath := setupOfflineEnv(t)

	_, _, err := runCLI(t, []string{"resume"}, socket, configPath)
	if err == nil {
		t.Fatal("expected resume to fail without a daemon")
	}
	requireContains(t, err.Error(), "portalpilot daemon start")
}

func TestStatusCommandOnline(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.NewItem(t, env.store, "Kitap Fuarı", 0)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running (pid")
	requireContains(t, out, "== Engine ==")
	requireContains(t, out, "idle")
	requireContains(t, out, "Pending")
}

func TestStatusCommandOfflineJSON(t *testing.T) {
	_, socket, configPath := setupOfflineEnv(t)

	out, _, err := runCLI(t, []string{"status", "--json"}, socket, configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var snapshot daemonctl.StatusSnapshot
	if err := json.Unmarshal([]byte(out), &snapshot); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, out)
	}
	if snapshot.Running || !snapshot.Offline {
		t.Fatalf("expected offline snapshot, got %+v", snapshot)
	}
	if !strings.HasPrefix(snapshot.Backend, "json:") {
		t.Fatalf("expected json backend, got %q", snapshot.Backend)
	}
}

func TestStepsCommandListsEveryStep(t *testing.T) {
	_, socket, configPath := setupOfflineEnv(t)

	out, _, err := runCLI(t, []string{"steps"}, socket, configPath)
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	requireContains(t, out, "Launch browser")
	requireContains(t, out, "per item")
	requireContains(t, out, "once per run")
}

func TestConfigInitAndValidate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	target := filepath.Join(dir, "conf", "portalpilot.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, target)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected sample config at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "", ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, "", target)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestConfigValidateReportsBadFile(t *testing.T) {
	dir := t.TempDir()
	path := testsupport.WriteFile(t, filepath.Join(dir, "bad.toml"), "[queue]\nbackend = \"redis\"\n")

	_, _, err := runCLI(t, []string{"config", "validate"}, "", path)
	if err == nil {
		t.Fatal("expected validate to reject unsupported backend")
	}
	requireContains(t, err.Error(), "queue.backend")
}

func TestLogsCommandReadsLogFile(t *testing.T) {
	cfg, socket, configPath := setupOfflineEnv(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC).Format(time.RFC3339Nano)
	lines := "" +
		`{"time":"` + ts + `","level":"INFO","msg":"run started","component":"engine"}` + "\n" +
		`{"time":"` + ts + `","level":"WARN","msg":"click retry","component":"locator","item_id":"queue-1-abc","step":6}` + "\n" +
		"plain text line\n"
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.LogDir, "portalpilot.log"), lines)

	out, _, err := runCLI(t, []string{"logs", "-n", "10"}, socket, configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "run started")
	requireContains(t, out, "plain text line")

	out, _, err = runCLI(t, []string{"logs", "--item", "queue-1-abc"}, socket, configPath)
	if err != nil {
		t.Fatalf("logs --item: %v", err)
	}
	requireContains(t, out, "[locator] queue-1-abc step 6 – click retry")
	if strings.Contains(out, "run started") {
		t.Fatalf("expected item filter to drop unrelated events:\n%s", out)
	}
}

func TestLogsCommandWithoutLogFile(t *testing.T) {
	_, socket, configPath := setupOfflineEnv(t)

	out, _, err := runCLI(t, []string{"logs"}, socket, configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log entries available")
}

func TestDaemonStopWithoutDaemon(t *testing.T) {
	_, socket, configPath := setupOfflineEnv(t)

	out, _, err := runCLI(t, []string{"daemon", "stop"}, socket, configPath)
	if err != nil {
		t.Fatalf("daemon stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}
