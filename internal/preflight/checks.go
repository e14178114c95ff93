package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"portalpilot/internal/config"
)

var browserCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBrowser verifies that a browser can be started or attached to.
// A remote debugging URL takes precedence over a local executable.
func CheckBrowser(ctx context.Context, cfg config.Browser) Result {
	const name = "Browser"

	if remote := strings.TrimSpace(cfg.RemoteURL); remote != "" {
		return checkRemoteBrowser(ctx, name, remote)
	}

	if path := strings.TrimSpace(cfg.ExecPath); path != "" {
		return checkExecutable(name, path)
	}

	for _, candidate := range browserCandidates {
		if resolved, err := exec.LookPath(candidate); err == nil {
			return Result{Name: name, Passed: true, Detail: resolved}
		}
	}
	return Result{Name: name, Detail: "no Chrome or Chromium executable found on PATH (set browser.exec_path)"}
}

func checkExecutable(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not executable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

func checkRemoteBrowser(ctx context.Context, name, remote string) Result {
	parsed, err := url.Parse(remote)
	if err != nil || parsed.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid remote url %q", remote)}
	}
	switch parsed.Scheme {
	case "ws", "wss":
		parsed.Scheme = strings.Replace(parsed.Scheme, "ws", "http", 1)
	}
	endpoint := parsed.Scheme + "://" + parsed.Host + "/json/version"
	status, err := probe(ctx, endpoint)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("remote browser unreachable (%s)", summarizeNetError(err))}
	}
	if status != http.StatusOK {
		return Result{Name: name, Detail: fmt.Sprintf("remote browser returned %d", status)}
	}
	return Result{Name: name, Passed: true, Detail: "remote " + parsed.Host}
}

// CheckNtfy verifies that the ntfy server behind topic answers its health endpoint.
func CheckNtfy(ctx context.Context, topic string) Result {
	const name = "ntfy"

	parsed, err := url.Parse(strings.TrimSpace(topic))
	if err != nil || parsed.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("invalid topic url %q", topic)}
	}
	status, err := probe(ctx, parsed.Scheme+"://"+parsed.Host+"/v1/health")
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%s)", summarizeNetError(err))}
	}
	if status != http.StatusOK {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", status)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckPortal verifies that the portal entry page answers. Any non-5xx
// status passes; login redirects are expected.
func CheckPortal(ctx context.Context, entryURL string) Result {
	const name = "Portal"

	if strings.TrimSpace(entryURL) == "" {
		return Result{Name: name, Detail: "missing entry url"}
	}
	status, err := probe(ctx, entryURL)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%s)", summarizeNetError(err))}
	}
	if status >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", status)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("Reachable (%d)", status)}
}

func probe(ctx context.Context, endpoint string) (int, error) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	return err.Error()
}
