package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"portalpilot/internal/browser"
	"portalpilot/internal/fileutil"
	"portalpilot/internal/logging"
)

// Diagnostics writes screenshots and page dumps for later inspection.
type Diagnostics struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewDiagnostics returns a writer rooted at dir. An empty dir disables it.
func NewDiagnostics(dir string, logger *slog.Logger) *Diagnostics {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Diagnostics{dir: strings.TrimSpace(dir), logger: logger, now: time.Now}
}

// Screenshot captures page as <name>-<unix ms>.png.
func (d *Diagnostics) Screenshot(ctx context.Context, page browser.Page, name string) (string, error) {
	if page == nil {
		return "", fmt.Errorf("screenshot %s: no active page", name)
	}
	data, err := page.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("screenshot %s: %w", name, err)
	}
	return d.write(name, ".png", data)
}

// SaveHTML dumps the page document as <name>-<unix ms>.html.
func (d *Diagnostics) SaveHTML(ctx context.Context, page browser.Page, name string) (string, error) {
	if page == nil {
		return "", fmt.Errorf("html dump %s: no active page", name)
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("html dump %s: %w", name, err)
	}
	return d.write(name, ".html", []byte(html))
}

// Capture takes a screenshot and, when withHTML is set, an HTML dump.
// Failures are logged and otherwise ignored.
func (d *Diagnostics) Capture(ctx context.Context, page browser.Page, name string, withHTML bool) {
	if d == nil || d.dir == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	logger := logging.WithContext(ctx, d.logger)
	if path, err := d.Screenshot(ctx, page, name); err != nil {
		logger.Warn("screenshot failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "screenshot_failed"),
			logging.String(logging.FieldImpact, "no visual record of this step"),
		)
	} else {
		logger.Debug("screenshot saved", logging.String("path", path))
	}
	if !withHTML {
		return
	}
	if path, err := d.SaveHTML(ctx, page, name); err != nil {
		logger.Warn("html dump failed", logging.Error(err), logging.String(logging.FieldEventType, "html_dump_failed"))
	} else {
		logger.Info("page html saved", logging.String("path", path))
	}
}

func (d *Diagnostics) write(name, ext string, data []byte) (string, error) {
	if d.dir == "" {
		return "", fmt.Errorf("diagnostics directory not configured")
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure diagnostics directory: %w", err)
	}
	base := sanitizeSlug(name)
	if base == "" {
		base = "capture"
	}
	path := filepath.Join(d.dir, fmt.Sprintf("%s-%d%s", base, d.now().UnixMilli(), ext))
	if err := fileutil.WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func sanitizeSlug(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	var builder strings.Builder
	builder.Grow(len(value))
	lastDash := false
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
			lastDash = false
		case r >= 'A' && r <= 'Z':
			builder.WriteRune(unicode.ToLower(r))
			lastDash = false
		default:
			if !lastDash {
				builder.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(builder.String(), "-")
}
