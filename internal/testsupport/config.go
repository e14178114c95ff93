package testsupport

import (
	"path/filepath"
	"testing"

	"portalpilot/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Waits and retry delays are shortened so engine tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ScreenshotDir = filepath.Join(base, "screenshots")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Browser.UserDataDir = filepath.Join(base, "browser")
	cfgVal.Waits = config.Waits{
		PageLoad:     1,
		ElementClick: 1,
		PanelSwitch:  1,
		AfterSubmit:  1,
		PausePoll:    5,
		ItemDelayMin: 0,
		ItemDelayMax: 0,
	}
	cfgVal.Retry.ClickDelay = 1
	cfgVal.Retry.InitialDelay = 0
	cfgVal.Retry.MaxDelay = 1
	cfgVal.Timeouts.LocatorStrategy = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithQueueBackend selects the queue snapshot backend.
func WithQueueBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.Backend = backend
	}
}

// WithMaxRetries overrides the per-item retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retry.MaxRetries = n
	}
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
