package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir       string `toml:"data_dir"`
	LogDir        string `toml:"log_dir"`
	ScreenshotDir string `toml:"screenshot_dir"`
	APIBind       string `toml:"api_bind"`
	APIToken      string `toml:"api_token"`
}

// Browser contains configuration for the automated browser session.
type Browser struct {
	ExecPath       string   `toml:"exec_path"`
	RemoteURL      string   `toml:"remote_url"`
	Headless       bool     `toml:"headless"`
	NoSandbox      bool     `toml:"no_sandbox"`
	UserDataDir    string   `toml:"user_data_dir"`
	WindowWidth    int      `toml:"window_width"`
	WindowHeight   int      `toml:"window_height"`
	AcceptLanguage string   `toml:"accept_language"`
	UserAgents     []string `toml:"user_agents"`
}

// Portal holds the target site's URLs and element locators. None of these
// values are interpreted by the engine beyond being handed to the locator.
type Portal struct {
	EntryURL            string   `toml:"entry_url"`
	PanelURLMarkers     []string `toml:"panel_url_markers"`
	SchoolPanelID       string   `toml:"school_panel_id"`
	SchoolPanelTarget   string   `toml:"school_panel_target"`
	SchoolPanelFallback string   `toml:"school_panel_fallback"`
	PopupCloseSelectors []string `toml:"popup_close_selectors"`
	ContentLinkID       string   `toml:"content_link_id"`
	ContentLinkText     string   `toml:"content_link_text"`
	ContentLinkHref     string   `toml:"content_link_href"`
	CategoryXPath       string   `toml:"category_xpath"`
	AddContentXPath     string   `toml:"add_content_xpath"`
	TitleInputID        string   `toml:"title_input_id"`
	EndDateXPath        string   `toml:"end_date_xpath"`
	EndDateValue        string   `toml:"end_date_value"`
	ContentSourceID     string   `toml:"content_source_id"`
	ContentSourceValue  string   `toml:"content_source_value"`
	DescriptionID       string   `toml:"description_id"`
	TagsID              string   `toml:"tags_id"`
	ShortContentFrameID string   `toml:"short_content_frame_id"`
	DetailContentFrame  string   `toml:"detail_content_frame_id"`
	EditorBodySelector  string   `toml:"editor_body_selector"`
	SubmitButtonID      string   `toml:"submit_button_id"`
	SuccessXPath        string   `toml:"success_xpath"`
}

// Timeouts contains step timeouts in seconds.
type Timeouts struct {
	Short            int `toml:"short"`
	Medium           int `toml:"medium"`
	Long             int `toml:"long"`
	PageLoad         int `toml:"page_load"`
	LocatorStrategy  int `toml:"locator_strategy"`
	StopGraceSeconds int `toml:"stop_grace"`
}

// Waits contains fixed settle delays in milliseconds.
type Waits struct {
	PageLoad     int `toml:"page_load_ms"`
	ElementClick int `toml:"element_click_ms"`
	PanelSwitch  int `toml:"panel_switch_ms"`
	AfterSubmit  int `toml:"after_submit_ms"`
	PausePoll    int `toml:"pause_poll_ms"`
	ItemDelayMin int `toml:"item_delay_min_ms"`
	ItemDelayMax int `toml:"item_delay_max_ms"`
}

// Retry contains click and item retry policy.
type Retry struct {
	MaxRetries        int     `toml:"max_retries"`
	ClickAttempts     int     `toml:"click_attempts"`
	ClickDelay        int     `toml:"click_delay_ms"`
	InitialDelay      int     `toml:"initial_delay_ms"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	MaxDelay          int     `toml:"max_delay_ms"`
}

// Queue contains configuration for queue persistence.
type Queue struct {
	Backend             string `toml:"backend"`
	DSN                 string `toml:"dsn"`
	BackupRetentionDays int    `toml:"backup_retention_days"`
	BackupOnStart       bool   `toml:"backup_on_start"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Run            bool   `toml:"run"`
	Confirmations  bool   `toml:"confirmations"`
	Failures       bool   `toml:"failures"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for portalpilot.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and screenshot directories plus the API bind address
//   - Browser: browser executable and launch options
//   - Portal: target site URLs and element locators
//   - Timeouts / Waits: step budgets and settle delays
//   - Retry: click retry and item retry backoff
//   - Queue: snapshot backend and backup retention
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Browser       Browser       `toml:"browser"`
	Portal        Portal        `toml:"portal"`
	Timeouts      Timeouts      `toml:"timeouts"`
	Waits         Waits         `toml:"waits"`
	Retry         Retry         `toml:"retry"`
	Queue         Queue         `toml:"queue"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/portalpilot/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("portalpilot.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ScreenshotDir, c.BackupDir()} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueFile returns the JSON snapshot location used by the file backend.
func (c *Config) QueueFile() string {
	return filepath.Join(c.Paths.DataDir, "queue.json")
}

// QueueDBPath returns the SQLite database location used by the sqlite backend.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// BackupDir returns the directory holding point-in-time queue backups.
func (c *Config) BackupDir() string {
	return filepath.Join(c.Paths.DataDir, "backups")
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.LogDir, "portalpilot.sock")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "portalpilot.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration text.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
