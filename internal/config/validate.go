package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBrowser(); err != nil {
		return err
	}
	if err := c.validatePortal(); err != nil {
		return err
	}
	if err := c.validateTiming(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateBrowser() error {
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return errors.New("browser.window_width and browser.window_height must be positive")
	}
	return nil
}

func (c *Config) validatePortal() error {
	required := map[string]string{
		"portal.entry_url":        c.Portal.EntryURL,
		"portal.title_input_id":   c.Portal.TitleInputID,
		"portal.submit_button_id": c.Portal.SubmitButtonID,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	return nil
}

func (c *Config) validateTiming() error {
	if err := ensurePositiveMap(map[string]int{
		"timeouts.short":            c.Timeouts.Short,
		"timeouts.medium":           c.Timeouts.Medium,
		"timeouts.long":             c.Timeouts.Long,
		"timeouts.page_load":        c.Timeouts.PageLoad,
		"timeouts.locator_strategy": c.Timeouts.LocatorStrategy,
		"waits.pause_poll_ms":       c.Waits.PausePoll,
	}); err != nil {
		return err
	}
	if c.Waits.ItemDelayMin < 0 || c.Waits.ItemDelayMax < c.Waits.ItemDelayMin {
		return errors.New("waits.item_delay_min_ms must be >= 0 and <= waits.item_delay_max_ms")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if err := ensurePositiveMap(map[string]int{
		"retry.max_retries":    c.Retry.MaxRetries,
		"retry.click_attempts": c.Retry.ClickAttempts,
	}); err != nil {
		return err
	}
	if c.Retry.ClickDelay < 0 || c.Retry.InitialDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if c.Retry.BackoffMultiplier < 1 {
		return errors.New("retry.backoff_multiplier must be >= 1")
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case "json", "sqlite":
	case "mysql":
		if strings.TrimSpace(c.Queue.DSN) == "" {
			return errors.New("queue.dsn must be set when queue.backend is mysql")
		}
	default:
		return fmt.Errorf("queue.backend: unsupported value %q (want json, sqlite, or mysql)", c.Queue.Backend)
	}
	if c.Queue.BackupRetentionDays < 0 {
		return errors.New("queue.backup_retention_days must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
