package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBrowser(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ScreenshotDir) == "" {
		c.Paths.ScreenshotDir = defaultScreenshotDir
	}
	if c.Paths.ScreenshotDir, err = expandPath(c.Paths.ScreenshotDir); err != nil {
		return fmt.Errorf("paths.screenshot_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if token, ok := os.LookupEnv("PORTALPILOT_API_TOKEN"); ok && strings.TrimSpace(c.Paths.APIToken) == "" {
		c.Paths.APIToken = strings.TrimSpace(token)
	}
	return nil
}

func (c *Config) normalizeBrowser() error {
	if value, ok := os.LookupEnv("PORTALPILOT_BROWSER_PATH"); ok && strings.TrimSpace(c.Browser.ExecPath) == "" {
		c.Browser.ExecPath = strings.TrimSpace(value)
	}
	c.Browser.ExecPath = strings.TrimSpace(c.Browser.ExecPath)
	c.Browser.RemoteURL = strings.TrimSpace(c.Browser.RemoteURL)
	if strings.TrimSpace(c.Browser.UserDataDir) != "" {
		var err error
		if c.Browser.UserDataDir, err = expandPath(c.Browser.UserDataDir); err != nil {
			return fmt.Errorf("browser.user_data_dir: %w", err)
		}
	}
	agents := c.Browser.UserAgents[:0]
	for _, agent := range c.Browser.UserAgents {
		if trimmed := strings.TrimSpace(agent); trimmed != "" {
			agents = append(agents, trimmed)
		}
	}
	c.Browser.UserAgents = agents
	if strings.TrimSpace(c.Browser.AcceptLanguage) == "" {
		c.Browser.AcceptLanguage = defaultAcceptLanguage
	}
	return nil
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = defaultQueueBackend
	}
	if dsn, ok := os.LookupEnv("PORTALPILOT_QUEUE_DSN"); ok && strings.TrimSpace(c.Queue.DSN) == "" {
		c.Queue.DSN = strings.TrimSpace(dsn)
	}
}

func (c *Config) normalizeNotifications() {
	if topic, ok := os.LookupEnv("PORTALPILOT_NTFY_TOPIC"); ok && strings.TrimSpace(c.Notifications.NtfyTopic) == "" {
		c.Notifications.NtfyTopic = strings.TrimSpace(topic)
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
