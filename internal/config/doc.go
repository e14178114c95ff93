// Package config loads, normalizes, and validates portalpilot configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// PORTALPILOT_BROWSER_PATH and PORTALPILOT_NTFY_TOPIC. The Config type
// centralizes the portal selectors, browser launch options, timing budgets,
// and queue backend so the daemon and CLI discover them in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
