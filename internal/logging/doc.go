// Package logging assembles structured slog loggers and formatting helpers used
// across portalpilot.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so engine code tags log lines with queue
// item IDs, pipeline steps, and correlation IDs. A StreamHub keeps recent
// events in memory for the HTTP log endpoint, and a no-op logger serves tests
// and wiring code that cannot fail.
package logging
