// Package api defines wire-format types and the queue facade shared by the
// HTTP API and the IPC server. It translates queue items and engine state
// into transport-friendly DTOs so the CLI, the TUI, and browser clients can
// render them without importing internal types.
//
// # Key Types
//
// QueueItem: transport representation of a queue entry with its payload,
// retry counters, and RFC3339 timestamps.
//
// EngineStatus: engine run state plus queue progress.
//
// DaemonStatus: aggregated runtime information for `portalpilot status`.
//
// QueueService: queue reads and operator edits returning DTOs. Both
// transports route through it so validation errors classify the same way.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Statuses are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds.
package api
