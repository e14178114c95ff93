// Package daemon coordinates the long-running portalpilot process.
//
// It wires configuration, the queue store, and the automation engine into a
// single lifecycle with flock-based locking to prevent multiple instances.
// On start it runs queue maintenance (backup and retention pruning), logs a
// preflight snapshot, and serves the HTTP API. Engine control calls from the
// API and the IPC server route through the Daemon so every run is bound to
// the daemon's lifetime rather than to the request that started it.
package daemon
