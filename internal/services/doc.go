// Package services defines shared utilities consumed by the automation engine,
// the queue store, and the daemon surfaces.
//
// Key responsibilities:
//   - Context helpers that stamp queue item IDs, step numbers, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (declined, stopped, not found, timeout) without string matching.
package services
