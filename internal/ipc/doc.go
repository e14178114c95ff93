// Package ipc exposes daemon control to the CLI over JSON-RPC on a Unix
// domain socket. The service covers engine control (start, stop, pause,
// resume, skip, confirm), status, and queue inspection and edits. Requests
// and responses reuse the api DTOs so the CLI renders the same shapes the
// HTTP API serves.
package ipc
