// Package main hosts the portalpilot CLI entrypoint and command graph.
//
// Commands talk to the daemon over its IPC socket. Queue commands fall back
// to opening the queue store directly when no daemon answers, so items can
// be prepared before the daemon is started. Engine control (start, pause,
// confirm, and so on) always requires a running daemon.
package main
