// Package queueaccess gives CLI commands one queue interface whether the
// daemon is running or not. With a daemon the calls go over IPC; without
// one the queue store is opened directly.
package queueaccess
