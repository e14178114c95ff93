package main

import (
	"context"

	"portalpilot/internal/ipc"
	"portalpilot/internal/queue"
	"portalpilot/internal/queueaccess"
)

// withQueue runs fn against the daemon when it answers, otherwise against
// the queue store opened directly.
func (c *commandContext) withQueue(ctx context.Context, fn func(queueaccess.Access) error) error {
	socket := c.socketPath()
	session, err := queueaccess.OpenWithFallback(
		func() (*ipc.Client, error) {
			client, err := ipc.Dial(socket)
			if err != nil && !queueaccess.DaemonAbsent(err) {
				return nil, wrapDialError(err, socket)
			}
			return client, err
		},
		func() (*queue.Store, error) {
			cfg, err := c.ensureConfig()
			if err != nil {
				return nil, err
			}
			return queue.Open(ctx, cfg, nil)
		},
	)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session.Access)
}
