package queueaccess

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"portalpilot/internal/ipc"
	"portalpilot/internal/queue"
)

// Session represents a queue access handle and its cleanup function.
type Session struct {
	Access  Access
	Offline bool
	close   func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// DaemonAbsent reports whether a dial error means nothing is listening on the
// socket, as opposed to a daemon that is up but misbehaving.
func DaemonAbsent(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED)
}

// OpenWithFallback tries IPC-backed access first, then falls back to direct
// store access when no daemon is listening. Other dial errors are returned.
func OpenWithFallback(
	dial func() (*ipc.Client, error),
	openStore func() (*queue.Store, error),
) (Session, error) {
	if dial != nil {
		client, err := dial()
		if err == nil {
			return Session{
				Access: NewIPCAccess(client),
				close:  client.Close,
			}, nil
		}
		if !DaemonAbsent(err) {
			return Session{}, err
		}
	}

	if openStore == nil {
		return Session{}, fmt.Errorf("open queue store: no store opener configured")
	}
	store, err := openStore()
	if err != nil {
		return Session{}, fmt.Errorf("open queue store: %w", err)
	}
	return Session{
		Access:  NewStoreAccess(store),
		Offline: true,
		close:   store.Close,
	}, nil
}
