package queueaccess

import (
	"context"
	"fmt"

	"leadpipe/internal/api"
	"leadpipe/internal/queue"
)

// Session represents a report access handle and its cleanup function.
type Session struct {
	Access Access
	// Remote is true when reports come from a running daemon.
	Remote bool
	close  func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenWithFallback tries the daemon API first, then falls back to direct
// store access. The client counts as reachable when its status call succeeds.
func OpenWithFallback(
	ctx context.Context,
	dial func() (*api.Client, error),
	openStore func() (*queue.Store, api.CredentialLister, error),
) (Session, error) {
	if dial != nil {
		if client, err := dial(); err == nil && client != nil {
			if _, err := client.Status(ctx); err == nil {
				return Session{Access: NewHTTPAccess(client), Remote: true}, nil
			}
		}
	}

	if openStore == nil {
		return Session{}, fmt.Errorf("open queue store: no store opener configured")
	}
	store, credentials, err := openStore()
	if err != nil {
		return Session{}, fmt.Errorf("open queue store: %w", err)
	}
	return Session{
		Access: NewStoreAccess(store, credentials),
		close:  store.Close,
	}, nil
}
