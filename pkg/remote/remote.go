// Package remote defines the interface to the Communitas node backend and
// provides an HTTP/SSE client implementation of it.
//
// The backend owns the distributed machinery (DHT routing, identity,
// transport encryption). The sync engine only consumes the small primitive
// set below; everything behind it is opaque.
package remote

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by SecureGet when the key has no value.
var ErrNotFound = errors.New("remote: key not found")

// ErrOffline is returned when the backend is known to be unreachable.
var ErrOffline = errors.New("remote: backend offline")

// Status is a snapshot of the node's sync state.
type Status struct {
	Connected bool       `json:"connected"`
	PeerCount int        `json:"peer_count"`
	Syncing   bool       `json:"syncing"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
}

// Backend is the primitive set the sync engine consumes. Implementations
// must be safe for concurrent use.
type Backend interface {
	// SecureGet fetches the value stored under key, or ErrNotFound.
	SecureGet(ctx context.Context, key string) ([]byte, error)

	// SecurePut durably stores data under key on the backend.
	SecurePut(ctx context.Context, key string, data []byte) error

	// SubscribeEntity registers interest in push events for an entity.
	SubscribeEntity(ctx context.Context, entityID, userID string) error

	// UnsubscribeEntity removes a previously registered interest.
	UnsubscribeEntity(ctx context.Context, entityID, userID string) error

	// SyncStatus queries the node's current connectivity snapshot.
	SyncStatus(ctx context.Context) (Status, error)

	// Events opens the push event stream. Both channels close when ctx is
	// canceled. The error channel reports stream-level failures; the stream
	// itself reconnects internally.
	Events(ctx context.Context) (<-chan PushEvent, <-chan error)
}
