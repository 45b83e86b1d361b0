package transport

import (
	"context"

	"github.com/roomsync-dev/roomsync/internal/crdt"
)

// Opener opens sync connections. The connection manager receives an
// Opener at construction so tests can substitute a fake transport.
type Opener interface {
	// Open starts a sync connection for one room bound to one document.
	// The returned handle owns its connection lifecycle, including retry.
	Open(ctx context.Context, url, room string, doc *crdt.Document) (Handle, error)
}

// Handle is one live sync connection.
type Handle interface {
	// Events returns the ordered lifecycle event stream. The channel
	// closes once the handle stops for good: after Destroy, after
	// Disconnect, or after an auth rejection ends retrying.
	Events() <-chan Event

	// Disconnect closes the current connection and stops automatic
	// retry. Fire-and-forget; calling Destroy afterwards is safe.
	Disconnect()

	// Destroy tears the handle down. Idempotent; never blocks on the
	// event consumer.
	Destroy()
}
