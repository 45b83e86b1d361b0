package collab

import (
	"errors"

	"github.com/roomsync-dev/roomsync/internal/breaker"
)

var (
	// ErrNoRoom is returned when a session is requested without a room.
	ErrNoRoom = errors.New("collab: room must not be empty")

	// ErrRoomDisabled is returned when the circuit breaker has taken
	// the requested room out of service.
	ErrRoomDisabled = errors.New("collab: room is disabled after repeated failures")

	// ErrBinderClosed is returned when a closed binder is updated.
	ErrBinderClosed = errors.New("collab: binder is closed")
)

// Status is the aggregated view of the active session, shaped for
// observers that only need coarse connection health.
type Status struct {
	// Connected mirrors the transport's connected signal.
	Connected bool `json:"connected"`

	// Ready latches true once the transport has synced, reported a
	// disconnected state, or failed authentication. It stays true for
	// the rest of the session's life.
	Ready bool `json:"ready"`

	// Synced is true while the relay reports the document as caught
	// up. Unlike Ready it toggles with connectivity.
	Synced bool `json:"synced"`

	// LostConnection is set on the first connected to disconnected
	// edge and stays set until ResetLostConnection.
	LostConnection bool `json:"lost_connection"`
}

// Config bundles the manager's tunables.
type Config struct {
	// Breaker controls the per-room failure accounting.
	Breaker breaker.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Breaker: breaker.DefaultConfig(),
	}
}
