package transport

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNoURL      = errors.New("transport: empty url")
	ErrNoDocument = errors.New("transport: nil document")
)

// SyncPath is the relay's websocket sync endpoint. Clients append the
// room query parameter.
const SyncPath = "/v1/sync"

// Close codes the connection manager keys on.
const (
	CloseNormal     = websocket.CloseNormalClosure    // 1000: clean close, e.g. server-initiated reset
	CloseNoStatus   = websocket.CloseNoStatusReceived // 1005: abnormal close without a status frame
	CloseAuthFailed = 4401                            // relay rejected the presented token
)

// EventType identifies a transport lifecycle event.
type EventType int

const (
	EventConnect EventType = iota
	EventDisconnect
	EventStatusChange
	EventSynced
	EventAuthFailed
	EventClose
)

// String returns the event type name for logging.
func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventStatusChange:
		return "status"
	case EventSynced:
		return "synced"
	case EventAuthFailed:
		return "auth_failed"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// ConnState is the coarse connection state carried by status events.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnected
)

// String returns the state name for logging.
func (s ConnState) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Event is one transport lifecycle notification. Events for a handle
// arrive in emission order on a single channel.
type Event struct {
	Type   EventType
	Status ConnState // For EventStatusChange
	Synced bool      // For EventSynced
	Code   int       // For EventClose
	Reason string    // For EventClose and EventAuthFailed
}

// Control message types on the sync protocol. Binary frames carry encoded
// document updates; text frames carry JSON control messages.
const (
	ControlSynced     = "synced"
	ControlAuthFailed = "auth_failed"
)

// ControlMessage is one JSON text frame.
type ControlMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Config configures the websocket sync provider.
type Config struct {
	Token             string        // Bearer token presented to the relay (empty = none)
	HandshakeTimeout  time.Duration // Dial timeout
	WriteTimeout      time.Duration // Write deadline for sends
	PingInterval      time.Duration // Keepalive ping cadence
	PingTimeout       time.Duration // Max silence before the connection is stale
	ReconnectBaseWait time.Duration // Base wait between reconnection attempts
	ReconnectMaxWait  time.Duration // Cap on the reconnection wait
	EventBufferSize   int           // Event channel buffer size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		PingInterval:      30 * time.Second,
		PingTimeout:       60 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		EventBufferSize:   64,
	}
}
