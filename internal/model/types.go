package model

import (
	"time"

	"github.com/google/uuid"
)

// Update is one encoded document update, in flight or at rest.
type Update struct {
	Room       string    // Room the update belongs to
	Seq        int64     // Per-room sequence number (0 until assigned by the relay)
	Origin     uuid.UUID // Session or client that produced the update
	Payload    []byte    // Opaque encoded update bytes
	ReceivedAt time.Time // When the relay received the update
}

// RoomInfo is a point-in-time summary of one relay room.
type RoomInfo struct {
	Room         string    // Room name
	Members      int       // Connected clients
	LogLen       int       // Updates held in the replay log
	Seq          int64     // Highest sequence number assigned
	LastActivity time.Time // Last join, leave, or broadcast
}
