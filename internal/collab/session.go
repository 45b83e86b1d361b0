package collab

import (
	"sync"

	"github.com/google/uuid"

	"github.com/roomsync-dev/roomsync/internal/crdt"
	"github.com/roomsync-dev/roomsync/internal/transport"
)

// Session owns the live resources for one room: the shared document
// and the transport handle that keeps it in sync with the relay.
type Session struct {
	id   uuid.UUID
	room string

	doc    *crdt.Document
	handle transport.Handle

	destroyOnce sync.Once
}

func newSession(room string, doc *crdt.Document, handle transport.Handle) *Session {
	return &Session{
		id:     uuid.New(),
		room:   room,
		doc:    doc,
		handle: handle,
	}
}

// ID identifies this session instance. A replaced session's late
// events carry a different ID and are dropped by the manager.
func (s *Session) ID() uuid.UUID { return s.id }

// Room returns the room this session is bound to.
func (s *Session) Room() string { return s.room }

// Document returns the session's shared document.
func (s *Session) Document() *crdt.Document { return s.doc }

// Handle exposes the raw transport handle for callers that need it.
func (s *Session) Handle() transport.Handle { return s.handle }

// Destroy releases the transport and the document. Safe to call any
// number of times, including from inside an event handler.
func (s *Session) Destroy() {
	s.destroyOnce.Do(func() {
		s.handle.Destroy()
		s.doc.Close()
	})
}
