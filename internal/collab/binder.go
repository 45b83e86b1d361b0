package collab

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/roomsync-dev/roomsync/internal/transport"
)

// Binding is the desired session state for one bound surface.
type Binding struct {
	// Room identifies the collaboration namespace. Empty means no
	// session should exist yet.
	Room string

	// URL is the relay endpoint to dial. Empty defers the session.
	URL string

	// Initial is an optional encoded snapshot merged into the document
	// before the transport starts syncing.
	Initial []byte
}

func (b Binding) equal(o Binding) bool {
	return b.Room == o.Room && b.URL == o.URL && bytes.Equal(b.Initial, o.Initial)
}

// Binder reconciles a Manager against a sequence of desired bindings,
// the way a mounted view would: it creates a session once a complete
// binding appears, ignores repeats of the same binding, tears down and
// rebinds when the room changes, and refuses rooms the breaker has
// disabled.
type Binder struct {
	manager *Manager
	logger  *slog.Logger

	mu      sync.Mutex
	current *Binding
	closed  bool
}

// NewBinder wraps manager. The binder does not own the manager; Close
// destroys the bound session but leaves the manager usable.
func NewBinder(manager *Manager, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Binder{
		manager: manager,
		logger:  logger.With("component", "binder"),
	}
}

// Update reconciles toward next. A repeat of the current binding is a
// no-op, as is any update that leaves the room and URL unchanged while
// a session is active. Only a room change tears the session down.
func (b *Binder) Update(ctx context.Context, next Binding) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBinderClosed
	}

	prev := b.current
	if prev != nil && prev.equal(next) {
		return nil
	}

	if prev != nil && prev.Room != "" && prev.Room != next.Room {
		b.destroyBoundLocked(prev.Room)
	}

	bound := next
	b.current = &bound

	if next.Room == "" || next.URL == "" {
		b.logger.Debug("binding incomplete, deferring session", "room", next.Room)
		return nil
	}

	if b.manager.IsDisabled(next.Room) {
		b.logger.Warn("room disabled, refusing to bind", "room", next.Room)
		return ErrRoomDisabled
	}

	if b.manager.Session() != nil {
		return nil
	}

	if _, err := b.manager.CreateSession(ctx, next.URL, next.Room, next.Initial); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Close tears down the bound session. Further updates return
// ErrBinderClosed. Safe to call more than once.
func (b *Binder) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	cur := b.current
	b.current = nil
	if cur != nil && cur.Room != "" {
		b.destroyBoundLocked(cur.Room)
	}
}

// destroyBoundLocked destroys the active session only when it belongs
// to the room this binder bound. A session someone created directly on
// the manager for another room is not the binder's to tear down.
func (b *Binder) destroyBoundLocked(room string) {
	if s := b.manager.Session(); s != nil && s.Room() == room {
		b.manager.DestroySession()
	}
}

// EndpointURL resolves the relay endpoint for room. A non-empty
// template wins, with "{room}" replaced by the escaped room. Otherwise
// the fixed sync path under base is used.
func EndpointURL(template, base, room string) string {
	if template != "" {
		return strings.ReplaceAll(template, "{room}", url.QueryEscape(room))
	}
	return strings.TrimRight(base, "/") + transport.SyncPath + "?room=" + url.QueryEscape(room)
}
