package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roomsync-dev/roomsync/internal/config"
	"github.com/roomsync-dev/roomsync/internal/crdt"
	"github.com/roomsync-dev/roomsync/internal/metrics"
	"github.com/roomsync-dev/roomsync/internal/model"
	"github.com/roomsync-dev/roomsync/internal/store"
)

// errRoomEvicted tells a joining client it raced the idle sweep and
// should grab a fresh room handle from the hub.
var errRoomEvicted = errors.New("room evicted")

// Room tracks the members of one collaboration room, assigns sequence
// numbers, and keeps a bounded in-memory replay log.
type Room struct {
	name   string
	cfg    config.RoomsConfig
	logger *slog.Logger
	st     store.Store

	mu           sync.Mutex
	members      map[*Client]struct{}
	history      []model.Update
	lastSeq      int64
	lastActivity time.Time
	hydrated     bool
	evicted      bool
}

func newRoom(name string, cfg config.RoomsConfig, st store.Store, logger *slog.Logger) *Room {
	return &Room{
		name:         name,
		cfg:          cfg,
		logger:       logger,
		st:           st,
		members:      make(map[*Client]struct{}),
		lastActivity: time.Now(),
	}
}

// Join hydrates the room on first use, computes the client's backlog,
// and registers it as a member. The backlog stays contiguous with live
// broadcasts because everything happens under the room lock.
func (r *Room) Join(ctx context.Context, c *Client, since int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted {
		return errRoomEvicted
	}

	if err := r.ensureHydratedLocked(ctx); err != nil {
		return err
	}

	backlog, err := r.backlogLocked(ctx, since)
	if err != nil {
		return err
	}
	c.backlog = backlog

	r.members[c] = struct{}{}
	r.lastActivity = time.Now()
	metrics.ClientsConnected.Inc()
	return nil
}

// Leave removes a member and reports whether the room is now empty.
// Safe to call for a client that was already dropped.
func (r *Room) Leave(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[c]; ok {
		delete(r.members, c)
		metrics.ClientsConnected.Dec()
		r.lastActivity = time.Now()
	}
	return len(r.members) == 0
}

// Broadcast assigns the next sequence number to a member's update,
// records it, and fans it out to every other member. Members whose send
// buffer is full are dropped on the spot.
func (r *Room) Broadcast(sender *Client, payload []byte) model.Update {
	r.mu.Lock()

	r.lastSeq++
	u := model.Update{
		Room:       r.name,
		Seq:        r.lastSeq,
		Origin:     sender.id,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
	r.appendLocked(u)
	r.lastActivity = time.Now()

	sent := r.fanOutLocked(sender, payload)
	r.mu.Unlock()

	metrics.UpdatesBroadcast.Add(float64(sent))
	return u
}

// ApplyRemote replays an update that another relay instance produced.
// Sequence numbers at or below the local high-water mark are duplicates
// and dropped.
func (r *Room) ApplyRemote(u model.Update) {
	r.mu.Lock()

	if u.Seq <= r.lastSeq {
		r.mu.Unlock()
		return
	}
	r.lastSeq = u.Seq
	r.appendLocked(u)
	r.lastActivity = time.Now()

	sent := r.fanOutLocked(nil, u.Payload)
	r.mu.Unlock()

	metrics.UpdatesBroadcast.Add(float64(sent))
}

// Info returns a point-in-time summary of the room.
func (r *Room) Info() model.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	return model.RoomInfo{
		Room:         r.name,
		Members:      len(r.members),
		LogLen:       len(r.history),
		Seq:          r.lastSeq,
		LastActivity: r.lastActivity,
	}
}

// tryEvict marks the room evicted when it has no members and has been
// idle past the cutoff. An evicted room refuses new joins.
func (r *Room) tryEvict(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) > 0 || r.lastActivity.After(cutoff) {
		return false
	}
	r.evicted = true
	return true
}

// closeAll sends a close frame to every member and tears them down.
func (r *Room) closeAll(code int, reason string) {
	r.mu.Lock()
	members := make([]*Client, 0, len(r.members))
	for m := range r.members {
		members = append(members, m)
	}
	r.mu.Unlock()

	for _, m := range members {
		m.closeWith(code, reason)
	}
}

func (r *Room) fanOutLocked(sender *Client, payload []byte) int {
	sent := 0
	for m := range r.members {
		if m == sender {
			continue
		}
		if m.enqueue(payload) {
			sent++
			continue
		}
		delete(r.members, m)
		metrics.ClientsConnected.Dec()
		metrics.ClientsDropped.Inc()
		r.logger.Warn("slow client dropped", "room", r.name, "client", m.id)
		m.kill()
	}
	return sent
}

func (r *Room) appendLocked(u model.Update) {
	r.history = append(r.history, u)
	if len(r.history) > r.cfg.HistoryLimit {
		r.history = r.history[1:]
	}
}

// ensureHydratedLocked loads the persisted log tail on first use. Any
// updates the bridge delivered before hydration stay on top.
func (r *Room) ensureHydratedLocked(ctx context.Context) error {
	if r.hydrated {
		return nil
	}

	snapshot, snapSeq, updates, err := r.st.LoadRoom(ctx, r.name)
	if err != nil {
		return fmt.Errorf("hydrate room: %w", err)
	}

	entries := make([]model.Update, 0, len(updates))
	if snapshot != nil {
		payloads, err := crdt.DecodeSnapshot(snapshot)
		if err != nil {
			return fmt.Errorf("hydrate room: %w", err)
		}
		base := snapSeq - int64(len(payloads))
		for i, p := range payloads {
			entries = append(entries, model.Update{Room: r.name, Seq: base + int64(i) + 1, Payload: p})
		}
	}
	entries = append(entries, updates...)

	var storeLast int64
	if n := len(entries); n > 0 {
		storeLast = entries[n-1].Seq
	}
	for _, u := range r.history {
		if u.Seq > storeLast {
			entries = append(entries, u)
		}
	}

	if n := len(entries); n > 0 {
		if last := entries[n-1].Seq; last > r.lastSeq {
			r.lastSeq = last
		}
		if n > r.cfg.HistoryLimit {
			entries = entries[n-r.cfg.HistoryLimit:]
		}
	}
	r.history = entries
	r.hydrated = true
	return nil
}

// backlogLocked collects every payload after since, in order. The
// in-memory log serves most joins; clients further behind are replayed
// from the store.
func (r *Room) backlogLocked(ctx context.Context, since int64) ([][]byte, error) {
	if since >= r.lastSeq {
		return nil, nil
	}

	if len(r.history) > 0 && r.history[0].Seq <= since+1 {
		var backlog [][]byte
		for _, u := range r.history {
			if u.Seq > since {
				backlog = append(backlog, u.Payload)
			}
		}
		return backlog, nil
	}

	snapshot, snapSeq, updates, err := r.st.LoadRoom(ctx, r.name)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	var backlog [][]byte
	if snapshot != nil && since < snapSeq {
		payloads, err := crdt.DecodeSnapshot(snapshot)
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		base := snapSeq - int64(len(payloads))
		for i, p := range payloads {
			if base+int64(i)+1 > since {
				backlog = append(backlog, p)
			}
		}
	}

	storeLast := snapSeq
	for _, u := range updates {
		if u.Seq > since {
			backlog = append(backlog, u.Payload)
		}
		if u.Seq > storeLast {
			storeLast = u.Seq
		}
	}

	if len(r.history) > 0 && r.history[0].Seq > storeLast+1 {
		r.logger.Warn("replay hole between store and memory",
			"room", r.name,
			"store_seq", storeLast,
			"memory_seq", r.history[0].Seq,
		)
	}
	for _, u := range r.history {
		if u.Seq > since && u.Seq > storeLast {
			backlog = append(backlog, u.Payload)
		}
	}

	return backlog, nil
}
