package relay

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomsync-dev/roomsync/internal/config"
	"github.com/roomsync-dev/roomsync/internal/metrics"
	"github.com/roomsync-dev/roomsync/internal/model"
	"github.com/roomsync-dev/roomsync/internal/store"
)

// Publisher fans locally produced updates out to other relay instances.
type Publisher interface {
	Publish(u model.Update)
}

// Hub owns the room registry and routes updates between clients, the
// persistence queue, and the cross-instance bridge.
type Hub struct {
	cfg    config.RoomsConfig
	logger *slog.Logger
	st     store.Store
	queue  *store.UpdateQueue
	pub    Publisher

	mu    sync.Mutex
	rooms map[string]*Room

	// Lifecycle
	ticker *time.Ticker
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a Hub. pub may be nil when no bridge is configured.
func NewHub(cfg config.RoomsConfig, st store.Store, queue *store.UpdateQueue, pub Publisher, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:    cfg,
		logger: logger.With("component", "hub"),
		st:     st,
		queue:  queue,
		pub:    pub,
		rooms:  make(map[string]*Room),
	}
}

// Start launches the idle room sweep.
func (h *Hub) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	sweep := h.cfg.IdleTimeout / 4
	if sweep < time.Second {
		sweep = time.Second
	}
	h.ticker = time.NewTicker(sweep)

	h.wg.Add(1)
	go h.run()

	h.logger.Info("hub started", "idle_timeout", h.cfg.IdleTimeout)
	return nil
}

// Stop halts the sweep and closes every client with a normal close
// frame, which tells them the server initiated the reset.
func (h *Hub) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.ticker != nil {
		h.ticker.Stop()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("hub stop timed out")
	}

	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.closeAll(websocket.CloseNormalClosure, "server shutdown")
	}
	metrics.RoomsActive.Set(0)

	h.logger.Info("hub stopped", "rooms_closed", len(rooms))
	return nil
}

// Room returns the named room, creating it on first use.
func (h *Hub) Room(name string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[name]
	if !ok {
		r = newRoom(name, h.cfg, h.st, h.logger)
		h.rooms[name] = r
		metrics.RoomsActive.Set(float64(len(h.rooms)))
	}
	return r
}

// RoomInfo returns the summary for an active room.
func (h *Hub) RoomInfo(name string) (model.RoomInfo, bool) {
	h.mu.Lock()
	r, ok := h.rooms[name]
	h.mu.Unlock()

	if !ok {
		return model.RoomInfo{}, false
	}
	return r.Info(), true
}

// RoomInfos lists every active room, sorted by name.
func (h *Hub) RoomInfos() []model.RoomInfo {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	infos := make([]model.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Room < infos[j].Room })
	return infos
}

// ClientCount returns the number of connected clients across all rooms.
func (h *Hub) ClientCount() int {
	total := 0
	for _, info := range h.RoomInfos() {
		total += info.Members
	}
	return total
}

// Ingest handles one update read from a member: broadcast to the room,
// enqueue for the writer, and publish to the bridge.
func (h *Hub) Ingest(c *Client, payload []byte) {
	u := c.room.Broadcast(c, payload)
	metrics.UpdatesReceived.WithLabelValues("client").Inc()

	if !h.queue.Send(u) {
		metrics.QueueDropped.Inc()
	}
	if h.pub != nil {
		h.pub.Publish(u)
	}
}

// Deliver applies an update received from the bridge to the local room,
// if it is active here. Bridged updates are persisted by the instance
// that produced them, so they skip the write queue.
func (h *Hub) Deliver(u model.Update) {
	h.mu.Lock()
	r := h.rooms[u.Room]
	h.mu.Unlock()

	if r == nil {
		return
	}
	metrics.UpdatesReceived.WithLabelValues("bridge").Inc()
	r.ApplyRemote(u)
}

func (h *Hub) run() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.ticker.C:
			h.evictIdle()
		}
	}
}

// evictIdle drops rooms that have been empty past the idle timeout.
func (h *Hub) evictIdle() {
	cutoff := time.Now().Add(-h.cfg.IdleTimeout)

	h.mu.Lock()
	defer h.mu.Unlock()

	for name, r := range h.rooms {
		if r.tryEvict(cutoff) {
			delete(h.rooms, name)
			h.logger.Info("idle room evicted", "room", name)
		}
	}
	metrics.RoomsActive.Set(float64(len(h.rooms)))
}
