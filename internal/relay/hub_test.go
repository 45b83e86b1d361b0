package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roomsync-dev/roomsync/internal/model"
	"github.com/roomsync-dev/roomsync/internal/store"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []model.Update
}

func (p *fakePublisher) Publish(u model.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, u)
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func newTestHub(pub Publisher) (*Hub, *store.UpdateQueue) {
	queue := store.NewUpdateQueue(16)
	return NewHub(testRoomsConfig(), newFakeStore(), queue, pub, nil), queue
}

func TestHub_RoomReturnsSameInstance(t *testing.T) {
	h, _ := newTestHub(nil)

	r1 := h.Room("doc-1")
	r2 := h.Room("doc-1")
	if r1 != r2 {
		t.Error("Room() returned a second instance for the same name")
	}
	if r3 := h.Room("doc-2"); r3 == r1 {
		t.Error("Room() shared an instance across names")
	}
}

func TestHub_RoomInfos(t *testing.T) {
	h, _ := newTestHub(nil)

	h.Room("zebra")
	h.Room("alpha")

	infos := h.RoomInfos()
	if len(infos) != 2 {
		t.Fatalf("RoomInfos() = %d rooms, want 2", len(infos))
	}
	if infos[0].Room != "alpha" || infos[1].Room != "zebra" {
		t.Errorf("rooms = %s, %s; want alpha, zebra", infos[0].Room, infos[1].Room)
	}

	if _, ok := h.RoomInfo("alpha"); !ok {
		t.Error("RoomInfo(alpha) = not found")
	}
	if _, ok := h.RoomInfo("ghost"); ok {
		t.Error("RoomInfo(ghost) = found, want not found")
	}
}

func TestHub_EvictsIdleRooms(t *testing.T) {
	h, _ := newTestHub(nil)

	r := h.Room("doc-1")
	r.mu.Lock()
	r.lastActivity = time.Now().Add(-2 * h.cfg.IdleTimeout)
	r.mu.Unlock()

	h.evictIdle()

	if _, ok := h.RoomInfo("doc-1"); ok {
		t.Fatal("idle room survived the sweep")
	}

	// The next join gets a fresh, usable room.
	fresh := h.Room("doc-1")
	if fresh == r {
		t.Error("Room() returned the evicted instance")
	}
	if err := fresh.Join(context.Background(), bareClient(8), 0); err != nil {
		t.Errorf("Join on fresh room error = %v", err)
	}
}

func TestHub_EvictionSparesOccupiedRooms(t *testing.T) {
	h, _ := newTestHub(nil)

	r := h.Room("doc-1")
	if err := r.Join(context.Background(), bareClient(8), 0); err != nil {
		t.Fatalf("Join error = %v", err)
	}
	r.mu.Lock()
	r.lastActivity = time.Now().Add(-2 * h.cfg.IdleTimeout)
	r.mu.Unlock()

	h.evictIdle()

	if _, ok := h.RoomInfo("doc-1"); !ok {
		t.Error("occupied room was evicted")
	}
}

func TestHub_IngestRoutesEverywhere(t *testing.T) {
	pub := &fakePublisher{}
	h, queue := newTestHub(pub)
	ctx := context.Background()

	r := h.Room("doc-1")
	sender := bareClient(8)
	peer := bareClient(8)
	if err := r.Join(ctx, sender, 0); err != nil {
		t.Fatalf("Join(sender) error = %v", err)
	}
	if err := r.Join(ctx, peer, 0); err != nil {
		t.Fatalf("Join(peer) error = %v", err)
	}
	sender.room = r

	h.Ingest(sender, []byte("edit-1"))

	select {
	case got := <-peer.send:
		if string(got) != "edit-1" {
			t.Errorf("peer received %q, want edit-1", got)
		}
	default:
		t.Error("peer received nothing")
	}

	u, ok := queue.TryReceive()
	if !ok {
		t.Fatal("queue received nothing")
	}
	if u.Seq != 1 || u.Room != "doc-1" {
		t.Errorf("queued update = %+v, want seq 1 in doc-1", u)
	}

	if got := pub.count(); got != 1 {
		t.Errorf("published updates = %d, want 1", got)
	}
}

func TestHub_IngestSurvivesClosedQueue(t *testing.T) {
	h, queue := newTestHub(nil)
	ctx := context.Background()

	r := h.Room("doc-1")
	sender := bareClient(8)
	peer := bareClient(8)
	if err := r.Join(ctx, sender, 0); err != nil {
		t.Fatalf("Join(sender) error = %v", err)
	}
	if err := r.Join(ctx, peer, 0); err != nil {
		t.Fatalf("Join(peer) error = %v", err)
	}
	sender.room = r

	// A closed queue loses the write but the room still syncs.
	queue.Close()
	h.Ingest(sender, []byte("edit-1"))

	select {
	case got := <-peer.send:
		if string(got) != "edit-1" {
			t.Errorf("peer received %q, want edit-1", got)
		}
	default:
		t.Error("peer received nothing")
	}
}

func TestHub_DeliverAppliesToActiveRoom(t *testing.T) {
	h, queue := newTestHub(nil)

	r := h.Room("doc-1")
	member := bareClient(8)
	if err := r.Join(context.Background(), member, 0); err != nil {
		t.Fatalf("Join error = %v", err)
	}

	h.Deliver(upd("doc-1", 1, "remote-edit"))

	select {
	case got := <-member.send:
		if string(got) != "remote-edit" {
			t.Errorf("member received %q, want remote-edit", got)
		}
	default:
		t.Fatal("member received nothing")
	}
	if got := r.Info().Seq; got != 1 {
		t.Errorf("Seq = %d, want 1", got)
	}

	// Bridged updates are persisted by their producer, not re-queued here.
	if _, ok := queue.TryReceive(); ok {
		t.Error("bridged update was queued for the writer")
	}
}

func TestHub_DeliverIgnoresInactiveRooms(t *testing.T) {
	h, _ := newTestHub(nil)

	h.Deliver(upd("ghost", 1, "x"))

	if _, ok := h.RoomInfo("ghost"); ok {
		t.Error("Deliver created a room")
	}
}

func TestHub_ClientCount(t *testing.T) {
	h, _ := newTestHub(nil)
	ctx := context.Background()

	if got := h.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() = %d, want 0", got)
	}

	r1 := h.Room("doc-1")
	r2 := h.Room("doc-2")
	for _, r := range []*Room{r1, r1, r2} {
		if err := r.Join(ctx, bareClient(8), 0); err != nil {
			t.Fatalf("Join error = %v", err)
		}
	}

	if got := h.ClientCount(); got != 3 {
		t.Errorf("ClientCount() = %d, want 3", got)
	}
}
