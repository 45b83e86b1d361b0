package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roomsync-dev/roomsync/internal/model"
)

// bareClient builds a member without a connection. Good enough for any
// path that stops at the send channel.
func bareClient(buffer int) *Client {
	return &Client{
		id:     uuid.New(),
		logger: slog.Default(),
		cfg:    testRoomsConfig(),
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// wsPair returns both ends of a live websocket connection. The server
// side is handed to members whose teardown path touches the socket.
func wsPair(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()

	serverCh := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverCh <- conn
	}))
	t.Cleanup(ts.Close)

	cc, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sc := <-serverCh
	t.Cleanup(func() {
		cc.Close()
		sc.Close()
	})
	return cc, sc
}

func TestRoom_BroadcastAssignsSequence(t *testing.T) {
	r := newRoom("doc-1", testRoomsConfig(), newFakeStore(), slog.Default())
	ctx := context.Background()

	a := bareClient(8)
	b := bareClient(8)
	if err := r.Join(ctx, a, 0); err != nil {
		t.Fatalf("Join(a) error = %v", err)
	}
	if err := r.Join(ctx, b, 0); err != nil {
		t.Fatalf("Join(b) error = %v", err)
	}

	u := r.Broadcast(a, []byte("edit-1"))
	if u.Seq != 1 {
		t.Errorf("Seq = %d, want 1", u.Seq)
	}
	if u.Room != "doc-1" {
		t.Errorf("Room = %q, want doc-1", u.Room)
	}
	if u.Origin != a.id {
		t.Errorf("Origin = %v, want %v", u.Origin, a.id)
	}

	select {
	case got := <-b.send:
		if string(got) != "edit-1" {
			t.Errorf("b received %q, want edit-1", got)
		}
	default:
		t.Fatal("b received nothing")
	}
	select {
	case <-a.send:
		t.Error("sender received its own update")
	default:
	}

	if u = r.Broadcast(b, []byte("edit-2")); u.Seq != 2 {
		t.Errorf("second Seq = %d, want 2", u.Seq)
	}
}

func TestRoom_ApplyRemoteDropsDuplicates(t *testing.T) {
	r := newRoom("doc-1", testRoomsConfig(), newFakeStore(), slog.Default())
	member := bareClient(8)
	if err := r.Join(context.Background(), member, 0); err != nil {
		t.Fatalf("Join error = %v", err)
	}

	r.ApplyRemote(upd("doc-1", 5, "e5"))
	r.ApplyRemote(upd("doc-1", 5, "e5"))
	r.ApplyRemote(upd("doc-1", 4, "e4"))
	r.ApplyRemote(upd("doc-1", 6, "e6"))

	info := r.Info()
	if info.Seq != 6 {
		t.Errorf("Seq = %d, want 6", info.Seq)
	}
	if info.LogLen != 2 {
		t.Errorf("LogLen = %d, want 2", info.LogLen)
	}
	if got := len(member.send); got != 2 {
		t.Errorf("member received %d updates, want 2", got)
	}
}

func TestRoom_HistoryBounded(t *testing.T) {
	cfg := testRoomsConfig()
	cfg.HistoryLimit = 3
	r := newRoom("doc-1", cfg, newFakeStore(), slog.Default())

	sender := bareClient(8)
	if err := r.Join(context.Background(), sender, 0); err != nil {
		t.Fatalf("Join error = %v", err)
	}
	for i := 0; i < 5; i++ {
		r.Broadcast(sender, []byte{byte(i)})
	}

	if got := r.Info().LogLen; got != 3 {
		t.Errorf("LogLen = %d, want 3", got)
	}
	if first := r.history[0].Seq; first != 3 {
		t.Errorf("oldest retained seq = %d, want 3", first)
	}
}

func TestRoom_DropsSlowMember(t *testing.T) {
	r := newRoom("doc-1", testRoomsConfig(), newFakeStore(), slog.Default())
	ctx := context.Background()

	sender := bareClient(8)
	peer, sc := wsPair(t)
	slow := bareClient(1)
	slow.conn = sc

	if err := r.Join(ctx, sender, 0); err != nil {
		t.Fatalf("Join(sender) error = %v", err)
	}
	if err := r.Join(ctx, slow, 0); err != nil {
		t.Fatalf("Join(slow) error = %v", err)
	}

	// Nothing drains slow.send, so the second update overflows it.
	r.Broadcast(sender, []byte("u1"))
	if got := r.Info().Members; got != 2 {
		t.Fatalf("Members after first update = %d, want 2", got)
	}
	r.Broadcast(sender, []byte("u2"))
	if got := r.Info().Members; got != 1 {
		t.Fatalf("Members after overflow = %d, want 1", got)
	}

	// The dropped member's socket is torn down.
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := peer.ReadMessage()
	if err == nil {
		t.Fatal("slow member socket still delivering frames")
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Error("slow member socket was not closed")
	}
}

func TestRoom_LeaveIsIdempotent(t *testing.T) {
	r := newRoom("doc-1", testRoomsConfig(), newFakeStore(), slog.Default())
	c := bareClient(8)
	if err := r.Join(context.Background(), c, 0); err != nil {
		t.Fatalf("Join error = %v", err)
	}

	if empty := r.Leave(c); !empty {
		t.Error("Leave() = false, want true for last member")
	}
	if empty := r.Leave(c); !empty {
		t.Error("repeat Leave() = false, want true")
	}
	if got := r.Info().Members; got != 0 {
		t.Errorf("Members = %d, want 0", got)
	}
}

func TestRoom_EvictedRefusesJoin(t *testing.T) {
	r := newRoom("doc-1", testRoomsConfig(), newFakeStore(), slog.Default())

	if !r.tryEvict(time.Now().Add(time.Hour)) {
		t.Fatal("tryEvict() = false for an empty idle room")
	}
	err := r.Join(context.Background(), bareClient(8), 0)
	if !errors.Is(err, errRoomEvicted) {
		t.Errorf("Join error = %v, want errRoomEvicted", err)
	}
}

func TestRoom_TryEvictSparesActiveRooms(t *testing.T) {
	r := newRoom("doc-1", testRoomsConfig(), newFakeStore(), slog.Default())
	c := bareClient(8)
	if err := r.Join(context.Background(), c, 0); err != nil {
		t.Fatalf("Join error = %v", err)
	}

	if r.tryEvict(time.Now().Add(time.Hour)) {
		t.Error("tryEvict() = true for a room with members")
	}

	r.Leave(c)
	if r.tryEvict(time.Now().Add(-time.Hour)) {
		t.Error("tryEvict() = true for a recently active room")
	}
}

func TestRoom_HydratesFromStore(t *testing.T) {
	fs := newFakeStore()
	fs.seed("doc-1", upd("doc-1", 1, "one"), upd("doc-1", 2, "two"))
	r := newRoom("doc-1", testRoomsConfig(), fs, slog.Default())

	c := bareClient(8)
	if err := r.Join(context.Background(), c, 0); err != nil {
		t.Fatalf("Join error = %v", err)
	}

	if got := r.Info().Seq; got != 2 {
		t.Errorf("Seq = %d, want 2", got)
	}
	if len(c.backlog) != 2 {
		t.Fatalf("backlog = %d payloads, want 2", len(c.backlog))
	}
	if string(c.backlog[0]) != "one" || string(c.backlog[1]) != "two" {
		t.Errorf("backlog = %q, %q; want one, two", c.backlog[0], c.backlog[1])
	}

	// A broadcast continues the persisted sequence.
	if u := r.Broadcast(c, []byte("three")); u.Seq != 3 {
		t.Errorf("next Seq = %d, want 3", u.Seq)
	}
}

func TestRoom_HydrationKeepsBridgedUpdates(t *testing.T) {
	fs := newFakeStore()
	fs.seed("doc-1",
		upd("doc-1", 1, "one"), upd("doc-1", 2, "two"),
		upd("doc-1", 3, "three"), upd("doc-1", 4, "four"),
	)
	r := newRoom("doc-1", testRoomsConfig(), fs, slog.Default())

	// A bridged update lands before anyone joins locally.
	r.ApplyRemote(upd("doc-1", 5, "five"))

	c := bareClient(8)
	if err := r.Join(context.Background(), c, 0); err != nil {
		t.Fatalf("Join error = %v", err)
	}

	if got := r.Info().Seq; got != 5 {
		t.Errorf("Seq = %d, want 5", got)
	}
	if len(c.backlog) != 5 {
		t.Fatalf("backlog = %d payloads, want 5", len(c.backlog))
	}
	if string(c.backlog[4]) != "five" {
		t.Errorf("last backlog payload = %q, want five", c.backlog[4])
	}
}

func TestRoom_DeepReplayReadsStore(t *testing.T) {
	cfg := testRoomsConfig()
	cfg.HistoryLimit = 2
	fs := newFakeStore()
	fs.seed("doc-1",
		upd("doc-1", 1, "one"), upd("doc-1", 2, "two"),
		upd("doc-1", 3, "three"), upd("doc-1", 4, "four"),
	)
	r := newRoom("doc-1", cfg, fs, slog.Default())
	ctx := context.Background()

	// An up-to-date member hydrates the room; memory keeps only the tail.
	current := bareClient(8)
	if err := r.Join(ctx, current, 4); err != nil {
		t.Fatalf("Join(current) error = %v", err)
	}
	if len(current.backlog) != 0 {
		t.Errorf("current backlog = %d payloads, want 0", len(current.backlog))
	}
	if got := r.Info().LogLen; got != 2 {
		t.Fatalf("LogLen = %d, want 2", got)
	}

	// A member further behind than the memory log replays from the store.
	late := bareClient(8)
	if err := r.Join(ctx, late, 0); err != nil {
		t.Fatalf("Join(late) error = %v", err)
	}
	if len(late.backlog) != 4 {
		t.Fatalf("late backlog = %d payloads, want 4", len(late.backlog))
	}
	for i, want := range []string{"one", "two", "three", "four"} {
		if got := string(late.backlog[i]); got != want {
			t.Errorf("backlog[%d] = %q, want %q", i, got, want)
		}
	}
}

func TestRoom_JoinSurfacesStoreErrors(t *testing.T) {
	fs := newFakeStore()
	fs.loadErr = errors.New("db down")
	r := newRoom("doc-1", testRoomsConfig(), fs, slog.Default())

	if err := r.Join(context.Background(), bareClient(8), 0); err == nil {
		t.Fatal("Join error = nil, want hydration failure")
	}
	if got := r.Info().Members; got != 0 {
		t.Errorf("Members = %d, want 0 after failed join", got)
	}
}

func TestRoom_InfoSnapshot(t *testing.T) {
	r := newRoom("doc-1", testRoomsConfig(), newFakeStore(), slog.Default())
	c := bareClient(8)
	if err := r.Join(context.Background(), c, 0); err != nil {
		t.Fatalf("Join error = %v", err)
	}
	r.Broadcast(c, []byte("x"))

	info := r.Info()
	want := model.RoomInfo{Room: "doc-1", Members: 1, LogLen: 1, Seq: 1, LastActivity: info.LastActivity}
	if info != want {
		t.Errorf("Info() = %+v, want %+v", info, want)
	}
	if info.LastActivity.IsZero() {
		t.Error("LastActivity is zero")
	}
}
