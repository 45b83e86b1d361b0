package store

import (
	"sync"
	"testing"
	"time"

	"github.com/roomsync-dev/roomsync/internal/model"
)

func upd(seq int) model.Update {
	return model.Update{Room: "room-1", Seq: int64(seq)}
}

func TestUpdateQueue_BasicSendReceive(t *testing.T) {
	q := NewUpdateQueue(10)

	for i := 0; i < 5; i++ {
		if !q.Send(upd(i)) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		u, ok := q.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() returned false for item %d", i)
		}
		if u.Seq != int64(i) {
			t.Errorf("received seq %d, want %d", u.Seq, i)
		}
	}

	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestUpdateQueue_GrowAt70Percent(t *testing.T) {
	q := NewUpdateQueue(10)

	// 7 items is 70% of 10
	for i := 0; i < 7; i++ {
		q.Send(upd(i))
	}

	stats := q.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.Resizes != 1 {
		t.Errorf("Resizes = %d, want 1", stats.Resizes)
	}

	for i := 0; i < 7; i++ {
		u, ok := q.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() returned false for item %d", i)
		}
		if u.Seq != int64(i) {
			t.Errorf("received seq %d, want %d", u.Seq, i)
		}
	}
}

func TestUpdateQueue_MultipleGrows(t *testing.T) {
	q := NewUpdateQueue(4)

	for i := 0; i < 100; i++ {
		if !q.Send(upd(i)) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	stats := q.Stats()
	if stats.Depth != 100 {
		t.Errorf("Depth = %d, want 100", stats.Depth)
	}
	if stats.Resizes < 3 {
		t.Errorf("Resizes = %d, expected at least 3", stats.Resizes)
	}

	for i := 0; i < 100; i++ {
		u, ok := q.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() returned false for item %d", i)
		}
		if u.Seq != int64(i) {
			t.Errorf("received seq %d, want %d", u.Seq, i)
		}
	}
}

func TestUpdateQueue_BlockingReceive(t *testing.T) {
	q := NewUpdateQueue(10)

	received := make(chan model.Update, 1)

	go func() {
		u, ok := q.Receive()
		if ok {
			received <- u
		}
	}()

	// Give the receiver time to start waiting
	time.Sleep(10 * time.Millisecond)

	q.Send(upd(42))

	select {
	case u := <-received:
		if u.Seq != 42 {
			t.Errorf("received seq %d, want 42", u.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked receive")
	}
}

func TestUpdateQueue_Close(t *testing.T) {
	q := NewUpdateQueue(10)

	q.Send(upd(1))
	q.Send(upd(2))

	q.Close()

	if q.Send(upd(3)) {
		t.Error("Send should return false after Close")
	}

	// Remaining entries still drain
	u, ok := q.TryReceive()
	if !ok || u.Seq != 1 {
		t.Errorf("TryReceive() = %d, %v; want 1, true", u.Seq, ok)
	}

	u, ok = q.TryReceive()
	if !ok || u.Seq != 2 {
		t.Errorf("TryReceive() = %d, %v; want 2, true", u.Seq, ok)
	}

	_, ok = q.TryReceive()
	if ok {
		t.Error("TryReceive should return false when empty and closed")
	}
}

func TestUpdateQueue_CloseUnblocksReceive(t *testing.T) {
	q := NewUpdateQueue(10)

	done := make(chan bool, 1)

	go func() {
		_, ok := q.Receive()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)

	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Receive should return false when closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Receive")
	}
}

func TestUpdateQueue_DrainTo(t *testing.T) {
	q := NewUpdateQueue(10)

	for i := 0; i < 10; i++ {
		q.Send(upd(i))
	}

	items := q.DrainTo(5)
	if len(items) != 5 {
		t.Errorf("DrainTo(5) returned %d items, want 5", len(items))
	}
	for i, u := range items {
		if u.Seq != int64(i) {
			t.Errorf("items[%d].Seq = %d, want %d", i, u.Seq, i)
		}
	}

	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	// Zero drains everything left
	items = q.DrainTo(0)
	if len(items) != 5 {
		t.Errorf("DrainTo(0) returned %d items, want 5", len(items))
	}

	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestUpdateQueue_ConcurrentSendReceive(t *testing.T) {
	q := NewUpdateQueue(10)
	const numItems = 1000

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			q.Send(upd(i))
		}
	}()

	received := make([]model.Update, 0, numItems)
	var mu sync.Mutex

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			u, ok := q.Receive()
			if ok {
				mu.Lock()
				received = append(received, u)
				mu.Unlock()
			}
		}
	}()

	wg.Wait()

	if len(received) != numItems {
		t.Errorf("received %d items, want %d", len(received), numItems)
	}

	seen := make(map[int64]bool)
	for _, u := range received {
		seen[u.Seq] = true
	}
	for i := 0; i < numItems; i++ {
		if !seen[int64(i)] {
			t.Errorf("missing item %d", i)
		}
	}
}

func TestUpdateQueue_WrapAround(t *testing.T) {
	q := NewUpdateQueue(10)

	// Fill to just under the growth threshold, then drain the front so
	// the read position sits mid-ring.
	for i := 1; i <= 6; i++ {
		q.Send(upd(i))
	}
	for i := 0; i < 4; i++ {
		q.TryReceive()
	}

	// The next writes wrap past the end of the ring, and the last one
	// grows the queue while wrapped.
	for i := 7; i <= 11; i++ {
		q.Send(upd(i))
	}

	expected := []int64{5, 6, 7, 8, 9, 10, 11}
	for _, want := range expected {
		u, ok := q.TryReceive()
		if !ok {
			t.Fatalf("TryReceive failed, expected seq %d", want)
		}
		if u.Seq != want {
			t.Errorf("got seq %d, want %d", u.Seq, want)
		}
	}
	if _, ok := q.TryReceive(); ok {
		t.Error("queue should be empty after draining")
	}
}

func TestUpdateQueue_Stats(t *testing.T) {
	q := NewUpdateQueue(10)

	stats := q.Stats()
	if stats.Depth != 0 || stats.Capacity != 10 || stats.Enqueued != 0 || stats.Dequeued != 0 {
		t.Errorf("initial stats incorrect: %+v", stats)
	}

	q.Send(upd(1))
	q.Send(upd(2))
	q.Send(upd(3))

	stats = q.Stats()
	if stats.Depth != 3 || stats.Enqueued != 3 {
		t.Errorf("stats after sends: %+v", stats)
	}

	q.TryReceive()
	q.TryReceive()

	stats = q.Stats()
	if stats.Depth != 1 || stats.Dequeued != 2 {
		t.Errorf("stats after receives: %+v", stats)
	}
}

func TestNewUpdateQueue_MinCapacity(t *testing.T) {
	q := NewUpdateQueue(0)
	if q.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1 for initial capacity 0", q.Cap())
	}

	q = NewUpdateQueue(-5)
	if q.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1 for negative initial capacity", q.Cap())
	}
}
