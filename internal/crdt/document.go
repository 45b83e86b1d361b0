package crdt

import (
	"sync"
)

// WatchBufferSize is the capacity of each watcher channel.
const WatchBufferSize = 64

// Update is one document change delivered to watchers.
type Update struct {
	Payload []byte // Encoded update bytes
	Remote  bool   // True when the update came from the transport
}

// Document is an append-only log of encoded collaboration updates.
// Safe for concurrent use.
type Document struct {
	id string

	mu       sync.RWMutex
	log      [][]byte
	remote   int
	watchers map[chan Update]struct{}
	closed   bool
}

// New creates an empty document.
func New(id string) *Document {
	return &Document{
		id:       id,
		watchers: make(map[chan Update]struct{}),
	}
}

// ID returns the document identifier.
func (d *Document) ID() string {
	return d.id
}

// ApplyRemote appends an update received from the transport.
func (d *Document) ApplyRemote(payload []byte) {
	d.apply(payload, true)
}

// Submit appends a locally produced update. Watchers see it with
// Remote=false, which is how the transport knows to send it.
func (d *Document) Submit(payload []byte) {
	d.apply(payload, false)
}

func (d *Document) apply(payload []byte, remote bool) {
	if len(payload) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	d.log = append(d.log, p)
	if remote {
		d.remote++
	}
	u := Update{Payload: p, Remote: remote}
	for ch := range d.watchers {
		notifyWatcher(ch, u)
	}
}

// notifyWatcher sends an update to a watcher channel without blocking.
// Called with the document lock held, so the channel cannot be closed
// underneath the send.
func notifyWatcher(ch chan Update, u Update) {
	select {
	case ch <- u:
	default:
		// Channel full, drop oldest by consuming one and retrying.
		select {
		case <-ch:
			ch <- u
		default:
		}
	}
}

// Merge decodes a snapshot container and appends its updates.
// Used for the initial document state at session creation.
func (d *Document) Merge(snapshot []byte) error {
	if len(snapshot) == 0 {
		return nil
	}
	updates, err := DecodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	for _, u := range updates {
		d.ApplyRemote(u)
	}
	return nil
}

// Snapshot packs the current log into one container.
func (d *Document) Snapshot() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return EncodeSnapshot(d.log)
}

// Len returns the number of updates in the log.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.log)
}

// RemoteLen returns how many of the logged updates arrived from the
// transport. The sync provider sends it as the resume offset when it
// reconnects, so the relay replays only what the document is missing.
func (d *Document) RemoteLen() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.remote
}

// Updates returns a copy of the update log.
func (d *Document) Updates() [][]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([][]byte, len(d.log))
	for i, u := range d.log {
		c := make([]byte, len(u))
		copy(c, u)
		out[i] = c
	}
	return out
}

// Watch registers a watcher channel for subsequent updates. Sends never
// block; the oldest pending update is dropped when a watcher falls behind.
func (d *Document) Watch() <-chan Update {
	ch := make(chan Update, WatchBufferSize)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
		return ch
	}
	d.watchers[ch] = struct{}{}
	return ch
}

// Unwatch removes a watcher registered with Watch and closes its channel.
func (d *Document) Unwatch(ch <-chan Update) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for w := range d.watchers {
		if w == ch {
			delete(d.watchers, w)
			close(w)
			return
		}
	}
}

// Close releases all watchers. Further applies are dropped.
func (d *Document) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	for ch := range d.watchers {
		close(ch)
	}
	d.watchers = make(map[chan Update]struct{})
}
