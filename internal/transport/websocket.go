package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/roomsync-dev/roomsync/internal/crdt"
)

// wsOpener implements Opener over gorilla/websocket.
type wsOpener struct {
	cfg    Config
	logger *slog.Logger
}

// NewWSOpener creates the websocket Opener. Zero config fields fall back
// to defaults.
func NewWSOpener(cfg Config, logger *slog.Logger) Opener {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = def.ReconnectMaxWait
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}

	return &wsOpener{cfg: cfg, logger: logger}
}

// Open starts the connection loop for one room.
func (o *wsOpener) Open(ctx context.Context, url, room string, doc *crdt.Document) (Handle, error) {
	if url == "" {
		return nil, ErrNoURL
	}
	if doc == nil {
		return nil, ErrNoDocument
	}

	h := &wsHandle{
		cfg:    o.cfg,
		url:    url,
		room:   room,
		doc:    doc,
		logger: o.logger.With("component", "transport", "room", room),
		events: make(chan Event, o.cfg.EventBufferSize),
		stop:   make(chan struct{}),
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.updates = doc.Watch()

	h.wg.Add(1)
	go h.run()

	return h, nil
}

// wsHandle is one websocket sync connection with internal retry.
type wsHandle struct {
	cfg    Config
	url    string
	room   string
	doc    *crdt.Document
	logger *slog.Logger

	events  chan Event
	updates <-chan crdt.Update

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stop        chan struct{} // closed on the first Disconnect or Destroy
	stopOnce    sync.Once
	destroyOnce sync.Once

	// State
	mu          sync.Mutex
	conn        *websocket.Conn
	lastContact time.Time
	stopLocal   bool     // Disconnect or Destroy called: wind down silently
	authFailed  bool     // relay rejected the token: no more dials
	pending     [][]byte // local updates that missed a connection
}

// Events returns the lifecycle event stream.
func (h *wsHandle) Events() <-chan Event {
	return h.events
}

// Disconnect closes the current connection and stops automatic retry.
func (h *wsHandle) Disconnect() {
	h.mu.Lock()
	if h.stopLocal {
		h.mu.Unlock()
		return
	}
	h.stopLocal = true
	conn := h.conn
	h.mu.Unlock()

	h.stopOnce.Do(func() { close(h.stop) })
	h.logger.Debug("disconnect requested")
	closeConn(conn)
}

// Destroy tears the handle down and releases the document watcher.
func (h *wsHandle) Destroy() {
	h.destroyOnce.Do(func() {
		h.mu.Lock()
		h.stopLocal = true
		conn := h.conn
		h.mu.Unlock()

		h.stopOnce.Do(func() { close(h.stop) })
		h.logger.Debug("destroy requested")
		closeConn(conn)
		h.cancel()
	})
}

// run dials, pumps, and redials until the handle is stopped.
func (h *wsHandle) run() {
	defer h.wg.Done()
	defer close(h.events)
	defer h.doc.Unwatch(h.updates)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = h.cfg.ReconnectBaseWait
	bo.MaxInterval = h.cfg.ReconnectMaxWait

	for {
		if h.stopped() {
			return
		}

		conn, err := h.dial()
		if err != nil {
			if h.stopped() {
				return
			}
			h.logger.Warn("dial failed", "error", err)
			h.emit(Event{Type: EventClose, Code: CloseNoStatus, Reason: err.Error()})
			h.emit(Event{Type: EventStatusChange, Status: StateDisconnected})

			if !h.waitRetry(bo) {
				return
			}
			continue
		}

		if !h.adopt(conn) {
			return
		}
		bo.Reset()
		h.emit(Event{Type: EventConnect})
		h.emit(Event{Type: EventStatusChange, Status: StateConnected})

		stop := make(chan struct{})
		var pumps sync.WaitGroup
		pumps.Add(2)
		go h.writeLoop(conn, stop, &pumps)
		go h.heartbeatLoop(conn, stop, &pumps)

		code, reason := h.readLoop(conn)

		close(stop)
		conn.Close()
		pumps.Wait()
		h.clearConn()

		if h.stopped() {
			return
		}

		h.logger.Info("connection closed", "code", code, "reason", reason)
		h.emit(Event{Type: EventClose, Code: code, Reason: reason})
		h.emit(Event{Type: EventSynced, Synced: false})
		h.emit(Event{Type: EventDisconnect})
		h.emit(Event{Type: EventStatusChange, Status: StateDisconnected})

		if h.rejected() {
			return
		}
		if !h.waitRetry(bo) {
			return
		}
	}
}

// dial connects and installs the keepalive handlers.
func (h *wsHandle) dial() (*websocket.Conn, error) {
	url := h.url
	if n := h.doc.RemoteLen(); n > 0 {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "since=" + strconv.Itoa(n)
	}

	header := http.Header{}
	if h.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+h.cfg.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: h.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(h.ctx, url, header)
	if err != nil {
		return nil, err
	}

	conn.SetPingHandler(func(data string) error {
		h.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		h.touch()
		return nil
	})

	return conn, nil
}

// readLoop reads frames until the connection drops, returning the close
// code and reason. Errors without a close frame count as 1005.
func (h *wsHandle) readLoop(conn *websocket.Conn) (int, string) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code, ce.Text
			}
			return CloseNoStatus, err.Error()
		}
		h.touch()

		switch msgType {
		case websocket.BinaryMessage:
			h.doc.ApplyRemote(data)
		case websocket.TextMessage:
			h.handleControl(data)
		}
	}
}

// handleControl dispatches one JSON control frame.
func (h *wsHandle) handleControl(data []byte) {
	var ctrl ControlMessage
	if err := json.Unmarshal(data, &ctrl); err != nil {
		h.logger.Warn("bad control frame", "error", err)
		return
	}

	switch ctrl.Type {
	case ControlSynced:
		h.emit(Event{Type: EventSynced, Synced: true})
	case ControlAuthFailed:
		h.mu.Lock()
		h.authFailed = true
		h.mu.Unlock()
		h.logger.Warn("auth rejected", "reason", ctrl.Reason)
		h.emit(Event{Type: EventAuthFailed, Reason: ctrl.Reason})
	default:
		h.logger.Debug("unknown control frame", "type", ctrl.Type)
	}
}

// writeLoop forwards locally submitted updates to the relay.
func (h *wsHandle) writeLoop(conn *websocket.Conn, stop chan struct{}, pumps *sync.WaitGroup) {
	defer pumps.Done()

	// Updates that missed the previous connection go first, in order.
	h.mu.Lock()
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	for i, p := range pending {
		if !h.send(conn, p) {
			h.mu.Lock()
			h.pending = append(h.pending, pending[i+1:]...)
			h.mu.Unlock()
			return
		}
	}

	for {
		select {
		case <-stop:
			return
		case <-h.ctx.Done():
			return
		case u, ok := <-h.updates:
			if !ok {
				return
			}
			if u.Remote {
				continue
			}
			if !h.send(conn, u.Payload) {
				return
			}
		}
	}
}

// send writes one update frame. A failed payload is queued for the next
// connection.
func (h *wsHandle) send(conn *websocket.Conn, payload []byte) bool {
	conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		h.logger.Warn("update send failed", "error", err)
		h.mu.Lock()
		h.pending = append(h.pending, payload)
		h.mu.Unlock()
		return false
	}
	return true
}

// heartbeatLoop sends keepalive pings and closes stale connections.
func (h *wsHandle) heartbeatLoop(conn *websocket.Conn, stop chan struct{}, pumps *sync.WaitGroup) {
	defer pumps.Done()

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				h.logger.Debug("failed to send ping", "error", err)
			}

			// Close stale connections so the read loop unwinds into
			// the retry path.
			if time.Since(h.lastContactAt()) > h.cfg.PingTimeout {
				h.logger.Warn("no traffic received, connection stale",
					"timeout", h.cfg.PingTimeout,
				)
				conn.Close()
				return
			}
		}
	}
}

// emit delivers one event, giving up only when the handle is destroyed.
func (h *wsHandle) emit(e Event) {
	select {
	case h.events <- e:
	case <-h.ctx.Done():
	}
}

// adopt records the live connection. False means the handle was stopped
// while dialing and the connection was closed instead.
func (h *wsHandle) adopt(conn *websocket.Conn) bool {
	h.mu.Lock()
	if h.stopLocal {
		h.mu.Unlock()
		conn.Close()
		return false
	}
	h.conn = conn
	h.lastContact = time.Now()
	h.mu.Unlock()
	return true
}

func (h *wsHandle) clearConn() {
	h.mu.Lock()
	h.conn = nil
	h.mu.Unlock()
}

func (h *wsHandle) touch() {
	h.mu.Lock()
	h.lastContact = time.Now()
	h.mu.Unlock()
}

func (h *wsHandle) lastContactAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastContact
}

func (h *wsHandle) stopped() bool {
	if h.ctx.Err() != nil {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopLocal
}

func (h *wsHandle) rejected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.authFailed
}

// waitRetry sleeps for the next backoff interval. False means the handle
// was stopped while waiting.
func (h *wsHandle) waitRetry(bo *backoff.ExponentialBackOff) bool {
	wait := bo.NextBackOff()
	h.logger.Debug("reconnecting", "wait", wait)

	select {
	case <-h.ctx.Done():
		return false
	case <-h.stop:
		return false
	case <-time.After(wait):
		return true
	}
}

// closeConn sends a normal close frame and closes the socket.
func closeConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	conn.Close()
}
