package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roomsync-dev/roomsync/internal/config"
	"github.com/roomsync-dev/roomsync/internal/transport"
)

// Client is one WebSocket connection to the sync endpoint. The read
// pump ingests the member's updates, the write pump replays the backlog
// and then streams live updates.
type Client struct {
	id     uuid.UUID
	hub    *Hub
	room   *Room
	conn   *websocket.Conn
	logger *slog.Logger
	cfg    config.RoomsConfig

	backlog [][]byte
	send    chan []byte

	done     chan struct{}
	stopOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     uuid.New(),
		hub:    hub,
		conn:   conn,
		logger: logger,
		cfg:    hub.cfg,
		send:   make(chan []byte, hub.cfg.ClientBuffer),
		done:   make(chan struct{}),
	}
}

// serve runs both pumps and leaves the room when the connection ends.
func (c *Client) serve() {
	go c.writePump()
	c.readPump()
	c.kill()
	c.room.Leave(c)
}

// enqueue hands a payload to the write pump without blocking. False
// means the send buffer is full and the member should be dropped.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// kill tears the connection down without a close frame.
func (c *Client) kill() {
	c.stopOnce.Do(func() { close(c.done) })
	c.conn.Close()
}

// closeWith sends a close frame, then tears the connection down.
func (c *Client) closeWith(code int, reason string) {
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.kill()
}

func (c *Client) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Debug("client read ended", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		if kind != websocket.BinaryMessage || len(payload) == 0 {
			continue
		}
		c.hub.Ingest(c, payload)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for _, payload := range c.backlog {
		if err := c.write(websocket.BinaryMessage, payload); err != nil {
			return
		}
	}
	c.backlog = nil

	synced, err := json.Marshal(transport.ControlMessage{Type: transport.ControlSynced})
	if err != nil {
		return
	}
	if err := c.write(websocket.TextMessage, synced); err != nil {
		return
	}

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.write(websocket.BinaryMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(kind int, payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(kind, payload)
}
