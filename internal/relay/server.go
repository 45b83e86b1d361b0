package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomsync-dev/roomsync/internal/api"
	"github.com/roomsync-dev/roomsync/internal/auth"
	"github.com/roomsync-dev/roomsync/internal/config"
	"github.com/roomsync-dev/roomsync/internal/metrics"
	"github.com/roomsync-dev/roomsync/internal/transport"
)

// joinTimeout bounds room hydration and replay reads during a join.
const joinTimeout = 15 * time.Second

// Server is the relay's HTTP surface: the WebSocket sync endpoint plus
// health and room listing for operators.
type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	verifier *auth.Verifier
	hub      *Hub
	srv      *http.Server
	upgrader websocket.Upgrader
	started  time.Time
}

// NewServer wires the routes and returns an unstarted server.
func NewServer(cfg config.ServerConfig, verifier *auth.Verifier, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger.With("component", "server"),
		verifier: verifier,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser origins vary by deployment. The token is the gate.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(transport.SyncPath, s.handleSync)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/rooms", s.handleRooms)
	mux.HandleFunc("GET /v1/rooms/{room}", s.handleRoom)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.logger.Info("relay listening", "addr", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("relay server failed", "error", err)
		}
	}()
}

// Stop shuts the HTTP listener down. Connected WebSocket clients are
// closed by the hub, not here.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	roomName := r.URL.Query().Get("room")
	if roomName == "" {
		http.Error(w, "missing room parameter", http.StatusBadRequest)
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		http.Error(w, "bad since parameter", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	// Auth happens after the upgrade so the verdict arrives in-band as
	// a control frame instead of an opaque handshake failure.
	if !s.verifier.AllowRequest(r) {
		metrics.AuthRejected.Inc()
		s.logger.Warn("client rejected", "room", roomName, "remote", r.RemoteAddr)
		s.rejectAuth(conn)
		return
	}

	client := newClient(s.hub, conn, s.logger)

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	var room *Room
	for {
		room = s.hub.Room(roomName)
		err = room.Join(ctx, client, since)
		if !errors.Is(err, errRoomEvicted) {
			break
		}
	}
	if err != nil {
		s.logger.Error("join failed", "room", roomName, "error", err)
		deadline := time.Now().Add(5 * time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "join failed"), deadline)
		conn.Close()
		return
	}
	client.room = room

	s.logger.Info("client joined", "room", roomName, "client", client.id, "since", since)
	client.serve()
	s.logger.Debug("client left", "room", roomName, "client", client.id)
}

func (s *Server) rejectAuth(conn *websocket.Conn) {
	deadline := time.Now().Add(5 * time.Second)

	msg, err := json.Marshal(transport.ControlMessage{
		Type:   transport.ControlAuthFailed,
		Reason: "invalid token",
	})
	if err == nil {
		conn.SetWriteDeadline(deadline)
		conn.WriteMessage(websocket.TextMessage, msg)
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(transport.CloseAuthFailed, "invalid token"), deadline)
	conn.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Rooms:         len(s.hub.RoomInfos()),
		Clients:       s.hub.ClientCount(),
	})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if !s.verifier.AllowRequest(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	infos := s.hub.RoomInfos()
	resp := api.RoomsResponse{Rooms: make([]api.APIRoom, 0, len(infos))}
	for _, info := range infos {
		resp.Rooms = append(resp.Rooms, api.FromRoomInfo(info))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	if !s.verifier.AllowRequest(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	info, ok := s.hub.RoomInfo(r.PathValue("room"))
	if !ok {
		http.Error(w, "room not active", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, api.RoomResponse{Room: api.FromRoomInfo(info)})
}

func parseSince(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid since %q", raw)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
