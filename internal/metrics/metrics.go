package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roomsync-dev/roomsync/internal/config"
)

// Relay collectors.
var (
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomsync_clients_connected",
		Help: "Number of websocket clients currently connected.",
	})

	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomsync_rooms_active",
		Help: "Number of rooms with in-memory state.",
	})

	UpdatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsync_updates_received_total",
		Help: "Document updates accepted, by source.",
	}, []string{"source"})

	UpdatesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_updates_broadcast_total",
		Help: "Update frames delivered to clients.",
	})

	ClientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_clients_dropped_total",
		Help: "Clients disconnected because their send queue overflowed.",
	})

	AuthRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_auth_rejected_total",
		Help: "Connections rejected for a bad token.",
	})
)

// Client session collectors.
var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_sessions_created_total",
		Help: "Collaboration sessions opened.",
	})

	SessionsDestroyed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_sessions_destroyed_total",
		Help: "Collaboration sessions torn down.",
	})

	SessionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_session_failures_total",
		Help: "Abnormal closures counted against the breaker.",
	})

	BreakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_breaker_trips_total",
		Help: "Rooms disabled after repeated abnormal closures.",
	})
)

// Bridge collectors.
var (
	BridgePublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_bridge_published_total",
		Help: "Updates published to the cross-instance channel.",
	})

	BridgeReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_bridge_received_total",
		Help: "Updates received from other instances.",
	})
)

// Storage collectors.
var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomsync_queue_depth",
		Help: "Updates waiting in the persistence queue.",
	})

	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_queue_dropped_total",
		Help: "Updates dropped because the persistence queue was closed.",
	})

	WriterInserts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_writer_inserts_total",
		Help: "Update rows inserted.",
	})

	WriterConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_writer_conflicts_total",
		Help: "Update rows skipped as duplicates.",
	})

	WriterErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_writer_errors_total",
		Help: "Failed flush attempts.",
	})

	WriterBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomsync_writer_batch_size",
		Help:    "Rows per flushed batch.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 7),
	})

	WriterFlushSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomsync_writer_flush_seconds",
		Help:    "Time spent writing one batch.",
		Buckets: prometheus.DefBuckets,
	})

	SnapshotsTaken = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_snapshots_total",
		Help: "Room snapshots written by the compactor.",
	})

	UpdatesTrimmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_updates_trimmed_total",
		Help: "Update rows deleted after compaction.",
	})
)

// Server exposes the Prometheus scrape endpoint.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds the scrape endpoint from config.
func NewServer(cfg config.MetricsConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "metrics"),
	}
}

// Start begins serving scrapes in the background.
func (s *Server) Start() {
	s.logger.Info("metrics server started", "addr", s.srv.Addr)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// Stop shuts the endpoint down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
