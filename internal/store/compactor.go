package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roomsync-dev/roomsync/internal/config"
	"github.com/roomsync-dev/roomsync/internal/crdt"
	"github.com/roomsync-dev/roomsync/internal/metrics"
	"github.com/roomsync-dev/roomsync/internal/model"
)

const (
	// compactConcurrency bounds how many rooms are compacted at once.
	compactConcurrency = 4

	// compactTimeout bounds the database work for a single room.
	compactTimeout = 30 * time.Second
)

// Compactor periodically folds long room update logs into snapshots and
// trims the covered rows.
type Compactor struct {
	cfg    config.CompactorConfig
	logger *slog.Logger
	store  Store

	// Lifecycle
	ticker *time.Ticker
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	cycles    atomic.Int64
	compacted atomic.Int64
	errors    atomic.Int64
}

// CompactorStats holds cumulative compactor counters.
type CompactorStats struct {
	Cycles    int64
	Compacted int64
	Errors    int64
}

// NewCompactor creates a Compactor over st.
func NewCompactor(cfg config.CompactorConfig, st Store, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		cfg:    cfg,
		logger: logger.With("component", "compactor"),
		store:  st,
	}
}

// Start launches the periodic compaction loop.
func (c *Compactor) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.ticker = time.NewTicker(c.cfg.Interval)

	c.wg.Add(1)
	go c.run()

	c.logger.Info("compactor started",
		"interval", c.cfg.Interval,
		"threshold", c.cfg.Threshold,
	)
	return nil
}

// Stop halts the compaction loop.
func (c *Compactor) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.ticker != nil {
		c.ticker.Stop()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("compactor stopped")
	case <-ctx.Done():
		c.logger.Warn("compactor stop timed out")
	}
	return nil
}

// Stats returns cumulative compactor counters.
func (c *Compactor) Stats() CompactorStats {
	return CompactorStats{
		Cycles:    c.cycles.Load(),
		Compacted: c.compacted.Load(),
		Errors:    c.errors.Load(),
	}
}

func (c *Compactor) run() {
	defer c.wg.Done()

	// First cycle right away so a restart does not wait a full interval.
	c.cycle()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.ticker.C:
			c.cycle()
		}
	}
}

func (c *Compactor) cycle() {
	start := time.Now()
	n, err := c.RunOnce(c.ctx)
	if err != nil {
		c.logger.Error("compaction cycle failed", "error", err)
		return
	}
	if n > 0 {
		c.logger.Info("compaction cycle complete", "rooms", n, "duration", time.Since(start))
	}
}

// RunOnce compacts every room whose update log has reached the
// configured threshold and returns how many rooms were compacted.
// Per-room failures are logged and skipped.
func (c *Compactor) RunOnce(ctx context.Context) (int, error) {
	rooms, err := c.store.Rooms(ctx, c.cfg.Threshold)
	if err != nil {
		c.errors.Add(1)
		return 0, fmt.Errorf("list rooms: %w", err)
	}
	c.cycles.Add(1)
	if len(rooms) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, compactConcurrency)
	var wg sync.WaitGroup
	var done atomic.Int64

	for _, info := range rooms {
		select {
		case <-ctx.Done():
			wg.Wait()
			return int(done.Load()), ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(info model.RoomInfo) {
			defer wg.Done()
			defer func() { <-sem }()

			roomCtx, cancel := context.WithTimeout(ctx, compactTimeout)
			defer cancel()

			if err := c.compactRoom(roomCtx, info.Room); err != nil {
				c.errors.Add(1)
				c.logger.Error("room compaction failed", "room", info.Room, "error", err)
				return
			}
			done.Add(1)
		}(info)
	}

	wg.Wait()
	n := int(done.Load())
	c.compacted.Add(int64(n))
	return n, nil
}

// compactRoom folds the room's full history into one snapshot container
// and trims the rows it covers. The container always spans seq 1 through
// the trim point, so decoded entries line up with sequence numbers.
func (c *Compactor) compactRoom(ctx context.Context, room string) error {
	snapshot, snapSeq, err := c.store.Snapshot(ctx, room)
	if err != nil {
		return err
	}

	var payloads [][]byte
	if snapshot != nil {
		payloads, err = crdt.DecodeSnapshot(snapshot)
		if err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
	}

	updates, err := c.store.Updates(ctx, room, snapSeq)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	for i, u := range updates {
		// A gap means the writer has not landed every row yet. Leave
		// the room for a later cycle.
		if want := snapSeq + int64(i) + 1; u.Seq != want {
			return fmt.Errorf("update log gap: have seq %d, want %d", u.Seq, want)
		}
		payloads = append(payloads, u.Payload)
	}

	last := updates[len(updates)-1].Seq
	if err := c.store.SaveSnapshot(ctx, room, last, crdt.EncodeSnapshot(payloads)); err != nil {
		return err
	}

	trimmed, err := c.store.TrimUpdates(ctx, room, last)
	if err != nil {
		return err
	}

	metrics.SnapshotsTaken.Inc()
	metrics.UpdatesTrimmed.Add(float64(trimmed))
	c.logger.Info("room compacted", "room", room, "seq", last, "trimmed", trimmed)
	return nil
}
