package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roomsync-dev/roomsync/internal/config"
	"github.com/roomsync-dev/roomsync/internal/metrics"
	"github.com/roomsync-dev/roomsync/internal/model"
)

// flushTimeout bounds the database work for one batch. Detached from
// the writer context so the final flush still runs during shutdown.
const flushTimeout = 10 * time.Second

// Writer drains the update queue into the store in batches. A batch is
// flushed when it reaches the configured size or when the flush ticker
// fires, whichever comes first.
type Writer struct {
	cfg    config.WriterConfig
	logger *slog.Logger

	// Input from the relay
	input *UpdateQueue

	// Persistence
	store Store

	// Batching
	batch       []model.Update
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// WriterMetrics holds cumulative writer counters.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// NewWriter creates a Writer that reads from input and appends to st.
func NewWriter(cfg config.WriterConfig, input *UpdateQueue, st Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		logger: logger.With("component", "writer"),
		input:  input,
		store:  st,
		batch:  make([]model.Update, 0, cfg.BatchSize),
	}
}

// Start begins consuming updates and writing them to the store.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the loops down and flushes everything still buffered,
// including updates the consume loop never picked up.
func (w *Writer) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("writer stopped")
	case <-ctx.Done():
		w.logger.Warn("writer stop timed out")
	}

	if rest := w.input.DrainTo(0); len(rest) > 0 {
		w.batchMu.Lock()
		w.batch = append(w.batch, rest...)
		w.batchMu.Unlock()
	}
	w.flush()

	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input queue and accumulates batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			u, ok := w.input.TryReceive()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			w.handleUpdate(u)
		}
	}
}

// flushLoop flushes on the ticker interval.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			metrics.QueueDepth.Set(float64(w.input.Len()))
			w.flush()
		}
	}
}

// handleUpdate adds an update to the batch, flushing when full.
func (w *Writer) handleUpdate(u model.Update) {
	w.batchMu.Lock()
	w.batch = append(w.batch, u)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// flush writes the current batch to the store.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of the current batch
	batch := w.batch
	w.batch = make([]model.Update, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	inserted, conflicts, err := w.store.AppendUpdates(ctx, batch)
	if err != nil {
		w.logger.Error("batch append failed", "error", err, "count", len(batch))
		metrics.WriterErrors.Inc()
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	metrics.WriterInserts.Add(float64(inserted))
	metrics.WriterConflicts.Add(float64(conflicts))
	metrics.WriterBatchSize.Observe(float64(len(batch)))
	metrics.WriterFlushSeconds.Observe(time.Since(start).Seconds())

	w.batchMu.Lock()
	w.metrics.Inserts += int64(inserted)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed updates",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}
