package breaker

import (
	"sync"
	"time"
)

// Default thresholds for room connection failures.
const (
	DefaultDecayWindow = 30 * time.Second
	DefaultMaxFailures = 5
)

// Config controls failure accounting.
type Config struct {
	// DecayWindow is how long a streak survives without a new failure.
	// A failure arriving after a gap strictly greater than the window
	// starts a fresh streak.
	DecayWindow time.Duration

	// MaxFailures is the streak length at which a room reports disabled.
	MaxFailures int

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the standard failure thresholds.
func DefaultConfig() Config {
	return Config{
		DecayWindow: DefaultDecayWindow,
		MaxFailures: DefaultMaxFailures,
	}
}

// Record tracks one room's consecutive failure streak.
type Record struct {
	Count         int
	LastFailureAt time.Time
}

// Tracker counts consecutive connection failures per room.
// Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	now     func() time.Time
	records map[string]Record
}

// New creates a Tracker. Zero config fields fall back to defaults.
func New(cfg Config) *Tracker {
	if cfg.DecayWindow <= 0 {
		cfg.DecayWindow = DefaultDecayWindow
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		cfg:     cfg,
		now:     now,
		records: make(map[string]Record),
	}
}

// RecordFailure notes one failure for the room and returns the streak length.
// A failure after a gap longer than the decay window starts a fresh streak.
func (t *Tracker) RecordFailure(room string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec := t.records[room]
	if rec.Count > 0 && now.Sub(rec.LastFailureAt) > t.cfg.DecayWindow {
		rec = Record{}
	}
	rec.Count++
	rec.LastFailureAt = now
	t.records[room] = rec
	return rec.Count
}

// RecordSuccess resets the room's streak to the zero record.
func (t *Tracker) RecordSuccess(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[room] = Record{}
}

// Disabled reports whether the room's streak has reached MaxFailures.
// Read-only: it never decays or mutates the record.
func (t *Tracker) Disabled(room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records[room].Count >= t.cfg.MaxFailures
}

// Count returns the room's current streak length.
func (t *Tracker) Count(room string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records[room].Count
}

// Clear removes the room's record entirely.
func (t *Tracker) Clear(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, room)
}
