package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/roomsync-dev/roomsync/internal/config"
	"github.com/roomsync-dev/roomsync/internal/metrics"
	"github.com/roomsync-dev/roomsync/internal/model"
)

// publishTimeout bounds a single Redis publish on the ingest path.
const publishTimeout = 5 * time.Second

// bridgeEnvelope is the wire form of an update on the Redis channel.
// Instance carries the producer's ID so it can drop its own messages.
type bridgeEnvelope struct {
	Instance   string    `json:"instance"`
	Room       string    `json:"room"`
	Seq        int64     `json:"seq"`
	Origin     uuid.UUID `json:"origin"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Bridge mirrors room updates between relay instances over Redis
// pub/sub. Bridged updates reach local members only; persistence stays
// with the instance that produced the update.
type Bridge struct {
	cfg      config.RedisConfig
	logger   *slog.Logger
	instance string
	rdb      *redis.Client

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	published atomic.Int64
	received  atomic.Int64
}

// BridgeStats holds cumulative bridge counters.
type BridgeStats struct {
	Published int64
	Received  int64
}

// NewBridge creates a Bridge for the given instance ID.
func NewBridge(cfg config.RedisConfig, instance string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:      cfg,
		logger:   logger.With("component", "bridge"),
		instance: instance,
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Start subscribes to the update channel and delivers foreign updates
// through the given callback.
func (b *Bridge) Start(ctx context.Context, deliver func(model.Update)) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go b.consume(deliver)

	b.logger.Info("bridge started", "addr", b.cfg.Addr, "channel", b.cfg.Channel)
	return nil
}

// Stop halts the subscription and closes the Redis client.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("bridge stopped")
	case <-ctx.Done():
		b.logger.Warn("bridge stop timed out")
	}

	return b.rdb.Close()
}

// Stats returns cumulative bridge counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Published: b.published.Load(),
		Received:  b.received.Load(),
	}
}

// Publish sends one locally produced update to the channel. Failures
// are logged and dropped; the update is already persisted locally.
func (b *Bridge) Publish(u model.Update) {
	env := bridgeEnvelope{
		Instance:   b.instance,
		Room:       u.Room,
		Seq:        u.Seq,
		Origin:     u.Origin,
		Payload:    u.Payload,
		ReceivedAt: u.ReceivedAt,
	}
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("bridge envelope marshal failed", "room", u.Room, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, b.cfg.Channel, data).Err(); err != nil {
		b.logger.Warn("bridge publish failed", "room", u.Room, "error", err)
		return
	}

	b.published.Add(1)
	metrics.BridgePublished.Inc()
}

// consume keeps a subscription alive, resubscribing with backoff after
// connection loss.
func (b *Bridge) consume(deliver func(model.Update)) {
	defer b.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	for {
		if b.ctx.Err() != nil {
			return
		}

		pubsub := b.rdb.Subscribe(b.ctx, b.cfg.Channel)
		if _, err := pubsub.Receive(b.ctx); err != nil {
			pubsub.Close()
			if b.ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			b.logger.Warn("bridge subscribe failed", "error", err, "retry_in", wait)
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		b.logger.Info("bridge subscribed", "channel", b.cfg.Channel)

		b.drain(pubsub.Channel(), deliver)
		pubsub.Close()
	}
}

func (b *Bridge) drain(ch <-chan *redis.Message, deliver func(model.Update)) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle([]byte(msg.Payload), deliver)
		}
	}
}

// handle decodes one channel message and delivers it unless this
// instance produced it.
func (b *Bridge) handle(payload []byte, deliver func(model.Update)) {
	var env bridgeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn("bridge message malformed", "error", err)
		return
	}
	if env.Instance == b.instance {
		return
	}

	b.received.Add(1)
	metrics.BridgeReceived.Inc()
	deliver(model.Update{
		Room:       env.Room,
		Seq:        env.Seq,
		Origin:     env.Origin,
		Payload:    env.Payload,
		ReceivedAt: env.ReceivedAt,
	})
}
