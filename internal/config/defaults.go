package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerPort      = 8080
	DefaultShutdownTimeout = 10 * time.Second
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultRedisChannel    = "roomsync:updates"
	DefaultHistoryLimit    = 512
	DefaultClientBuffer    = 64
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultPingInterval    = 15 * time.Second
	DefaultReadTimeout     = 60 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultBatchSize       = 1000
	DefaultFlushInterval   = 1 * time.Second
	DefaultBufferSize      = 10000
	DefaultCompactInterval = 15 * time.Minute
	DefaultCompactMinLog   = 1000
	DefaultMetricsPort     = 9090
	DefaultMetricsPath     = "/metrics"
)

func (c *RelayConfig) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Redis defaults
	if c.Redis.Channel == "" {
		c.Redis.Channel = DefaultRedisChannel
	}

	// Rooms defaults
	if c.Rooms.HistoryLimit == 0 {
		c.Rooms.HistoryLimit = DefaultHistoryLimit
	}
	if c.Rooms.ClientBuffer == 0 {
		c.Rooms.ClientBuffer = DefaultClientBuffer
	}
	if c.Rooms.IdleTimeout == 0 {
		c.Rooms.IdleTimeout = DefaultIdleTimeout
	}
	if c.Rooms.PingInterval == 0 {
		c.Rooms.PingInterval = DefaultPingInterval
	}
	if c.Rooms.ReadTimeout == 0 {
		c.Rooms.ReadTimeout = DefaultReadTimeout
	}
	if c.Rooms.WriteTimeout == 0 {
		c.Rooms.WriteTimeout = DefaultWriteTimeout
	}

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	// Compactor defaults
	if c.Compactor.Interval == 0 {
		c.Compactor.Interval = DefaultCompactInterval
	}
	if c.Compactor.Threshold == 0 {
		c.Compactor.Threshold = DefaultCompactMinLog
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
