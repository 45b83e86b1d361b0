package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	Writer    WriterConfig    `yaml:"writer"`
	Compactor CompactorConfig `yaml:"compactor"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this relay.
type InstanceConfig struct {
	ID   string `yaml:"id"`
	Zone string `yaml:"zone"`
}

// ServerConfig holds the websocket listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds the shared client token. TokenFile takes precedence
// over the inline value when both are set.
type AuthConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// DatabaseConfig holds the Postgres connection for the update log.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds the cross-instance fan-out settings. An empty Addr
// disables the bridge and the relay runs standalone.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// RoomsConfig holds per-room hub settings.
type RoomsConfig struct {
	HistoryLimit int           `yaml:"history_limit"`
	ClientBuffer int           `yaml:"client_buffer"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// CompactorConfig holds snapshot compaction settings.
type CompactorConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Threshold int           `yaml:"threshold"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
