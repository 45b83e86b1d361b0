package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: relay-1
  zone: us-east-1a
server:
  port: 9443
database:
  postgres:
    host: localhost
    port: 5432
    name: roomsync
    user: roomsync
    password: testpass
redis:
  addr: localhost:6379
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "relay-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "relay-1")
	}
	if cfg.Server.Port != 9443 {
		t.Errorf("Server.Port = %d, want 9443", cfg.Server.Port)
	}
	if cfg.Database.Postgres.Host != "localhost" {
		t.Errorf("Database.Postgres.Host = %q, want %q", cfg.Database.Postgres.Host, "localhost")
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, "localhost:6379")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: relay-1
database:
  postgres:
    host: localhost
    name: roomsync
    user: roomsync
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Postgres.Password != "secret123" {
		t.Errorf("Database.Postgres.Password = %q, want %q", cfg.Database.Postgres.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: relay-1
database:
  postgres:
    host: localhost
    name: roomsync
    user: roomsync
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, DefaultServerPort)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Database.Postgres.MaxConns != DefaultMaxConns {
		t.Errorf("Database.Postgres.MaxConns = %d, want default %d", cfg.Database.Postgres.MaxConns, DefaultMaxConns)
	}
	if cfg.Rooms.HistoryLimit != DefaultHistoryLimit {
		t.Errorf("Rooms.HistoryLimit = %d, want default %d", cfg.Rooms.HistoryLimit, DefaultHistoryLimit)
	}
	if cfg.Rooms.ReadTimeout != DefaultReadTimeout {
		t.Errorf("Rooms.ReadTimeout = %v, want default %v", cfg.Rooms.ReadTimeout, DefaultReadTimeout)
	}
	if cfg.Writer.FlushInterval != DefaultFlushInterval {
		t.Errorf("Writer.FlushInterval = %v, want default %v", cfg.Writer.FlushInterval, DefaultFlushInterval)
	}
	if cfg.Redis.Channel != DefaultRedisChannel {
		t.Errorf("Redis.Channel = %q, want default %q", cfg.Redis.Channel, DefaultRedisChannel)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
}

func TestValidate(t *testing.T) {
	valid := func() RelayConfig {
		return RelayConfig{
			Instance: InstanceConfig{ID: "relay-1"},
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{
				Postgres: DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2},
			},
			Rooms: RoomsConfig{
				HistoryLimit: 512,
				ClientBuffer: 64,
				PingInterval: 15 * time.Second,
				ReadTimeout:  60 * time.Second,
			},
			Writer: WriterConfig{
				BatchSize:     1000,
				FlushInterval: time.Second,
				BufferSize:    10000,
			},
			Compactor: CompactorConfig{Threshold: 1000},
			Metrics:   MetricsConfig{Port: 9090},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*RelayConfig)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *RelayConfig) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *RelayConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing postgres host",
			mutate:  func(c *RelayConfig) { c.Database.Postgres.Host = "" },
			wantErr: "database.postgres.host is required",
		},
		{
			name:    "missing postgres password",
			mutate:  func(c *RelayConfig) { c.Database.Postgres.Password = "" },
			wantErr: "database.postgres.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *RelayConfig) {
				c.Database.Postgres.MaxConns = 5
				c.Database.Postgres.MinConns = 10
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "read timeout below ping interval",
			mutate: func(c *RelayConfig) {
				c.Rooms.ReadTimeout = 10 * time.Second
			},
			wantErr: "rooms.read_timeout (10s) must exceed rooms.ping_interval (15s)",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *RelayConfig) { c.Writer.BatchSize = 0 },
			wantErr: "writer.batch_size must be >= 1",
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *RelayConfig) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
