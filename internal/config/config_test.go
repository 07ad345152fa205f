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
  id: test-feedd
  az: us-east-1a
gateway:
  url: wss://gateway.example.com/v1/stream
symbols:
  - AAPL
  - MSFT
channels:
  - system.status
feed:
  max_reconnect_attempts: -1
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-feedd" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-feedd")
	}
	if cfg.Gateway.URL != "wss://gateway.example.com/v1/stream" {
		t.Errorf("Gateway.URL = %q, want %q", cfg.Gateway.URL, "wss://gateway.example.com/v1/stream")
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "AAPL" || cfg.Symbols[1] != "MSFT" {
		t.Errorf("Symbols = %v, want [AAPL MSFT]", cfg.Symbols)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0] != "system.status" {
		t.Errorf("Channels = %v, want [system.status]", cfg.Channels)
	}
	if cfg.Feed.MaxReconnectAttempts != -1 {
		t.Errorf("Feed.MaxReconnectAttempts = %d, want -1", cfg.Feed.MaxReconnectAttempts)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load succeeded on a missing file")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_GATEWAY_TOKEN", "secret123")
	t.Setenv("TEST_DB_PASSWORD", "dbpass456")

	yaml := `
instance:
  id: test-feedd
auth:
  token: ${TEST_GATEWAY_TOKEN}
database:
  postgres:
    host: localhost
    name: ticks
    user: feedd
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.Token != "secret123" {
		t.Errorf("Auth.Token = %q, want %q", cfg.Auth.Token, "secret123")
	}
	if cfg.Database.Postgres.Password != "dbpass456" {
		t.Errorf("Database.Postgres.Password = %q, want %q", cfg.Database.Postgres.Password, "dbpass456")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-feedd
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Gateway.URL != DefaultGatewayURL {
		t.Errorf("Gateway.URL = %q, want default %q", cfg.Gateway.URL, DefaultGatewayURL)
	}
	if cfg.Gateway.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("Gateway.ConnectTimeout = %v, want default %v", cfg.Gateway.ConnectTimeout, DefaultConnectTimeout)
	}
	if cfg.Feed.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Feed.ReconnectBaseDelay = %v, want default %v", cfg.Feed.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Feed.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Feed.MaxReconnectAttempts = %d, want default %d", cfg.Feed.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Quotes.StaleAfter != DefaultStaleAfter {
		t.Errorf("Quotes.StaleAfter = %v, want default %v", cfg.Quotes.StaleAfter, DefaultStaleAfter)
	}
	if cfg.Recorder.BatchSize != DefaultBatchSize {
		t.Errorf("Recorder.BatchSize = %d, want default %d", cfg.Recorder.BatchSize, DefaultBatchSize)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, DefaultServerPort)
	}
}

func TestLoadWithDefaults_KeepsNegativeAttempts(t *testing.T) {
	yaml := `
instance:
  id: test-feedd
feed:
  max_reconnect_attempts: -1
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Feed.MaxReconnectAttempts != -1 {
		t.Errorf("Feed.MaxReconnectAttempts = %d, want -1 preserved", cfg.Feed.MaxReconnectAttempts)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Instance: InstanceConfig{ID: "test"},
			Gateway:  GatewayConfig{URL: "wss://gateway.example.com/v1/stream"},
			Feed: FeedConfig{
				QueueCapacity:  64,
				DirectiveRate:  20,
				DirectiveBurst: 5,
			},
			Quotes: QuotesConfig{WatchBuffer: 16},
			Server: ServerConfig{Port: 8090},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "bad gateway scheme",
			mutate:  func(c *Config) { c.Gateway.URL = "https://gateway.example.com" },
			wantErr: `gateway.url must be a ws:// or wss:// URL, got "https://gateway.example.com"`,
		},
		{
			name:    "zero directive rate",
			mutate:  func(c *Config) { c.Feed.DirectiveRate = 0 },
			wantErr: "feed.directive_rate must be > 0",
		},
		{
			name: "recorder enabled without database",
			mutate: func(c *Config) {
				c.Recorder = RecorderConfig{Enabled: true, BatchSize: 500, FlushInterval: time.Second, BufferSize: 1000}
			},
			wantErr: "database.postgres.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Recorder = RecorderConfig{Enabled: true, BatchSize: 500, FlushInterval: time.Second, BufferSize: 1000}
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "telemetry enabled without endpoint",
			mutate:  func(c *Config) { c.Telemetry = TelemetryConfig{Enabled: true} },
			wantErr: "telemetry.endpoint is required when telemetry is enabled",
		},
		{
			name:    "bad server port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name: "valid with recorder",
			mutate: func(c *Config) {
				c.Recorder = RecorderConfig{Enabled: true, BatchSize: 500, FlushInterval: time.Second, BufferSize: 1000}
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}
			},
			wantErr: "",
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
