package config

import "time"

// Config is the root configuration for a feed service instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Auth      AuthConfig      `yaml:"auth"`
	Feed      FeedConfig      `yaml:"feed"`
	Symbols   []string        `yaml:"symbols"`
	Channels  []string        `yaml:"channels"`
	Quotes    QuotesConfig    `yaml:"quotes"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
}

// InstanceConfig identifies this feed service.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// GatewayConfig holds market-data gateway transport settings.
type GatewayConfig struct {
	URL               string        `yaml:"url"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	StaleTimeout      time.Duration `yaml:"stale_timeout"`
	MessageBufferSize int           `yaml:"message_buffer_size"`
}

// AuthConfig selects the bearer token source. A literal token wins over
// token_env, which wins over token_file. All empty means unauthenticated.
type AuthConfig struct {
	Token     string `yaml:"token"`      // Literal bearer token (prefer ${ENV} interpolation)
	TokenEnv  string `yaml:"token_env"`  // Name of an environment variable holding the token
	TokenFile string `yaml:"token_file"` // Path to a file holding the token, re-read per connect
}

// FeedConfig holds reconnect, queue, and directive pacing tuning.
// A negative max_reconnect_attempts disables the cap and retries forever.
type FeedConfig struct {
	QueueCapacity        int           `yaml:"queue_capacity"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	DirectiveRate        float64       `yaml:"directive_rate"`
	DirectiveBurst       int           `yaml:"directive_burst"`
}

// QuotesConfig holds last-quote cache settings.
type QuotesConfig struct {
	StaleAfter  time.Duration `yaml:"stale_after"`
	WatchBuffer int           `yaml:"watch_buffer"`
}

// RecorderConfig holds tick persistence settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DatabaseConfig holds the Postgres connection for the tick store.
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

// TelemetryConfig holds OTLP metric export settings.
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"` // host:port of the OTLP/HTTP collector
	Interval time.Duration `yaml:"interval"` // Export period
	Insecure bool          `yaml:"insecure"` // Plain HTTP instead of TLS
}

// ServerConfig holds the HTTP status server settings.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	PathPrefix string `yaml:"path_prefix"`
}
