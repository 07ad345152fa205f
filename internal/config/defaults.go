package config

import "time"

// Default values for optional configuration fields. Transport and feed
// defaults mirror feed.DefaultManagerConfig so a YAML file that sets only
// the gateway URL behaves like a zero-config manager.
const (
	DefaultGatewayURL           = "wss://gateway.tradedash.io/v1/stream"
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultConnectTimeout       = 15 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 15 * time.Second
	DefaultStaleTimeout         = 60 * time.Second
	DefaultMessageBufferSize    = 4096
	DefaultQueueCapacity        = 64
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultDirectiveRate        = 20.0
	DefaultDirectiveBurst       = 5
	DefaultStaleAfter           = 30 * time.Second
	DefaultWatchBuffer          = 16
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultTelemetryEndpoint    = "localhost:4318"
	DefaultTelemetryInterval    = 15 * time.Second
	DefaultServerPort           = 8090
	DefaultServerPathPrefix     = "/"
)

func (c *Config) applyDefaults() {
	// Gateway defaults
	if c.Gateway.URL == "" {
		c.Gateway.URL = DefaultGatewayURL
	}
	if c.Gateway.HandshakeTimeout == 0 {
		c.Gateway.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Gateway.ConnectTimeout == 0 {
		c.Gateway.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = DefaultWriteTimeout
	}
	if c.Gateway.PingInterval == 0 {
		c.Gateway.PingInterval = DefaultPingInterval
	}
	if c.Gateway.StaleTimeout == 0 {
		c.Gateway.StaleTimeout = DefaultStaleTimeout
	}
	if c.Gateway.MessageBufferSize == 0 {
		c.Gateway.MessageBufferSize = DefaultMessageBufferSize
	}

	// Feed defaults. A negative MaxReconnectAttempts is deliberate
	// (retry forever) and stays as written.
	if c.Feed.QueueCapacity == 0 {
		c.Feed.QueueCapacity = DefaultQueueCapacity
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.MaxReconnectAttempts == 0 {
		c.Feed.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Feed.DirectiveRate == 0 {
		c.Feed.DirectiveRate = DefaultDirectiveRate
	}
	if c.Feed.DirectiveBurst == 0 {
		c.Feed.DirectiveBurst = DefaultDirectiveBurst
	}

	// Quotes defaults
	if c.Quotes.StaleAfter == 0 {
		c.Quotes.StaleAfter = DefaultStaleAfter
	}
	if c.Quotes.WatchBuffer == 0 {
		c.Quotes.WatchBuffer = DefaultWatchBuffer
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Telemetry defaults
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = DefaultTelemetryEndpoint
	}
	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = DefaultTelemetryInterval
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.PathPrefix == "" {
		c.Server.PathPrefix = DefaultServerPathPrefix
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
