package feed

import (
	"errors"
	"time"

	json "github.com/goccy/go-json"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrConnectTimeout   = errors.New("connection attempt timed out")
	ErrManagerClosed    = errors.New("manager closed")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrTransportClosed  = errors.New("transport closed")
	ErrAlreadyClosed    = errors.New("already closed")
)

// State is the connection lifecycle state exposed to consumers.
// Exactly one value holds at a time; only the manager mutates it.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the gateway
	ReceivedAt time.Time // Local timestamp when the read returned
}

// Message is a parsed inbound envelope. Type is the dispatch key; every
// other field is opaque payload passed to the registered handler untouched.
type Message struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`

	// ReceivedAt is stamped locally when the frame was read; it is not
	// part of the wire format.
	ReceivedAt time.Time `json:"-"`
}

// OutboundMessage is a tagged payload awaiting transmission.
// Subscription directives are {type, channel}; arbitrary sends are {type, data}.
type OutboundMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// HandlerFunc handles one inbound message. Handlers run synchronously on the
// dispatch goroutine in arrival order and must not block for long.
type HandlerFunc func(Message)

// ClientConfig configures a single gateway transport connection.
type ClientConfig struct {
	URL              string        // Gateway WebSocket URL (wss://...)
	Token            string        // Bearer token; empty means unauthenticated
	HandshakeTimeout time.Duration // WebSocket handshake deadline
	PingInterval     time.Duration // Keepalive ping cadence
	StaleTimeout     time.Duration // Max silence before the connection is considered dead
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Inbound message channel capacity
	OnDropped        func()        // Invoked for each inbound frame dropped on a full buffer
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		StaleTimeout:     60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       4096,
	}
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	GatewayURL           string        // Streaming gateway URL
	HandshakeTimeout     time.Duration // WebSocket handshake deadline
	ConnectTimeout       time.Duration // Bound on a whole connection attempt
	WriteTimeout         time.Duration // Write deadline for sends
	PingInterval         time.Duration // Keepalive ping cadence
	StaleTimeout         time.Duration // Max silence before reconnecting
	MessageBufferSize    int           // Inbound channel capacity
	QueueCapacity        int           // Initial outbound queue capacity
	ReconnectBaseDelay   time.Duration // First backoff delay
	ReconnectMaxDelay    time.Duration // Backoff delay cap
	MaxReconnectAttempts int           // Consecutive failures before StateError; <= 0 retries forever
	DirectiveRate        float64       // Subscribe/replay directives per second during drains
	DirectiveBurst       int           // Burst allowance for directive pacing
}

// withDefaults fills unset fields from DefaultManagerConfig. A zero
// MaxReconnectAttempts is kept as-is: it means retry forever.
func (c ManagerConfig) withDefaults() ManagerConfig {
	def := DefaultManagerConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = def.StaleTimeout
	}
	if c.MessageBufferSize <= 0 {
		c.MessageBufferSize = def.MessageBufferSize
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.DirectiveRate <= 0 {
		c.DirectiveRate = def.DirectiveRate
	}
	if c.DirectiveBurst <= 0 {
		c.DirectiveBurst = def.DirectiveBurst
	}
	return c
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout:     10 * time.Second,
		ConnectTimeout:       15 * time.Second,
		WriteTimeout:         5 * time.Second,
		PingInterval:         15 * time.Second,
		StaleTimeout:         60 * time.Second,
		MessageBufferSize:    4096,
		QueueCapacity:        64,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		DirectiveRate:        20,
		DirectiveBurst:       5,
	}
}

// ManagerStats is a point-in-time snapshot of manager counters.
type ManagerStats struct {
	State          State `json:"state"`
	Received       int64 `json:"received"`
	Dispatched     int64 `json:"dispatched"`
	ParseErrors    int64 `json:"parse_errors"`
	UnknownTypes   int64 `json:"unknown_types"`
	InboundDropped int64 `json:"inbound_dropped"`
	Sent           int64 `json:"sent"`
	Reconnects     int64 `json:"reconnects"`
	QueueDepth     int   `json:"queue_depth"`
	QueueCapacity  int   `json:"queue_capacity"`
	Subscriptions  int   `json:"subscriptions"`
	HandlerCount   int   `json:"handler_count"`
}
