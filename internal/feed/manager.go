package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tradedash/marketfeed/internal/auth"
)

// Manager maintains one persistent connection to the streaming gateway,
// multiplexes channel subscriptions over it, and recovers from disconnects
// with capped exponential backoff. Every method returns immediately; all
// I/O happens on an internally owned lifecycle goroutine.
//
// Failures never surface as return values. Consumers observe State,
// IsConnected, and LastError instead.
type Manager interface {
	// Connect starts the connection lifecycle. No-op while a lifecycle is
	// already connecting, connected, or reconnecting, and after Close.
	Connect()

	// Disconnect stops the lifecycle and leaves the manager disconnected.
	// Idempotent; cancels a pending backoff wait and aborts an in-flight
	// connection attempt. Subscriptions and queued messages survive.
	Disconnect()

	// Close disconnects and permanently shuts the manager down, clearing
	// subscriptions, queued messages, and handlers.
	Close()

	// Send transmits a tagged payload immediately when connected, otherwise
	// queues it for transmission after the next successful connect.
	Send(msgType string, data any)

	// Subscribe adds channel to the subscription set and, when connected,
	// transmits the subscribe directive right away.
	Subscribe(channel string)

	// Unsubscribe removes channel from the subscription set and, when
	// connected, transmits the unsubscribe directive right away.
	Unsubscribe(channel string)

	// SubscribeSymbols subscribes to the quote channel of each symbol.
	SubscribeSymbols(symbols []string)

	// UnsubscribeSymbols unsubscribes from the quote channel of each symbol.
	UnsubscribeSymbols(symbols []string)

	// Ping sends a liveness message when connected; no-op otherwise.
	Ping()

	// RegisterHandler installs fn as the handler for msgType, replacing any
	// prior handler for that tag.
	RegisterHandler(msgType string, fn HandlerFunc)

	// UnregisterHandler removes the handler for msgType.
	UnregisterHandler(msgType string)

	// State returns the current connection state.
	State() State

	// IsConnected reports whether the state is StateConnected.
	IsConnected() bool

	// LastError returns the most recent connection error, or nil. Cleared
	// on every successful connect.
	LastError() error

	// Subscriptions returns the subscribed channels in sorted order.
	Subscriptions() []string

	// Stats returns a snapshot of manager counters.
	Stats() ManagerStats
}

// Option customizes a Manager at construction time.
type Option func(*manager)

// WithClientFactory replaces the transport constructor. Tests use this to
// drive the manager against fake connections.
func WithClientFactory(f ClientFactory) Option {
	return func(m *manager) {
		if f != nil {
			m.newClient = f
		}
	}
}

// WithStateListener calls fn after every state change. fn runs on manager
// goroutines; keep it fast.
func WithStateListener(fn func(State)) Option {
	return func(m *manager) {
		m.onState = fn
	}
}

type manager struct {
	cfg       ManagerConfig
	tokens    auth.TokenSource
	logger    *slog.Logger
	newClient ClientFactory
	onState   func(State)
	metrics   *feedMetrics
	limiter   *rate.Limiter

	registry *handlerRegistry
	queue    *GrowableBuffer[OutboundMessage]

	// mu guards everything below. The lifecycle goroutine is the sole
	// writer of state transitions apart from Connect/Disconnect/Close.
	mu       sync.Mutex
	state    State
	lastErr  error
	client   Client
	subs     map[string]struct{}
	closed   bool
	gen      uint64 // lifecycle generation; stale goroutines stand down
	cancel   context.CancelFunc
	attempts int // consecutive failed connection attempts

	received    atomic.Int64
	dispatched  atomic.Int64
	parseErrors atomic.Int64
	unknown     atomic.Int64
	dropped     atomic.Int64
	sentCount   atomic.Int64
	reconnects  atomic.Int64
}

// NewManager creates a connection manager for the given gateway. tokens may
// be nil for unauthenticated connections; logger nil falls back to
// slog.Default. The manager starts disconnected; call Connect to begin.
func NewManager(cfg ManagerConfig, tokens auth.TokenSource, logger *slog.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	m := &manager{
		cfg:       cfg,
		tokens:    tokens,
		logger:    logger,
		newClient: NewClient,
		state:     StateDisconnected,
		subs:      make(map[string]struct{}),
		registry:  newHandlerRegistry(),
		queue:     NewGrowableBuffer[OutboundMessage](cfg.QueueCapacity),
		limiter:   rate.NewLimiter(rate.Limit(cfg.DirectiveRate), cfg.DirectiveBurst),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics = newFeedMetrics(m)
	return m
}

// Connect starts a new connection lifecycle.
func (m *manager) Connect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.attempts = 0
	changed := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if changed {
		m.announce(StateConnecting)
	}
	m.logger.Info("connect requested", "url", m.cfg.GatewayURL)
	go m.run(ctx, gen)
}

// Disconnect tears down the current lifecycle, if any.
func (m *manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	cancel := m.cancel
	m.cancel = nil
	cli := m.client
	m.client = nil
	changed := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cli != nil {
		cli.Close()
	}
	if changed {
		m.announce(StateDisconnected)
		m.logger.Info("disconnected")
	}
}

// Close shuts the manager down for good.
func (m *manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	cancel := m.cancel
	m.cancel = nil
	cli := m.client
	m.client = nil
	m.subs = make(map[string]struct{})
	changed := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cli != nil {
		cli.Close()
	}
	m.registry.clear()
	m.queue.Close()
	m.queue.DrainTo(0)
	if changed {
		m.announce(StateDisconnected)
	}
	m.logger.Info("manager closed")
}

// Send transmits or queues a tagged payload.
func (m *manager) Send(msgType string, data any) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	cli := m.client
	connected := m.state == StateConnected && cli != nil
	m.mu.Unlock()

	om := OutboundMessage{Type: msgType, Data: data}
	if connected {
		err := m.write(cli, om)
		if err == nil {
			return
		}
		m.logger.Debug("send failed, queueing message", "type", msgType, "error", err)
	}
	m.queue.Send(om)
}

// Subscribe adds channel to the subscription set.
func (m *manager) Subscribe(channel string) {
	if channel == "" {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.subs[channel] = struct{}{}
	cli := m.client
	connected := m.state == StateConnected && cli != nil
	m.mu.Unlock()

	if connected {
		if err := m.write(cli, OutboundMessage{Type: "subscribe", Channel: channel}); err != nil {
			m.logger.Debug("subscribe directive failed, set replays on reconnect",
				"channel", channel, "error", err)
		}
	}
}

// Unsubscribe removes channel from the subscription set.
func (m *manager) Unsubscribe(channel string) {
	if channel == "" {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	delete(m.subs, channel)
	cli := m.client
	connected := m.state == StateConnected && cli != nil
	m.mu.Unlock()

	if connected {
		if err := m.write(cli, OutboundMessage{Type: "unsubscribe", Channel: channel}); err != nil {
			m.logger.Debug("unsubscribe directive failed", "channel", channel, "error", err)
		}
	}
}

// SubscribeSymbols subscribes to each symbol's quote channel.
func (m *manager) SubscribeSymbols(symbols []string) {
	for _, s := range symbols {
		if s == "" {
			continue
		}
		m.Subscribe(ChannelForSymbol(s))
	}
}

// UnsubscribeSymbols unsubscribes from each symbol's quote channel.
func (m *manager) UnsubscribeSymbols(symbols []string) {
	for _, s := range symbols {
		if s == "" {
			continue
		}
		m.Unsubscribe(ChannelForSymbol(s))
	}
}

// Ping sends a liveness message when connected. Never queued.
func (m *manager) Ping() {
	m.mu.Lock()
	cli := m.client
	connected := !m.closed && m.state == StateConnected && cli != nil
	m.mu.Unlock()

	if !connected {
		return
	}
	if err := m.write(cli, OutboundMessage{Type: "ping"}); err != nil {
		m.logger.Debug("ping failed", "error", err)
	}
}

// RegisterHandler installs fn for msgType.
func (m *manager) RegisterHandler(msgType string, fn HandlerFunc) {
	if m.isClosed() {
		return
	}
	m.registry.set(msgType, fn)
}

// UnregisterHandler removes the handler for msgType.
func (m *manager) UnregisterHandler(msgType string) {
	m.registry.remove(msgType)
}

// State returns the current connection state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the manager is connected.
func (m *manager) IsConnected() bool {
	return m.State() == StateConnected
}

// LastError returns the most recent connection error, or nil.
func (m *manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Subscriptions returns the subscribed channels in sorted order.
func (m *manager) Subscriptions() []string {
	m.mu.Lock()
	subs := make([]string, 0, len(m.subs))
	for ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	sort.Strings(subs)
	return subs
}

// Stats returns a snapshot of manager counters.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	st := m.state
	subs := len(m.subs)
	m.mu.Unlock()

	return ManagerStats{
		State:          st,
		Received:       m.received.Load(),
		Dispatched:     m.dispatched.Load(),
		ParseErrors:    m.parseErrors.Load(),
		UnknownTypes:   m.unknown.Load(),
		InboundDropped: m.dropped.Load(),
		Sent:           m.sentCount.Load(),
		Reconnects:     m.reconnects.Load(),
		QueueDepth:     m.queue.Len(),
		QueueCapacity:  m.queue.Cap(),
		Subscriptions:  subs,
		HandlerCount:   m.registry.size(),
	}
}

// run drives one connection lifecycle: dial, serve, back off, repeat.
// It exits when the context is canceled, the generation goes stale, or
// the attempt budget is exhausted.
func (m *manager) run(ctx context.Context, gen uint64) {
	bo := m.newBackoff()
	for {
		cli, err := m.dial(ctx)
		if err == nil {
			err = m.serve(ctx, gen, cli, bo)
		}
		if ctx.Err() != nil {
			return
		}
		if !m.failed(gen, err) {
			return
		}

		delay := bo.NextBackOff()
		m.logger.Info("backing off before reconnect", "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if !m.transition(gen, StateConnecting) {
			return
		}
	}
}

// dial reads a fresh token and attempts one bounded connection.
func (m *manager) dial(ctx context.Context) (Client, error) {
	token := ""
	if m.tokens != nil {
		t, err := m.tokens.Token(ctx)
		if err != nil {
			m.logger.Warn("token source failed, connecting unauthenticated", "error", err)
		} else {
			token = t
		}
	}

	cli := m.newClient(ClientConfig{
		URL:              m.cfg.GatewayURL,
		Token:            token,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		PingInterval:     m.cfg.PingInterval,
		StaleTimeout:     m.cfg.StaleTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.MessageBufferSize,
		OnDropped: func() {
			m.dropped.Add(1)
			m.metrics.recordInboundDrop()
		},
	}, m.logger)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	if err := cli.Connect(dialCtx); err != nil {
		cli.Close()
		if dialCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %w", ErrConnectTimeout, m.cfg.ConnectTimeout, err)
		}
		return nil, err
	}
	return cli, nil
}

// serve adopts an open transport, performs the on-connect side effects,
// then pumps inbound traffic until the transport fails.
func (m *manager) serve(ctx context.Context, gen uint64, cli Client, bo *backoff.ExponentialBackOff) error {
	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		cli.Close()
		return ErrManagerClosed
	}
	m.client = cli
	m.attempts = 0
	m.lastErr = nil
	changed := m.setStateLocked(StateConnected)
	m.mu.Unlock()

	if changed {
		m.announce(StateConnected)
	}
	bo.Reset()
	m.logger.Info("connected", "url", m.cfg.GatewayURL)

	m.flushQueue(ctx, cli)
	m.replaySubscriptions(ctx, cli)

	err := m.pump(ctx, cli)

	m.mu.Lock()
	if m.client == cli {
		m.client = nil
	}
	m.mu.Unlock()
	cli.Close()
	return err
}

// pump dispatches inbound messages until the transport reports a failure
// or the lifecycle is canceled.
func (m *manager) pump(ctx context.Context, cli Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-cli.Errors():
			if !ok {
				return ErrTransportClosed
			}
			return err
		case tm, ok := <-cli.Messages():
			if !ok {
				return ErrTransportClosed
			}
			m.dispatch(tm)
		}
	}
}

// dispatch parses one inbound frame and invokes the registered handler.
// Malformed frames and unknown tags are dropped without touching
// connection state.
func (m *manager) dispatch(tm TimestampedMessage) {
	m.received.Add(1)
	m.metrics.recordReceived()

	var msg Message
	if err := json.Unmarshal(tm.Data, &msg); err != nil {
		m.parseErrors.Add(1)
		m.metrics.recordParseError()
		m.logger.Debug("dropping malformed frame", "error", err)
		return
	}
	if msg.Type == "" {
		m.parseErrors.Add(1)
		m.metrics.recordParseError()
		m.logger.Debug("dropping frame without type tag")
		return
	}
	msg.ReceivedAt = tm.ReceivedAt

	fn, ok := m.registry.lookup(msg.Type)
	if !ok {
		m.unknown.Add(1)
		m.metrics.recordUnknownType(msg.Type)
		return
	}

	start := time.Now()
	fn(msg)
	m.dispatched.Add(1)
	m.metrics.recordDispatch(msg.Type, time.Since(start))
}

// flushQueue transmits queued messages in FIFO order. On failure the
// unsent remainder goes back to the head of the queue so order holds
// across reconnects.
func (m *manager) flushQueue(ctx context.Context, cli Client) {
	pending := m.queue.DrainTo(0)
	if len(pending) == 0 {
		return
	}
	m.logger.Info("flushing outbound queue", "pending", len(pending))
	for i, om := range pending {
		if err := m.writeDirective(ctx, cli, om); err != nil {
			m.queue.Requeue(pending[i:])
			m.logger.Warn("queue flush interrupted",
				"sent", i, "requeued", len(pending)-i, "error", err)
			return
		}
	}
}

// replaySubscriptions re-issues one subscribe directive per set member.
func (m *manager) replaySubscriptions(ctx context.Context, cli Client) {
	subs := m.Subscriptions()
	if len(subs) == 0 {
		return
	}
	m.logger.Info("replaying subscriptions", "count", len(subs))
	for _, ch := range subs {
		if err := m.writeDirective(ctx, cli, OutboundMessage{Type: "subscribe", Channel: ch}); err != nil {
			m.logger.Warn("subscription replay interrupted", "channel", ch, "error", err)
			return
		}
	}
}

// writeDirective rate-limits lifecycle writes so a large replay or queue
// flush cannot flood the gateway right after connecting.
func (m *manager) writeDirective(ctx context.Context, cli Client, om OutboundMessage) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	return m.write(cli, om)
}

// write marshals and sends one outbound message.
func (m *manager) write(cli Client, om OutboundMessage) error {
	data, err := json.Marshal(om)
	if err != nil {
		return err
	}
	if err := cli.Send(data); err != nil {
		return err
	}
	m.sentCount.Add(1)
	m.metrics.recordSent(om.Type)
	if om.Type == "subscribe" || om.Type == "unsubscribe" {
		m.metrics.recordDirective(om.Type)
	}
	return nil
}

// failed records a connection failure and decides whether to retry.
// Returns false when the lifecycle must stop.
func (m *manager) failed(gen uint64, err error) bool {
	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.attempts++
	attempts := m.attempts
	exhausted := m.cfg.MaxReconnectAttempts > 0 && attempts >= m.cfg.MaxReconnectAttempts
	next := StateReconnecting
	if exhausted {
		next = StateError
		m.lastErr = fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
	} else {
		m.lastErr = err
	}
	changed := m.setStateLocked(next)
	m.mu.Unlock()

	if changed {
		m.announce(next)
	}
	if exhausted {
		m.logger.Error("reconnect attempts exhausted", "attempts", attempts, "error", err)
		return false
	}

	m.reconnects.Add(1)
	m.metrics.recordReconnect()
	m.logger.Warn("connection lost",
		"attempt", attempts,
		"max_attempts", m.cfg.MaxReconnectAttempts,
		"error", err,
	)
	return true
}

// transition moves the lifecycle to s unless it has been superseded.
func (m *manager) transition(gen uint64, s State) bool {
	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return false
	}
	changed := m.setStateLocked(s)
	m.mu.Unlock()

	if changed {
		m.announce(s)
	}
	return true
}

// setStateLocked updates state and reports whether it changed.
// Caller must hold mu.
func (m *manager) setStateLocked(s State) bool {
	if m.state == s {
		return false
	}
	m.state = s
	return true
}

// announce invokes the state listener outside of mu.
func (m *manager) announce(s State) {
	if m.onState != nil {
		m.onState(s)
	}
}

func (m *manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// newBackoff builds the reconnect delay schedule. Randomization is off so
// the delay sequence is a deterministic function of the attempt count.
func (m *manager) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.ReconnectBaseDelay
	bo.MaxInterval = m.cfg.ReconnectMaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()
	return bo
}
