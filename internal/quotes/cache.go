package quotes

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc/pool"

	"github.com/tradedash/marketfeed/internal/feed"
	"github.com/tradedash/marketfeed/internal/model"
)

// Config holds last-quote cache settings.
type Config struct {
	// StaleAfter is the age past which a quote is flagged stale.
	StaleAfter time.Duration

	// WatchBuffer is the channel capacity handed to each watcher.
	WatchBuffer int

	// FanoutWorkers bounds concurrent watcher deliveries per update.
	FanoutWorkers int

	// SweepInterval is the cadence of the staleness sweep.
	SweepInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StaleAfter:    30 * time.Second,
		WatchBuffer:   16,
		FanoutWorkers: 4,
		SweepInterval: 5 * time.Second,
	}
}

// CacheStats holds cache counters.
type CacheStats struct {
	Symbols        int   `json:"symbols"`
	Applied        int64 `json:"applied"`
	Malformed      int64 `json:"malformed"`
	Watchers       int   `json:"watchers"`
	DroppedUpdates int64 `json:"dropped_updates"`
}

// watcher is one Watch subscriber. Its channel is closed exactly once,
// under mu, so fanout sends and cancellation never race.
type watcher struct {
	mu     sync.Mutex
	ch     chan model.Quote
	closed bool
}

// push offers q without blocking. A full or closed channel drops the
// update for this watcher only.
func (w *watcher) push(q model.Quote) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.ch <- q:
		return true
	default:
		return false
	}
}

func (w *watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

// Cache holds the latest quote per symbol for the dashboard. It consumes
// quote_update and trade messages through Apply, serves point and snapshot
// reads, and fans live updates out to watchers.
type Cache struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	quotes map[string]model.Quote

	watchMu  sync.Mutex
	watchers map[uint64]*watcher
	nextID   uint64

	applied   atomic.Int64
	malformed atomic.Int64
	dropped   atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCache creates a quote cache. Zero config fields fall back to
// DefaultConfig values.
func NewCache(cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.WatchBuffer <= 0 {
		cfg.WatchBuffer = def.WatchBuffer
	}
	if cfg.FanoutWorkers <= 0 {
		cfg.FanoutWorkers = def.FanoutWorkers
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	return &Cache{
		cfg:      cfg,
		logger:   logger,
		quotes:   make(map[string]model.Quote),
		watchers: make(map[uint64]*watcher),
	}
}

// Start launches the staleness sweeper.
func (c *Cache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.sweepLoop(ctx)

	c.logger.Info("quote cache started",
		"stale_after", c.cfg.StaleAfter,
		"watch_buffer", c.cfg.WatchBuffer,
	)
}

// Stop halts the sweeper and closes all watcher channels.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.watchMu.Lock()
	ws := c.watchers
	c.watchers = make(map[uint64]*watcher)
	c.watchMu.Unlock()

	for _, w := range ws {
		w.close()
	}
	c.logger.Info("quote cache stopped")
}

// Apply folds one inbound message into the cache. quote_update replaces
// the symbol's quote; trade refreshes its last price. Other tags and
// malformed payloads are dropped with a counter.
func (c *Cache) Apply(msg feed.Message) {
	if msg.Symbol == "" {
		c.malformed.Add(1)
		c.logger.Debug("dropping payload without symbol", "type", msg.Type)
		return
	}

	var q model.Quote
	switch msg.Type {
	case "quote_update":
		var p model.QuotePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.malformed.Add(1)
			c.logger.Debug("dropping malformed quote payload", "symbol", msg.Symbol, "error", err)
			return
		}
		q = model.Quote{
			Symbol:     msg.Symbol,
			Bid:        p.Bid,
			Ask:        p.Ask,
			Last:       p.Price,
			Volume:     p.Volume,
			Timestamp:  msg.Timestamp,
			ReceivedAt: msg.ReceivedAt,
		}
		c.mu.Lock()
		c.quotes[msg.Symbol] = q
		c.mu.Unlock()

	case "trade":
		var p model.TradePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.malformed.Add(1)
			c.logger.Debug("dropping malformed trade payload", "symbol", msg.Symbol, "error", err)
			return
		}
		c.mu.Lock()
		q = c.quotes[msg.Symbol]
		q.Symbol = msg.Symbol
		q.Last = p.Price
		q.Timestamp = msg.Timestamp
		q.ReceivedAt = msg.ReceivedAt
		q.Stale = false
		c.quotes[msg.Symbol] = q
		c.mu.Unlock()

	default:
		return
	}

	c.applied.Add(1)
	c.fanout(q)
}

// Get returns the cached quote for symbol.
func (c *Cache) Get(symbol string) (model.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// Snapshot returns all cached quotes sorted by symbol.
func (c *Cache) Snapshot() []model.Quote {
	c.mu.RLock()
	out := make([]model.Quote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, q)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Watch registers a live update subscriber. Every applied quote is offered
// to the returned channel; when it is full the update is dropped for this
// watcher only. cancel unregisters and closes the channel.
func (c *Cache) Watch() (<-chan model.Quote, func()) {
	w := &watcher{ch: make(chan model.Quote, c.cfg.WatchBuffer)}

	c.watchMu.Lock()
	c.nextID++
	id := c.nextID
	c.watchers[id] = w
	c.watchMu.Unlock()

	cancel := func() {
		c.watchMu.Lock()
		delete(c.watchers, id)
		c.watchMu.Unlock()
		w.close()
	}
	return w.ch, cancel
}

// MarkStaleAfter flags quotes not refreshed within age and returns how
// many were newly flagged.
func (c *Cache) MarkStaleAfter(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	marked := 0

	c.mu.Lock()
	for sym, q := range c.quotes {
		if !q.Stale && q.ReceivedAt.Before(cutoff) {
			q.Stale = true
			c.quotes[sym] = q
			marked++
		}
	}
	c.mu.Unlock()

	return marked
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	symbols := len(c.quotes)
	c.mu.RUnlock()

	c.watchMu.Lock()
	watchers := len(c.watchers)
	c.watchMu.Unlock()

	return CacheStats{
		Symbols:        symbols,
		Applied:        c.applied.Load(),
		Malformed:      c.malformed.Load(),
		Watchers:       watchers,
		DroppedUpdates: c.dropped.Load(),
	}
}

// fanout delivers q to every watcher on a bounded worker pool. Slow
// watchers lose the update; they never block the dispatch path.
func (c *Cache) fanout(q model.Quote) {
	c.watchMu.Lock()
	if len(c.watchers) == 0 {
		c.watchMu.Unlock()
		return
	}
	ws := make([]*watcher, 0, len(c.watchers))
	for _, w := range c.watchers {
		ws = append(ws, w)
	}
	c.watchMu.Unlock()

	limit := c.cfg.FanoutWorkers
	if limit > len(ws) {
		limit = len(ws)
	}

	p := pool.New().WithMaxGoroutines(limit)
	for _, w := range ws {
		w := w
		p.Go(func() {
			if !w.push(q) {
				c.dropped.Add(1)
			}
		})
	}
	p.Wait()
}

// sweepLoop periodically flags stale quotes.
func (c *Cache) sweepLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.MarkStaleAfter(c.cfg.StaleAfter); n > 0 {
				c.logger.Debug("flagged stale quotes", "count", n)
			}
		}
	}
}
