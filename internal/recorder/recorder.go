package recorder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradedash/marketfeed/internal/feed"
	"github.com/tradedash/marketfeed/internal/model"
)

// Config sizes the recorder's intake and batching.
type Config struct {
	BatchSize     int           // Rows per INSERT batch
	FlushInterval time.Duration // Max time a tick waits before a flush
	BufferSize    int           // Initial intake buffer capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// RecorderStats is a point-in-time snapshot of recorder counters.
type RecorderStats struct {
	Recorded  int64 `json:"recorded"`  // Ticks accepted for persistence
	Malformed int64 `json:"malformed"` // Messages skipped as undecodable
	Inserts   int64 `json:"inserts"`   // Rows written
	Conflicts int64 `json:"conflicts"` // Rows already present (deduplicated)
	Errors    int64 `json:"errors"`    // Failed batch writes
	Flushes   int64 `json:"flushes"`   // Successful batch writes
	Pending   int   `json:"pending"`   // Ticks accepted but not yet written
}

// Recorder consumes parsed gateway messages and persists them to the
// ticks table in batches.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	// Intake from the feed dispatch goroutine
	input *feed.GrowableBuffer[model.Tick]

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []model.Tick
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	consumerDone chan struct{}

	recorded  atomic.Int64
	malformed atomic.Int64

	// Database counters, guarded by batchMu
	inserts   int64
	conflicts int64
	errors    int64
	flushes   int64
}

// NewRecorder creates a Recorder writing to db.
func NewRecorder(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	return &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  feed.NewGrowableBuffer[model.Tick](cfg.BufferSize),
		batch:  make([]model.Tick, 0, cfg.BatchSize),
	}
}

// Start begins consuming queued ticks and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.consumerDone = make(chan struct{})
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the intake buffer, waits for the workers, and writes
// whatever is still batched. ctx bounds the drain and the final flush.
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil // never started
	}
	r.logger.Info("stopping recorder")

	// Closing the intake wakes the consumer; it drains buffered ticks
	// and exits. The run context stays live until the drain finishes so
	// batch-full flushes during it still reach the database.
	r.input.Close()

	select {
	case <-r.consumerDone:
	case <-ctx.Done():
		r.logger.Warn("recorder drain timed out", "pending", r.input.Len())
	}

	r.cancel()
	r.flushTicker.Stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	// Final flush runs on the caller's context; the run context is
	// canceled by now.
	r.flush(ctx)

	r.logger.Info("recorder stopped")
	return nil
}

// Record converts one gateway message into a tick and queues it for
// persistence. Messages without a symbol or with an undecodable payload
// are counted malformed and skipped.
func (r *Recorder) Record(msg feed.Message) {
	tick, ok := r.tickFrom(msg)
	if !ok {
		r.malformed.Add(1)
		r.logger.Debug("skipping unrecordable message", "type", msg.Type, "symbol", msg.Symbol)
		return
	}
	if !r.input.Send(tick) {
		return // shutting down
	}
	r.recorded.Add(1)
}

// Stats returns current counters. Pending covers both the intake buffer
// and the unflushed batch.
func (r *Recorder) Stats() RecorderStats {
	r.batchMu.Lock()
	s := RecorderStats{
		Inserts:   r.inserts,
		Conflicts: r.conflicts,
		Errors:    r.errors,
		Flushes:   r.flushes,
		Pending:   len(r.batch),
	}
	r.batchMu.Unlock()

	s.Recorded = r.recorded.Load()
	s.Malformed = r.malformed.Load()
	s.Pending += r.input.Len()
	return s
}

// consumeLoop moves ticks from the intake buffer into the batch. It
// exits once the buffer is closed and drained.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()
	defer close(r.consumerDone)

	for {
		tick, ok := r.input.Receive()
		if !ok {
			return
		}
		r.handleTick(tick)
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		}
	}
}

// handleTick appends a tick to the batch, flushing once the batch fills.
func (r *Recorder) handleTick(tick model.Tick) {
	r.batchMu.Lock()
	r.batch = append(r.batch, tick)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(r.ctx)
	}
}

// tickFrom maps a gateway envelope to a storage tick. Trade ticks adopt
// the gateway trade ID when it parses as a UUID so redelivered trades
// deduplicate on insert; everything else gets a fresh ID.
func (r *Recorder) tickFrom(msg feed.Message) (model.Tick, bool) {
	if msg.Symbol == "" {
		return model.Tick{}, false
	}

	switch msg.Type {
	case "trade":
		var p model.TradePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return model.Tick{}, false
		}
		id, err := uuid.Parse(p.TradeID)
		if err != nil {
			id = uuid.New()
		}
		return model.Tick{
			ID:         id,
			Symbol:     msg.Symbol,
			Kind:       model.TickTrade,
			Price:      p.Price,
			Size:       p.Size,
			ExchangeTS: model.TimestampMicros(msg.Timestamp),
			ReceivedAt: msg.ReceivedAt.UnixMicro(),
		}, true

	case "quote_update":
		var p model.QuotePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return model.Tick{}, false
		}
		return model.Tick{
			ID:         uuid.New(),
			Symbol:     msg.Symbol,
			Kind:       model.TickQuote,
			Price:      p.Price,
			ExchangeTS: model.TimestampMicros(msg.Timestamp),
			ReceivedAt: msg.ReceivedAt.UnixMicro(),
		}, true

	default:
		return model.Tick{}, false
	}
}

// flush takes ownership of the current batch and writes it. On failure
// the rows go back to the front of the batch so nothing is dropped.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}
	batch := r.batch
	r.batch = make([]model.Tick, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(ctx, batch)
	if err != nil {
		r.logger.Error("tick batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.errors++
		r.batch = append(batch, r.batch...)
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.inserts += int64(len(batch) - conflicts)
	r.conflicts += int64(conflicts)
	r.flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed ticks",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert writes rows using pgx.Batch with ON CONFLICT DO NOTHING.
// A zero RowsAffected means the tick was already stored. IDs and prices
// travel as strings; uuid and numeric columns parse them exactly.
func (r *Recorder) batchInsert(ctx context.Context, rows []model.Tick) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, t := range rows {
		batch.Queue(`
			INSERT INTO ticks (id, symbol, kind, price, size, exchange_ts, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, t.ID.String(), t.Symbol, t.Kind, t.Price.String(), t.Size, t.ExchangeTS, t.ReceivedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
