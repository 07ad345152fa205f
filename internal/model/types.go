package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Wire Payloads
// -----------------------------------------------------------------------------

// QuotePayload is the data field of a quote_update message: the gateway's
// current top-of-book and last-trade view for one symbol. Prices arrive as
// JSON numbers or strings; decimal.Decimal accepts both without losing
// digits. The gateway timestamp travels on the envelope, not here.
type QuotePayload struct {
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Price  decimal.Decimal `json:"price"`            // Last trade price
	Volume int64           `json:"volume,omitempty"` // Cumulative session volume
}

// TradePayload is the data field of a trade message: one execution
// reported by the gateway.
type TradePayload struct {
	TradeID string          `json:"trade_id,omitempty"` // Gateway trade UUID, may be absent
	Price   decimal.Decimal `json:"price"`
	Size    int64           `json:"size"`
	Side    string          `json:"side,omitempty"` // "buy" or "sell", taker side
}

// -----------------------------------------------------------------------------
// Dashboard Types
// -----------------------------------------------------------------------------

// Quote is the last-known market state for one symbol, as served to the
// dashboard.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Last       decimal.Decimal `json:"last"`
	Volume     int64           `json:"volume"`
	Timestamp  string          `json:"timestamp,omitempty"` // Gateway timestamp as sent
	ReceivedAt time.Time       `json:"received_at"`
	Stale      bool            `json:"stale"` // No update within the configured age
}

// Mid returns the bid/ask midpoint, or the last price when either side
// of the book is missing.
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsZero() || q.Ask.IsZero() {
		return q.Last
	}
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// Spread returns ask minus bid.
func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// -----------------------------------------------------------------------------
// Storage Types
// -----------------------------------------------------------------------------

// Tick kinds.
const (
	TickTrade = "trade"
	TickQuote = "quote"
)

// Tick is one market observation bound for the tick store. Trade ticks
// reuse the gateway trade ID for row identity so redelivered trades
// deduplicate on insert; quote ticks get a fresh ID.
type Tick struct {
	ID         uuid.UUID       // Row identity
	Symbol     string          // Market symbol (e.g., "AAPL")
	Kind       string          // TickTrade or TickQuote
	Price      decimal.Decimal // Trade price, or the quote's last price
	Size       int64           // Trade size; 0 for quote ticks
	ExchangeTS int64           // Gateway timestamp (µs since epoch), 0 if not provided
	ReceivedAt int64           // Local receive timestamp (µs since epoch)
}

// ParseTimestamp parses a gateway RFC 3339 timestamp. Returns the zero
// time for empty or unparseable input; gateway clock data is advisory.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// TimestampMicros converts a gateway RFC 3339 timestamp to µs since the
// epoch, 0 when absent or unparseable.
func TimestampMicros(s string) int64 {
	t := ParseTimestamp(s)
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}
