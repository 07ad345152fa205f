package model

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

func TestQuotePayload_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		bid     string
		ask     string
		price   string
	}{
		{
			name:    "numeric prices",
			payload: `{"bid":101.25,"ask":101.75,"price":101.5,"volume":42000}`,
			bid:     "101.25",
			ask:     "101.75",
			price:   "101.5",
		},
		{
			name:    "string prices",
			payload: `{"bid":"0.0001","ask":"0.0003","price":"0.0002"}`,
			bid:     "0.0001",
			ask:     "0.0003",
			price:   "0.0002",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p QuotePayload
			if err := json.Unmarshal([]byte(tt.payload), &p); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}

			if got := p.Bid.String(); got != tt.bid {
				t.Errorf("Bid = %s, want %s", got, tt.bid)
			}
			if got := p.Ask.String(); got != tt.ask {
				t.Errorf("Ask = %s, want %s", got, tt.ask)
			}
			if got := p.Price.String(); got != tt.price {
				t.Errorf("Price = %s, want %s", got, tt.price)
			}
		})
	}
}

func TestTradePayload_Unmarshal(t *testing.T) {
	payload := `{"trade_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","price":"99.99","size":250,"side":"buy"}`

	var p TradePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if p.TradeID != "6ba7b810-9dad-11d1-80b4-00c04fd430c8" {
		t.Errorf("TradeID = %s, want 6ba7b810-9dad-11d1-80b4-00c04fd430c8", p.TradeID)
	}
	if p.Price.String() != "99.99" {
		t.Errorf("Price = %s, want 99.99", p.Price)
	}
	if p.Size != 250 {
		t.Errorf("Size = %d, want 250", p.Size)
	}
	if p.Side != "buy" {
		t.Errorf("Side = %q, want %q", p.Side, "buy")
	}
}

func TestQuote_Mid(t *testing.T) {
	q := Quote{
		Bid: decimal.RequireFromString("100"),
		Ask: decimal.RequireFromString("102"),
	}
	if got := q.Mid().String(); got != "101" {
		t.Errorf("Mid = %s, want 101", got)
	}
}

func TestQuote_Mid_OneSided(t *testing.T) {
	q := Quote{
		Ask:  decimal.RequireFromString("102"),
		Last: decimal.RequireFromString("101.5"),
	}
	// No bid: fall back to last price.
	if got := q.Mid().String(); got != "101.5" {
		t.Errorf("Mid = %s, want 101.5", got)
	}
}

func TestQuote_Spread(t *testing.T) {
	q := Quote{
		Bid: decimal.RequireFromString("100.25"),
		Ask: decimal.RequireFromString("100.75"),
	}
	if got := q.Spread().String(); got != "0.5" {
		t.Errorf("Spread = %s, want 0.5", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{
			name:  "rfc3339",
			input: "2026-08-21T14:30:00Z",
			want:  time.Date(2026, 8, 21, 14, 30, 0, 0, time.UTC),
		},
		{
			name:  "rfc3339 with nanos",
			input: "2026-08-21T14:30:00.123456789Z",
			want:  time.Date(2026, 8, 21, 14, 30, 0, 123456789, time.UTC),
		},
		{
			name:  "empty",
			input: "",
			want:  time.Time{},
		},
		{
			name:  "garbage",
			input: "not-a-timestamp",
			want:  time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTimestamp(tt.input)
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTimestampMicros(t *testing.T) {
	want := time.Date(2026, 8, 21, 14, 30, 0, 0, time.UTC).UnixMicro()
	if got := TimestampMicros("2026-08-21T14:30:00Z"); got != want {
		t.Errorf("TimestampMicros = %d, want %d", got, want)
	}
	if got := TimestampMicros(""); got != 0 {
		t.Errorf("TimestampMicros(\"\") = %d, want 0", got)
	}
	if got := TimestampMicros("bogus"); got != 0 {
		t.Errorf("TimestampMicros(garbage) = %d, want 0", got)
	}
}
