// Package market provides stock quotes behind a small provider interface.
package market

import (
	"context"
	"strings"
	"time"
)

// Quote is the latest price of one symbol
type Quote struct {
	Ticker        string    `json:"ticker"`
	Name          string    `json:"name,omitempty"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previous_close,omitempty"`
	Change        float64   `json:"change"`
	ChangePct     float64   `json:"change_pct"`
	Currency      string    `json:"currency,omitempty"`
	AsOf          time.Time `json:"as_of"`
}

// Provider looks up quotes. A nil quote with a nil error means the symbol
// does not exist; errors are reserved for transport failures.
type Provider interface {
	Name() string
	Quote(ctx context.Context, ticker string) (*Quote, error)
}

// Index symbols used for the market overview
var Indices = []struct {
	Symbol string
	Name   string
}{
	{"^GSPC", "S&P 500"},
	{"^IXIC", "Nasdaq Composite"},
	{"^DJI", "Dow Jones Industrial Average"},
	{"^VIX", "CBOE Volatility Index"},
}

func normalize(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func withChange(q *Quote) *Quote {
	if q.PreviousClose > 0 {
		q.Change = q.Price - q.PreviousClose
		q.ChangePct = q.Change / q.PreviousClose * 100
	}
	return q
}
