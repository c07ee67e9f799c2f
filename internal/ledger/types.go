// Package ledger is the paper-trading ledger: current holdings and an
// append-only trade history per session.
package ledger

import "time"

// Trade actions.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// shareEpsilon absorbs float drift when comparing share counts.
const shareEpsilon = 1e-9

// Holding is a position in one ticker
type Holding struct {
	SessionID string    `json:"session_id"`
	Ticker    string    `json:"ticker"`
	Shares    float64   `json:"shares"`
	AvgCost   float64   `json:"avg_cost"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CostBasis is shares times average cost
func (h Holding) CostBasis() float64 {
	return h.Shares * h.AvgCost
}

// Trade is an immutable ledger entry
type Trade struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Ticker     string    `json:"ticker"`
	Action     string    `json:"action"`
	Shares     float64   `json:"shares"`
	Price      float64   `json:"price"`
	TotalValue float64   `json:"total_value"`
	CreatedAt  time.Time `json:"created_at"`
}

// Receipt describes an applied order
type Receipt struct {
	Trade    Trade   `json:"trade"`
	Position Holding `json:"position"`
	// RealizedPnL is (price - avg_cost) * shares for sells, zero for buys
	RealizedPnL float64 `json:"realized_pnl"`
}
