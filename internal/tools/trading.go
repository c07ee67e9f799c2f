package tools

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/mirfaizal/ai-finance-assistant/internal/ledger"
	"github.com/mirfaizal/ai-finance-assistant/internal/market"
	"github.com/mirfaizal/ai-finance-assistant/internal/metrics"
)

// Ledger is the part of the paper-trading ledger the tools need
type Ledger interface {
	Buy(ctx context.Context, sessionID, ticker string, shares, price float64) (*ledger.Receipt, error)
	Sell(ctx context.Context, sessionID, ticker string, shares, price float64) (*ledger.Receipt, error)
	GetHoldings(ctx context.Context, sessionID string) ([]ledger.Holding, error)
	GetTrades(ctx context.Context, sessionID string, lastN int) ([]ledger.Trade, error)
}

const paperNote = "This is a paper trade. No real money was used."

// tradeHistoryLimit is how many trades view_trade_history shows
const tradeHistoryLimit = 20

// NewTradingTools builds buy/sell/holdings/history tools bound to one
// session. Orders execute at the provider's live price.
func NewTradingTools(l Ledger, quotes market.Provider, sessionID string, m *metrics.Metrics) []Tool {
	orderParams := []ParameterDef{
		{Name: "ticker", Type: "string", Description: "Ticker symbol, e.g. AAPL", Required: true},
		{Name: "shares", Type: "number", Description: "Number of shares; fractions allowed", Required: true},
	}

	order := func(action string) func(ctx context.Context, args map[string]any) (string, error) {
		return func(ctx context.Context, args map[string]any) (string, error) {
			ticker := ledger.NormalizeTicker(stringArg(args, "ticker"))
			shares := floatArg(args, "shares", 0)
			if shares <= 0 || math.IsInf(shares, 0) {
				m.RecordOrder(action, "invalid")
				return "", fmt.Errorf("shares must be a positive number")
			}

			q, err := livePrice(ctx, quotes, ticker)
			if err != nil {
				m.RecordOrder(action, "no_price")
				return "", err
			}

			var r *ledger.Receipt
			if action == ledger.ActionBuy {
				r, err = l.Buy(ctx, sessionID, ticker, shares, q.Price)
			} else {
				r, err = l.Sell(ctx, sessionID, ticker, shares, q.Price)
			}
			if err != nil {
				m.RecordOrder(action, orderStatus(err))
				return "", err
			}
			m.RecordOrder(action, "ok")
			return toJSON(receiptView(r))
		}
	}

	buy := NewFunc("buy_stock",
		"Buy shares of a stock at the current live market price (paper trading only). Updates the weighted-average cost basis.",
		orderParams, order(ledger.ActionBuy))

	sell := NewFunc("sell_stock",
		"Sell shares of a stock at the current live market price (paper trading only). Fails if the session does not hold enough shares.",
		orderParams, order(ledger.ActionSell))

	holdings := NewFunc("view_holdings",
		"View all current paper-portfolio holdings for this session: ticker, shares, average cost and last update.",
		nil,
		func(ctx context.Context, _ map[string]any) (string, error) {
			hs, err := l.GetHoldings(ctx, sessionID)
			if err != nil {
				return "", err
			}
			if len(hs) == 0 {
				return toJSON(map[string]any{
					"holdings": []ledger.Holding{},
					"count":    0,
					"message":  "Your paper portfolio is empty. Use buy_stock to add your first position.",
				})
			}
			return toJSON(map[string]any{"holdings": hs, "count": len(hs)})
		})

	history := NewFunc("view_trade_history",
		fmt.Sprintf("View the most recent paper trades (last %d) for this session, newest first.", tradeHistoryLimit),
		nil,
		func(ctx context.Context, _ map[string]any) (string, error) {
			trades, err := l.GetTrades(ctx, sessionID, tradeHistoryLimit)
			if err != nil {
				return "", err
			}
			return toJSON(map[string]any{"trades": trades, "count": len(trades)})
		})

	return []Tool{buy, sell, holdings, history}
}

func orderStatus(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ledger.ErrInvalidOrder):
		return "invalid"
	default:
		return "error"
	}
}

func receiptView(r *ledger.Receipt) map[string]any {
	t := r.Trade
	view := map[string]any{
		"status": "confirmed",
		"note":   paperNote,
		"ticker": t.Ticker,
		"action": t.Action,
		"price":  t.Price,
	}
	if t.Action == ledger.ActionBuy {
		view["shares_bought"] = t.Shares
		view["total_cost"] = round2(t.TotalValue)
		view["new_position"] = map[string]any{
			"shares":   r.Position.Shares,
			"avg_cost": round2(r.Position.AvgCost),
		}
		return view
	}
	view["shares_sold"] = t.Shares
	view["proceeds"] = round2(t.TotalValue)
	view["realized_pnl"] = round2(r.RealizedPnL)
	view["remaining_shares"] = r.Position.Shares
	return view
}
