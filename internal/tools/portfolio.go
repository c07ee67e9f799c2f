package tools

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/mirfaizal/ai-finance-assistant/internal/ledger"
	"github.com/mirfaizal/ai-finance-assistant/internal/market"
)

// maxQuoteFanout bounds concurrent quote lookups for one portfolio
const maxQuoteFanout = 4

type positionValue struct {
	Ticker        string  `json:"ticker"`
	Company       string  `json:"company,omitempty"`
	Shares        float64 `json:"shares"`
	AvgCost       float64 `json:"avg_cost"`
	CurrentPrice  float64 `json:"current_price"`
	CurrentValue  float64 `json:"current_value"`
	CostBasis     float64 `json:"cost_basis"`
	PnL           float64 `json:"pnl"`
	PnLPct        float64 `json:"pnl_pct"`
	AllocationPct float64 `json:"allocation_pct"`
	PriceMissing  bool    `json:"price_missing,omitempty"`
}

// valuePositions prices every holding concurrently. Holdings whose quote
// cannot be fetched are valued at cost and flagged.
func valuePositions(ctx context.Context, quotes market.Provider, holdings []ledger.Holding) ([]positionValue, error) {
	rows := make([]positionValue, len(holdings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxQuoteFanout)
	for i, h := range holdings {
		rows[i] = positionValue{Ticker: h.Ticker, Shares: h.Shares, AvgCost: h.AvgCost, CostBasis: round2(h.CostBasis())}
		g.Go(func() error {
			q, err := quotes.Quote(gctx, h.Ticker)
			if err != nil || q == nil {
				rows[i].CurrentPrice = h.AvgCost
				rows[i].PriceMissing = true
				return nil
			}
			rows[i].CurrentPrice = q.Price
			rows[i].Company = q.Name
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range rows {
		r := &rows[i]
		r.CurrentValue = round2(r.CurrentPrice * r.Shares)
		r.PnL = round2(r.CurrentValue - r.CostBasis)
		if r.CostBasis > 0 {
			r.PnLPct = round2(r.PnL / r.CostBasis * 100)
		}
	}
	return rows, nil
}

// NewPortfolioTools builds the session-bound valuation tools: the
// allocation analysis and the tax-loss scan
func NewPortfolioTools(l Ledger, quotes market.Provider, sessionID string) []Tool {
	analyze := NewFunc("analyze_portfolio",
		"Value this session's paper portfolio at live prices: per-position value, cost basis, P&L, allocation and a summary.",
		nil,
		func(ctx context.Context, _ map[string]any) (string, error) {
			holdings, err := l.GetHoldings(ctx, sessionID)
			if err != nil {
				return "", err
			}
			if len(holdings) == 0 {
				return toJSON(map[string]any{"positions": []positionValue{}, "message": "The paper portfolio is empty."})
			}
			rows, err := valuePositions(ctx, quotes, holdings)
			if err != nil {
				return "", err
			}

			var totalValue, totalCost float64
			for _, r := range rows {
				totalValue += r.CurrentValue
				totalCost += r.CostBasis
			}
			largest := ""
			var largestPct float64
			for i := range rows {
				if totalValue > 0 {
					rows[i].AllocationPct = round2(rows[i].CurrentValue / totalValue * 100)
				}
				if rows[i].AllocationPct > largestPct {
					largest, largestPct = rows[i].Ticker, rows[i].AllocationPct
				}
			}

			summary := map[string]any{
				"total_value":           round2(totalValue),
				"total_cost":            round2(totalCost),
				"total_pnl":             round2(totalValue - totalCost),
				"num_positions":         len(rows),
				"largest_position":      largest,
				"largest_position_pct":  largestPct,
				"concentrated_position": largestPct > 25,
			}
			if totalCost > 0 {
				summary["total_pnl_pct"] = round2((totalValue - totalCost) / totalCost * 100)
			}
			return toJSON(map[string]any{"positions": rows, "summary": summary})
		})

	harvest := NewFunc("find_tax_loss_opportunities",
		"Scan this session's paper portfolio for positions with unrealised losses that could offset capital gains.",
		nil,
		func(ctx context.Context, _ map[string]any) (string, error) {
			holdings, err := l.GetHoldings(ctx, sessionID)
			if err != nil {
				return "", err
			}
			rows, err := valuePositions(ctx, quotes, holdings)
			if err != nil {
				return "", err
			}

			losers := make([]positionValue, 0)
			var total float64
			for _, r := range rows {
				if r.PnL < 0 && !r.PriceMissing {
					losers = append(losers, r)
					total += r.PnL
				}
			}
			sort.Slice(losers, func(i, j int) bool { return losers[i].PnL < losers[j].PnL })

			return toJSON(map[string]any{
				"tax_loss_candidates":    losers,
				"total_harvestable_loss": round2(total),
				"num_candidates":         len(losers),
				"wash_sale_warning": "Selling these positions realises losses that can offset capital gains. " +
					"Buying substantially identical securities within 30 days before or after the sale triggers the wash-sale rule and disallows the loss.",
			})
		})

	return []Tool{analyze, harvest}
}
