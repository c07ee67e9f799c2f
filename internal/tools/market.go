package tools

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mirfaizal/ai-finance-assistant/internal/market"
)

// QuoteTool looks up the latest price of one ticker
type QuoteTool struct {
	provider market.Provider
}

func NewQuoteTool(p market.Provider) *QuoteTool {
	return &QuoteTool{provider: p}
}

func (t *QuoteTool) Name() string {
	return "get_stock_quote"
}

func (t *QuoteTool) Description() string {
	return "Get the latest market price, daily change and company name for a stock or ETF ticker."
}

func (t *QuoteTool) Parameters() []ParameterDef {
	return []ParameterDef{
		{Name: "ticker", Type: "string", Description: "Ticker symbol, e.g. AAPL or SPY", Required: true},
	}
}

func (t *QuoteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	q, err := livePrice(ctx, t.provider, stringArg(args, "ticker"))
	if err != nil {
		return "", err
	}
	return toJSON(q)
}

// livePrice returns a quote or an error naming the unknown ticker
func livePrice(ctx context.Context, p market.Provider, ticker string) (*market.Quote, error) {
	q, err := p.Quote(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("quote for %s unavailable: %w", ticker, err)
	}
	if q == nil {
		return nil, fmt.Errorf("could not find a price for %q; verify the ticker symbol", ticker)
	}
	return q, nil
}

// MarketOverviewTool reports the major US indices
type MarketOverviewTool struct {
	provider market.Provider
}

func NewMarketOverviewTool(p market.Provider) *MarketOverviewTool {
	return &MarketOverviewTool{provider: p}
}

func (t *MarketOverviewTool) Name() string {
	return "get_market_overview"
}

func (t *MarketOverviewTool) Description() string {
	return "Get current levels and daily changes of the S&P 500, Nasdaq, Dow Jones and VIX."
}

func (t *MarketOverviewTool) Parameters() []ParameterDef {
	return nil
}

type indexLevel struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Level     float64 `json:"level,omitempty"`
	Change    float64 `json:"change,omitempty"`
	ChangePct float64 `json:"change_pct,omitempty"`
	Error     string  `json:"error,omitempty"`
}

func (t *MarketOverviewTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	levels := make([]indexLevel, len(market.Indices))
	var failed int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, idx := range market.Indices {
		levels[i] = indexLevel{Symbol: idx.Symbol, Name: idx.Name}
		g.Go(func() error {
			q, err := livePrice(gctx, t.provider, idx.Symbol)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				levels[i].Error = err.Error()
				return nil
			}
			levels[i].Level = round2(q.Price)
			levels[i].Change = round2(q.Change)
			levels[i].ChangePct = round2(q.ChangePct)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if failed == len(levels) {
		return "", fmt.Errorf("market data unavailable")
	}
	return toJSON(map[string]any{"indices": levels})
}
