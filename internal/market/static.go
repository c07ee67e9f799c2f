package market

import (
	"context"
	"sync"
	"time"
)

// StaticProvider serves fixed prices; used offline and in tests
type StaticProvider struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStaticProvider creates a provider from ticker -> price
func NewStaticProvider(prices map[string]float64) *StaticProvider {
	p := &StaticProvider{quotes: make(map[string]Quote, len(prices))}
	for t, price := range prices {
		p.Set(Quote{Ticker: t, Price: price})
	}
	return p
}

func (p *StaticProvider) Name() string {
	return "static"
}

// Set adds or replaces a quote
func (p *StaticProvider) Set(q Quote) {
	q.Ticker = normalize(q.Ticker)
	if q.AsOf.IsZero() {
		q.AsOf = time.Now()
	}
	p.mu.Lock()
	p.quotes[q.Ticker] = *withChange(&q)
	p.mu.Unlock()
}

func (p *StaticProvider) Quote(ctx context.Context, ticker string) (*Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	q, ok := p.quotes[normalize(ticker)]
	p.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &q, nil
}
