package market

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedProvider memoizes quotes for a fixed TTL. Concurrent misses for the
// same ticker share one upstream request. Not-found answers are cached too;
// errors are not.
type CachedProvider struct {
	inner Provider
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

type cacheEntry struct {
	quote   *Quote
	expires time.Time
}

// NewCachedProvider wraps inner; ttl <= 0 disables caching but keeps
// request coalescing
func NewCachedProvider(inner Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedProvider) Name() string {
	return c.inner.Name() + "+cache"
}

func (c *CachedProvider) Quote(ctx context.Context, ticker string) (*Quote, error) {
	key := normalize(ticker)

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return copyQuote(e.quote), nil
	}
	c.mu.Unlock()

	// The shared fetch ignores the starting caller's cancellation; each
	// caller stops waiting on its own ctx. The inner provider has its own
	// timeout.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		q, err := c.inner.Quote(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.mu.Lock()
			c.entries[key] = cacheEntry{quote: copyQuote(q), expires: c.now().Add(c.ttl)}
			c.mu.Unlock()
		}
		return q, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		q, _ := res.Val.(*Quote)
		return copyQuote(q), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports how many tickers are cached, expired entries included
func (c *CachedProvider) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func copyQuote(q *Quote) *Quote {
	if q == nil {
		return nil
	}
	cp := *q
	return &cp
}
