package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mirfaizal/ai-finance-assistant/internal/agent"
	"github.com/mirfaizal/ai-finance-assistant/internal/config"
	"github.com/mirfaizal/ai-finance-assistant/internal/knowledge"
	"github.com/mirfaizal/ai-finance-assistant/internal/ledger"
	"github.com/mirfaizal/ai-finance-assistant/internal/llm"
	"github.com/mirfaizal/ai-finance-assistant/internal/logger"
	"github.com/mirfaizal/ai-finance-assistant/internal/market"
	"github.com/mirfaizal/ai-finance-assistant/internal/memory"
	"github.com/mirfaizal/ai-finance-assistant/internal/metrics"
	"github.com/mirfaizal/ai-finance-assistant/internal/orchestrator"
	"github.com/mirfaizal/ai-finance-assistant/internal/router"
	"github.com/mirfaizal/ai-finance-assistant/internal/storage"
	"github.com/mirfaizal/ai-finance-assistant/internal/websearch"
)

// App holds every long-lived component. All stores share one database.
type App struct {
	Config    *config.Config
	Prompts   *config.PromptConfig
	Memory    *memory.SQLiteStore
	Ledger    *ledger.Store
	Knowledge *knowledge.Store // nil when disabled
	Quotes    market.Provider
	Metrics   *metrics.Metrics

	db     *sql.DB
	orch   *orchestrator.Orchestrator
	llmErr error
}

type appOptions struct {
	client      llm.Client
	quotes      market.Provider
	search      websearch.Provider
	toolHandler func(name, args, result string, ok bool)
}

// Option customises NewApp
type Option func(*appOptions)

// WithLLMClient replaces the configured model client
func WithLLMClient(c llm.Client) Option {
	return func(o *appOptions) { o.client = c }
}

// WithQuoteProvider replaces the configured market data provider
func WithQuoteProvider(p market.Provider) Option {
	return func(o *appOptions) { o.quotes = p }
}

// WithSearchProvider replaces the configured web search provider
func WithSearchProvider(p websearch.Provider) Option {
	return func(o *appOptions) { o.search = p }
}

// WithToolCallHandler observes tool calls made by specialists
func WithToolCallHandler(fn func(name, args, result string, ok bool)) Option {
	return func(o *appOptions) { o.toolHandler = fn }
}

// ErrNoModel is returned by Ask when no model client could be built
var ErrNoModel = errors.New("no language model configured")

// NewApp opens the database and wires the stores, providers and the
// orchestrator. A missing API key does not fail here; store-only commands
// keep working and Ask reports the problem.
func NewApp(ctx context.Context, cfg *config.Config, prompts *config.PromptConfig, opts ...Option) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}
	if prompts == nil {
		prompts = config.DefaultPromptConfig()
	}

	db, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Prompts: prompts, Metrics: metrics.New(), db: db}

	if a.Memory, err = memory.NewSQLiteStoreFromDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if a.Ledger, err = ledger.NewStoreFromDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	a.Quotes = o.quotes
	if a.Quotes == nil {
		a.Quotes = newQuoteProvider(cfg.Market)
	}
	search := o.search
	if search == nil {
		search = websearch.New(cfg.WebSearch)
	}

	var retriever knowledge.Retriever
	if cfg.Knowledge.Enabled {
		ks, err := knowledge.NewStoreFromDB(ctx, db, knowledge.NewEmbedder(cfg.Knowledge.Embedding))
		if err != nil {
			db.Close()
			return nil, err
		}
		ks.SetMinScore(cfg.Knowledge.MinScore)
		if n, err := ks.SeedAcademy(ctx, cfg.Knowledge.ChunkSize); err != nil {
			logger.Warn("knowledge seed failed", "error", err)
		} else if n > 0 {
			logger.Info("knowledge seeded", "chunks", n)
		}
		a.Knowledge = ks
		retriever = ks
	}

	client := o.client
	if client == nil {
		if client, err = llm.New(cfg.Model); err != nil {
			a.llmErr = fmt.Errorf("%w: %v", ErrNoModel, err)
			logger.Warn("model client unavailable", "error", err)
		}
	}
	if client == nil {
		return a, nil
	}

	catalogue := agent.NewCatalogue(agent.Deps{
		Ledger:        a.Ledger,
		Quotes:        a.Quotes,
		Search:        search,
		Knowledge:     retriever,
		KnowledgeTopK: cfg.Knowledge.TopK,
		WebSearch:     cfg.WebSearch,
		Metrics:       a.Metrics,
	})
	loopOpts := []agent.Option{agent.WithMetrics(a.Metrics)}
	if o.toolHandler != nil {
		loopOpts = append(loopOpts, agent.WithToolCallHandler(o.toolHandler))
	}

	a.orch = orchestrator.New(orchestrator.Deps{
		Store:       a.Memory,
		Router:      router.New(client, prompts.Router, catalogue.Specialists(), cfg.Router, router.WithMetrics(a.Metrics)),
		Loop:        agent.NewLoop(client, loopOpts...),
		Catalogue:   catalogue,
		Synthesizer: memory.NewSynthesizer(client, prompts.Synthesizer),
		Prompts:     prompts,
		Agents:      cfg.Agents,
		Metrics:     a.Metrics,
	})
	return a, nil
}

func newQuoteProvider(cfg config.MarketConfig) market.Provider {
	if cfg.Provider == "static" {
		return market.NewStaticProvider(nil)
	}
	yahoo := market.NewYahooProvider(cfg.BaseURL, cfg.UserAgent, time.Duration(cfg.TimeoutSeconds)*time.Second)
	return market.NewCachedProvider(yahoo, time.Duration(cfg.CacheTTLSeconds)*time.Second)
}

// Ask runs one conversation turn
func (a *App) Ask(ctx context.Context, question, sessionID string) (*orchestrator.Result, error) {
	if a.orch == nil {
		return nil, a.llmErr
	}
	return a.orch.ProcessQuery(ctx, question, sessionID)
}

// TradeAtMarket applies a paper order at the provider's live price
func (a *App) TradeAtMarket(ctx context.Context, action, sessionID, ticker string, shares float64) (*ledger.Receipt, error) {
	ticker = ledger.NormalizeTicker(ticker)
	q, err := a.Quotes.Quote(ctx, ticker)
	if err != nil {
		a.Metrics.RecordOrder(action, "no_price")
		return nil, fmt.Errorf("quote %s: %w", ticker, err)
	}
	if q == nil {
		a.Metrics.RecordOrder(action, "no_price")
		return nil, fmt.Errorf("no quote found for %s", ticker)
	}
	return a.Trade(ctx, action, sessionID, ticker, shares, q.Price)
}

// Trade applies a paper order at the given price, outside any
// conversation. The ledger rejects non-positive prices.
func (a *App) Trade(ctx context.Context, action, sessionID, ticker string, shares, price float64) (*ledger.Receipt, error) {
	ticker = ledger.NormalizeTicker(ticker)
	var (
		r   *ledger.Receipt
		err error
	)
	switch action {
	case ledger.ActionBuy:
		r, err = a.Ledger.Buy(ctx, sessionID, ticker, shares, price)
	case ledger.ActionSell:
		r, err = a.Ledger.Sell(ctx, sessionID, ticker, shares, price)
	default:
		return nil, fmt.Errorf("unknown trade action %q", action)
	}
	status := "ok"
	switch {
	case errors.Is(err, ledger.ErrInsufficientShares):
		status = "insufficient_shares"
	case errors.Is(err, ledger.ErrInvalidOrder):
		status = "invalid"
	case err != nil:
		status = "error"
	}
	a.Metrics.RecordOrder(action, status)
	return r, err
}

// ServeMetrics exposes Prometheus metrics on addr until ctx is done
func (a *App) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close releases the database
func (a *App) Close() error {
	return a.db.Close()
}
