package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirfaizal/ai-finance-assistant/internal/agent"
	"github.com/mirfaizal/ai-finance-assistant/internal/config"
	"github.com/mirfaizal/ai-finance-assistant/internal/ledger"
	"github.com/mirfaizal/ai-finance-assistant/internal/llm"
	"github.com/mirfaizal/ai-finance-assistant/internal/llm/llmtest"
	"github.com/mirfaizal/ai-finance-assistant/internal/market"
	"github.com/mirfaizal/ai-finance-assistant/internal/memory"
	"github.com/mirfaizal/ai-finance-assistant/internal/metrics"
	"github.com/mirfaizal/ai-finance-assistant/internal/router"
	"github.com/mirfaizal/ai-finance-assistant/internal/storage"
)

type fixture struct {
	orch   *Orchestrator
	store  *memory.SQLiteStore
	ledger *ledger.Store
	quotes *market.StaticProvider
}

type options struct {
	routerLLM llm.Client
	synthLLM  llm.Client
	agents    config.AgentsConfig
}

func newFixture(t *testing.T, model llm.Client, opts options) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(storage.DriverPureGo, filepath.Join(t.TempDir(), "finmate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := memory.NewSQLiteStoreFromDB(ctx, db)
	require.NoError(t, err)
	led, err := ledger.NewStoreFromDB(ctx, db)
	require.NoError(t, err)
	quotes := market.NewStaticProvider(map[string]float64{"AAPL": 150})

	m := metrics.New()
	catalogue := agent.NewCatalogue(agent.Deps{Ledger: led, Quotes: quotes, Metrics: m})
	prompts := config.DefaultPromptConfig()
	routerCfg := config.RouterConfig{UseLLM: opts.routerLLM != nil, ConfidenceFloor: 0.5, TimeoutSeconds: 5}

	var synth *memory.Synthesizer
	if opts.synthLLM != nil {
		synth = memory.NewSynthesizer(opts.synthLLM, prompts.Synthesizer)
	}

	orch := New(Deps{
		Store:       store,
		Router:      router.New(opts.routerLLM, prompts.Router, catalogue.Specialists(), routerCfg),
		Loop:        agent.NewLoop(model, agent.WithMetrics(m)),
		Catalogue:   catalogue,
		Synthesizer: synth,
		Prompts:     prompts,
		Agents:      opts.agents,
		Metrics:     m,
	})
	return &fixture{orch: orch, store: store, ledger: led, quotes: quotes}
}

// funcClient answers every call through fn and records the requests
type funcClient struct {
	mu    sync.Mutex
	calls [][]llm.Message
	fn    func(messages []llm.Message) (*llm.ChatResponse, error)
}

func (c *funcClient) Chat(ctx context.Context, messages []llm.Message, _ []llm.Tool, _ ...llm.CallOption) (*llm.ChatResponse, error) {
	c.mu.Lock()
	c.calls = append(c.calls, messages)
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fn(messages)
}

func transcript(messages []llm.Message) string {
	var parts []string
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

func TestProcessQuery_WashSaleFollowUp(t *testing.T) {
	model := llmtest.New(
		llmtest.Text("A wash sale happens when you sell at a loss and rebuy within 30 days."),
		llmtest.Text("Yes, the rule applies to ETFs that are substantially identical."),
	)
	f := newFixture(t, model, options{})
	ctx := context.Background()

	first, err := f.orch.ProcessQuery(ctx, "What is the wash sale rule?", "")
	require.NoError(t, err)
	assert.NotEmpty(t, first.SessionID)
	assert.NotEmpty(t, first.RequestID)
	assert.Equal(t, agent.TaxEdu, first.Agent)
	assert.Equal(t, router.SourceKeyword, first.Source)

	history, err := f.store.GetHistory(ctx, first.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, agent.TaxEdu, history[1].Agent)

	second, err := f.orch.ProcessQuery(ctx, "Does it apply to ETFs?", first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, agent.TaxEdu, second.Agent)
	assert.NotEqual(t, first.RequestID, second.RequestID)

	require.Len(t, model.Calls, 2)
	input := transcript(model.Calls[1].Messages)
	assert.Contains(t, input, "What is the wash sale rule?")
	assert.Contains(t, input, "rebuy within 30 days")

	count, err := f.store.TurnCount(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestProcessQuery_LLMRouting(t *testing.T) {
	classifier := &funcClient{fn: func(messages []llm.Message) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"agent": "goal_planning_agent", "confidence": 0.8}`}, nil
	}}
	model := llmtest.New(llmtest.Text("Aim for three to six months of expenses."))
	f := newFixture(t, model, options{routerLLM: classifier})

	res, err := f.orch.ProcessQuery(context.Background(), "How big should my rainy day pot be?", "")
	require.NoError(t, err)
	assert.Equal(t, agent.GoalPlan, res.Agent)
	assert.Equal(t, router.SourceLLM, res.Source)
	assert.Len(t, classifier.calls, 1)

	tools := model.Calls[0].Tools
	var names []string
	for _, tl := range tools {
		names = append(names, tl.Function.Name)
	}
	assert.ElementsMatch(t, []string{"calculate", "project_savings"}, names)
}

func TestProcessQuery_PaperTradingOversell(t *testing.T) {
	model := llmtest.New(
		llmtest.ToolCalls(llmtest.NewCall("b1", "buy_stock", `{"ticker":"aapl","shares":10}`)),
		llmtest.Text("Bought 10 AAPL at $150."),
		llmtest.ToolCalls(llmtest.NewCall("s1", "sell_stock", `{"ticker":"AAPL","shares":15}`)),
		llmtest.Text("You only hold 10 shares of AAPL, so the sale was rejected."),
	)
	f := newFixture(t, model, options{})
	ctx := context.Background()

	res, err := f.orch.ProcessQuery(ctx, "Buy 10 shares of AAPL", "")
	require.NoError(t, err)
	assert.Equal(t, agent.Trading, res.Agent)

	f.quotes.Set(market.Quote{Ticker: "AAPL", Price: 200})
	res, err = f.orch.ProcessQuery(ctx, "Sell 15 shares of AAPL", res.SessionID)
	require.NoError(t, err)
	assert.Contains(t, res.Answer, "only hold 10")

	sellResult := model.Calls[3].Messages[len(model.Calls[3].Messages)-1]
	assert.Equal(t, "s1", sellResult.ToolCallID)
	assert.Contains(t, sellResult.Content, "insufficient shares")

	holdings, err := f.ledger.GetHoldings(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "AAPL", holdings[0].Ticker)
	assert.InDelta(t, 10, holdings[0].Shares, 1e-9)
	assert.InDelta(t, 150, holdings[0].AvgCost, 1e-9)

	trades, err := f.ledger.GetTrades(ctx, res.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, ledger.ActionBuy, trades[0].Action)
}

func TestProcessQuery_SynthesizesLongSessions(t *testing.T) {
	ctx := context.Background()
	synth := llmtest.New(llmtest.Text("User is learning about index funds."))
	model := &funcClient{fn: func([]llm.Message) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: "answer"}, nil
	}}
	f := newFixture(t, model, options{
		synthLLM: synth,
		agents:   config.AgentsConfig{SynthesisThreshold: 2},
	})

	sid := NewSessionID()
	for _, q := range []string{"q1 about bonds", "q2 about bonds", "q3 about bonds"} {
		_, err := f.orch.ProcessQuery(ctx, q, sid)
		require.NoError(t, err)
	}
	assert.Empty(t, synth.Calls)

	_, err := f.orch.ProcessQuery(ctx, "q4 about bonds", sid)
	require.NoError(t, err)
	require.Len(t, synth.Calls, 1)
	assert.Contains(t, transcript(synth.Calls[0].Messages), "q1 about bonds")
	assert.NotContains(t, transcript(synth.Calls[0].Messages), "q2 about bonds")

	sum, err := f.store.GetSummary(ctx, sid)
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, "User is learning about index funds.", sum.Content)

	last := model.calls[len(model.calls)-1]
	require.Len(t, last, 7)
	assert.Equal(t, "Previous context: User is learning about index funds.", last[1].Content)
	assert.Equal(t, "q2 about bonds", last[2].Content)
	assert.Equal(t, "q4 about bonds", last[6].Content)
}

func TestProcessQuery_SynthesisFailureKeepsRawHistory(t *testing.T) {
	ctx := context.Background()
	synth := llmtest.New(llmtest.Fail(errors.New("overloaded")))
	model := &funcClient{fn: func([]llm.Message) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: "answer"}, nil
	}}
	f := newFixture(t, model, options{
		synthLLM: synth,
		agents:   config.AgentsConfig{SynthesisThreshold: 1},
	})

	sid := NewSessionID()
	for _, q := range []string{"first", "second", "third", "fourth"} {
		_, err := f.orch.ProcessQuery(ctx, q, sid)
		require.NoError(t, err)
	}
	assert.Len(t, synth.Calls, 1)

	sum, err := f.store.GetSummary(ctx, sid)
	require.NoError(t, err)
	assert.Nil(t, sum)

	last := model.calls[len(model.calls)-1]
	assert.Len(t, last, 8)
	assert.Equal(t, "first", last[1].Content)
}

func TestProcessQuery_SpecialistFailureApologises(t *testing.T) {
	model := llmtest.New(llmtest.Fail(errors.New("provider down")))
	f := newFixture(t, model, options{})
	ctx := context.Background()

	res, err := f.orch.ProcessQuery(ctx, "What is compound interest?", "")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPromptConfig().Apology, res.Answer)

	history, err := f.store.GetHistory(ctx, res.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, res.Answer, history[1].Content)
}

func TestProcessQuery_Timeout(t *testing.T) {
	blocking := llmtest.New(llmtest.Step{Func: func(ctx context.Context, _ []llm.Message, _ []llm.Tool) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	f := newFixture(t, blocking, options{agents: config.AgentsConfig{TimeoutSeconds: 1}})
	ctx := context.Background()

	sid := NewSessionID()
	_, err := f.orch.ProcessQuery(ctx, "What is compound interest?", sid)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	history, err := f.store.GetHistory(ctx, sid, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestProcessQuery_EmptyQuestion(t *testing.T) {
	f := newFixture(t, llmtest.New(), options{})

	_, err := f.orch.ProcessQuery(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestProcessQuery_StorageErrorIsFatal(t *testing.T) {
	store, err := memory.NewSQLiteStore(storage.DriverPureGo, filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	orch := New(Deps{
		Store:     store,
		Router:    router.New(nil, "", agent.NewCatalogue(agent.Deps{}).Specialists(), config.RouterConfig{}),
		Loop:      agent.NewLoop(llmtest.New(llmtest.Text("never"))),
		Catalogue: agent.NewCatalogue(agent.Deps{}),
	})

	_, err = orch.ProcessQuery(context.Background(), "What is a bond?", "")
	require.Error(t, err)
	assert.True(t, storage.IsStorageError(err))
}

func TestProcessQuery_ConcurrentSessions(t *testing.T) {
	model := &funcClient{fn: func([]llm.Message) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: "ok"}, nil
	}}
	f := newFixture(t, model, options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	sessions := []string{NewSessionID(), NewSessionID(), NewSessionID()}
	for _, sid := range sessions {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				_, err := f.orch.ProcessQuery(ctx, "What is an ETF?", sid)
				assert.NoError(t, err)
			}
		}(sid)
	}
	wg.Wait()

	for _, sid := range sessions {
		n, err := f.store.TurnCount(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	}
}
