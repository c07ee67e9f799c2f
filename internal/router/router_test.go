package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirfaizal/ai-finance-assistant/internal/agent"
	"github.com/mirfaizal/ai-finance-assistant/internal/config"
	"github.com/mirfaizal/ai-finance-assistant/internal/llm"
	"github.com/mirfaizal/ai-finance-assistant/internal/llm/llmtest"
	"github.com/mirfaizal/ai-finance-assistant/internal/memory"
	"github.com/mirfaizal/ai-finance-assistant/internal/metrics"
)

var specialists = agent.NewCatalogue(agent.Deps{}).Specialists()

func routerCfg() config.RouterConfig {
	return config.RouterConfig{UseLLM: true, ConfidenceFloor: 0.5, TimeoutSeconds: 5}
}

func TestMatchKeywords(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"Buy 10 shares of AAPL stock", agent.Trading},
		{"Please sell 5 MSFT", agent.Trading},
		{"Show my holdings", agent.Trading},
		{"paper trade NVDA", agent.Trading},
		{"How much should I save each month to buy a house?", agent.GoalPlan},
		{"Is it better to rent or buy a home?", agent.GoalPlan},
		{"What is a stock buyback?", agent.Stock},
		{"What does a sell-side analyst do?", agent.Stock},
		{"What is the S&P 500?", agent.Market},
		{"How should I rebalance my portfolio?", agent.Portfolio},
		{"Is my account well diversified?", agent.Portfolio},
		{"Summarize today's market news", agent.News},
		{"How did the S&P do this week?", agent.Market},
		{"What is the current price of gold?", agent.Market},
		{"Is NVDA overvalued on a P/E basis?", agent.Stock},
		{"Help me build an emergency fund", agent.GoalPlan},
		{"What is the wash sale rule?", agent.TaxEdu},
		{"How are capital gains taxed?", agent.TaxEdu},
		{"What is compound interest?", agent.FinanceQA},
		{"Tell me about ETFs", agent.FinanceQA},
		{"Hello there", ""},
		{"Open the window", ""},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchKeywords(tt.question))
		})
	}
}

func TestKeywordRoutingIsDeterministic(t *testing.T) {
	r := New(nil, "", specialists, routerCfg())
	q := "Should I buy more index funds for the stock market?"

	first := r.Route(context.Background(), q, nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, r.Route(context.Background(), q, nil))
	}
	assert.Equal(t, agent.Market, first.Agent)
	assert.Equal(t, SourceKeyword, first.Source)
}

func TestIsTradeOrder(t *testing.T) {
	orders := []string{
		"buy 10 AAPL",
		"sell 5 TSLA",
		"Buy 2.5 shares of MSFT",
		"please sell 100 shares",
		"Buy NVDA",
		"sell some shares of $AMD",
		"paper trade NVDA",
		"show my holdings",
		"view my positions",
	}
	for _, q := range orders {
		assert.True(t, IsTradeOrder(q), q)
	}

	questions := []string{
		"How much should I save each month to buy a house?",
		"Is it better to rent or buy a home?",
		"What is a stock buyback?",
		"What does a sell-side analyst do?",
		"Should I buy ETFs or mutual funds?",
		"Should I buy I bonds?",
		"When should I sell a losing stock?",
		"what is the S&P 500?",
	}
	for _, q := range questions {
		assert.False(t, IsTradeOrder(q), q)
	}
}

func TestExplicitOrderSkipsClassifier(t *testing.T) {
	client := llmtest.New(
		llmtest.Text(`{"agent": "goal_planning_agent", "confidence": 0.9}`),
	)
	r := New(client, "", specialists, routerCfg())

	d := r.Route(context.Background(), "buy 10 AAPL", nil)
	assert.Equal(t, agent.Trading, d.Agent)
	assert.Equal(t, SourceKeyword, d.Source)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Empty(t, client.Calls)

	d = r.Route(context.Background(), "Should I buy a house or keep renting?", nil)
	assert.Equal(t, agent.GoalPlan, d.Agent)
	assert.Equal(t, SourceLLM, d.Source)
	assert.Len(t, client.Calls, 1)
}

func TestIsFollowUp(t *testing.T) {
	assert.True(t, IsFollowUp("Does it apply to ETFs?"))
	assert.True(t, IsFollowUp("What about Roth accounts?"))
	assert.True(t, IsFollowUp("and for bonds?"))
	assert.True(t, IsFollowUp("Can you explain that again"))
	assert.False(t, IsFollowUp("What is an ETF?"))
	assert.False(t, IsFollowUp("Italy bonds"))
}

func TestKeywordFollowUpKeepsSpecialist(t *testing.T) {
	r := New(nil, "", specialists, routerCfg())
	history := []*memory.Message{
		{Role: memory.RoleUser, Content: "What is the wash sale rule?"},
		{Role: memory.RoleAssistant, Content: "A wash sale...", Agent: agent.TaxEdu},
	}

	d := r.Route(context.Background(), "Does it apply to ETFs?", history)
	assert.Equal(t, agent.TaxEdu, d.Agent)
	assert.Equal(t, SourceKeyword, d.Source)

	d = r.Route(context.Background(), "What is an ETF?", history)
	assert.Equal(t, agent.FinanceQA, d.Agent)

	d = r.Route(context.Background(), "Does it apply to ETFs?", nil)
	assert.Equal(t, agent.FinanceQA, d.Agent)
}

func TestRouteWithLLM(t *testing.T) {
	client := llmtest.New(llmtest.Text("```json\n{\"agent\": \"tax_education_agent\", \"confidence\": 0.92}\n```"))
	m := metrics.New()
	r := New(client, "route it", specialists, routerCfg(), WithMetrics(m))

	history := []*memory.Message{
		{Role: memory.RoleUser, Content: "first"},
		{Role: memory.RoleAssistant, Content: "a1", Agent: agent.FinanceQA},
		{Role: memory.RoleUser, Content: "second"},
		{Role: memory.RoleAssistant, Content: "a2", Agent: agent.FinanceQA},
		{Role: memory.RoleUser, Content: "third"},
		{Role: memory.RoleAssistant, Content: "a3", Agent: agent.FinanceQA},
	}
	d := r.Route(context.Background(), "Does it apply to ETFs?", history)

	assert.Equal(t, Decision{Agent: agent.TaxEdu, Confidence: 0.92, Source: SourceLLM}, d)
	expected := `
# HELP finmate_routing_decisions_total Routing decisions by chosen agent and decision source.
# TYPE finmate_routing_decisions_total counter
finmate_routing_decisions_total{agent="tax_education_agent",source="llm"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "finmate_routing_decisions_total"))

	require.Len(t, client.Calls, 1)
	call := client.Calls[0]
	assert.Nil(t, call.Tools)
	require.Len(t, call.Messages, 2)
	assert.Contains(t, call.Messages[0].Content, "route it")
	assert.Contains(t, call.Messages[0].Content, agent.Portfolio)
	user := call.Messages[1].Content
	assert.NotContains(t, user, "first")
	assert.Contains(t, user, "second")
	assert.Contains(t, user, "a3")
	assert.True(t, strings.HasSuffix(user, "Question: Does it apply to ETFs?"))
}

func TestRouteFallsBack(t *testing.T) {
	tests := []struct {
		name string
		step llmtest.Step
	}{
		{"provider error", llmtest.Fail(errors.New("503"))},
		{"not json", llmtest.Text("I think the tax agent")},
		{"broken json", llmtest.Text(`{"agent": "tax_education_agent", "confidence": }`)},
		{"unknown agent", llmtest.Text(`{"agent": "crypto_agent", "confidence": 0.99}`)},
		{"low confidence", llmtest.Text(`{"agent": "goal_planning_agent", "confidence": 0.3}`)},
		{"timeout", llmtest.Step{Func: func(ctx context.Context, _ []llm.Message, _ []llm.Tool) (*llm.ChatResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(llmtest.New(tt.step), "", specialists, routerCfg())
			r.timeout = 20 * time.Millisecond

			d := r.Route(context.Background(), "What is the wash sale rule?", nil)
			assert.Equal(t, agent.TaxEdu, d.Agent)
			assert.Equal(t, SourceKeyword, d.Source)
		})
	}
}

func TestRouteLLMDisabled(t *testing.T) {
	client := llmtest.New(llmtest.Text(`{"agent": "stock_agent", "confidence": 1}`))
	cfg := routerCfg()
	cfg.UseLLM = false

	d := New(client, "", specialists, cfg).Route(context.Background(), "What is a bond?", nil)
	assert.Equal(t, agent.FinanceQA, d.Agent)
	assert.Empty(t, client.Calls)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("sure: {\"a\":1} done"))
	assert.Equal(t, `{"a":{"b":"}"}}`, extractJSON(`{"a":{"b":"}"}}`))
	assert.Equal(t, "", extractJSON("no braces"))
	assert.Equal(t, "", extractJSON(`{"open": true`))
}
