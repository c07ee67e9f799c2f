package agent

import (
	"fmt"

	"github.com/mirfaizal/ai-finance-assistant/internal/config"
	"github.com/mirfaizal/ai-finance-assistant/internal/knowledge"
	"github.com/mirfaizal/ai-finance-assistant/internal/market"
	"github.com/mirfaizal/ai-finance-assistant/internal/metrics"
	"github.com/mirfaizal/ai-finance-assistant/internal/tools"
	"github.com/mirfaizal/ai-finance-assistant/internal/websearch"
)

// Specialist names
const (
	Trading   = "trading_agent"
	Portfolio = "portfolio_analysis_agent"
	News      = "news_synthesizer_agent"
	Market    = "market_analysis_agent"
	Stock     = "stock_agent"
	GoalPlan  = "goal_planning_agent"
	TaxEdu    = "tax_education_agent"
	FinanceQA = "finance_qa_agent"
)

// Specialist describes one agent for routing
type Specialist struct {
	Name        string
	Description string
}

var specialists = []Specialist{
	{Trading, "Executes paper trades (buy/sell), shows holdings and trade history."},
	{Portfolio, "Values and analyses the user's paper portfolio: allocation, P&L, diversification, tax-loss candidates."},
	{News, "Finds and summarises recent financial news and earnings coverage."},
	{Market, "Explains current market conditions, indices, sectors and volatility."},
	{Stock, "Researches individual stocks: prices, fundamentals and risks."},
	{GoalPlan, "Budgeting, savings goals, retirement and emergency-fund planning."},
	{TaxEdu, "Explains investment taxes: capital gains, wash sales, IRAs, deductions."},
	{FinanceQA, "General personal-finance and investing questions; the default."},
}

// Deps are the collaborators specialists draw their tools from. Nil
// collaborators leave their tools out.
type Deps struct {
	Ledger        tools.Ledger
	Quotes        market.Provider
	Search        websearch.Provider
	Knowledge     knowledge.Retriever
	KnowledgeTopK int
	WebSearch     config.WebSearchConfig
	Metrics       *metrics.Metrics
}

// Catalogue builds the per-session tool registry of each specialist
type Catalogue struct {
	deps Deps
}

// NewCatalogue creates a catalogue over deps
func NewCatalogue(deps Deps) *Catalogue {
	if deps.KnowledgeTopK <= 0 {
		deps.KnowledgeTopK = 4
	}
	if deps.WebSearch.DefaultLimit <= 0 {
		deps.WebSearch.DefaultLimit = 5
	}
	return &Catalogue{deps: deps}
}

// Specialists lists every specialist in routing order
func (c *Catalogue) Specialists() []Specialist {
	out := make([]Specialist, len(specialists))
	copy(out, specialists)
	return out
}

// Names lists every specialist name
func (c *Catalogue) Names() []string {
	names := make([]string, len(specialists))
	for i, s := range specialists {
		names[i] = s.Name
	}
	return names
}

// Has reports whether name is a known specialist
func (c *Catalogue) Has(name string) bool {
	for _, s := range specialists {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Registry returns the tools of specialist name bound to sessionID
func (c *Catalogue) Registry(name, sessionID string) (*tools.Registry, error) {
	if !c.Has(name) {
		return nil, fmt.Errorf("unknown specialist %q", name)
	}
	d := c.deps
	reg := tools.NewRegistry(d.Metrics)

	quote := func() {
		if d.Quotes != nil {
			reg.MustRegister(tools.NewQuoteTool(d.Quotes))
		}
	}
	search := func() {
		if d.Search != nil {
			reg.MustRegister(tools.NewWebSearchTool(d.Search, d.WebSearch.DefaultLimit))
		}
	}
	kb := func() {
		if d.Knowledge != nil {
			reg.MustRegister(tools.NewKnowledgeTool(d.Knowledge, d.KnowledgeTopK))
		}
	}
	calc := func() {
		reg.MustRegister(tools.NewCalculatorTool())
	}

	switch name {
	case Trading:
		if d.Ledger != nil && d.Quotes != nil {
			reg.MustRegister(tools.NewTradingTools(d.Ledger, d.Quotes, sessionID, d.Metrics)...)
		}
		quote()
	case Portfolio:
		if d.Ledger != nil && d.Quotes != nil {
			reg.MustRegister(tools.NewPortfolioTools(d.Ledger, d.Quotes, sessionID)...)
			reg.MustRegister(pick(tools.NewTradingTools(d.Ledger, d.Quotes, sessionID, d.Metrics), "view_holdings")...)
		}
		quote()
	case News:
		search()
		if d.Search != nil {
			reg.MustRegister(tools.NewFetchURLTool(d.WebSearch))
		}
	case Market:
		if d.Quotes != nil {
			reg.MustRegister(tools.NewMarketOverviewTool(d.Quotes))
		}
		quote()
		search()
	case Stock:
		quote()
		search()
		kb()
	case GoalPlan:
		calc()
		reg.MustRegister(tools.NewSavingsProjectionTool())
		kb()
	case TaxEdu:
		kb()
		if d.Quotes != nil {
			reg.MustRegister(tools.NewCapitalGainsTool(d.Quotes))
		}
		if d.Ledger != nil && d.Quotes != nil {
			reg.MustRegister(pick(tools.NewPortfolioTools(d.Ledger, d.Quotes, sessionID), "find_tax_loss_opportunities")...)
		}
		calc()
	default:
		kb()
		search()
		calc()
	}
	return reg, nil
}

func pick(ts []tools.Tool, names ...string) []tools.Tool {
	var out []tools.Tool
	for _, t := range ts {
		for _, n := range names {
			if t.Name() == n {
				out = append(out, t)
			}
		}
	}
	return out
}
