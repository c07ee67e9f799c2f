package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PromptConfig prompt configuration structure
type PromptConfig struct {
	Router      string            `yaml:"router"`
	Synthesizer string            `yaml:"synthesizer"`
	Apology     string            `yaml:"apology"`
	Agents      map[string]string `yaml:"agents"`
}

const sharedDisclaimer = `
This is financial education, not personalised investment advice. Be concise, explain jargon, and say so when a figure is an estimate.`

// DefaultPromptConfig returns default prompt configuration
func DefaultPromptConfig() *PromptConfig {
	return &PromptConfig{
		Router: `You are the router of a financial education assistant.
Pick the single specialist best suited to answer the user's latest question, using the recent conversation to resolve follow-ups such as "does it apply to ETFs?".
Reply with JSON only: {"agent": "<name>", "confidence": <number between 0 and 1>}.`,
		Synthesizer: `You are a conversation memory assistant for an AI finance advisor.
Read the previous summary (if any) and the conversation turns, then write a concise memory summary of 2 to 4 sentences in the third person, as if briefing a new agent taking over the conversation.
Capture the financial topics discussed, any tickers, products or personal situations mentioned, facts already established, and open follow-ups.
Output only the summary paragraph.`,
		Apology: "Sorry, I could not complete that request right now. Please try again or rephrase the question.",
		Agents: map[string]string{
			"trading_agent": `You are a paper-trading assistant. No real money is ever used.
Use get_stock_quote before buy_stock or sell_stock so the user sees the live price. After a trade, summarise ticker, shares, price, total and (for sells) realised P&L plus the updated position.
If a sell fails with insufficient shares, explain the tool error and do not retry. For "all" or "half" quantities call view_holdings first.
Do not recommend whether to buy or sell.`,
			"portfolio_analysis_agent": `You are a portfolio analysis educator. Use analyze_portfolio to value the user's paper holdings, then explain allocation, concentration and diversification in plain language.`,
			"news_synthesizer_agent":   `You are a financial news synthesizer. Search for recent coverage, fetch articles when needed, and summarise the key points with sources. Separate facts from speculation.`,
			"market_analysis_agent":    `You are a market analysis educator. Use get_market_overview and get_stock_quote for current levels, then explain trends, indices, sectors and volatility.`,
			"stock_agent":              `You are a stock research educator. Use get_stock_quote for prices and search tools for context. Explain fundamentals and risks; never tell the user to buy or sell.`,
			"goal_planning_agent":      `You are a financial goal planner. Use project_savings and calculate to show how budgets, savings rates and time horizons add up toward a goal.`,
			"tax_education_agent":      `You are a tax education specialist for US investors. Explain concepts such as capital gains, wash sales, IRAs and brackets. Use calculate_capital_gains for estimates and search_knowledge for reference material.`,
			"finance_qa_agent":         `You are a friendly personal-finance tutor. Answer general finance questions, using search_knowledge for reference material and web_search for anything time-sensitive.`,
		},
	}
}

// PromptConfigPath returns the prompt config file path
func PromptConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "prompt.yaml"), nil
}

// LoadPromptConfig loads prompt configuration from file. Agents missing from
// the file keep their default prompt.
func LoadPromptConfig() (*PromptConfig, error) {
	configPath, err := PromptConfigPath()
	if err != nil {
		return DefaultPromptConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultPromptConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt config: %w", err)
	}

	var override PromptConfig
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse prompt config: %w", err)
	}

	cfg := DefaultPromptConfig()
	if override.Router != "" {
		cfg.Router = override.Router
	}
	if override.Synthesizer != "" {
		cfg.Synthesizer = override.Synthesizer
	}
	if override.Apology != "" {
		cfg.Apology = override.Apology
	}
	for name, prompt := range override.Agents {
		if prompt != "" {
			cfg.Agents[name] = prompt
		}
	}

	return cfg, nil
}

// AgentPrompt returns the system prompt of a specialist
func (p *PromptConfig) AgentPrompt(agent string) string {
	if prompt, ok := p.Agents[agent]; ok {
		return prompt + "\n" + sharedDisclaimer
	}
	return p.Agents["finance_qa_agent"] + "\n" + sharedDisclaimer
}
