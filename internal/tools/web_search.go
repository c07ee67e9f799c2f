package tools

import (
	"context"

	"github.com/mirfaizal/ai-finance-assistant/internal/websearch"
)

// WebSearchTool searches the web using a configured provider.
type WebSearchTool struct {
	provider     websearch.Provider
	defaultLimit int
}

// NewWebSearchTool wraps a search provider
func NewWebSearchTool(p websearch.Provider, defaultLimit int) *WebSearchTool {
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &WebSearchTool{provider: p, defaultLimit: defaultLimit}
}

func (t *WebSearchTool) Name() string {
	return "web_search"
}

func (t *WebSearchTool) Description() string {
	return "Search the web for recent news and time-sensitive information. Returns titles, links and snippets."
}

func (t *WebSearchTool) Parameters() []ParameterDef {
	return []ParameterDef{
		{
			Name:        "query",
			Type:        "string",
			Description: "Search query",
			Required:    true,
		},
		{
			Name:        "limit",
			Type:        "integer",
			Description: "Number of results to return",
			Required:    false,
		},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	limit := intArg(args, "limit", t.defaultLimit)
	if limit <= 0 {
		limit = t.defaultLimit
	}

	resp, err := t.provider.Search(ctx, stringArg(args, "query"), limit)
	if err != nil {
		return "", err
	}
	return websearch.Text(resp), nil
}
