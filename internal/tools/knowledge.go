package tools

import (
	"context"

	"github.com/mirfaizal/ai-finance-assistant/internal/knowledge"
)

// KnowledgeTool searches the reference knowledge base
type KnowledgeTool struct {
	retriever knowledge.Retriever
	topK      int
}

func NewKnowledgeTool(r knowledge.Retriever, topK int) *KnowledgeTool {
	if topK <= 0 {
		topK = 4
	}
	return &KnowledgeTool{retriever: r, topK: topK}
}

func (t *KnowledgeTool) Name() string {
	return "search_knowledge"
}

func (t *KnowledgeTool) Description() string {
	return "Search the financial education knowledge base for definitions, rules and frameworks (taxes, retirement accounts, investing basics, budgeting)."
}

func (t *KnowledgeTool) Parameters() []ParameterDef {
	return []ParameterDef{
		{Name: "query", Type: "string", Description: "What to look up", Required: true},
		{Name: "top_k", Type: "integer", Description: "Maximum passages to return"},
	}
}

func (t *KnowledgeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	k := intArg(args, "top_k", t.topK)
	if k <= 0 || k > 10 {
		k = t.topK
	}
	chunks, err := t.retriever.Retrieve(ctx, stringArg(args, "query"), k)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "No relevant passages found in the knowledge base.", nil
	}
	return knowledge.FormatContext(chunks), nil
}
