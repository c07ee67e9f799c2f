package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mirfaizal/ai-finance-assistant/internal/config"
)

func TestAnthropicClient_Chat(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		writeJSON(w, map[string]any{
			"id":    "msg_1",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-test",
			"content": []map[string]any{
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "get_stock_quote", "input": map[string]any{"ticker": "AAPL"}},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]any{"input_tokens": 20, "output_tokens": 7},
		})
	}))
	defer server.Close()

	client := NewAnthropicClient("key", server.URL, "claude-test", 0.2, 512)
	msgs := []Message{
		SystemMessage("You are a tutor."),
		UserMessage("price of AAPL?"),
	}
	tools := []Tool{{Type: "function", Function: ToolFunction{
		Name:       "get_stock_quote",
		Parameters: map[string]any{"type": "object", "properties": map[string]any{"ticker": map[string]any{"type": "string"}}, "required": []string{"ticker"}},
	}}}

	resp, err := client.Chat(context.Background(), msgs, tools)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "Let me check." {
		t.Errorf("Content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "toolu_1" || !strings.Contains(resp.ToolCalls[0].Function.Arguments, "AAPL") {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if captured["system"] == nil {
		t.Error("system prompt was not hoisted into the request")
	}
	if got := captured["messages"].([]any); len(got) != 1 {
		t.Errorf("expected 1 message after hoisting system, got %d", len(got))
	}
}

func TestBuildAnthropicMessagesGroupsToolResults(t *testing.T) {
	system, msgs := buildAnthropicMessages([]Message{
		SystemMessage("a"),
		SystemMessage("b"),
		UserMessage("q"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "1", Function: FunctionCall{Name: "x", Arguments: `{}`}},
			{ID: "2", Function: FunctionCall{Name: "y", Arguments: `{"k":1}`}},
		}},
		ToolResultMessage("1", "r1"),
		ToolResultMessage("2", "r2"),
	})
	if system != "a\n\nb" {
		t.Errorf("system = %q", system)
	}
	// user, assistant(tool_use x2), user(tool_result x2)
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3", len(msgs))
	}
	if len(msgs[2].Content) != 2 {
		t.Errorf("tool results should share one user turn, got %d blocks", len(msgs[2].Content))
	}
}

func TestOpenAIClient_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-test",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "tool_calls",
				"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []map[string]any{{
						"id":       "call_1",
						"type":     "function",
						"function": map[string]any{"name": "calculate", "arguments": `{"expression":"2+2"}`},
					}},
				},
			}},
			"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient("key", server.URL, "gpt-test", 0.2, 256)
	history := []Message{
		UserMessage("2+2?"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Function: FunctionCall{Name: "calculate", Arguments: `{}`}}}},
		ToolResultMessage("call_0", `{"error":"missing expression"}`),
	}

	resp, err := client.Chat(context.Background(), history, []Tool{{Function: ToolFunction{Name: "calculate", Parameters: map[string]any{"type": "object"}}}})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "calculate" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.Usage.InputTokens != 3 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.ModelConfig
		wantType string
		wantErr  bool
	}{
		{"deepseek", config.ModelConfig{Provider: config.ProviderDeepSeek, APIKey: "k", BaseURL: "https://x", Model: "m", MaxTokens: 1}, "*llm.CompatClient", false},
		{"openai", config.ModelConfig{Provider: config.ProviderOpenAI, APIKey: "k", Model: "m", MaxTokens: 1}, "*llm.OpenAIClient", false},
		{"anthropic", config.ModelConfig{Provider: config.ProviderAnthropic, APIKey: "k", Model: "m", MaxTokens: 1}, "*llm.AnthropicClient", false},
		{"missing key", config.ModelConfig{Provider: config.ProviderOpenAI, Model: "m"}, "", true},
		{"unknown", config.ModelConfig{Provider: "bard", APIKey: "k"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := typeName(c); got != tt.wantType {
				t.Errorf("type = %s, want %s", got, tt.wantType)
			}
		})
	}
}

func typeName(c Client) string {
	switch c.(type) {
	case *CompatClient:
		return "*llm.CompatClient"
	case *OpenAIClient:
		return "*llm.OpenAIClient"
	case *AnthropicClient:
		return "*llm.AnthropicClient"
	case *Retrying:
		return "*llm.Retrying"
	}
	return "unknown"
}
