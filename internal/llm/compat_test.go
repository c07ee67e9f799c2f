package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewCompatClient(t *testing.T) {
	client := NewCompatClient("test-api-key", "https://api.test.com/", "test-model", 0.7, 1000)

	if client.apiKey != "test-api-key" {
		t.Errorf("Expected apiKey 'test-api-key', got '%s'", client.apiKey)
	}
	if client.baseURL != "https://api.test.com" {
		t.Errorf("Expected baseURL without trailing slash, got '%s'", client.baseURL)
	}
	if client.model != "test-model" {
		t.Errorf("Expected model 'test-model', got '%s'", client.model)
	}
	if client.maxTokens != 1000 {
		t.Errorf("Expected maxTokens 1000, got %d", client.maxTokens)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestCompatClient_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Expected path /v1/chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header, got %s", r.Header.Get("Authorization"))
		}

		var reqBody chatRequest
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Fatalf("Failed to decode request body: %v", err)
		}
		if reqBody.Model != "test-model" {
			t.Errorf("Expected model 'test-model', got '%s'", reqBody.Model)
		}
		if reqBody.MaxTokens != 400 {
			t.Errorf("per-call max tokens not applied, got %d", reqBody.MaxTokens)
		}

		writeJSON(w, map[string]any{
			"id":      "test-id",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "Compound interest is interest on interest."},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20},
		})
	}))
	defer server.Close()

	client := NewCompatClient("test-key", server.URL, "test-model", 0.7, 1000)

	resp, err := client.Chat(context.Background(), []Message{UserMessage("What is compound interest?")}, nil, WithMaxTokens(400))
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Compound interest is interest on interest." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 8 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCompatClient_Chat_WithTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody chatRequest
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Fatalf("Failed to decode request body: %v", err)
		}
		if len(reqBody.Tools) != 1 {
			t.Errorf("Expected 1 tool, got %d", len(reqBody.Tools))
		}

		writeJSON(w, map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":       "call_123",
						"type":     "function",
						"function": map[string]any{"name": "get_stock_quote", "arguments": `{"ticker": "AAPL"}`},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	}))
	defer server.Close()

	client := NewCompatClient("test-key", server.URL, "test-model", 0.7, 1000)
	tools := []Tool{{
		Type: "function",
		Function: ToolFunction{
			Name:        "get_stock_quote",
			Description: "Latest quote",
			Parameters:  map[string]any{"type": "object"},
		},
	}}

	resp, err := client.Chat(context.Background(), []Message{UserMessage("price of AAPL")}, tools)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "get_stock_quote" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
}

func TestCompatClient_Chat_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "Invalid request", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewCompatClient("test-key", server.URL, "test-model", 0.7, 1000)

	_, err := client.Chat(context.Background(), []Message{UserMessage("Hello")}, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Fatalf("expected StatusError 400, got %v", err)
	}
	if se.Temporary() {
		t.Error("400 should not be temporary")
	}
}

func TestCompatClient_Chat_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	client := NewCompatClient("test-key", server.URL, "test-model", 0.7, 1000)
	if _, err := client.Chat(context.Background(), []Message{UserMessage("Hello")}, nil); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestCompatClient_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewCompatClient("test-key", server.URL, "test-model", 0.7, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Chat(ctx, []Message{UserMessage("Hello")}, nil); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

type countingClient struct {
	calls int32
	errs  []error
}

func (c *countingClient) Chat(ctx context.Context, messages []Message, tools []Tool, opts ...CallOption) (*ChatResponse, error) {
	n := atomic.AddInt32(&c.calls, 1)
	if int(n) <= len(c.errs) {
		return nil, c.errs[n-1]
	}
	return &ChatResponse{Content: "ok"}, nil
}

func TestRetrying(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int32
		wantErr   bool
	}{
		{"first try succeeds", nil, 1, false},
		{"recovers after transient error", []error{errors.New("reset")}, 2, false},
		{"server error retried", []error{&StatusError{Code: 503}, &StatusError{Code: 502}}, 3, false},
		{"client error not retried", []error{&StatusError{Code: 401}}, 1, true},
		{"gives up after max retries", []error{errors.New("a"), errors.New("b"), errors.New("c")}, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &countingClient{errs: tt.errs}
			r := &Retrying{Client: inner, MaxRetries: 2, Backoff: time.Millisecond}

			_, err := r.Chat(context.Background(), nil, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if inner.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", inner.calls, tt.wantCalls)
			}
		})
	}
}

func TestWithRetryZeroIsIdentity(t *testing.T) {
	inner := &countingClient{}
	if WithRetry(inner, 0) != Client(inner) {
		t.Error("WithRetry(c, 0) should return c")
	}
}
