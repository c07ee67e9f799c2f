// Package llm defines the chat model abstraction used by the router, the
// specialist tool loop and the memory synthesizer, plus its provider
// implementations.
package llm

import (
	"context"
	"errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Client is an opaque chat model: messages plus an optional tool catalogue in,
// either text or tool calls out.
type Client interface {
	Chat(ctx context.Context, messages []Message, tools []Tool, opts ...CallOption) (*ChatResponse, error)
}

// Message message structure
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall tool call structure
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall function call details
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResponse chat response
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        Usage      `json:"usage"`
}

// Usage token accounting reported by the provider
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Tool tool definition (for Function Calling)
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction tool function definition
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// CallOptions per-call overrides of the client defaults
type CallOptions struct {
	MaxTokens   int
	Temperature *float64
}

// CallOption mutates CallOptions
type CallOption func(*CallOptions)

// WithMaxTokens caps the completion length of one call
func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = n }
}

// WithTemperature overrides the sampling temperature of one call
func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) { o.Temperature = &t }
}

func resolveOptions(maxTokens int, temperature float64, opts []CallOption) CallOptions {
	o := CallOptions{MaxTokens: maxTokens, Temperature: &temperature}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = maxTokens
	}
	return o
}

// ErrEmptyResponse is returned when a provider answers with no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// SystemMessage, UserMessage and AssistantMessage are small constructors used
// when assembling prompts.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage answers the tool call with the given id.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: content}
}
