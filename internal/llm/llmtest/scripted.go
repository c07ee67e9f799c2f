// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/mirfaizal/ai-finance-assistant/internal/llm"
)

// Step is one scripted reply. Func, when set, computes the reply from the
// request instead of Response/Err.
type Step struct {
	Response *llm.ChatResponse
	Err      error
	Func     func(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.ChatResponse, error)
}

// Call records what the client was asked.
type Call struct {
	Messages []llm.Message
	Tools    []llm.Tool
}

// ErrScriptExhausted is returned once every step has been consumed.
var ErrScriptExhausted = errors.New("llmtest: no scripted response left")

// Scripted replays Steps in order and records every call.
type Scripted struct {
	mu    sync.Mutex
	Steps []Step
	Calls []Call
}

// New returns a client that replies with the given steps.
func New(steps ...Step) *Scripted {
	return &Scripted{Steps: steps}
}

// Text is a step answering with plain text.
func Text(content string) Step {
	return Step{Response: &llm.ChatResponse{Content: content, FinishReason: "stop"}}
}

// ToolCalls is a step requesting the given calls.
func ToolCalls(calls ...llm.ToolCall) Step {
	return Step{Response: &llm.ChatResponse{ToolCalls: calls, FinishReason: "tool_calls"}}
}

// NewCall builds a tool call with raw JSON arguments.
func NewCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}}
}

// Fail is a step returning err.
func Fail(err error) Step {
	return Step{Err: err}
}

func (s *Scripted) Chat(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts ...llm.CallOption) (*llm.ChatResponse, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, Call{Messages: append([]llm.Message(nil), messages...), Tools: tools})
	if len(s.Steps) == 0 {
		s.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	step := s.Steps[0]
	s.Steps = s.Steps[1:]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Func != nil {
		return step.Func(ctx, messages, tools)
	}
	return step.Response, step.Err
}

// CallCount returns how many times Chat was invoked.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// LastCall returns the most recent request.
func (s *Scripted) LastCall() Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Calls) == 0 {
		return Call{}
	}
	return s.Calls[len(s.Calls)-1]
}
