// Package agent runs specialists: a bounded think/act loop against the chat
// model with the specialist's tools, and the catalogue that defines which
// tools each specialist gets.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mirfaizal/ai-finance-assistant/internal/llm"
	"github.com/mirfaizal/ai-finance-assistant/internal/logger"
	"github.com/mirfaizal/ai-finance-assistant/internal/memory"
	"github.com/mirfaizal/ai-finance-assistant/internal/metrics"
	"github.com/mirfaizal/ai-finance-assistant/internal/tools"
)

const (
	// DefaultMaxIterations maximum number of model rounds per question
	DefaultMaxIterations = 8
	// historyAnswerLimit truncates earlier assistant answers in the prompt
	historyAnswerLimit = 400
	// bestEffortResultLimit bounds each tool result quoted in a fallback answer
	bestEffortResultLimit = 600
)

// ErrSpecialistExecution means the specialist produced nothing usable
var ErrSpecialistExecution = errors.New("specialist execution failed")

// Loop drives one specialist turn. It holds no per-session state and is
// safe for concurrent use.
type Loop struct {
	llm             llm.Client
	metrics         *metrics.Metrics
	toolCallHandler func(name, args, result string, ok bool)
}

// Option loop configuration option
type Option func(*Loop)

// WithToolCallHandler observes every tool call and its result
func WithToolCallHandler(handler func(name, args, result string, ok bool)) Option {
	return func(l *Loop) {
		l.toolCallHandler = handler
	}
}

// WithMetrics records token usage
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// NewLoop creates a tool loop over client
func NewLoop(client llm.Client, opts ...Option) *Loop {
	l := &Loop{llm: client}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Request is everything one specialist turn needs
type Request struct {
	Agent         string
	SystemPrompt  string
	Registry      *tools.Registry
	Question      string
	History       []*memory.Message
	Summary       string
	MaxIterations int
	CallTimeout   time.Duration
}

type toolResult struct {
	name    string
	content string
	ok      bool
}

// Run loops until the model answers in text or the iteration budget is
// spent. Tool failures are fed back to the model, never returned. When the
// model fails after tools have run, the tool output is turned into a
// best-effort answer.
func (l *Loop) Run(ctx context.Context, req Request) (string, error) {
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	log := logger.With("agent", req.Agent)

	messages := BuildMessages(req)
	var schemas []llm.Tool
	if req.Registry != nil {
		schemas = req.Registry.Schemas()
	}

	var lastRound []toolResult
	for i := 0; i < maxIter; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := l.chat(ctx, req.CallTimeout, messages, schemas)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			log.Warn("specialist model call failed", "iteration", i+1, "error", err)
			if len(lastRound) > 0 {
				return bestEffort(lastRound), nil
			}
			return "", fmt.Errorf("%w: %v", ErrSpecialistExecution, err)
		}
		l.metrics.RecordTokens(req.Agent, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))

		if len(resp.ToolCalls) == 0 {
			answer := strings.TrimSpace(resp.Content)
			if answer != "" {
				return answer, nil
			}
			if len(lastRound) > 0 {
				return bestEffort(lastRound), nil
			}
			return "", fmt.Errorf("%w: empty answer", ErrSpecialistExecution)
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		lastRound = lastRound[:0]
		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			out, ok := l.dispatch(ctx, req.Registry, call)
			if l.toolCallHandler != nil {
				l.toolCallHandler(call.Function.Name, call.Function.Arguments, out, ok)
			}
			log.Debug("tool call", "tool", call.Function.Name, "ok", ok)
			messages = append(messages, llm.ToolResultMessage(call.ID, out))
			lastRound = append(lastRound, toolResult{name: call.Function.Name, content: out, ok: ok})
		}
	}

	log.Warn("iteration limit exceeded", "max_iterations", maxIter)
	return bestEffort(lastRound), nil
}

func (l *Loop) chat(ctx context.Context, timeout time.Duration, messages []llm.Message, schemas []llm.Tool) (*llm.ChatResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return l.llm.Chat(ctx, messages, schemas)
}

func (l *Loop) dispatch(ctx context.Context, reg *tools.Registry, call llm.ToolCall) (string, bool) {
	if reg == nil {
		reg = tools.NewRegistry(nil)
	}
	return reg.Dispatch(ctx, call.Function.Name, call.Function.Arguments)
}

// BuildMessages assembles the prompt: system prompt, the rolling summary,
// prior turns, then the question
func BuildMessages(req Request) []llm.Message {
	messages := make([]llm.Message, 0, len(req.History)+3)
	messages = append(messages, llm.SystemMessage(req.SystemPrompt))
	if s := strings.TrimSpace(req.Summary); s != "" {
		messages = append(messages, llm.SystemMessage("Previous context: "+s))
	}
	for _, m := range req.History {
		switch m.Role {
		case memory.RoleUser:
			messages = append(messages, llm.UserMessage(m.Content))
		case memory.RoleAssistant:
			messages = append(messages, llm.AssistantMessage(truncate(m.Content, historyAnswerLimit)))
		}
	}
	messages = append(messages, llm.UserMessage(req.Question))
	return messages
}

// bestEffort builds an answer out of the latest tool results, preferring
// the successful ones
func bestEffort(results []toolResult) string {
	var good []toolResult
	for _, r := range results {
		if r.ok {
			good = append(good, r)
		}
	}
	if len(good) == 0 {
		good = results
	}

	var b strings.Builder
	b.WriteString("I could not finish a complete answer, but here is what I found:\n")
	for _, r := range good {
		fmt.Fprintf(&b, "\n- %s: %s", r.name, truncate(strings.TrimSpace(r.content), bestEffortResultLimit))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
