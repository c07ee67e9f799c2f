// Package router picks the specialist that answers a question: an LLM
// classification first, with a deterministic keyword table behind it.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mirfaizal/ai-finance-assistant/internal/agent"
	"github.com/mirfaizal/ai-finance-assistant/internal/config"
	"github.com/mirfaizal/ai-finance-assistant/internal/llm"
	"github.com/mirfaizal/ai-finance-assistant/internal/logger"
	"github.com/mirfaizal/ai-finance-assistant/internal/memory"
	"github.com/mirfaizal/ai-finance-assistant/internal/metrics"
)

// Decision sources
const (
	SourceLLM     = "llm"
	SourceKeyword = "keyword-fallback"
)

// contextMessages is how much history the classifier sees: two turns
const contextMessages = 4

// Decision is the outcome of routing one question. It is never persisted.
type Decision struct {
	Agent      string  `json:"agent"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Reason     string  `json:"reason,omitempty"`
}

// Router is stateless and safe for concurrent use
type Router struct {
	llm         llm.Client
	prompt      string
	specialists []agent.Specialist
	floor       float64
	timeout     time.Duration
	metrics     *metrics.Metrics
}

// Option router configuration option
type Option func(*Router)

// WithMetrics counts routing decisions
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New creates a router. A nil client, or cfg.UseLLM false, routes by
// keywords only.
func New(client llm.Client, prompt string, specialists []agent.Specialist, cfg config.RouterConfig, opts ...Option) *Router {
	r := &Router{
		prompt:      prompt,
		specialists: specialists,
		floor:       cfg.ConfidenceFloor,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if cfg.UseLLM {
		r.llm = client
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	errNoJSON        = errors.New("no JSON object in classifier reply")
	errUnknownAgent  = errors.New("classifier chose an unknown specialist")
	errLowConfidence = errors.New("classifier confidence below floor")
)

// Route never fails: when classification is unavailable or unsure the
// keyword table decides. Explicit orders skip the classifier entirely.
func (r *Router) Route(ctx context.Context, question string, history []*memory.Message) Decision {
	var d Decision
	if IsTradeOrder(question) && r.known(agent.Trading) {
		d = Decision{Agent: agent.Trading, Confidence: 1, Source: SourceKeyword, Reason: "explicit trade order"}
	} else if r.llm != nil {
		var err error
		d, err = r.classify(ctx, question, history)
		if err != nil {
			logger.Warn("routing fallback", "error", err)
			d = r.keywordRoute(question, history)
		}
	} else {
		d = r.keywordRoute(question, history)
	}

	r.metrics.RecordRoute(d.Agent, d.Source)
	logger.Debug("routed", "agent", d.Agent, "source", d.Source, "confidence", d.Confidence)
	return d
}

func (r *Router) classify(ctx context.Context, question string, history []*memory.Message) (Decision, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.llm.Chat(ctx, r.classifierMessages(question, history), nil, llm.WithTemperature(0))
	if err != nil {
		return Decision{}, fmt.Errorf("classifier call: %w", err)
	}

	var out struct {
		Agent      string  `json:"agent"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	raw := extractJSON(resp.Content)
	if raw == "" {
		return Decision{}, errNoJSON
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Decision{}, fmt.Errorf("parse classifier reply: %w", err)
	}

	name := strings.TrimSpace(out.Agent)
	if !r.known(name) {
		return Decision{}, fmt.Errorf("%w: %q", errUnknownAgent, name)
	}
	if out.Confidence < r.floor {
		return Decision{}, fmt.Errorf("%w: %.2f < %.2f", errLowConfidence, out.Confidence, r.floor)
	}
	return Decision{Agent: name, Confidence: out.Confidence, Source: SourceLLM, Reason: out.Reason}, nil
}

func (r *Router) known(name string) bool {
	for _, s := range r.specialists {
		if s.Name == name {
			return true
		}
	}
	return false
}

func (r *Router) classifierMessages(question string, history []*memory.Message) []llm.Message {
	var sys strings.Builder
	sys.WriteString(r.prompt)
	sys.WriteString("\n\nSpecialists:\n")
	for _, s := range r.specialists {
		fmt.Fprintf(&sys, "- %s: %s\n", s.Name, s.Description)
	}

	var user strings.Builder
	if len(history) > contextMessages {
		history = history[len(history)-contextMessages:]
	}
	if len(history) > 0 {
		user.WriteString("Recent conversation:\n")
		for _, m := range history {
			fmt.Fprintf(&user, "%s: %s\n", m.Role, clip(m.Content, 300))
		}
		user.WriteString("\n")
	}
	fmt.Fprintf(&user, "Question: %s", question)

	return []llm.Message{llm.SystemMessage(sys.String()), llm.UserMessage(user.String())}
}

// keywordRoute scans the trigger table. A follow-up question that only hit
// the generic specialist stays with whoever answered the previous turn.
func (r *Router) keywordRoute(question string, history []*memory.Message) Decision {
	name := MatchKeywords(question)
	if name == "" || name == DefaultAgent {
		if prev := lastAgent(history); prev != "" && prev != DefaultAgent && IsFollowUp(question) {
			return Decision{Agent: prev, Confidence: 0.6, Source: SourceKeyword, Reason: "follow-up to previous turn"}
		}
	}
	if name == "" {
		return Decision{Agent: DefaultAgent, Confidence: 0.3, Source: SourceKeyword, Reason: "no trigger matched"}
	}
	return Decision{Agent: name, Confidence: 0.7, Source: SourceKeyword, Reason: "keyword match"}
}

func lastAgent(history []*memory.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == memory.RoleAssistant && history[i].Agent != "" {
			return history[i].Agent
		}
	}
	return ""
}

// extractJSON pulls the first balanced {...} out of a reply that may carry
// code fences or prose around it
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
