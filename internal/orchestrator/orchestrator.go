// Package orchestrator runs one conversation turn end to end: load memory,
// compress it when it grows, route, run the specialist, persist.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/mirfaizal/ai-finance-assistant/internal/agent"
	"github.com/mirfaizal/ai-finance-assistant/internal/config"
	"github.com/mirfaizal/ai-finance-assistant/internal/logger"
	"github.com/mirfaizal/ai-finance-assistant/internal/memory"
	"github.com/mirfaizal/ai-finance-assistant/internal/metrics"
	"github.com/mirfaizal/ai-finance-assistant/internal/router"
)

var (
	// ErrEmptyQuestion is returned for blank input
	ErrEmptyQuestion = errors.New("question cannot be empty")
	// ErrTimeout means the turn ran past its deadline; nothing was persisted
	ErrTimeout = errors.New("request timed out")
)

// keepRawTurns is how many recent turns stay verbatim after synthesis
const keepRawTurns = 2

// Result is the answer to one turn
type Result struct {
	Answer    string `json:"answer"`
	Agent     string `json:"agent"`
	SessionID string `json:"session_id"`
	Source    string `json:"source"`
	RequestID string `json:"request_id"`
}

// Router picks a specialist
type Router interface {
	Route(ctx context.Context, question string, history []*memory.Message) router.Decision
}

// Deps wires an Orchestrator
type Deps struct {
	Store       memory.Store
	Router      Router
	Loop        *agent.Loop
	Catalogue   *agent.Catalogue
	Synthesizer *memory.Synthesizer
	Prompts     *config.PromptConfig
	Agents      config.AgentsConfig
	Metrics     *metrics.Metrics
}

// Orchestrator owns no state of its own; everything lives in the stores
type Orchestrator struct {
	store     memory.Store
	router    Router
	loop      *agent.Loop
	catalogue *agent.Catalogue
	synth     *memory.Synthesizer
	prompts   *config.PromptConfig
	cfg       config.AgentsConfig
	metrics   *metrics.Metrics
}

// New creates an orchestrator; zero limits in d.Agents take the defaults
func New(d Deps) *Orchestrator {
	def := config.DefaultConfig().Agents
	cfg := d.Agents
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = def.TimeoutSeconds
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.SynthesisThreshold <= 0 {
		cfg.SynthesisThreshold = def.SynthesisThreshold
	}
	prompts := d.Prompts
	if prompts == nil {
		prompts = config.DefaultPromptConfig()
	}
	return &Orchestrator{
		store:     d.Store,
		router:    d.Router,
		loop:      d.Loop,
		catalogue: d.Catalogue,
		synth:     d.Synthesizer,
		prompts:   prompts,
		cfg:       cfg,
		metrics:   d.Metrics,
	}
}

// NewSessionID returns a fresh session identifier
func NewSessionID() string {
	return uuid.NewString()
}

// ProcessQuery answers question within sessionID, starting a new session
// when sessionID is empty. Only storage failures and the request deadline
// surface as errors; specialist failures become an apology answer.
func (o *Orchestrator) ProcessQuery(ctx context.Context, question, sessionID string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	res := &Result{SessionID: sessionID, RequestID: ulid.Make().String()}
	log := logger.With("request_id", res.RequestID, "session_id", sessionID)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	summary, history, err := o.loadMemory(ctx, log, sessionID)
	if err != nil {
		return nil, o.fail(ctx, res, start, err)
	}

	decision := o.router.Route(ctx, question, history)
	res.Agent, res.Source = decision.Agent, decision.Source
	log.Info("routed", "agent", decision.Agent, "source", decision.Source, "confidence", decision.Confidence)

	reg, err := o.catalogue.Registry(decision.Agent, sessionID)
	if err != nil {
		log.Warn("unknown specialist, using default", "agent", decision.Agent)
		res.Agent = router.DefaultAgent
		if reg, err = o.catalogue.Registry(res.Agent, sessionID); err != nil {
			return nil, o.fail(ctx, res, start, err)
		}
	}

	status := "ok"
	answer, err := o.loop.Run(ctx, agent.Request{
		Agent:         res.Agent,
		SystemPrompt:  o.prompts.AgentPrompt(res.Agent),
		Registry:      reg,
		Question:      question,
		History:       history,
		Summary:       summary,
		MaxIterations: o.cfg.MaxIterations,
		CallTimeout:   time.Duration(o.cfg.CallTimeoutSeconds) * time.Second,
	})
	switch {
	case err == nil:
	case errors.Is(err, agent.ErrSpecialistExecution):
		log.Error("specialist failed", "agent", res.Agent, "error", err)
		answer, status = o.prompts.Apology, "degraded"
	default:
		return nil, o.fail(ctx, res, start, err)
	}
	if ctx.Err() != nil {
		return nil, o.fail(ctx, res, start, ctx.Err())
	}

	if err := o.store.SaveTurn(ctx, sessionID, question, answer, res.Agent); err != nil {
		return nil, o.fail(ctx, res, start, err)
	}

	res.Answer = answer
	o.metrics.RecordTurn(res.Agent, status, time.Since(start))
	log.Info("turn complete", "agent", res.Agent, "status", status, "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

// fail maps deadline errors to ErrTimeout and records the failed turn
func (o *Orchestrator) fail(ctx context.Context, res *Result, start time.Time, err error) error {
	agentName := res.Agent
	if agentName == "" {
		agentName = "none"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o.metrics.RecordTurn(agentName, "timeout", time.Since(start))
		logger.Warn("turn timed out", "request_id", res.RequestID, "session_id", res.SessionID)
		return fmt.Errorf("%w after %ds: %w", ErrTimeout, o.cfg.TimeoutSeconds, context.DeadlineExceeded)
	}
	o.metrics.RecordTurn(agentName, "error", time.Since(start))
	logger.Error("turn failed", "request_id", res.RequestID, "session_id", res.SessionID, "error", err)
	return err
}

// loadMemory returns the rolling summary and the raw messages after it.
// When more than the synthesis threshold of turns piled up since the last
// summary, everything but the newest turns is folded into a new summary
// first. A failed synthesis is logged and the raw history is used.
func (o *Orchestrator) loadMemory(ctx context.Context, log *slog.Logger, sessionID string) (string, []*memory.Message, error) {
	sum, err := o.store.GetSummary(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}
	var summary string
	var through int64
	if sum != nil {
		summary, through = sum.Content, sum.ThroughMessageID
	}

	turns, err := o.store.TurnCountSince(ctx, sessionID, through)
	if err != nil {
		return "", nil, err
	}

	if turns > o.cfg.SynthesisThreshold && o.synth != nil {
		delta, err := o.store.HistorySince(ctx, sessionID, through, turns*2)
		if err != nil {
			return "", nil, err
		}
		if fold := len(delta) - keepRawTurns*2; fold > 0 {
			older := delta[:fold]
			next, err := o.synth.Synthesize(ctx, summary, older)
			if err != nil {
				o.metrics.RecordSynthesis("error")
				log.Warn("memory synthesis failed, using raw history", "error", err)
			} else {
				newThrough := older[len(older)-1].ID
				if err := o.store.SaveSummary(ctx, sessionID, next, newThrough); err != nil {
					return "", nil, err
				}
				o.metrics.RecordSynthesis("ok")
				log.Info("memory synthesized", "turns_folded", fold/2)
				summary, through = next, newThrough
			}
		}
	}

	history, err := o.store.HistorySince(ctx, sessionID, through, o.cfg.HistoryWindow)
	if err != nil {
		return "", nil, err
	}
	return summary, history, nil
}
