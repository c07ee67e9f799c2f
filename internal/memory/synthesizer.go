package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mirfaizal/ai-finance-assistant/internal/llm"
)

// ErrSynthesisFailure wraps any failure to produce a summary. Callers treat it
// as non-fatal and keep using raw history.
var ErrSynthesisFailure = errors.New("memory synthesis failed")

const synthesisMaxTokens = 400

// Synthesizer compresses conversation history into a short prose summary
type Synthesizer struct {
	client llm.Client
	prompt string
}

// NewSynthesizer creates a synthesizer using prompt as system instructions
func NewSynthesizer(client llm.Client, prompt string) *Synthesizer {
	return &Synthesizer{client: client, prompt: prompt}
}

// Synthesize folds the previous summary and the given messages into a new
// summary. It depends only on its arguments.
func (s *Synthesizer) Synthesize(ctx context.Context, previous string, messages []*Message) (string, error) {
	previous = strings.TrimSpace(previous)
	if previous == "" && len(messages) == 0 {
		return "", nil
	}
	if previous == "" && len(messages) == 1 {
		return strings.TrimSpace(messages[0].Content), nil
	}

	resp, err := s.client.Chat(ctx, []llm.Message{
		llm.SystemMessage(s.prompt),
		llm.UserMessage(FormatTranscript(previous, messages)),
	}, nil, llm.WithMaxTokens(synthesisMaxTokens))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesisFailure, err)
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("%w: empty summary", ErrSynthesisFailure)
	}
	return summary, nil
}

// FormatTranscript renders history as "Role: text" lines for the synthesizer.
func FormatTranscript(previous string, messages []*Message) string {
	var sb strings.Builder
	if previous != "" {
		sb.WriteString("[Previous summary]: ")
		sb.WriteString(previous)
		sb.WriteString("\n\n")
	}
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			sb.WriteString("User: ")
		case RoleAssistant:
			sb.WriteString("Assistant: ")
		case RoleSummary:
			sb.WriteString("[Previous summary]: ")
		default:
			continue
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
