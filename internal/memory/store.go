package memory

import (
	"context"
	"time"
)

// Message roles persisted in the messages table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSummary   = "summary"
)

// Store conversation storage interface
type Store interface {
	// Session management
	EnsureSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	GetLatestSession(ctx context.Context) (*Session, error)
	ListSessions(ctx context.Context, limit int) ([]*Session, error)
	ClearSession(ctx context.Context, sessionID string) error

	// Turns
	SaveTurn(ctx context.Context, sessionID, userText, assistantText, agent string) error
	GetHistory(ctx context.Context, sessionID string, lastN int) ([]*Message, error)
	HistorySince(ctx context.Context, sessionID string, afterID int64, limit int) ([]*Message, error)
	TurnCount(ctx context.Context, sessionID string) (int, error)
	TurnCountSince(ctx context.Context, sessionID string, afterID int64) (int, error)

	// Summaries
	GetSummary(ctx context.Context, sessionID string) (*Summary, error)
	SaveSummary(ctx context.Context, sessionID, content string, throughMessageID int64) error

	Close() error
}

// Session session structure
type Session struct {
	ID           string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
	LastAgent    string
}

// Message message structure
type Message struct {
	ID        int64
	SessionID string
	Role      string // "user" | "assistant" | "summary"
	Content   string
	Agent     string // specialist that produced an assistant message
	CreatedAt time.Time
}

// Summary is the compressed context of a session. ThroughMessageID is the
// last raw message it covers; later messages are appended to it as raw turns.
type Summary struct {
	SessionID        string
	Content          string
	ThroughMessageID int64
	UpdatedAt        time.Time
}
