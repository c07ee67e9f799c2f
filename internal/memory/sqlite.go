package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mirfaizal/ai-finance-assistant/internal/storage"
)

// SQLiteStore SQLite conversation storage implementation. It owns the
// sessions, messages and summaries tables.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		agent TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id, id)`,
	`CREATE TABLE IF NOT EXISTS summaries (
		session_id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		through_message_id INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`,
}

// NewSQLiteStore opens the database at dbPath with the given driver and
// prepares the conversation tables.
func NewSQLiteStore(driver, dbPath string) (*SQLiteStore, error) {
	db, err := storage.Open(driver, dbPath)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLiteStoreFromDB(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewSQLiteStoreFromDB shares an already open database with other stores.
func NewSQLiteStoreFromDB(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if err := storage.Migrate(ctx, db, "conversation", migrations); err != nil {
		return nil, fmt.Errorf("failed to initialize conversation tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func ensureSession(ctx context.Context, tx *sql.Tx, sessionID string, now int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, now, now,
	)
	return err
}

// EnsureSession creates the session row if absent
func (s *SQLiteStore) EnsureSession(ctx context.Context, sessionID string) error {
	return storage.WithTx(ctx, s.db, "ensure session", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)`,
			sessionID, storage.NowMillis(), storage.NowMillis(),
		)
		return err
	})
}

const sessionColumns = `s.id, s.created_at, s.updated_at,
	(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id AND m.role != 'summary'),
	COALESCE((SELECT m.agent FROM messages m WHERE m.session_id = s.id AND m.role = 'assistant' ORDER BY m.id DESC LIMIT 1), '')`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var created, updated int64
	if err := row.Scan(&sess.ID, &created, &updated, &sess.MessageCount, &sess.LastAgent); err != nil {
		return nil, err
	}
	sess.CreatedAt = storage.FromMillis(created)
	sess.UpdatedAt = storage.FromMillis(updated)
	return &sess, nil
}

// GetSession gets a session by ID; nil when it does not exist
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Wrap("get session", err)
	}
	return sess, nil
}

// GetLatestSession gets the most recently updated session
func (s *SQLiteStore) GetLatestSession(ctx context.Context) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s ORDER BY s.updated_at DESC, s.rowid DESC LIMIT 1`)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Wrap("get latest session", err)
	}
	return sess, nil
}

// ListSessions lists sessions, most recently active first
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions s ORDER BY s.updated_at DESC, s.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storage.Wrap("list sessions", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, storage.Wrap("list sessions", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, storage.Wrap("list sessions", rows.Err())
}

// SaveTurn appends the user and assistant messages of one turn atomically,
// creating the session if needed.
func (s *SQLiteStore) SaveTurn(ctx context.Context, sessionID, userText, assistantText, agent string) error {
	return storage.WithTx(ctx, s.db, "save turn", func(tx *sql.Tx) error {
		now := storage.NowMillis()
		if err := ensureSession(ctx, tx, sessionID, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, role, content, agent, created_at) VALUES (?, ?, ?, NULL, ?)`,
			sessionID, RoleUser, userText, now,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, role, content, agent, created_at) VALUES (?, ?, ?, ?, ?)`,
			sessionID, RoleAssistant, assistantText, agent, now,
		)
		return err
	})
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	messages := []*Message{}
	for rows.Next() {
		var msg Message
		var agent sql.NullString
		var created int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &agent, &created); err != nil {
			return nil, err
		}
		msg.Agent = agent.String
		msg.CreatedAt = storage.FromMillis(created)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// GetHistory returns the most recent lastN messages of a session in
// chronological order; unknown sessions yield an empty slice.
func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string, lastN int) ([]*Message, error) {
	if lastN <= 0 {
		return []*Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, agent, created_at
		 FROM messages
		 WHERE session_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		sessionID, lastN,
	)
	if err != nil {
		return nil, storage.Wrap("get history", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, storage.Wrap("get history", err)
	}

	// Reverse order so messages are in chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// HistorySince returns up to limit user/assistant messages with id > afterID,
// the most recent ones when more exist, in chronological order.
func (s *SQLiteStore) HistorySince(ctx context.Context, sessionID string, afterID int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		return []*Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, agent, created_at FROM (
			SELECT id, session_id, role, content, agent, created_at
			FROM messages
			WHERE session_id = ? AND id > ? AND role IN ('user', 'assistant')
			ORDER BY id DESC
			LIMIT ?
		 ) ORDER BY id ASC`,
		sessionID, afterID, limit,
	)
	if err != nil {
		return nil, storage.Wrap("history since", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, storage.Wrap("history since", err)
	}
	return messages, nil
}

// TurnCount returns the number of user turns in a session
func (s *SQLiteStore) TurnCount(ctx context.Context, sessionID string) (int, error) {
	return s.TurnCountSince(ctx, sessionID, 0)
}

// TurnCountSince counts user turns recorded after message afterID
func (s *SQLiteStore) TurnCountSince(ctx context.Context, sessionID string, afterID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ? AND role = ? AND id > ?`,
		sessionID, RoleUser, afterID,
	).Scan(&n)
	if err != nil {
		return 0, storage.Wrap("turn count", err)
	}
	return n, nil
}

// GetSummary returns the session summary, nil when none exists
func (s *SQLiteStore) GetSummary(ctx context.Context, sessionID string) (*Summary, error) {
	var sum Summary
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, content, through_message_id, updated_at FROM summaries WHERE session_id = ?`,
		sessionID,
	).Scan(&sum.SessionID, &sum.Content, &sum.ThroughMessageID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Wrap("get summary", err)
	}
	sum.UpdatedAt = storage.FromMillis(updated)
	return &sum, nil
}

// SaveSummary replaces the session summary and records a summary message so
// the audit trail shows where compression happened.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sessionID, content string, throughMessageID int64) error {
	return storage.WithTx(ctx, s.db, "save summary", func(tx *sql.Tx) error {
		now := storage.NowMillis()
		if err := ensureSession(ctx, tx, sessionID, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO summaries (session_id, content, through_message_id, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(session_id) DO UPDATE SET
				content = excluded.content,
				through_message_id = excluded.through_message_id,
				updated_at = excluded.updated_at`,
			sessionID, content, throughMessageID, now,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, role, content, agent, created_at) VALUES (?, ?, ?, NULL, ?)`,
			sessionID, RoleSummary, content, now,
		)
		return err
	})
}

// ClearSession deletes all messages and the summary of a session
func (s *SQLiteStore) ClearSession(ctx context.Context, sessionID string) error {
	return storage.WithTx(ctx, s.db, "clear session", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE session_id = ?`, sessionID)
		return err
	})
}

// Close closes the database connection if this store opened it
func (s *SQLiteStore) Close() error {
	if s.db != nil && s.owned {
		return s.db.Close()
	}
	return nil
}
