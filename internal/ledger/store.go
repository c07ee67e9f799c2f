package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mirfaizal/ai-finance-assistant/internal/storage"
)

// Store persists holdings and trades. Mutations of one (session, ticker)
// are serialized by a per-key lock and applied in a single transaction.
type Store struct {
	db    *sql.DB
	owned bool
	locks *keyLock
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS holdings (
		session_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		shares REAL NOT NULL CHECK (shares >= 0),
		avg_cost REAL NOT NULL CHECK (avg_cost >= 0),
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, ticker)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		action TEXT NOT NULL CHECK (action IN ('buy', 'sell')),
		shares REAL NOT NULL,
		price REAL NOT NULL,
		total_value REAL NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_session_id ON trades(session_id, id)`,
}

// NewStore opens the database at dbPath and prepares the ledger tables
func NewStore(driver, dbPath string) (*Store, error) {
	db, err := storage.Open(driver, dbPath)
	if err != nil {
		return nil, err
	}
	s, err := NewStoreFromDB(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewStoreFromDB shares an already open database with other stores
func NewStoreFromDB(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := storage.Migrate(ctx, db, "ledger", migrations); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger tables: %w", err)
	}
	return &Store{db: db, locks: newKeyLock()}, nil
}

// NormalizeTicker upper-cases and trims a symbol
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func validateOrder(ticker string, shares, price float64) error {
	if ticker == "" {
		return &InvalidOrderError{Field: "ticker", Reason: "must not be empty"}
	}
	if math.IsNaN(shares) || math.IsInf(shares, 0) || shares <= 0 {
		return &InvalidOrderError{Field: "shares", Value: shares, Reason: "must be a positive number"}
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return &InvalidOrderError{Field: "price", Value: price, Reason: "must be a positive number"}
	}
	return nil
}

// GetHoldings returns the session's positions ordered by ticker
func (s *Store) GetHoldings(ctx context.Context, sessionID string) ([]Holding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, ticker, shares, avg_cost, updated_at FROM holdings WHERE session_id = ? ORDER BY ticker`,
		sessionID,
	)
	if err != nil {
		return nil, storage.Wrap("get holdings", err)
	}
	defer rows.Close()

	holdings := []Holding{}
	for rows.Next() {
		var h Holding
		var updated int64
		if err := rows.Scan(&h.SessionID, &h.Ticker, &h.Shares, &h.AvgCost, &updated); err != nil {
			return nil, storage.Wrap("get holdings", err)
		}
		h.UpdatedAt = storage.FromMillis(updated)
		holdings = append(holdings, h)
	}
	return holdings, storage.Wrap("get holdings", rows.Err())
}

// GetHolding returns one position, nil when none is held
func (s *Store) GetHolding(ctx context.Context, sessionID, ticker string) (*Holding, error) {
	h, err := getHolding(ctx, s.db, sessionID, NormalizeTicker(ticker))
	if err != nil {
		return nil, storage.Wrap("get holding", err)
	}
	return h, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getHolding(ctx context.Context, q queryRower, sessionID, ticker string) (*Holding, error) {
	var h Holding
	var updated int64
	err := q.QueryRowContext(ctx,
		`SELECT session_id, ticker, shares, avg_cost, updated_at FROM holdings WHERE session_id = ? AND ticker = ?`,
		sessionID, ticker,
	).Scan(&h.SessionID, &h.Ticker, &h.Shares, &h.AvgCost, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h.UpdatedAt = storage.FromMillis(updated)
	return &h, nil
}

// GetTrades returns up to lastN trades, newest first
func (s *Store) GetTrades(ctx context.Context, sessionID string, lastN int) ([]Trade, error) {
	if lastN <= 0 {
		lastN = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, ticker, action, shares, price, total_value, created_at
		 FROM trades WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, lastN,
	)
	if err != nil {
		return nil, storage.Wrap("get trades", err)
	}
	defer rows.Close()

	trades := []Trade{}
	for rows.Next() {
		var tr Trade
		var created int64
		if err := rows.Scan(&tr.ID, &tr.SessionID, &tr.Ticker, &tr.Action, &tr.Shares, &tr.Price, &tr.TotalValue, &created); err != nil {
			return nil, storage.Wrap("get trades", err)
		}
		tr.CreatedAt = storage.FromMillis(created)
		trades = append(trades, tr)
	}
	return trades, storage.Wrap("get trades", rows.Err())
}

// ApplyBuy records a purchase and returns the updated position
func (s *Store) ApplyBuy(ctx context.Context, sessionID, ticker string, shares, price float64) (Holding, error) {
	r, err := s.Buy(ctx, sessionID, ticker, shares, price)
	if err != nil {
		return Holding{}, err
	}
	return r.Position, nil
}

// ApplySell records a sale and returns the remaining position; Shares is zero
// when the position was closed.
func (s *Store) ApplySell(ctx context.Context, sessionID, ticker string, shares, price float64) (Holding, error) {
	r, err := s.Sell(ctx, sessionID, ticker, shares, price)
	if err != nil {
		return Holding{}, err
	}
	return r.Position, nil
}

// Buy applies a purchase: weighted-average cost recompute plus trade row
func (s *Store) Buy(ctx context.Context, sessionID, ticker string, shares, price float64) (*Receipt, error) {
	ticker = NormalizeTicker(ticker)
	if err := validateOrder(ticker, shares, price); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(sessionID + "|" + ticker)
	defer unlock()

	var receipt Receipt
	err := storage.WithTx(ctx, s.db, "apply buy", func(tx *sql.Tx) error {
		now := storage.NowMillis()
		current, err := getHolding(ctx, tx, sessionID, ticker)
		if err != nil {
			return err
		}

		pos := Holding{SessionID: sessionID, Ticker: ticker, Shares: shares, AvgCost: price, UpdatedAt: storage.FromMillis(now)}
		if current != nil {
			pos.Shares = current.Shares + shares
			pos.AvgCost = (current.Shares*current.AvgCost + shares*price) / pos.Shares
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO holdings (session_id, ticker, shares, avg_cost, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, ticker) DO UPDATE SET
				shares = excluded.shares,
				avg_cost = excluded.avg_cost,
				updated_at = excluded.updated_at`,
			sessionID, ticker, pos.Shares, pos.AvgCost, now,
		); err != nil {
			return err
		}

		trade, err := insertTrade(ctx, tx, sessionID, ticker, ActionBuy, shares, price, now)
		if err != nil {
			return err
		}
		receipt = Receipt{Trade: trade, Position: pos}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Sell applies a sale. The balance check and the decrement happen under the
// same lock and transaction; the average cost of the remainder is unchanged.
func (s *Store) Sell(ctx context.Context, sessionID, ticker string, shares, price float64) (*Receipt, error) {
	ticker = NormalizeTicker(ticker)
	if err := validateOrder(ticker, shares, price); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(sessionID + "|" + ticker)
	defer unlock()

	var receipt Receipt
	err := storage.WithTx(ctx, s.db, "apply sell", func(tx *sql.Tx) error {
		now := storage.NowMillis()
		current, err := getHolding(ctx, tx, sessionID, ticker)
		if err != nil {
			return err
		}
		held := 0.0
		if current != nil {
			held = current.Shares
		}
		if current == nil || shares > held+shareEpsilon {
			return &InsufficientSharesError{Ticker: ticker, Requested: shares, Held: held}
		}

		pos := *current
		pos.Shares = held - shares
		pos.UpdatedAt = storage.FromMillis(now)
		if pos.Shares < shareEpsilon {
			pos.Shares = 0
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM holdings WHERE session_id = ? AND ticker = ?`, sessionID, ticker,
			); err != nil {
				return err
			}
		} else if _, err := tx.ExecContext(ctx,
			`UPDATE holdings SET shares = ?, updated_at = ? WHERE session_id = ? AND ticker = ?`,
			pos.Shares, now, sessionID, ticker,
		); err != nil {
			return err
		}

		trade, err := insertTrade(ctx, tx, sessionID, ticker, ActionSell, shares, price, now)
		if err != nil {
			return err
		}
		receipt = Receipt{
			Trade:       trade,
			Position:    pos,
			RealizedPnL: (price - current.AvgCost) * shares,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func insertTrade(ctx context.Context, tx *sql.Tx, sessionID, ticker, action string, shares, price float64, now int64) (Trade, error) {
	total := shares * price
	res, err := tx.ExecContext(ctx,
		`INSERT INTO trades (session_id, ticker, action, shares, price, total_value, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, ticker, action, shares, price, total, now,
	)
	if err != nil {
		return Trade{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Trade{}, err
	}
	return Trade{
		ID:         id,
		SessionID:  sessionID,
		Ticker:     ticker,
		Action:     action,
		Shares:     shares,
		Price:      price,
		TotalValue: total,
		CreatedAt:  storage.FromMillis(now),
	}, nil
}

// ClearHoldings deletes every position of the session and reports how many
// were removed. Trades are kept.
func (s *Store) ClearHoldings(ctx context.Context, sessionID string) (int, error) {
	var n int64
	err := storage.WithTx(ctx, s.db, "clear holdings", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM holdings WHERE session_id = ?`, sessionID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// Close closes the database connection if this store opened it
func (s *Store) Close() error {
	if s.db != nil && s.owned {
		return s.db.Close()
	}
	return nil
}
