// Package knowledge is a small retrieval store for reference material the
// specialists can cite: text chunks with embedding vectors in SQLite, ranked
// by cosine similarity at query time.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mirfaizal/ai-finance-assistant/internal/storage"
)

// Chunk is one retrievable passage
type Chunk struct {
	ID     int64   `json:"id"`
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// Retriever finds the passages most similar to a query
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Chunk, error)
}

var migrations = []string{
	`CREATE TABLE knowledge_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		seq INTEGER NOT NULL,
		content TEXT NOT NULL,
		vector BLOB NOT NULL,
		dimension INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(source, seq)
	)`,
	`CREATE INDEX idx_knowledge_source ON knowledge_chunks(source)`,
}

// Store keeps chunks and their vectors. Vectors are L2-normalised before
// storage, so similarity is a plain dot product. Search is a full scan,
// fine for a reference corpus of a few thousand chunks.
type Store struct {
	db       *sql.DB
	owned    bool
	embedder Embedder
	minScore float64
}

// NewStore opens its own database
func NewStore(driver, path string, embedder Embedder) (*Store, error) {
	db, err := storage.Open(driver, path)
	if err != nil {
		return nil, err
	}
	s, err := NewStoreFromDB(context.Background(), db, embedder)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewStoreFromDB shares an already opened database
func NewStoreFromDB(ctx context.Context, db *sql.DB, embedder Embedder) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("knowledge: embedder is required")
	}
	if err := storage.Migrate(ctx, db, "knowledge", migrations); err != nil {
		return nil, err
	}
	return &Store{db: db, embedder: embedder}, nil
}

// SetMinScore drops results below the given similarity
func (s *Store) SetMinScore(v float64) {
	s.minScore = v
}

// Replace embeds texts and stores them as the chunks of source, removing
// whatever that source held before. Returns the number of chunks stored.
func (s *Store) Replace(ctx context.Context, source string, texts []string) (int, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return 0, errors.New("knowledge: source is required")
	}
	kept := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			kept = append(kept, t)
		}
	}

	vectors, err := s.embedder.Embed(ctx, kept)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", source, err)
	}
	if len(vectors) != len(kept) {
		return 0, fmt.Errorf("embed %s: got %d vectors for %d chunks", source, len(vectors), len(kept))
	}

	err = storage.WithTx(ctx, s.db, "knowledge replace", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE source = ?`, source); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO knowledge_chunks
			(source, seq, content, vector, dimension, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := storage.NowMillis()
		for i, text := range kept {
			if _, err := stmt.ExecContext(ctx, source, i, text, vectorToBlob(vectors[i]), len(vectors[i]), now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(kept), nil
}

// Retrieve returns up to k chunks ordered by descending similarity
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]Chunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 4
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	q := vectors[0]

	rows, err := s.db.QueryContext(ctx, `SELECT id, source, content, vector FROM knowledge_chunks WHERE dimension = ?`, len(q))
	if err != nil {
		return nil, storage.Wrap("knowledge retrieve", err)
	}
	defer rows.Close()

	var results []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Source, &c.Text, &blob); err != nil {
			return nil, storage.Wrap("knowledge retrieve", err)
		}
		c.Score = dot(q, blobToVector(blob))
		if c.Score >= s.minScore {
			results = append(results, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("knowledge retrieve", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of stored chunks
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_chunks`).Scan(&n); err != nil {
		return 0, storage.Wrap("knowledge count", err)
	}
	return n, nil
}

// Sources lists distinct sources with their chunk counts
func (s *Store) Sources(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM knowledge_chunks GROUP BY source`)
	if err != nil {
		return nil, storage.Wrap("knowledge sources", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, storage.Wrap("knowledge sources", err)
		}
		out[src] = n
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func vectorToBlob(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func blobToVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
