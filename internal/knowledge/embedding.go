package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/mirfaizal/ai-finance-assistant/internal/config"
)

// Embedder turns texts into fixed-size vectors
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// NewEmbedder selects the HTTP embedder when a base URL is configured and the
// local hashing embedder otherwise
func NewEmbedder(cfg config.EmbeddingConfig) Embedder {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return NewHashEmbedder(cfg.Dimension)
	}
	return NewHTTPEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimension)
}

// HashEmbedder is a deterministic bag-of-words embedder using the hashing
// trick over unigrams and bigrams. It needs no network access, so the
// knowledge base works offline and in tests.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hashing embedder; dim defaults to 256
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dim)
	words := tokenize(text)
	add := func(term string, weight float32) {
		h := fnv.New32a()
		h.Write([]byte(term))
		sum := h.Sum32()
		idx := int(sum % uint32(e.dim))
		// sign bit keeps collisions from always adding up
		if sum&(1<<31) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}
	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}
	return normalize(vec)
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "of": true,
	"to": true, "in": true, "and": true, "or": true, "for": true, "on": true,
	"what": true, "how": true, "does": true, "do": true, "i": true, "my": true,
	"it": true, "be": true, "can": true, "with": true, "that": true, "this": true,
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			words = append(words, f)
		}
	}
	return words
}

// HTTPEmbedder calls an OpenAI-compatible /v1/embeddings endpoint
type HTTPEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
	maxRetries int
}

// NewHTTPEmbedder creates an embeddings client
func NewHTTPEmbedder(baseURL, apiKey, model string, dimension int) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 2,
	}
}

func (c *HTTPEmbedder) Dimension() int { return c.dimension }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		vectors, err := c.doEmbed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(1<<attempt) * 500 * time.Millisecond):
			}
		}
	}
	return nil, fmt.Errorf("embedding request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *HTTPEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			continue
		}
		if c.dimension > 0 && len(d.Embedding) != c.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: want %d, got %d", c.dimension, len(d.Embedding))
		}
		vectors[d.Index] = normalize(d.Embedding)
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedding %d missing from response", i)
		}
	}
	return vectors, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
