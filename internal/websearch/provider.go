// Package websearch queries public search backends for the news and research
// specialists.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mirfaizal/ai-finance-assistant/internal/config"
)

const defaultUserAgent = "FinMate/1.0"

// ErrEmptyQuery is returned when a search is attempted without terms
var ErrEmptyQuery = errors.New("query cannot be empty")

// Result is a single search result entry.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

// Response is a normalized search response.
type Response struct {
	Query    string   `json:"query"`
	Provider string   `json:"provider"`
	Results  []Result `json:"results"`
}

// Provider performs web searches.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) (Response, error)
}

// New builds the provider selected in cfg; unknown names fall back to
// DuckDuckGo
func New(cfg config.WebSearchConfig) Provider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "searxng":
		return NewSearXNGProvider(cfg.BaseURL, cfg.UserAgent, cfg.APIKey, timeout)
	default:
		return NewDuckDuckGoProvider(cfg.BaseURL, cfg.UserAgent, timeout)
	}
}

// Text renders a response as a numbered plain-text list for prompts
func Text(resp Response) string {
	if len(resp.Results) == 0 {
		return fmt.Sprintf("No results for %q.", resp.Query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Results for %q (%s):\n", resp.Query, resp.Provider)
	for i, r := range resp.Results {
		title := r.Title
		if title == "" {
			title = r.URL
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, title, r.URL)
		if r.Snippet != "" && r.Snippet != r.Title {
			fmt.Fprintf(&b, "   %s\n", truncate(r.Snippet, 300))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// getJSON issues a GET and decodes a 2xx JSON body into out
func getJSON(ctx context.Context, client *http.Client, endpoint, userAgent string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("search request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func normalizeArgs(query string, limit int) (string, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", 0, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 5
	}
	if limit > 20 {
		limit = 20
	}
	return query, limit, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
