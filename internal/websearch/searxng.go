package websearch

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SearXNGProvider queries a self-hosted SearXNG instance. Queries that look
// like news requests are sent to the news category.
type SearXNGProvider struct {
	baseURL   string
	userAgent string
	apiKey    string
	client    *http.Client
}

func NewSearXNGProvider(baseURL, userAgent, apiKey string, timeout time.Duration) *SearXNGProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SearXNGProvider{
		baseURL:   strings.TrimRight(orDefault(baseURL, "http://localhost:8080"), "/"),
		userAgent: orDefault(userAgent, defaultUserAgent),
		apiKey:    strings.TrimSpace(apiKey),
		client:    &http.Client{Timeout: timeout},
	}
}

func (p *SearXNGProvider) Name() string {
	return "searxng"
}

type searxngResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Content       string `json:"content"`
		PublishedDate string `json:"publishedDate"`
	} `json:"results"`
}

func (p *SearXNGProvider) Search(ctx context.Context, query string, limit int) (Response, error) {
	query, limit, err := normalizeArgs(query, limit)
	if err != nil {
		return Response{}, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("categories", category(query))
	params.Set("language", "en")
	params.Set("safesearch", "1")
	params.Set("count", strconv.Itoa(limit))
	if p.apiKey != "" {
		params.Set("apikey", p.apiKey)
	}

	var payload searxngResponse
	if err := getJSON(ctx, p.client, p.baseURL+"/search?"+params.Encode(), p.userAgent, &payload); err != nil {
		return Response{}, err
	}

	results := make([]Result, 0, limit)
	for _, res := range payload.Results {
		if len(results) >= limit {
			break
		}
		snippet := strings.TrimSpace(res.Content)
		if res.PublishedDate != "" {
			snippet = strings.TrimSpace(res.PublishedDate + " " + snippet)
		}
		results = append(results, Result{
			Title:   strings.TrimSpace(res.Title),
			URL:     strings.TrimSpace(res.URL),
			Snippet: snippet,
			Source:  p.Name(),
		})
	}

	return Response{Query: query, Provider: p.Name(), Results: results}, nil
}

func category(query string) string {
	q := strings.ToLower(query)
	for _, w := range []string{"news", "headline", "latest", "today", "this week"} {
		if strings.Contains(q, w) {
			return "news"
		}
	}
	return "general"
}
