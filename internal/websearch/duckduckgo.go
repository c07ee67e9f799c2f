package websearch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DuckDuckGoProvider uses the keyless Instant Answer API. It returns topic
// summaries rather than a full index, which is enough for definitions.
type DuckDuckGoProvider struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

func NewDuckDuckGoProvider(baseURL, userAgent string, timeout time.Duration) *DuckDuckGoProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DuckDuckGoProvider{
		baseURL:   strings.TrimRight(orDefault(baseURL, "https://api.duckduckgo.com"), "/"),
		userAgent: orDefault(userAgent, defaultUserAgent),
		client:    &http.Client{Timeout: timeout},
	}
}

func (p *DuckDuckGoProvider) Name() string {
	return "duckduckgo"
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Results       []ddgTopic `json:"Results"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, limit int) (Response, error) {
	query, limit, err := normalizeArgs(query, limit)
	if err != nil {
		return Response{}, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	var payload ddgResponse
	if err := getJSON(ctx, p.client, p.baseURL+"/?"+params.Encode(), p.userAgent, &payload); err != nil {
		return Response{}, err
	}

	c := collector{limit: limit, source: p.Name(), seen: make(map[string]bool)}
	if payload.AbstractText != "" {
		c.add(orDefault(payload.Heading, payload.AbstractText), payload.AbstractURL, payload.AbstractText)
	}
	c.walk(payload.Results)
	c.walk(payload.RelatedTopics)

	return Response{Query: query, Provider: p.Name(), Results: c.results}, nil
}

// collector dedupes by URL and stops at limit
type collector struct {
	limit   int
	source  string
	seen    map[string]bool
	results []Result
}

func (c *collector) add(title, link, snippet string) {
	link = strings.TrimSpace(link)
	if len(c.results) >= c.limit || link == "" || c.seen[link] {
		return
	}
	c.seen[link] = true
	c.results = append(c.results, Result{
		Title:   strings.TrimSpace(title),
		URL:     link,
		Snippet: strings.TrimSpace(snippet),
		Source:  c.source,
	})
}

// walk flattens nested topic groups
func (c *collector) walk(topics []ddgTopic) {
	for _, t := range topics {
		if len(c.results) >= c.limit {
			return
		}
		if len(t.Topics) > 0 {
			c.walk(t.Topics)
			continue
		}
		c.add(t.Text, t.FirstURL, t.Text)
	}
}
