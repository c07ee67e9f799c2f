package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mirfaizal/ai-finance-assistant/internal/config"
)

const (
	fetchMaxBytes = int64(1 << 20)
	// articleMaxChars bounds what goes back into the model context
	articleMaxChars = 12000
)

// FetchURLTool reads a news article: title, description, publication
// time and the body paragraphs. Navigation, ads and scripts are dropped.
type FetchURLTool struct {
	userAgent string
	timeout   time.Duration
	client    *http.Client
}

// NewFetchURLTool creates the article reader from the web search settings
func NewFetchURLTool(cfg config.WebSearchConfig) *FetchURLTool {
	t := &FetchURLTool{userAgent: "FinMate/1.0", timeout: 15 * time.Second}
	if ua := strings.TrimSpace(cfg.UserAgent); ua != "" {
		t.userAgent = ua
	}
	if cfg.TimeoutSeconds > 0 {
		t.timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	t.client = &http.Client{Timeout: t.timeout}
	return t
}

func (t *FetchURLTool) Name() string {
	return "fetch_url"
}

func (t *FetchURLTool) Description() string {
	return "Read a news article or web page found with web_search. Returns its title, description, publication time and body text."
}

func (t *FetchURLTool) Parameters() []ParameterDef {
	return []ParameterDef{
		{Name: "url", Type: "string", Description: "http or https URL of the article", Required: true},
		{Name: "max_chars", Type: "integer", Description: fmt.Sprintf("Maximum characters of body text (default %d)", articleMaxChars)},
	}
}

// Article is what fetch_url reports about a page
type Article struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Site        string `json:"site,omitempty"`
	Description string `json:"description,omitempty"`
	Published   string `json:"published,omitempty"`
	Content     string `json:"content"`
	Truncated   bool   `json:"truncated"`
}

func (t *FetchURLTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL := strings.TrimSpace(stringArg(args, "url"))
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid url: %q", rawURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme: %s", parsed.Scheme)
	}
	limit := intArg(args, "max_chars", articleMaxChars)
	if limit <= 0 || limit > articleMaxChars {
		limit = articleMaxChars
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", parsed.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", parsed.String(), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", parsed.Host, err)
	}

	var a Article
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		a, err = ReadArticle(bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", parsed.Host, err)
		}
	} else {
		a.Content = strings.TrimSpace(string(body))
	}
	a.URL = parsed.String()
	if r := []rune(a.Content); len(r) > limit {
		a.Content = string(r[:limit])
		a.Truncated = true
	}
	return toJSON(a)
}

// skipped subtrees never contain article text
var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Nav: true,
	atom.Header: true, atom.Footer: true, atom.Aside: true, atom.Form: true,
	atom.Iframe: true, atom.Svg: true, atom.Button: true, atom.Template: true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.Li: true, atom.Blockquote: true, atom.Pre: true,
}

// inline elements do not separate words
var inline = map[atom.Atom]bool{
	atom.A: true, atom.B: true, atom.I: true, atom.Em: true, atom.Strong: true,
	atom.Span: true, atom.Code: true, atom.Small: true, atom.Sub: true, atom.Sup: true,
	atom.Abbr: true, atom.Time: true, atom.Mark: true, atom.U: true, atom.S: true,
	atom.Cite: true, atom.Q: true,
}

// ReadArticle extracts the readable parts of an HTML page. Body text comes
// from <article>, else <main>, else <body>; paragraphs are separated by a
// blank line.
func ReadArticle(r io.Reader) (Article, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Article{}, err
	}

	var a Article
	var article, mainEl, body *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if a.Title == "" {
					a.Title = textOf(n)
				}
			case atom.Meta:
				readMeta(&a, n)
			case atom.Article:
				if article == nil {
					article = n
				}
			case atom.Main:
				if mainEl == nil {
					mainEl = n
				}
			case atom.Body:
				body = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	root := article
	if root == nil {
		root = mainEl
	}
	if root == nil {
		root = body
	}
	if root == nil {
		root = doc
	}

	var paras []string
	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped[n.DataAtom] {
				return
			}
			if blocks[n.DataAtom] {
				if text := textOf(n); text != "" {
					paras = append(paras, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(root)

	if len(paras) == 0 {
		a.Content = textOf(root)
	} else {
		a.Content = strings.Join(paras, "\n\n")
	}
	return a, nil
}

func readMeta(a *Article, n *html.Node) {
	var key, content string
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "name", "property":
			key = strings.ToLower(attr.Val)
		case "content":
			content = strings.TrimSpace(attr.Val)
		}
	}
	if content == "" {
		return
	}
	switch key {
	case "description", "og:description":
		if a.Description == "" {
			a.Description = content
		}
	case "og:title":
		if a.Title == "" {
			a.Title = content
		}
	case "og:site_name":
		a.Site = content
	case "article:published_time", "date", "pubdate":
		if a.Published == "" {
			a.Published = content
		}
	}
}

// textOf returns the visible text under n with whitespace collapsed
func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if skipped[n.DataAtom] {
				return
			}
			if !inline[n.DataAtom] {
				sb.WriteByte(' ')
				defer sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
