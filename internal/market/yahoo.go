package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// YahooProvider reads the public Yahoo Finance chart endpoint
type YahooProvider struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewYahooProvider creates a Yahoo Finance provider
func NewYahooProvider(baseURL, userAgent string, timeout time.Duration) *YahooProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YahooProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *YahooProvider) Name() string {
	return "yahoo"
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				ShortName          string  `json:"shortName"`
				LongName           string  `json:"longName"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				PreviousClose      float64 `json:"previousClose"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *YahooProvider) Quote(ctx context.Context, ticker string) (*Quote, error) {
	ticker = normalize(ticker)
	if ticker == "" {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=1d&interval=1d", p.baseURL, url.PathEscape(ticker))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("quote request failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if payload.Chart.Error != nil || len(payload.Chart.Result) == 0 {
		return nil, nil
	}

	meta := payload.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return nil, nil
	}
	prev := meta.PreviousClose
	if prev == 0 {
		prev = meta.ChartPreviousClose
	}
	name := meta.LongName
	if name == "" {
		name = meta.ShortName
	}
	asOf := time.Now()
	if meta.RegularMarketTime > 0 {
		asOf = time.Unix(meta.RegularMarketTime, 0)
	}
	return withChange(&Quote{
		Ticker:        ticker,
		Name:          name,
		Price:         meta.RegularMarketPrice,
		PreviousClose: prev,
		Currency:      meta.Currency,
		AsOf:          asOf,
	}), nil
}
