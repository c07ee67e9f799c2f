package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	prompt "github.com/c-bata/go-prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirfaizal/ai-finance-assistant/internal/config"
	"github.com/mirfaizal/ai-finance-assistant/internal/ledger"
	"github.com/mirfaizal/ai-finance-assistant/internal/llm"
	"github.com/mirfaizal/ai-finance-assistant/internal/llm/llmtest"
	"github.com/mirfaizal/ai-finance-assistant/internal/market"
	"github.com/mirfaizal/ai-finance-assistant/internal/storage"
)

func TestVersion(t *testing.T) {
	if Version != "0.1.0" {
		t.Errorf("Expected Version to be '0.1.0', got '%s'", Version)
	}
}

func TestTruncateForDisplay(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxLen   int
		expected string
	}{
		{"short text", "Hello", 10, "Hello"},
		{"exact length", "Hello", 5, "Hello"},
		{"truncate", "Hello World", 5, "Hello..."},
		{"with newlines", "Hello\nWorld", 20, "Hello World"},
		{"with carriage return", "Hello\r\nWorld", 20, "Hello World"},
		{"with leading/trailing spaces", "  Hello  ", 20, "Hello"},
		{"empty string", "", 10, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateForDisplay(tt.text, tt.maxLen)
			if got != tt.expected {
				t.Errorf("truncateForDisplay(%q, %d) = %q, want %q", tt.text, tt.maxLen, got, tt.expected)
			}
		})
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Driver = storage.DriverPureGo
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "finmate.db")
	cfg.Router.UseLLM = false
	cfg.Model.APIKey = ""
	return cfg
}

func newTestApp(t *testing.T, client llm.Client) *App {
	t.Helper()
	opts := []Option{WithQuoteProvider(market.NewStaticProvider(map[string]float64{"AAPL": 150}))}
	if client != nil {
		opts = append(opts, WithLLMClient(client))
	}
	app, err := NewApp(context.Background(), testConfig(t), nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func TestNewAppSeedsKnowledge(t *testing.T) {
	app := newTestApp(t, nil)

	require.NotNil(t, app.Knowledge)
	n, err := app.Knowledge.Count(context.Background())
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestAskWithoutModel(t *testing.T) {
	app := newTestApp(t, nil)

	_, err := app.Ask(context.Background(), "What is a bond?", "")
	require.Error(t, err)
	assert.True(t, IsNoModel(err))
}

func TestAppTrade(t *testing.T) {
	app := newTestApp(t, nil)
	ctx := context.Background()

	r, err := app.TradeAtMarket(ctx, ledger.ActionBuy, "s1", "aapl", 10)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", r.Trade.Ticker)
	assert.InDelta(t, 150, r.Trade.Price, 1e-9)

	_, err = app.Trade(ctx, ledger.ActionSell, "s1", "AAPL", 15, 200)
	assert.ErrorIs(t, err, ledger.ErrInsufficientShares)

	r, err = app.Trade(ctx, ledger.ActionSell, "s1", "AAPL", 4, 200)
	require.NoError(t, err)
	assert.InDelta(t, 200, r.RealizedPnL, 1e-9)

	var buf bytes.Buffer
	PrintReceipt(&buf, r)
	assert.Contains(t, buf.String(), "Realized P&L: 200.00")
	assert.Contains(t, buf.String(), "6 shares")

	_, err = app.Trade(ctx, "short", "s1", "AAPL", 1, 10)
	assert.Error(t, err)
	_, err = app.TradeAtMarket(ctx, ledger.ActionBuy, "s1", "ZZZZ", 1)
	assert.Error(t, err)

	for _, price := range []float64{0, -5} {
		_, err = app.Trade(ctx, ledger.ActionBuy, "s1", "AAPL", 1, price)
		assert.ErrorIs(t, err, ledger.ErrInvalidOrder)
	}
	holdings, err := app.Ledger.GetHoldings(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.InDelta(t, 6, holdings[0].Shares, 1e-9)
}

func TestREPLConversationAndCommands(t *testing.T) {
	client := llmtest.New(llmtest.Text("A wash sale disallows a loss when you rebuy within 30 days."))
	app := newTestApp(t, client)
	ctx := context.Background()

	var out bytes.Buffer
	repl := NewREPL(app, "", &out)
	sid := repl.SessionID()
	require.NotEmpty(t, sid)

	assert.False(t, repl.Execute(ctx, "What is the wash sale rule?"))
	assert.Contains(t, out.String(), "rebuy within 30 days")
	assert.Contains(t, out.String(), "tax_education_agent")

	out.Reset()
	repl.Execute(ctx, "/history")
	assert.Contains(t, out.String(), "You: What is the wash sale rule?")

	out.Reset()
	repl.Execute(ctx, "/sessions")
	assert.Contains(t, out.String(), sid)

	_, err := app.Trade(ctx, ledger.ActionBuy, sid, "AAPL", 2, 100)
	require.NoError(t, err)

	out.Reset()
	repl.Execute(ctx, "/holdings")
	assert.Contains(t, out.String(), "AAPL")
	assert.Contains(t, out.String(), "200.00")

	out.Reset()
	repl.Execute(ctx, "/trades")
	assert.Contains(t, out.String(), "BUY")

	out.Reset()
	repl.Execute(ctx, "/clear-holdings")
	assert.Contains(t, out.String(), "Removed 1 holding")

	out.Reset()
	repl.Execute(ctx, "/bogus")
	assert.Contains(t, out.String(), "Unknown command")

	repl.Execute(ctx, "/new")
	assert.NotEqual(t, sid, repl.SessionID())
	repl.Execute(ctx, "/session "+sid)
	assert.Equal(t, sid, repl.SessionID())

	assert.True(t, repl.Execute(ctx, "/exit"))
}

func TestREPLComplete(t *testing.T) {
	repl := &REPL{}
	names := func(text string) []string {
		var out []string
		for _, s := range repl.complete(*promptDocument(text)) {
			out = append(out, s.Text)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"/history", "/holdings", "/help"}, names("/h"))
	assert.Empty(t, names("what"))
	assert.Empty(t, names("/history 5"))
}

func TestToolCallPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := ToolCallPrinter(&buf)

	p("get_stock_quote", `{"ticker":"AAPL"}`, `{"price":150}`, true)
	p("sell_stock", `{"ticker":"AAPL"}`, `{"error":"insufficient shares"}`, false)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "get_stock_quote")
	assert.Contains(t, lines[1], "insufficient shares")
}

func promptDocument(text string) *prompt.Document {
	buf := prompt.NewBuffer()
	buf.InsertText(text, false, true)
	return buf.Document()
}
