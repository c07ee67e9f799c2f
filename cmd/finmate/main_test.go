package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirfaizal/ai-finance-assistant/internal/config"
	"github.com/mirfaizal/ai-finance-assistant/internal/ledger"
)

func TestLogConfigInfo(t *testing.T) {
	// Should not panic before the logger is initialised
	logConfigInfo(config.DefaultConfig())
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()

	want := []string{"ask", "config", "history", "knowledge", "serve-metrics", "sessions", "trade", "version"}
	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}

	trade, _, err := root.Find([]string{"trade", "buy"})
	require.NoError(t, err)
	assert.Equal(t, "buy", trade.Name())
	assert.NotNil(t, trade.Flags().Lookup("price"))
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`storage:
  driver: sqlite
  db_path: %s
market:
  provider: static
knowledge:
  enabled: false
router:
  use_llm: false
`, filepath.Join(dir, "finmate.db"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0600))
	return dir
}

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config-dir", dir}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := writeTestConfig(t)

	t.Run("version", func(t *testing.T) {
		out, err := run(t, dir, "version")
		require.NoError(t, err)
		assert.Equal(t, "FinMate v"+version+"\n", out)
	})

	t.Run("config", func(t *testing.T) {
		out, err := run(t, dir, "config")
		require.NoError(t, err)
		assert.Contains(t, out, filepath.Join(dir, "config.yaml"))
	})

	t.Run("trade", func(t *testing.T) {
		out, err := run(t, dir, "trade", "buy", "AAPL", "10", "--price", "150", "--session", "s1")
		require.NoError(t, err)
		assert.Contains(t, out, "AAPL")

		out, err = run(t, dir, "trade", "holdings", "--session", "s1")
		require.NoError(t, err)
		assert.Contains(t, out, "AAPL")
		assert.Contains(t, out, "150")

		_, err = run(t, dir, "trade", "sell", "AAPL", "15", "--price", "160", "--session", "s1")
		assert.Error(t, err)

		_, err = run(t, dir, "trade", "buy", "AAPL", "10", "--price", "-5", "--session", "s1")
		assert.ErrorIs(t, err, ledger.ErrInvalidOrder)

		out, err = run(t, dir, "trade", "holdings", "--session", "s1")
		require.NoError(t, err)
		assert.Contains(t, out, "10")

		out, err = run(t, dir, "trade", "history", "--session", "s1")
		require.NoError(t, err)
		assert.Contains(t, out, "AAPL")

		out, err = run(t, dir, "trade", "clear", "--session", "s1")
		require.NoError(t, err)
		assert.Contains(t, out, "Removed 1 holding(s)")
	})

	t.Run("trade requires session", func(t *testing.T) {
		_, err := run(t, dir, "trade", "holdings")
		assert.Error(t, err)
	})

	t.Run("invalid shares", func(t *testing.T) {
		_, err := run(t, dir, "trade", "buy", "AAPL", "ten", "--price", "1", "--session", "s1")
		assert.Error(t, err)
	})

	t.Run("ask without model", func(t *testing.T) {
		_, err := run(t, dir, "ask", "What is an ETF?")
		assert.Error(t, err)
	})

	t.Run("knowledge disabled", func(t *testing.T) {
		_, err := run(t, dir, "knowledge", "sources")
		assert.Error(t, err)
	})

	t.Run("history of empty store", func(t *testing.T) {
		out, err := run(t, dir, "history")
		require.NoError(t, err)
		assert.Contains(t, out, "No sessions yet.")
	})
}
