// Package cli is the terminal front end: application wiring, the
// interactive chat REPL and table output shared with the subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	prompt "github.com/c-bata/go-prompt"

	"github.com/mirfaizal/ai-finance-assistant/internal/orchestrator"
)

const (
	Version = "0.1.0"

	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

const defaultHistoryLines = 20

// REPL is one interactive chat. It keeps only the current session id; the
// conversation itself lives in the store.
type REPL struct {
	app       *App
	out       io.Writer
	sessionID string
	inputs    []string
}

// NewREPL creates a REPL bound to sessionID, or to a fresh session when empty
func NewREPL(app *App, sessionID string, out io.Writer) *REPL {
	if sessionID == "" {
		sessionID = orchestrator.NewSessionID()
	}
	return &REPL{app: app, out: out, sessionID: sessionID}
}

// SessionID returns the active session
func (r *REPL) SessionID() string {
	return r.sessionID
}

// Run reads lines until /exit
func (r *REPL) Run(ctx context.Context) error {
	r.printWelcome()
	for {
		line := prompt.Input("You: ", r.complete,
			prompt.OptionHistory(r.inputs),
			prompt.OptionPrefixTextColor(prompt.Green),
			prompt.OptionMaxSuggestion(8),
		)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.inputs = append(r.inputs, line)

		if r.Execute(ctx, line) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

var commands = []prompt.Suggest{
	{Text: "/help", Description: "Show commands"},
	{Text: "/new", Description: "Start a new session"},
	{Text: "/session", Description: "Show or switch session: /session [id]"},
	{Text: "/sessions", Description: "List recent sessions"},
	{Text: "/history", Description: "Show this session's messages: /history [n]"},
	{Text: "/holdings", Description: "Show paper holdings"},
	{Text: "/trades", Description: "Show recent paper trades"},
	{Text: "/clear-holdings", Description: "Remove all paper holdings of this session"},
	{Text: "/clear", Description: "Delete this session's conversation"},
	{Text: "/config", Description: "Show configuration"},
	{Text: "/exit", Description: "Quit"},
}

func (r *REPL) complete(d prompt.Document) []prompt.Suggest {
	text := d.TextBeforeCursor()
	if !strings.HasPrefix(text, "/") || strings.Contains(text, " ") {
		return nil
	}
	return prompt.FilterHasPrefix(commands, text, true)
}

// Execute handles one input line and reports whether the REPL should exit
func (r *REPL) Execute(ctx context.Context, line string) bool {
	if strings.HasPrefix(line, "/") {
		return r.handleCommand(ctx, line)
	}

	res, err := r.app.Ask(ctx, line, r.sessionID)
	if err != nil {
		fmt.Fprintf(r.out, "%s❌ Error: %v%s\n\n", colorRed, err, colorReset)
		return false
	}
	fmt.Fprintf(r.out, "\n%sFinMate%s %s[%s]%s\n%s\n\n", colorBlue, colorReset, colorGray, res.Agent, colorReset, res.Answer)
	return false
}

func (r *REPL) handleCommand(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case "/help":
		r.printHelp()

	case "/exit", "/quit", "/q":
		fmt.Fprintf(r.out, "%sGoodbye! 👋%s\n", colorCyan, colorReset)
		return true

	case "/new":
		r.sessionID = orchestrator.NewSessionID()
		fmt.Fprintf(r.out, "%s✅ New session %s%s\n", colorGreen, r.sessionID, colorReset)

	case "/session":
		if len(parts) > 1 {
			r.sessionID = parts[1]
			fmt.Fprintf(r.out, "%s✅ Switched to session %s%s\n", colorGreen, r.sessionID, colorReset)
			return false
		}
		fmt.Fprintf(r.out, "Current session: %s\n", r.sessionID)

	case "/sessions":
		sessions, err := r.app.Memory.ListSessions(ctx, 20)
		if r.report(err) {
			PrintSessions(r.out, sessions, r.sessionID)
		}

	case "/history":
		n := defaultHistoryLines
		if len(parts) > 1 {
			if v, err := strconv.Atoi(parts[1]); err == nil && v > 0 {
				n = v
			}
		}
		msgs, err := r.app.Memory.GetHistory(ctx, r.sessionID, n)
		if r.report(err) {
			PrintHistory(r.out, msgs)
		}

	case "/holdings":
		holdings, err := r.app.Ledger.GetHoldings(ctx, r.sessionID)
		if r.report(err) {
			PrintHoldings(r.out, holdings)
		}

	case "/trades":
		trades, err := r.app.Ledger.GetTrades(ctx, r.sessionID, defaultHistoryLines)
		if r.report(err) {
			PrintTrades(r.out, trades)
		}

	case "/clear-holdings":
		n, err := r.app.Ledger.ClearHoldings(ctx, r.sessionID)
		if r.report(err) {
			fmt.Fprintf(r.out, "%s✅ Removed %d holding(s); trade history kept%s\n", colorGreen, n, colorReset)
		}

	case "/clear":
		if r.report(r.app.Memory.ClearSession(ctx, r.sessionID)) {
			fmt.Fprintf(r.out, "%s✅ Session cleared%s\n", colorGreen, colorReset)
		}

	case "/config":
		fmt.Fprintln(r.out, r.app.Config.String())

	default:
		fmt.Fprintf(r.out, "%s❓ Unknown command: %s%s\n", colorYellow, line, colorReset)
		fmt.Fprintln(r.out, "Type /help for available commands")
	}
	return false
}

// report prints err and returns true when there was none
func (r *REPL) report(err error) bool {
	if err == nil {
		return true
	}
	fmt.Fprintf(r.out, "%s❌ %v%s\n", colorRed, err, colorReset)
	return false
}

func (r *REPL) printWelcome() {
	fmt.Fprintf(r.out, "\n%s💹 FinMate v%s%s - your financial education assistant\n", colorCyan, Version, colorReset)
	fmt.Fprintf(r.out, "%sSession %s. Type /help for commands, /exit to quit.%s\n", colorGray, r.sessionID, colorReset)
	fmt.Fprintf(r.out, "%sEducation only, not investment advice. Trades are paper trades.%s\n\n", colorGray, colorReset)
}

func (r *REPL) printHelp() {
	fmt.Fprintf(r.out, "\n%s📚 FinMate Help%s\n\n%sCommands:%s\n", colorCyan, colorReset, colorYellow, colorReset)
	for _, c := range commands {
		fmt.Fprintf(r.out, "  %-16s - %s\n", c.Text, c.Description)
	}
	fmt.Fprintf(r.out, `
%sExamples:%s
  "What is the wash sale rule?"
  "Buy 10 shares of AAPL"
  "How is my portfolio allocated?"
  "How much should I save monthly to reach $50,000 in 5 years?"

`, colorYellow, colorReset)
}

// ToolCallPrinter returns a tool-call observer that prints one line per call
func ToolCallPrinter(w io.Writer) func(name, args, result string, ok bool) {
	return func(name, args, result string, ok bool) {
		status := colorGreen + "✅" + colorReset
		if !ok {
			status = colorRed + "❌ " + truncateForDisplay(result, 120) + colorReset
		}
		fmt.Fprintf(w, "%s🔧 %s %s%s %s\n", colorYellow, name, truncateForDisplay(args, 80), colorReset, status)
	}
}

// IsNoModel reports whether err means the model is not configured
func IsNoModel(err error) bool {
	return errors.Is(err, ErrNoModel)
}
