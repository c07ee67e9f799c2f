package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/mirfaizal/ai-finance-assistant/internal/ledger"
	"github.com/mirfaizal/ai-finance-assistant/internal/memory"
)

const timeLayout = "2006-01-02 15:04:05"

// PrintHoldings writes holdings as a table
func PrintHoldings(w io.Writer, holdings []ledger.Holding) {
	if len(holdings) == 0 {
		fmt.Fprintln(w, "No holdings. Your paper portfolio is empty.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tSHARES\tAVG COST\tCOST BASIS\tUPDATED")
	var total float64
	for _, h := range holdings {
		fmt.Fprintf(tw, "%s\t%g\t%.2f\t%.2f\t%s\n", h.Ticker, h.Shares, h.AvgCost, h.CostBasis(), h.UpdatedAt.Format(timeLayout))
		total += h.CostBasis()
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t%.2f\t\n", total)
	tw.Flush()
}

// PrintTrades writes trades newest first
func PrintTrades(w io.Writer, trades []ledger.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(w, "No trades yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tTICKER\tSHARES\tPRICE\tTOTAL")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%.2f\t%.2f\n",
			t.CreatedAt.Format(timeLayout), strings.ToUpper(t.Action), t.Ticker, t.Shares, t.Price, t.TotalValue)
	}
	tw.Flush()
}

// PrintReceipt describes an applied order
func PrintReceipt(w io.Writer, r *ledger.Receipt) {
	t := r.Trade
	fmt.Fprintf(w, "%s %g %s @ %.2f = %.2f\n", strings.ToUpper(t.Action), t.Shares, t.Ticker, t.Price, t.TotalValue)
	if t.Action == ledger.ActionSell {
		fmt.Fprintf(w, "Realized P&L: %.2f\n", r.RealizedPnL)
	}
	if r.Position.Shares > 0 {
		fmt.Fprintf(w, "Position: %g shares, avg cost %.2f\n", r.Position.Shares, r.Position.AvgCost)
	} else {
		fmt.Fprintf(w, "Position in %s closed\n", t.Ticker)
	}
	fmt.Fprintln(w, "Paper trade only. No real money was used.")
}

// PrintHistory writes a conversation transcript
func PrintHistory(w io.Writer, messages []*memory.Message) {
	if len(messages) == 0 {
		fmt.Fprintln(w, "No messages in this session.")
		return
	}
	for _, m := range messages {
		switch m.Role {
		case memory.RoleUser:
			fmt.Fprintf(w, "[%s] You: %s\n", m.CreatedAt.Format(timeLayout), m.Content)
		case memory.RoleAssistant:
			fmt.Fprintf(w, "[%s] FinMate (%s): %s\n", m.CreatedAt.Format(timeLayout), m.Agent, m.Content)
		case memory.RoleSummary:
			fmt.Fprintf(w, "[%s] Summary: %s\n", m.CreatedAt.Format(timeLayout), m.Content)
		}
	}
}

// PrintSessions writes the session list
func PrintSessions(w io.Writer, sessions []*memory.Session, current string) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tSESSION\tMESSAGES\tLAST AGENT\tUPDATED")
	for _, s := range sessions {
		mark := ""
		if s.ID == current {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", mark, s.ID, s.MessageCount, s.LastAgent, s.UpdatedAt.Format(timeLayout))
	}
	tw.Flush()
}

// truncateForDisplay flattens text to one line of at most maxLen runes
func truncateForDisplay(text string, maxLen int) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
