package router

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mirfaizal/ai-finance-assistant/internal/agent"
)

// Route pairs a specialist with its trigger phrases. Triggers are
// lower-case and match at the start of a word, so "diversif" matches
// "diversification" but "dow" does not match "window".
type Route struct {
	Agent    string
	Triggers []string
}

// Routes is evaluated top to bottom and the first hit wins. Specialists
// that act on the user's own data come first, then the narrow research
// domains, and the generic Q&A specialist last: "show my trades in tech
// stocks" contains a generic "stock" but must reach the trading desk.
// Bare "buy" and "sell" are not triggers; orders are recognised by
// IsTradeOrder instead.
var Routes = []Route{
	{agent.Trading, []string{
		"paper trade", "place an order", "my holdings", "my positions",
		"trade history", "my trades",
	}},
	{agent.Portfolio, []string{
		"portfolio", "allocation", "holdings", "rebalanc", "asset mix",
		"weighting", "overweight", "underweight", "concentration",
		"risk profile", "my stocks", "my investments", "my assets",
		"analyze my", "analyse my", "diversif", "tax-loss", "tax loss harvest",
	}},
	{agent.News, []string{
		"news", "headline", "summarize", "summarise", "breaking",
		"press release", "article", "what happened", "earnings report",
		"announcement", "current events",
	}},
	{agent.Market, []string{
		"market trend", "market analysis", "stock market", "sector",
		"index", "indices", "volatility", "macro", "s&p", "nasdaq", "dow",
		"vix", "bull market", "bear market", "market today", "stock price",
		"price of", "current price",
	}},
	{agent.Stock, []string{
		"p/e", "pe ratio", "earnings per share", "eps", "overvalued",
		"undervalued", "fundamentals", "market cap", "analyst rating",
		"ticker", "shares of", "buyback", "share repurchase", "sell-side",
		"buy-side",
	}},
	{agent.GoalPlan, []string{
		"goal", "planning", "budget", "saving", "retirement plan",
		"emergency fund", "time horizon", "financial plan", "50/30/20",
		"down payment", "monthly savings", "should i save", "save for",
		"save each month", "buy a house", "buy a home", "rent or buy",
	}},
	{agent.TaxEdu, []string{
		"tax", "deduction", "capital gains", "wash sale", "roth",
		"traditional ira", "marginal rate", "effective rate", "w-2", "1099",
		"irs", "taxable income",
	}},
	{agent.FinanceQA, []string{
		"finance", "invest", "bond", "fund", "ira", "401k", "compound",
		"interest", "dividend", "insurance", "inflation", "asset", "credit",
		"loan", "etf", "stock", "equity", "market", "today", "current",
		"right now", "what is the",
	}},
}

// DefaultAgent handles anything no trigger claims
const DefaultAgent = agent.FinanceQA

// orderPatterns recognise an explicit paper order: a verb followed by a
// quantity or an upper-case ticker, or a request for the user's own
// positions. "buy a house", "buyback" and "sell-side" are not orders.
var orderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?i:buy|sell)\s+\d+(?:\.\d+)?\s+(?:(?i:shares?)\b|\$?[A-Z]{1,5}\b)`),
	regexp.MustCompile(`\b(?i:buy|sell)\s+(?:(?i:(?:some|more)\s+)?(?i:shares\s+(?:of|in))\s+)?\$?[A-Z]{2,5}\b`),
	regexp.MustCompile(`(?i)\b(?:paper[- ]trad|place an order|(?:show|view|list) my (?:holdings|positions|trades)\b)`),
}

// IsTradeOrder reports whether the question asks the trading desk to act.
// Tickers are matched case-sensitively, so the original casing matters.
func IsTradeOrder(question string) bool {
	for _, re := range orderPatterns {
		if re.MatchString(question) {
			return true
		}
	}
	return false
}

// MatchKeywords returns the first specialist whose trigger appears in the
// question, or "" when none does. Explicit orders always go to trading.
func MatchKeywords(question string) string {
	if IsTradeOrder(question) {
		return agent.Trading
	}
	q := strings.ToLower(question)
	for _, r := range Routes {
		for _, trig := range r.Triggers {
			if containsAtWordStart(q, trig) {
				return r.Agent
			}
		}
	}
	return ""
}

func containsAtWordStart(s, sub string) bool {
	for off := 0; off <= len(s)-len(sub); {
		i := strings.Index(s[off:], sub)
		if i < 0 {
			return false
		}
		i += off
		if i == 0 || !isWordRune(rune(s[i-1])) {
			return true
		}
		off = i + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

var followUpWords = map[string]bool{
	"it": true, "that": true, "this": true, "those": true, "them": true,
	"they": true, "these": true, "its": true,
}

var followUpPrefixes = []string{"what about", "how about", "and ", "what if", "also"}

// IsFollowUp reports whether the question leans on an earlier turn for its
// subject
func IsFollowUp(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	for _, p := range followUpPrefixes {
		if strings.HasPrefix(q, p) {
			return true
		}
	}
	for _, w := range strings.FieldsFunc(q, func(r rune) bool { return !isWordRune(r) }) {
		if followUpWords[w] {
			return true
		}
	}
	return false
}
