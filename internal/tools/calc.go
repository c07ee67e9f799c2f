package tools

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/mirfaizal/ai-finance-assistant/internal/market"
)

const maxExpressionLen = 500

// calcEnv is the whole environment available to calculate; the expr
// builtins (abs, round, floor, ceil, min, max) come on top
var calcEnv = map[string]any{
	"sqrt":  math.Sqrt,
	"pow":   math.Pow,
	"ln":    math.Log,
	"log10": math.Log10,
	"exp":   math.Exp,
	"pi":    math.Pi,
}

// groupedNumber is a literal written with thousands separators, 1,200,000.50
var groupedNumber = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d+)?`)

// CalculatorTool evaluates arithmetic expressions
type CalculatorTool struct{}

func NewCalculatorTool() *CalculatorTool {
	return &CalculatorTool{}
}

func (t *CalculatorTool) Name() string {
	return "calculate"
}

func (t *CalculatorTool) Description() string {
	return "Evaluate an arithmetic expression, e.g. 10000 * (1 + 0.07) ** 10. Supports + - * / % ** and sqrt, pow, ln, log10, exp, abs, round, min, max. Inside function calls commas separate arguments, so write plain numbers there."
}

func (t *CalculatorTool) Parameters() []ParameterDef {
	return []ParameterDef{
		{Name: "expression", Type: "string", Description: "Arithmetic expression to evaluate", Required: true},
	}
}

func (t *CalculatorTool) Execute(_ context.Context, args map[string]any) (string, error) {
	result, err := Evaluate(stringArg(args, "expression"))
	if err != nil {
		return "", err
	}
	return toJSON(map[string]any{"expression": stringArg(args, "expression"), "result": result})
}

// Evaluate computes a numeric expression
func Evaluate(source string) (float64, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return 0, fmt.Errorf("empty expression")
	}
	if len(source) > maxExpressionLen {
		return 0, fmt.Errorf("expression longer than %d characters", maxExpressionLen)
	}
	source = strings.ReplaceAll(stripGrouping(source), "$", "")

	program, err := expr.Compile(source, expr.Env(calcEnv), expr.AsFloat64())
	if err != nil {
		return 0, fmt.Errorf("invalid expression: %w", err)
	}
	out, err := expr.Run(program, calcEnv)
	if err != nil {
		return 0, fmt.Errorf("evaluation failed: %w", err)
	}
	v, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("expression did not produce a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("result is not a finite number (division by zero?)")
	}
	return v, nil
}

// stripGrouping drops thousands separators from whole grouped literals
// outside parentheses. Inside a call the commas separate arguments and
// are left alone: min(1,500) is two numbers.
func stripGrouping(s string) string {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(s); {
		c := s[i]
		if depth == 0 && isDigit(c) && (i == 0 || !isNumberByte(s[i-1])) {
			if m := groupedNumber.FindString(s[i:]); m != "" {
				end := i + len(m)
				if end == len(s) || !isDigit(s[end]) && s[end] != ',' {
					b.WriteString(strings.ReplaceAll(m, ",", ""))
					i = end
					continue
				}
			}
		}
		switch c {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isNumberByte(c byte) bool {
	return isDigit(c) || c == '.' || c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// Simplified US federal rates used for estimates
const (
	shortTermRate  = 0.37
	longTermRate   = 0.15
	longTermCutoff = 365
)

// CapitalGainsTool estimates the tax on selling a position
type CapitalGainsTool struct {
	quotes market.Provider
}

func NewCapitalGainsTool(quotes market.Provider) *CapitalGainsTool {
	return &CapitalGainsTool{quotes: quotes}
}

func (t *CapitalGainsTool) Name() string {
	return "calculate_capital_gains"
}

func (t *CapitalGainsTool) Description() string {
	return "Estimate US federal capital gains tax for selling a position: gain/loss, short vs long term (365 days), estimated tax and after-tax proceeds. Uses the live price unless sale_price is given."
}

func (t *CapitalGainsTool) Parameters() []ParameterDef {
	return []ParameterDef{
		{Name: "ticker", Type: "string", Description: "Ticker symbol", Required: true},
		{Name: "shares", Type: "number", Description: "Shares sold", Required: true},
		{Name: "avg_cost_per_share", Type: "number", Description: "Average purchase price per share", Required: true},
		{Name: "holding_period_days", Type: "integer", Description: "Days the position was held", Required: true},
		{Name: "sale_price", Type: "number", Description: "Sale price per share; defaults to the live price"},
	}
}

func (t *CapitalGainsTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	ticker := strings.ToUpper(stringArg(args, "ticker"))
	shares := floatArg(args, "shares", 0)
	avgCost := floatArg(args, "avg_cost_per_share", 0)
	days := intArg(args, "holding_period_days", 0)
	if shares <= 0 || avgCost < 0 || days < 0 {
		return "", fmt.Errorf("shares must be positive and cost and holding period non-negative")
	}

	price := floatArg(args, "sale_price", 0)
	if price <= 0 {
		if t.quotes == nil {
			return "", fmt.Errorf("sale_price is required when no market data is configured")
		}
		q, err := livePrice(ctx, t.quotes, ticker)
		if err != nil {
			return "", err
		}
		price = q.Price
	}

	est := EstimateCapitalGains(shares, avgCost, price, days)
	return toJSON(map[string]any{
		"ticker":              ticker,
		"shares":              shares,
		"avg_cost":            avgCost,
		"sale_price":          price,
		"cost_basis":          round2(est.CostBasis),
		"current_value":       round2(est.Proceeds),
		"gain_loss":           round2(est.Gain),
		"is_long_term":        est.LongTerm,
		"holding_period_days": days,
		"applicable_rate":     est.Rate,
		"estimated_tax":       round2(est.Tax),
		"after_tax_proceeds":  round2(est.Proceeds - est.Tax),
		"note":                "Simplified estimate using single federal rates. State taxes, NIIT and deductions are excluded.",
	})
}

// GainsEstimate is the result of EstimateCapitalGains
type GainsEstimate struct {
	CostBasis float64
	Proceeds  float64
	Gain      float64
	LongTerm  bool
	Rate      float64
	Tax       float64
}

// EstimateCapitalGains applies the short- or long-term rate to a positive
// gain. Losses owe nothing.
func EstimateCapitalGains(shares, avgCost, price float64, days int) GainsEstimate {
	e := GainsEstimate{
		CostBasis: shares * avgCost,
		Proceeds:  shares * price,
		LongTerm:  days >= longTermCutoff,
		Rate:      shortTermRate,
	}
	e.Gain = e.Proceeds - e.CostBasis
	if e.LongTerm {
		e.Rate = longTermRate
	}
	if e.Gain > 0 {
		e.Tax = e.Gain * e.Rate
	}
	return e
}

// SavingsProjectionTool projects the future value of regular savings
type SavingsProjectionTool struct{}

func NewSavingsProjectionTool() *SavingsProjectionTool {
	return &SavingsProjectionTool{}
}

func (t *SavingsProjectionTool) Name() string {
	return "project_savings"
}

func (t *SavingsProjectionTool) Description() string {
	return "Project the future value of savings with monthly contributions and an expected annual return; optionally report the monthly amount needed to reach a target."
}

func (t *SavingsProjectionTool) Parameters() []ParameterDef {
	return []ParameterDef{
		{Name: "monthly_contribution", Type: "number", Description: "Amount saved each month", Required: true},
		{Name: "years", Type: "number", Description: "Time horizon in years", Required: true},
		{Name: "annual_return_pct", Type: "number", Description: "Expected annual return in percent (default 5)"},
		{Name: "initial_amount", Type: "number", Description: "Starting balance (default 0)"},
		{Name: "target_amount", Type: "number", Description: "Goal amount, to compute the required monthly saving"},
	}
}

func (t *SavingsProjectionTool) Execute(_ context.Context, args map[string]any) (string, error) {
	monthly := floatArg(args, "monthly_contribution", 0)
	years := floatArg(args, "years", 0)
	rate := floatArg(args, "annual_return_pct", 5)
	initial := floatArg(args, "initial_amount", 0)
	target := floatArg(args, "target_amount", 0)
	if monthly < 0 || initial < 0 || years <= 0 || years > 100 {
		return "", fmt.Errorf("contributions must be non-negative and years between 0 and 100")
	}

	months := int(math.Round(years * 12))
	fv := FutureValue(initial, monthly, rate, months)
	contributed := initial + monthly*float64(months)

	result := map[string]any{
		"months":            months,
		"annual_return_pct": rate,
		"future_value":      round2(fv),
		"total_contributed": round2(contributed),
		"growth":            round2(fv - contributed),
	}
	if target > 0 {
		result["target_amount"] = target
		result["on_track"] = fv >= target
		result["required_monthly_contribution"] = round2(RequiredMonthly(initial, target, rate, months))
	}
	return toJSON(result)
}

// FutureValue compounds monthly: initial grows for n months and each
// end-of-month contribution grows for the months remaining
func FutureValue(initial, monthly, annualPct float64, months int) float64 {
	r := annualPct / 100 / 12
	n := float64(months)
	if r == 0 {
		return initial + monthly*n
	}
	growth := math.Pow(1+r, n)
	return initial*growth + monthly*(growth-1)/r
}

// RequiredMonthly solves FutureValue for the monthly contribution
func RequiredMonthly(initial, target, annualPct float64, months int) float64 {
	if months <= 0 {
		return 0
	}
	r := annualPct / 100 / 12
	n := float64(months)
	if r == 0 {
		return math.Max(0, (target-initial)/n)
	}
	growth := math.Pow(1+r, n)
	return math.Max(0, (target-initial*growth)*r/(growth-1))
}
