// Package pricing holds the per-model USD/token constants used to cost
// a single LM call. The table is immutable after init, per spec.md §9
// ("Global mutable state: only the pricing table and config").
package pricing

// Rate is the per-token USD cost for one model, split input/output.
type Rate struct {
	InPerToken  float64
	OutPerToken float64
}

// table is seeded with a representative slice of OpenAI- and
// Anthropic-shaped model names. Prices are illustrative USD-per-token
// figures (not a live pricing feed — see spec.md §1 non-goals on
// cross-provider accounting unification).
var table = map[string]Rate{
	"gpt-4o":            {InPerToken: 2.5e-6, OutPerToken: 10e-6},
	"gpt-4o-mini":       {InPerToken: 0.15e-6, OutPerToken: 0.6e-6},
	"gpt-4.1":           {InPerToken: 2e-6, OutPerToken: 8e-6},
	"claude-opus-4":     {InPerToken: 15e-6, OutPerToken: 75e-6},
	"claude-sonnet-4":   {InPerToken: 3e-6, OutPerToken: 15e-6},
	"claude-haiku-3.5":  {InPerToken: 0.8e-6, OutPerToken: 4e-6},
}

// Cost returns the USD cost of a call against model, and whether model
// was known to the table. Per spec.md §4.5, an unknown model costs 0 and
// the caller is responsible for surfacing the non-fatal warning.
func Cost(model string, inputTokens, outputTokens int) (usd float64, known bool) {
	rate, ok := table[model]
	if !ok {
		return 0, false
	}
	return float64(inputTokens)*rate.InPerToken + float64(outputTokens)*rate.OutPerToken, true
}

// Lookup returns the raw rate for model, for callers that need the
// per-token breakdown rather than a computed total.
func Lookup(model string) (Rate, bool) {
	rate, ok := table[model]
	return rate, ok
}
