package pipeline

import (
	"math"

	"github.com/voxwire/voxwire/internal/config"
)

// ApproxTokens estimates the token count of text as length/4, floored at 1.
// Good enough for cost attribution; exact counting would need a per-model
// tokenizer for numbers that still round to the same fractions of a cent.
func ApproxTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateCost returns the USD cost of one exchange at the given tier,
// rounded to 6 decimal places. Prices are per 1000 tokens.
func EstimateCost(tier config.Tier, tokensIn, tokensOut int) float64 {
	p := tier.Prices()
	cost := float64(tokensIn)/1000.0*p.Input + float64(tokensOut)/1000.0*p.Output
	return math.Round(cost*1e6) / 1e6
}

// EstimateTTSCost returns the USD cost of synthesizing text, priced per
// input character.
func EstimateTTSCost(text string) float64 {
	cost := float64(len(text)) / 1_000_000.0 * config.TTSPricePerMillionChars
	return math.Round(cost*1e6) / 1e6
}
