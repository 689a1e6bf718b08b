package config

import "strings"

// Tier is a coarse cost/quality band selecting chat-model defaults and a
// price row for conversation cost accounting. Unknown values fall back to
// [TierMedium].
type Tier string

const (
	TierLow        Tier = "low"
	TierMediumLow  Tier = "medium_low"
	TierMedium     Tier = "medium"
	TierMediumHigh Tier = "medium_high"
	TierHigh       Tier = "high"
)

// IsValid reports whether t is a recognised tier.
func (t Tier) IsValid() bool {
	switch t {
	case TierLow, TierMediumLow, TierMedium, TierMediumHigh, TierHigh:
		return true
	}
	return false
}

// ParseTier normalises s to a [Tier], falling back to TierMedium for
// unrecognised values.
func ParseTier(s string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return TierMedium
	}
	return t
}

// Price holds the per-1k-token prices for one tier, in USD.
type Price struct {
	Input  float64
	Output float64
}

// tierPrices is the fixed price table. Values mirror the provider's public
// per-model pricing bands rather than any single model.
var tierPrices = map[Tier]Price{
	TierLow:        {Input: 0.05, Output: 0.1},
	TierMediumLow:  {Input: 0.08, Output: 0.16},
	TierMedium:     {Input: 0.15, Output: 0.6},
	TierMediumHigh: {Input: 0.3, Output: 1.2},
	TierHigh:       {Input: 0.6, Output: 2.4},
}

// Prices returns the price row for t. Unknown tiers price as TierMedium.
func (t Tier) Prices() Price {
	if p, ok := tierPrices[t]; ok {
		return p
	}
	return tierPrices[TierMedium]
}

// ChatModel returns the chat model implied by the tier. The medium tier
// defers to the caller's configured default, so operators can pin an exact
// model without leaving the medium band.
func (t Tier) ChatModel(configured string) string {
	switch t {
	case TierLow, TierMediumLow:
		return DefaultChatModel
	case TierMediumHigh, TierHigh:
		return "gpt-4o"
	default:
		if configured != "" {
			return configured
		}
		return DefaultChatModel
	}
}

// TTSPricePerMillionChars is the synthesis price in USD per million input
// characters for the default tts-1 model.
const TTSPricePerMillionChars = 15.0
