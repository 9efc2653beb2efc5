package billing

import (
	"errors"
	"fmt"
	"math"

	"kbingest/internal/errkind"
)

// creditEpsilon absorbs float noise so a cost of exactly N credits is not
// rounded up to N+1.
const creditEpsilon = 1e-9

// Pricing converts token counts into dollars and credits.
type Pricing struct {
	// RatesPer1K is USD per 1,000 tokens, keyed by embedding model.
	RatesPer1K       map[string]float64
	DefaultRatePer1K float64
	CreditsPerDollar float64
}

// Validate rejects tables that would let content through for free or
// charge negative amounts.
func (p Pricing) Validate() error {
	if p.CreditsPerDollar <= 0 {
		return errkind.Config("pricing", errors.New("credits per dollar must be positive"))
	}
	if p.DefaultRatePer1K < 0 {
		return errkind.Config("pricing", errors.New("default rate cannot be negative"))
	}
	for model, rate := range p.RatesPer1K {
		if rate < 0 || math.IsNaN(rate) {
			return errkind.Config("pricing", fmt.Errorf("rate for %s is invalid: %v", model, rate))
		}
	}
	return nil
}

// Rate returns the per-1K-token rate for model, falling back to the default.
func (p Pricing) Rate(model string) float64 {
	if rate, ok := p.RatesPer1K[model]; ok {
		return rate
	}
	return p.DefaultRatePer1K
}

// EmbeddingCost is the USD price of embedding tokens with model.
func (p Pricing) EmbeddingCost(tokens int, model string) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1000 * p.Rate(model)
}

// DollarsToCredits rounds up, so any positive cost is at least one credit.
func (p Pricing) DollarsToCredits(cost float64) int64 {
	if cost <= 0 || math.IsNaN(cost) {
		return 0
	}
	credits := int64(math.Ceil(cost*p.CreditsPerDollar - creditEpsilon))
	if credits < 1 {
		credits = 1
	}
	return credits
}
