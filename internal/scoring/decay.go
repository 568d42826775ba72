package scoring

import (
	"math"
	"time"
)

// DecayFactor returns the multiplier applied to a delta of the given age.
// The factor is 1 at age zero and never negative.
func DecayFactor(policy DecayPolicy, age time.Duration) float64 {
	if age <= 0 {
		return 1
	}

	switch policy.Kind {
	case DecayExponential:
		return math.Pow(0.5, age.Seconds()/policy.HalfLife.Seconds())
	case DecayLinear:
		factor := 1 - age.Seconds()/(2*policy.HalfLife.Seconds())
		if factor < 0 {
			return 0
		}
		return factor
	default:
		return 1
	}
}

// EffectiveAmount returns the decayed contribution of a ledger amount.
func EffectiveAmount(amount int, policy DecayPolicy, createdAt, now time.Time) float64 {
	return float64(amount) * DecayFactor(policy, now.Sub(createdAt))
}
