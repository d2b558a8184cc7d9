package scoring

import (
	"math"
	"math/big"

	"github.com/yourorg/validator-score-ea/internal/model"
)

// DefaultRatioScale is the fixed-point factor Ratio multiplies the numerator by
// before integer division.
var DefaultRatioScale = big.NewInt(1_000_000)

// Ratio returns a/b as a float64, computed as (a*scale)/b over big integers and
// only then converted and divided by scale. It returns 0 when b <= 0.
func Ratio(a, b *big.Int) float64 {
	return RatioScaled(a, b, DefaultRatioScale)
}

// RatioScaled is Ratio with an explicit fixed-point scale.
func RatioScaled(a, b, scale *big.Int) float64 {
	b = model.OrZero(b)
	if b.Sign() <= 0 {
		return 0
	}
	if scale == nil || scale.Sign() <= 0 {
		scale = DefaultRatioScale
	}

	q := new(big.Int).Mul(model.OrZero(a), scale)
	q.Quo(q, b)

	return toFloat(q) / toFloat(scale)
}

// Clamp01 clamps x into [0, 1]. NaN maps to 0.
func Clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

// CommissionPenalty maps commission in basis points to [0, 1]; 15% or more is
// the full penalty.
func CommissionPenalty(commissionBps uint64) float64 {
	return Clamp01(float64(commissionBps) / 1500)
}

// ApyScore maps a known APY to [0, 1] relative to apyTop. Unknown or
// non-positive APY scores a neutral 0.5.
func ApyScore(apy float64, known bool, apyTop float64) float64 {
	if !known || !(apy > 0) {
		return 0.5
	}
	if !(apyTop > 0) {
		apyTop = DefaultAPYTop
	}
	return Clamp01(apy / apyTop)
}

// StakeSweetSpotScore rewards stake close to the ideal (fair-share) stake and
// penalizes both under- and over-concentration.
//
// With x = total/ideal the score blends a logistic term that saturates once x
// passes 0.6, a Gaussian bell peaked at x = 1, and a logistic term that rises
// once x passes max/ideal and is subtracted:
//
//	0.55*center + 0.35*left + 0.10*(1 - right)
//
// The right term rises with concentration, unlike the decreasing term of the
// Sui dashboard formula, so scores near and above max/ideal differ from it.
func StakeSweetSpotScore(total, ideal, maxStake *big.Int) float64 {
	if model.OrZero(ideal).Sign() <= 0 || model.OrZero(maxStake).Sign() <= 0 {
		return 0.5
	}

	x := Ratio(total, ideal)
	m := Ratio(maxStake, ideal)

	left := 1 / (1 + math.Exp(-10*(x-0.6)))
	center := math.Exp(-math.Pow(x-1, 2) / 0.12)
	right := 1 / (1 + math.Exp(-6*(x-m)))

	return Clamp01(0.55*center + 0.35*left + 0.10*(1-right))
}

// ThresholdPenalty is 1 below threshold, falls linearly to 0 across a soft
// buffer of 10% of threshold above it, and is 0 beyond the buffer.
func ThresholdPenalty(current, threshold *big.Int) float64 {
	current, threshold = model.OrZero(current), model.OrZero(threshold)
	if threshold.Sign() <= 0 {
		return 0
	}
	if current.Sign() < 0 {
		return 1
	}

	d := new(big.Int).Sub(current, threshold)
	if d.Sign() < 0 {
		return 1
	}

	soft := new(big.Int).Quo(threshold, big.NewInt(10))
	if soft.Sign() <= 0 {
		return 0
	}
	if d.Cmp(soft) > 0 {
		d = soft
	}

	remaining := new(big.Int).Sub(soft, d)
	return Clamp01(toFloat(remaining) / toFloat(soft))
}

// WithdrawChurnPenalty is the share of the pool queued for withdrawal; 15% is
// the full penalty.
func WithdrawChurnPenalty(pendingWithdraw, pool *big.Int) float64 {
	return Clamp01(Ratio(pendingWithdraw, pool) / 0.15)
}

// GrowthScore is the share of the pool queued to join; 10% is the full score.
func GrowthScore(pending, pool *big.Int) float64 {
	return Clamp01(Ratio(pending, pool) / 0.10)
}

// DominancePenalty compares the validator's voting share against the equal
// share 1/n. Up to 2x equal share there is no penalty; it then grows linearly
// to 1 at 4x.
func DominancePenalty(votingPower, totalStake *big.Int, n int) float64 {
	if n <= 0 {
		return 0
	}

	share := Ratio(votingPower, totalStake)
	equal := 1 / float64(n)
	excess := share / equal
	if excess <= 2 {
		return 0
	}
	return Clamp01((excess - 2) / 2)
}

// AtRiskPenalty scales the epochs already spent below the low stake threshold
// by the grace period.
func AtRiskPenalty(epochsAtRisk, gracePeriod *big.Int) float64 {
	if model.OrZero(gracePeriod).Sign() <= 0 {
		return 0
	}
	return Clamp01(toFloat(model.OrZero(epochsAtRisk)) / toFloat(gracePeriod))
}

// toFloat converts to the nearest float64.
func toFloat(x *big.Int) float64 {
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}
