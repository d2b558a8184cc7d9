// Package scoring converts raw validator metrics into a normalized 0..1
// health/attractiveness score.
//
// The score is a weighted linear combination of sub-scores (APY, stake sweet
// spot, pending growth) and penalties (commission, low and very-low stake
// buffers, withdrawal churn, voting power dominance, epochs at risk). Every
// term is clamped to [0, 1] before weighting; the signed sum is remapped with
// (raw+1)/2 and clamped again.
package scoring

import (
	"fmt"
	"math"
	"math/big"

	"github.com/yourorg/validator-score-ea/internal/model"
)

// DefaultAPYTop is the APY that saturates the APY sub-score.
const DefaultAPYTop = 0.10

// Weights are the non-negative coefficients of each term. They need not sum
// to 1; they are relative.
type Weights struct {
	// positives
	APY            float64 `json:"apy" yaml:"apy"`
	StakeSweetSpot float64 `json:"stakeSweetSpot" yaml:"stake_sweet_spot"`
	GrowthPending  float64 `json:"growthPending" yaml:"growth_pending"`

	// penalties
	Commission         float64 `json:"commission" yaml:"commission"`
	LowStakeBuffer     float64 `json:"lowStakeBuffer" yaml:"low_stake_buffer"`
	VeryLowStakeBuffer float64 `json:"veryLowStakeBuffer" yaml:"very_low_stake_buffer"`
	WithdrawChurn      float64 `json:"withdrawChurn" yaml:"withdraw_churn"`
	Dominance          float64 `json:"dominance" yaml:"dominance"`
	AtRiskEpochs       float64 `json:"atRiskEpochs" yaml:"at_risk_epochs"`
}

// DefaultWeights returns the default weight set.
func DefaultWeights() Weights {
	return Weights{
		APY:            0.35,
		StakeSweetSpot: 0.20,
		GrowthPending:  0.04,

		Commission:         0.22,
		LowStakeBuffer:     0.10,
		VeryLowStakeBuffer: 0.25,
		WithdrawChurn:      0.06,
		Dominance:          0.06,
		AtRiskEpochs:       0.10,
	}
}

// WeightOverrides is a partial weight set; nil fields keep the base value.
type WeightOverrides struct {
	APY                *float64 `json:"apy,omitempty" yaml:"apy,omitempty"`
	StakeSweetSpot     *float64 `json:"stakeSweetSpot,omitempty" yaml:"stake_sweet_spot,omitempty"`
	GrowthPending      *float64 `json:"growthPending,omitempty" yaml:"growth_pending,omitempty"`
	Commission         *float64 `json:"commission,omitempty" yaml:"commission,omitempty"`
	LowStakeBuffer     *float64 `json:"lowStakeBuffer,omitempty" yaml:"low_stake_buffer,omitempty"`
	VeryLowStakeBuffer *float64 `json:"veryLowStakeBuffer,omitempty" yaml:"very_low_stake_buffer,omitempty"`
	WithdrawChurn      *float64 `json:"withdrawChurn,omitempty" yaml:"withdraw_churn,omitempty"`
	Dominance          *float64 `json:"dominance,omitempty" yaml:"dominance,omitempty"`
	AtRiskEpochs       *float64 `json:"atRiskEpochs,omitempty" yaml:"at_risk_epochs,omitempty"`
}

// Merge returns a copy of w with every non-nil override applied.
func (w Weights) Merge(o *WeightOverrides) Weights {
	if o == nil {
		return w
	}
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&w.APY, o.APY)
	set(&w.StakeSweetSpot, o.StakeSweetSpot)
	set(&w.GrowthPending, o.GrowthPending)
	set(&w.Commission, o.Commission)
	set(&w.LowStakeBuffer, o.LowStakeBuffer)
	set(&w.VeryLowStakeBuffer, o.VeryLowStakeBuffer)
	set(&w.WithdrawChurn, o.WithdrawChurn)
	set(&w.Dominance, o.Dominance)
	set(&w.AtRiskEpochs, o.AtRiskEpochs)
	return w
}

// Validate rejects negative or non-finite weights.
func (w Weights) Validate() error {
	for name, v := range w.named() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("weight %s is not finite: %f", name, v)
		}
		if v < 0 {
			return fmt.Errorf("negative weight %s: %f", name, v)
		}
	}
	return nil
}

// PositiveSum is the largest value raw can take.
func (w Weights) PositiveSum() float64 {
	return w.APY + w.StakeSweetSpot + w.GrowthPending
}

// PenaltySum is the magnitude of the most negative value raw can take.
func (w Weights) PenaltySum() float64 {
	return w.Commission + w.LowStakeBuffer + w.VeryLowStakeBuffer +
		w.WithdrawChurn + w.Dominance + w.AtRiskEpochs
}

func (w Weights) named() map[string]float64 {
	return map[string]float64{
		"apy":                w.APY,
		"stakeSweetSpot":     w.StakeSweetSpot,
		"growthPending":      w.GrowthPending,
		"commission":         w.Commission,
		"lowStakeBuffer":     w.LowStakeBuffer,
		"veryLowStakeBuffer": w.VeryLowStakeBuffer,
		"withdrawChurn":      w.WithdrawChurn,
		"dominance":          w.Dominance,
		"atRiskEpochs":       w.AtRiskEpochs,
	}
}

// Options are optional per-call overrides. Zero values fall back to defaults.
type Options struct {
	// IdealStake defaults to totalStake / activeValidatorCount
	IdealStake *big.Int
	// MaxStake defaults to 3 x IdealStake
	MaxStake *big.Int
	// APYTop defaults to the scorer's APY top (0.10 unless configured)
	APYTop float64
	// Weights are merged over the scorer's weights
	Weights *WeightOverrides
}

// Breakdown is every intermediate term of one score evaluation.
type Breakdown struct {
	APY            float64 `json:"apyScore"`
	APYKnown       bool    `json:"apyKnown"`
	StakeSweetSpot float64 `json:"stakeSweetSpot"`
	Growth         float64 `json:"growth"`

	Commission    float64 `json:"commissionPenalty"`
	LowStake      float64 `json:"lowStakePenalty"`
	VeryLowStake  float64 `json:"veryLowStakePenalty"`
	WithdrawChurn float64 `json:"withdrawChurnPenalty"`
	Dominance     float64 `json:"dominancePenalty"`
	AtRisk        float64 `json:"atRiskPenalty"`

	IdealStake *big.Int `json:"idealStake"`
	MaxStake   *big.Int `json:"maxStake"`

	Raw   float64 `json:"raw"`
	Score float64 `json:"score"`
}

// Scorer computes validator scores from an immutable weight configuration.
// It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	weights Weights
	apyTop  float64
}

// NewScorer creates a scorer with the given weights
func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w, apyTop: DefaultAPYTop}
}

// NewDefaultScorer creates a scorer with DefaultWeights
func NewDefaultScorer() *Scorer {
	return NewScorer(DefaultWeights())
}

// WithAPYTop returns a copy of the scorer using apyTop as its default APY top.
func (s *Scorer) WithAPYTop(apyTop float64) *Scorer {
	cp := *s
	if apyTop > 0 {
		cp.apyTop = apyTop
	}
	return &cp
}

// Weights returns the scorer's base weights.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score returns the validator's composite score in [0, 1].
func (s *Scorer) Score(v model.ValidatorMetrics, sys *model.SystemContext, apys model.ApyMap, opts *Options) float64 {
	return s.Breakdown(v, sys, apys, opts).Score
}

// Breakdown evaluates every term of the score. A nil system context behaves
// like an empty one.
func (s *Scorer) Breakdown(v model.ValidatorMetrics, sys *model.SystemContext, apys model.ApyMap, opts *Options) Breakdown {
	if sys == nil {
		sys = &model.SystemContext{}
	}
	if opts == nil {
		opts = &Options{}
	}

	w := s.weights.Merge(opts.Weights)

	apyTop := s.apyTop
	if opts.APYTop > 0 {
		apyTop = opts.APYTop
	}

	totalStake := model.OrZero(sys.TotalStake)
	next := model.OrZero(v.NextEpochStake)
	pool := model.OrZero(v.Stake)

	ideal := opts.IdealStake
	if ideal == nil {
		n := sys.ActiveValidatorCount
		if n < 1 {
			n = 1
		}
		ideal = new(big.Int).Quo(totalStake, big.NewInt(int64(n)))
	}
	maxStake := opts.MaxStake
	if maxStake == nil {
		maxStake = new(big.Int).Mul(ideal, big.NewInt(3))
	}

	apy, known := apys.Lookup(v.Address)
	epochsAtRisk, _ := sys.EpochsAtRisk(v.Address)

	b := Breakdown{
		APY:            ApyScore(apy, known, apyTop),
		APYKnown:       known,
		StakeSweetSpot: StakeSweetSpotScore(next, ideal, maxStake),
		Growth:         GrowthScore(v.PendingStake, pool),

		Commission:    CommissionPenalty(v.CommissionRate),
		LowStake:      ThresholdPenalty(next, sys.ValidatorLowStakeThreshold),
		VeryLowStake:  ThresholdPenalty(next, sys.ValidatorVeryLowStakeThreshold),
		WithdrawChurn: WithdrawChurnPenalty(v.PendingTotalSuiWithdraw, pool),
		Dominance:     DominancePenalty(v.VotingPower, totalStake, sys.ActiveValidatorCount),
		AtRisk:        AtRiskPenalty(epochsAtRisk, sys.ValidatorLowStakeGracePeriod),

		IdealStake: new(big.Int).Set(ideal),
		MaxStake:   new(big.Int).Set(maxStake),
	}

	b.Raw = w.APY*b.APY +
		w.StakeSweetSpot*b.StakeSweetSpot +
		w.GrowthPending*b.Growth -
		w.Commission*b.Commission -
		w.LowStakeBuffer*b.LowStake -
		w.VeryLowStakeBuffer*b.VeryLowStake -
		w.WithdrawChurn*b.WithdrawChurn -
		w.Dominance*b.Dominance -
		w.AtRiskEpochs*b.AtRisk

	b.Score = Clamp01((b.Raw + 1) / 2)
	return b
}
