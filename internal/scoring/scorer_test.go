package scoring

import (
	"math"
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/validator-score-ea/internal/model"
)

func f(x float64) *float64 { return &x }

// zeroWeights turns every term off so a test can isolate one.
func zeroWeights() *WeightOverrides {
	return &WeightOverrides{
		APY: f(0), StakeSweetSpot: f(0), GrowthPending: f(0),
		Commission: f(0), LowStakeBuffer: f(0), VeryLowStakeBuffer: f(0),
		WithdrawChurn: f(0), Dominance: f(0), AtRiskEpochs: f(0),
	}
}

func nominalValidator(address string) model.ValidatorMetrics {
	return model.ValidatorMetrics{
		Address:                 address,
		Stake:                   bi(10_000_000),
		NextEpochStake:          bi(10_000_000),
		CommissionRate:          500,
		VotingPower:             bi(1_000),
		PendingStake:            bi(100_000),
		PendingTotalSuiWithdraw: bi(50_000),
	}
}

func nominalContext() *model.SystemContext {
	return &model.SystemContext{
		Epoch:                          500,
		TotalStake:                     bi(100_000_000),
		ValidatorLowStakeThreshold:     bi(2_000_000),
		ValidatorVeryLowStakeThreshold: bi(1_000_000),
		ValidatorLowStakeGracePeriod:   bi(7),
		AtRiskValidators:               map[string]*big.Int{},
		ActiveValidatorCount:           10,
	}
}

func TestDefaultWeights(t *testing.T) {
	w := DefaultWeights()
	assert.Equal(t, 0.35, w.APY)
	assert.Equal(t, 0.20, w.StakeSweetSpot)
	assert.Equal(t, 0.04, w.GrowthPending)
	assert.Equal(t, 0.22, w.Commission)
	assert.Equal(t, 0.10, w.LowStakeBuffer)
	assert.Equal(t, 0.25, w.VeryLowStakeBuffer)
	assert.Equal(t, 0.06, w.WithdrawChurn)
	assert.Equal(t, 0.06, w.Dominance)
	assert.Equal(t, 0.10, w.AtRiskEpochs)
	assert.NoError(t, w.Validate())
	assert.InDelta(t, 0.59, w.PositiveSum(), 1e-12)
	assert.InDelta(t, 0.79, w.PenaltySum(), 1e-12)
}

func TestWeights_Merge(t *testing.T) {
	base := DefaultWeights()
	merged := base.Merge(&WeightOverrides{APY: f(0.5), Dominance: f(0)})

	assert.Equal(t, 0.5, merged.APY)
	assert.Equal(t, 0.0, merged.Dominance)
	assert.Equal(t, base.Commission, merged.Commission, "unspecified keys keep their value")
	assert.Equal(t, 0.35, base.APY, "base must not be mutated")
	assert.Equal(t, base, base.Merge(nil))
}

func TestWeights_Validate(t *testing.T) {
	w := DefaultWeights()
	w.Commission = -0.1
	assert.ErrorContains(t, w.Validate(), "negative weight commission")

	w = DefaultWeights()
	w.APY = math.Inf(1)
	assert.ErrorContains(t, w.Validate(), "not finite")
}

func TestScorer_IsolatedTerms(t *testing.T) {
	s := NewDefaultScorer()
	sys := nominalContext()
	v := nominalValidator("0xa")

	t.Run("all weights off is the midpoint", func(t *testing.T) {
		got := s.Score(v, sys, nil, &Options{Weights: zeroWeights()})
		assert.Equal(t, 0.5, got)
	})

	t.Run("full commission penalty alone hits zero", func(t *testing.T) {
		w := zeroWeights()
		w.Commission = f(1)
		v := v
		v.CommissionRate = 1500
		assert.Equal(t, 0.0, s.Score(v, sys, nil, &Options{Weights: w}))
	})

	t.Run("saturated apy alone hits one", func(t *testing.T) {
		w := zeroWeights()
		w.APY = f(1)
		got := s.Score(v, sys, model.ApyMap{"0xa": 0.10}, &Options{Weights: w})
		assert.Equal(t, 1.0, got)
	})

	t.Run("extreme weights still clamp", func(t *testing.T) {
		w := zeroWeights()
		w.APY = f(1000)
		assert.Equal(t, 1.0, s.Score(v, sys, model.ApyMap{"0xa": 0.10}, &Options{Weights: w}))

		w = zeroWeights()
		w.Commission = f(1000)
		assert.Equal(t, 0.0, s.Score(v, sys, nil, &Options{Weights: w}))
	})
}

func TestScorer_Breakdown(t *testing.T) {
	s := NewDefaultScorer()
	sys := nominalContext()
	sys.AtRiskValidators["0xa"] = bi(3)
	sys.ValidatorLowStakeGracePeriod = bi(6)

	v := nominalValidator("0xa")
	v.CommissionRate = 750

	b := s.Breakdown(v, sys, nil, nil)

	assert.False(t, b.APYKnown)
	assert.Equal(t, 0.5, b.APY)
	assert.Equal(t, 0.5, b.Commission)
	assert.Equal(t, 0.5, b.AtRisk)
	assert.Equal(t, bi(10_000_000), b.IdealStake)
	assert.Equal(t, bi(30_000_000), b.MaxStake)
	assert.InDelta(t, 0.1, b.Growth, 1e-12)
	assert.InDelta(t, 0.005/0.15, b.WithdrawChurn, 1e-12)
	assert.Equal(t, 0.0, b.LowStake)
	assert.Equal(t, 0.0, b.VeryLowStake)
	assert.Equal(t, 0.0, b.Dominance)
	assert.Equal(t, Clamp01((b.Raw+1)/2), b.Score)

	w := DefaultWeights()
	wantRaw := w.APY*b.APY + w.StakeSweetSpot*b.StakeSweetSpot + w.GrowthPending*b.Growth -
		w.Commission*b.Commission - w.LowStakeBuffer*b.LowStake - w.VeryLowStakeBuffer*b.VeryLowStake -
		w.WithdrawChurn*b.WithdrawChurn - w.Dominance*b.Dominance - w.AtRiskEpochs*b.AtRisk
	assert.Equal(t, wantRaw, b.Raw)
}

func TestScorer_IdealStakeResolution(t *testing.T) {
	s := NewDefaultScorer()
	v := nominalValidator("0xa")

	t.Run("integer division of total stake", func(t *testing.T) {
		sys := nominalContext()
		sys.TotalStake = bi(1000)
		sys.ActiveValidatorCount = 3
		b := s.Breakdown(v, sys, nil, nil)
		assert.Equal(t, bi(333), b.IdealStake)
		assert.Equal(t, bi(999), b.MaxStake)
	})

	t.Run("zero validators divides by one", func(t *testing.T) {
		sys := nominalContext()
		sys.TotalStake = bi(1000)
		sys.ActiveValidatorCount = 0
		b := s.Breakdown(v, sys, nil, nil)
		assert.Equal(t, bi(1000), b.IdealStake)
	})

	t.Run("explicit overrides", func(t *testing.T) {
		b := s.Breakdown(v, nominalContext(), nil, &Options{IdealStake: bi(42), MaxStake: bi(50)})
		assert.Equal(t, bi(42), b.IdealStake)
		assert.Equal(t, bi(50), b.MaxStake)
	})
}

func TestScorer_LowStakePenaltiesUseNextEpochStake(t *testing.T) {
	s := NewDefaultScorer()
	sys := nominalContext()

	v := nominalValidator("0xa")
	v.Stake = bi(50_000_000)
	v.NextEpochStake = bi(500_000)

	b := s.Breakdown(v, sys, nil, nil)
	assert.Equal(t, 1.0, b.LowStake)
	assert.Equal(t, 1.0, b.VeryLowStake)
}

func TestScorer_HigherAPYScoresHigher(t *testing.T) {
	s := NewDefaultScorer()
	sys := nominalContext()

	x := nominalValidator("0xx")
	y := nominalValidator("0xy")
	apys := model.ApyMap{"0xx": 0.10, "0xy": 0.05}
	opts := &Options{APYTop: 0.10}

	assert.Greater(t, s.Score(x, sys, apys, opts), s.Score(y, sys, apys, opts))
}

func TestScorer_Idempotent(t *testing.T) {
	s := NewDefaultScorer()
	apys := model.ApyMap{"0xa": 0.073}

	first := s.Score(nominalValidator("0xa"), nominalContext(), apys, nil)
	second := s.Score(nominalValidator("0xa"), nominalContext(), apys, nil)
	assert.Equal(t, math.Float64bits(first), math.Float64bits(second))
}

func TestScorer_NilContextIsTotal(t *testing.T) {
	s := NewDefaultScorer()
	got := s.Score(model.ValidatorMetrics{Address: "0xempty"}, nil, nil, nil)
	assert.GreaterOrEqual(t, got, 0.0)
	assert.LessOrEqual(t, got, 1.0)
}

func TestScorer_WithAPYTop(t *testing.T) {
	s := NewDefaultScorer().WithAPYTop(0.20)
	b := s.Breakdown(nominalValidator("0xa"), nominalContext(), model.ApyMap{"0xa": 0.10}, nil)
	assert.InDelta(t, 0.5, b.APY, 1e-12)

	b = s.Breakdown(nominalValidator("0xa"), nominalContext(), model.ApyMap{"0xa": 0.10}, &Options{APYTop: 0.10})
	assert.Equal(t, 1.0, b.APY, "per-call apyTop wins")

	assert.Equal(t, DefaultWeights(), s.Weights())
}

func TestScorer_AlwaysInUnitInterval(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	rnd := func(bits uint) *big.Int {
		return new(big.Int).Rand(r, new(big.Int).Lsh(big.NewInt(1), bits))
	}

	for i := 0; i < 300; i++ {
		w := &WeightOverrides{
			APY: f(r.Float64() * 5), Commission: f(r.Float64() * 5),
			VeryLowStakeBuffer: f(r.Float64() * 5), Dominance: f(r.Float64() * 5),
		}
		v := model.ValidatorMetrics{
			Address:                 "0xr",
			Stake:                   rnd(70),
			NextEpochStake:          rnd(70),
			CommissionRate:          uint64(r.Intn(10001)),
			VotingPower:             rnd(14),
			PendingStake:            rnd(66),
			PendingTotalSuiWithdraw: rnd(66),
		}
		sys := &model.SystemContext{
			TotalStake:                     rnd(80),
			ValidatorLowStakeThreshold:     rnd(64),
			ValidatorVeryLowStakeThreshold: rnd(63),
			ValidatorLowStakeGracePeriod:   rnd(4),
			AtRiskValidators:               map[string]*big.Int{"0xr": rnd(4)},
			ActiveValidatorCount:           r.Intn(150),
		}
		apys := model.ApyMap{"0xr": r.Float64() * 0.3}

		got := NewDefaultScorer().Score(v, sys, apys, &Options{Weights: w})
		require.GreaterOrEqual(t, got, 0.0)
		require.LessOrEqual(t, got, 1.0)
	}
}
