package validation

import (
	"fmt"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/validator-score-ea/internal/model"
)

func validValidator(address string) model.ValidatorMetrics {
	return model.ValidatorMetrics{
		Address:                 address,
		Stake:                   big.NewInt(1000),
		NextEpochStake:          big.NewInt(1000),
		VotingPower:             big.NewInt(10),
		PendingStake:            big.NewInt(0),
		PendingTotalSuiWithdraw: big.NewInt(0),
		CommissionRate:          200,
	}
}

func TestValidateValidator(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(v *model.ValidatorMetrics)
		wantErr string
	}{
		{"valid", func(v *model.ValidatorMetrics) {}, ""},
		{"empty address", func(v *model.ValidatorMetrics) { v.Address = "" }, "empty validator address"},
		{"nil stake", func(v *model.ValidatorMetrics) { v.Stake = nil }, "missing stakingPoolSuiBalance"},
		{"negative next epoch stake", func(v *model.ValidatorMetrics) { v.NextEpochStake = big.NewInt(-1) }, "negative nextEpochStake"},
		{"nil withdrawals", func(v *model.ValidatorMetrics) { v.PendingTotalSuiWithdraw = nil }, "missing pendingTotalSuiWithdraw"},
		{"commission above 100%", func(v *model.ValidatorMetrics) { v.CommissionRate = 10_001 }, "exceeds 10000 bps"},
		{"commission exactly 100%", func(v *model.ValidatorMetrics) { v.CommissionRate = 10_000 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := validValidator("0xa")
			tt.mutate(&v)
			err := ValidateValidator(v)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFilterInvalid(t *testing.T) {
	bad := validValidator("0xbad")
	bad.VotingPower = nil

	filtered := FilterInvalid([]model.ValidatorMetrics{validValidator("0xa"), bad, validValidator("0xb")})
	require.Len(t, filtered, 2)
	assert.Equal(t, "0xa", filtered[0].Address)
	assert.Equal(t, "0xb", filtered[1].Address)

	assert.Empty(t, FilterInvalid(nil))
}

func TestFilterInvalidConcurrently(t *testing.T) {
	var validators []model.ValidatorMetrics
	for i := 0; i < 250; i++ {
		v := validValidator(fmt.Sprintf("0x%03d", i))
		if i%5 == 0 {
			v.Stake = big.NewInt(-5)
		}
		validators = append(validators, v)
	}

	filtered := FilterInvalidConcurrently(validators, 4)
	assert.Len(t, filtered, 200)
	assert.Equal(t, FilterInvalid(validators), filtered, "order must match the sequential filter")

	for _, v := range filtered {
		assert.NoError(t, ValidateValidator(v))
	}
}

func TestCleanAPYs(t *testing.T) {
	apys := model.ApyMap{
		"0xa":   0.05,
		"0xnan": math.NaN(),
		"0xinf": math.Inf(1),
		"0xneg": -0.01,
		"0xbig": 3.0,
		"0xz":   0,
	}

	clean := CleanAPYs(apys, DefaultValidationOptions())
	assert.Equal(t, model.ApyMap{"0xa": 0.05, "0xz": 0}, clean)
	assert.Len(t, apys, 6, "input must not be modified")
}

func skewed() model.ApyMap {
	return model.ApyMap{
		"0xa": 0.048, "0xb": 0.049, "0xc": 0.05, "0xe": 0.051,
		"0xf": 0.052, "0xg": 0.053, "0xh": 0.054, "0xd": 0.3,
	}
}

func TestAPYOutliers(t *testing.T) {
	tests := []struct {
		name string
		apys model.ApyMap
		want []string
	}{
		{
			name: "no outliers",
			apys: model.ApyMap{"0xa": 0.05, "0xb": 0.055, "0xc": 0.048, "0xd": 0.052},
		},
		{
			name: "with outlier",
			apys: skewed(),
			want: []string{"0xd"},
		},
		{
			name: "too few for outlier detection",
			apys: model.ApyMap{"0xa": 0.05, "0xb": 0.2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, APYOutliers(tt.apys, 1.5))
		})
	}
}

func TestCleanAPYs_OutlierDetection(t *testing.T) {
	opts := DefaultValidationOptions()
	opts.EnableOutlierDetection = true

	clean := CleanAPYs(skewed(), opts)
	_, ok := clean.Lookup("0xd")
	assert.False(t, ok)
	assert.Len(t, clean, 7)
}

func TestSanitize(t *testing.T) {
	bad := validValidator("0xbad")
	bad.Stake = nil
	snap := model.NewSnapshot(
		[]model.ValidatorMetrics{validValidator("0xa"), bad},
		&model.SystemContext{Epoch: 3},
		model.ApyMap{"0xa": 0.04, "0xbad": math.NaN()},
	)

	out, err := Sanitize(snap, DefaultValidationOptions(), 1)
	require.NoError(t, err)
	assert.Len(t, out.Validators, 1)
	assert.Len(t, out.Apys, 1)
	assert.Len(t, snap.Validators, 2, "input snapshot is untouched")

	t.Run("stale snapshot", func(t *testing.T) {
		stale := snap
		stale.CollectedAt = time.Now().Add(-time.Hour).Unix()
		_, err := Sanitize(stale, DefaultValidationOptions(), 1)
		assert.ErrorIs(t, err, ErrStaleSnapshot)
	})
}
