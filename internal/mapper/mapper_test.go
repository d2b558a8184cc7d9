package mapper

import (
	"encoding/json"
	"math/big"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixtures(t *testing.T) (SystemStateSummary, ValidatorsApy) {
	t.Helper()

	var state SystemStateSummary
	raw, err := os.ReadFile("testdata/system_state.json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &state))

	var apys ValidatorsApy
	raw, err = os.ReadFile("testdata/validators_apy.json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &apys))

	return state, apys
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	x, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return x
}

func TestSnapshot_FromFixtures(t *testing.T) {
	state, apys := loadFixtures(t)

	snap, err := Snapshot(state, apys)
	require.NoError(t, err)

	assert.Equal(t, uint64(512), snap.Epoch)
	require.NotNil(t, snap.Context)
	assert.Equal(t, 3, snap.Context.ActiveValidatorCount)
	assert.Equal(t, 0, snap.Context.TotalStake.Cmp(mustBig(t, "8000000000000000000")))
	assert.Equal(t, 0, snap.Context.ValidatorLowStakeGracePeriod.Cmp(big.NewInt(7)))

	epochs, ok := snap.Context.EpochsAtRisk("0xc3")
	require.True(t, ok)
	assert.Equal(t, 0, epochs.Cmp(big.NewInt(2)))

	require.Len(t, snap.Validators, 3)
	beta := snap.Validators[1]
	assert.Equal(t, "0xb2", beta.Address)
	assert.Equal(t, "Beta", beta.Name)
	assert.Equal(t, uint64(1200), beta.CommissionRate)
	assert.Equal(t, uint64(800), beta.GasPrice)
	assert.Equal(t, uint64(780), beta.NextEpochGasPrice)
	assert.Equal(t, 0, beta.PendingTotalSuiWithdraw.Cmp(mustBig(t, "998000000000000000")))

	apy, ok := snap.Apys.Lookup("0xa1")
	require.True(t, ok)
	assert.Equal(t, 0.031, apy, "first entry wins")

	_, ok = snap.Apys.Lookup("0xc3")
	assert.False(t, ok, "validators without an apy stay unknown")
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *big.Int
		wantErr bool
	}{
		{"decimal", "12345", big.NewInt(12345), false},
		{"hex", "0x10", big.NewInt(16), false},
		{"empty is zero", "", big.NewInt(0), false},
		{"beyond u64", "18446744073709551616", new(big.Int).Lsh(big.NewInt(1), 64), false},
		{"negative", "-1", nil, true},
		{"garbage", "12abc", nil, true},
		{"float", "1.5", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAmount(tt.raw, "field")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				assert.Contains(t, err.Error(), "field=")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, got.Cmp(tt.want))
		})
	}
}

func TestSystemContext_Errors(t *testing.T) {
	state, _ := loadFixtures(t)

	t.Run("bad total stake", func(t *testing.T) {
		s := state
		s.TotalStake = "lots"
		_, err := SystemContext(s)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Contains(t, err.Error(), "totalStake")
	})

	t.Run("malformed at-risk tuple", func(t *testing.T) {
		s := state
		s.AtRiskValidators = [][]string{{"0xc3"}}
		_, err := SystemContext(s)
		assert.ErrorContains(t, err, "expected [address, epochs]")
	})

	t.Run("bad epoch", func(t *testing.T) {
		s := state
		s.Epoch = "-3"
		_, err := SystemContext(s)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestValidator_Errors(t *testing.T) {
	state, apys := loadFixtures(t)

	state.ActiveValidators = append([]ValidatorSummary(nil), state.ActiveValidators...)
	state.ActiveValidators[2].CommissionRate = "5%"

	_, err := Snapshot(state, apys)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Contains(t, err.Error(), "validator 0xc3")
}

func TestMistToSui(t *testing.T) {
	assert.Equal(t, 1.5, MistToSui(big.NewInt(1_500_000_000)))
	assert.Equal(t, 0.0, MistToSui(nil))
	assert.InDelta(t, 8e9, MistToSui(mustBig(t, "8000000000000000000")), 1e-3)
}
