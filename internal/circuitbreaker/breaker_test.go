package circuitbreaker

import (
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/validator-score-ea/internal/model"
)

func snapshot(epoch uint64, totalStake int64, apys model.ApyMap) model.Snapshot {
	validators := make([]model.ValidatorMetrics, 0, len(apys))
	for addr := range apys {
		validators = append(validators, model.ValidatorMetrics{Address: addr, Stake: big.NewInt(1)})
	}
	sys := &model.SystemContext{Epoch: epoch, TotalStake: big.NewInt(totalStake)}
	return model.NewSnapshot(validators, sys, apys)
}

func goodAPYs() model.ApyMap {
	return model.ApyMap{"0xa": 0.03, "0xb": 0.04}
}

func badAPYs() model.ApyMap {
	return model.ApyMap{"0xa": 0.03, "0xb": 6.0}
}

var thresholds = Thresholds{
	MaxAPY:         5.0,
	MaxStakeChange: 0.3,
	MinValidators:  2,
}

func TestCircuitBreaker_BasicFunctionality(t *testing.T) {
	cb := New(Thresholds{
		MaxAPY:            5.0,
		MaxStakeChange:    0.3,
		MinValidators:     2,
		MaxStdDevMultiple: 3.0,
	}).WithResetDelay(50 * time.Millisecond)
	assert.Equal(t, StateClosed, cb.State(), "Circuit breaker should start closed")

	err := cb.Check(snapshot(1, 1000, goodAPYs()))
	assert.NoError(t, err, "Valid snapshot should pass checks")
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Violations(t *testing.T) {
	tests := []struct {
		name    string
		snap    model.Snapshot
		wantErr string
	}{
		{"empty snapshot", model.Snapshot{}, "no validators in snapshot"},
		{"too few validators", snapshot(1, 1000, model.ApyMap{"0xa": 0.03}), "insufficient validator count: got 1, need 2"},
		{"apy above maximum", snapshot(1, 1000, badAPYs()), "APY exceeds maximum threshold: 0xb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := New(thresholds)
			err := cb.Check(tt.snap)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTripped)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, StateOpen, cb.State())
		})
	}
}

func TestCircuitBreaker_StakeChange(t *testing.T) {
	cb := New(thresholds)

	require.NoError(t, cb.Check(snapshot(1, 1_000_000, goodAPYs())))
	require.NoError(t, cb.Check(snapshot(2, 1_200_000, goodAPYs())), "20% growth is tolerated")

	err := cb.Check(snapshot(3, 400_000, goodAPYs()))
	require.Error(t, err, "Drastic stake change should trip the circuit")
	assert.Contains(t, err.Error(), "total stake change too drastic: 66.67%")
}

func TestCircuitBreaker_OpenRejects(t *testing.T) {
	cb := New(thresholds)
	require.Error(t, cb.Check(snapshot(1, 1000, badAPYs())))

	err := cb.Check(snapshot(2, 1000, goodAPYs()))
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	cb := New(thresholds).
		WithResetDelay(50 * time.Millisecond).
		WithSuccessThreshold(2)

	require.Error(t, cb.Check(snapshot(1, 1000, badAPYs())))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, cb.Check(snapshot(2, 1000, goodAPYs())))
	assert.Equal(t, StateHalfOpen, cb.State(), "one success is not enough")

	require.NoError(t, cb.Check(snapshot(3, 1000, goodAPYs())))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_LastGoodSnapshot(t *testing.T) {
	cb := New(thresholds)

	_, ok := cb.LastGoodSnapshot()
	assert.False(t, ok)

	require.NoError(t, cb.Check(snapshot(7, 1000, goodAPYs())))
	require.Error(t, cb.Check(snapshot(8, 1000, badAPYs())))

	last, ok := cb.LastGoodSnapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(7), last.Epoch)

	st := cb.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, 1, st.TripCount)
	assert.True(t, st.HasLastGood)
	assert.Equal(t, uint64(7), st.LastEpoch)
	assert.Contains(t, st.LastReason, "APY exceeds maximum threshold")
}

func TestCircuitBreaker_CallbackExecution(t *testing.T) {
	var executed atomic.Bool
	reasons := make(chan string, 1)

	cb := New(thresholds).WithTripCallback(func(reason string, snap model.Snapshot) {
		executed.Store(true)
		reasons <- reason
	})

	require.Error(t, cb.Check(snapshot(1, 1000, badAPYs())))

	select {
	case reason := <-reasons:
		assert.Contains(t, reason, "APY exceeds maximum threshold")
	case <-time.After(time.Second):
		t.Fatal("callback was not executed")
	}
	assert.True(t, executed.Load())
}

func TestCircuitBreaker_ManualReset(t *testing.T) {
	cb := New(thresholds)

	require.Error(t, cb.Check(snapshot(1, 1000, badAPYs())))
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Check(snapshot(2, 1000, goodAPYs())))
}

func TestCircuitBreaker_StdDevCheck(t *testing.T) {
	cb := New(Thresholds{
		MaxAPY:            5.0,
		MinValidators:     2,
		MaxStdDevMultiple: 0.5,
	})

	consistent := model.ApyMap{"0xa": 3.0, "0xb": 3.2, "0xc": 2.8}
	assert.NoError(t, cb.Check(snapshot(1, 1000, consistent)))

	divergent := model.ApyMap{"0xa": 1.0, "0xb": 5.0, "0xc": 1.2}
	err := cb.Check(snapshot(2, 1000, divergent))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APY standard deviation too high")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())

	text, err := StateHalfOpen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "half-open", string(text))
}
