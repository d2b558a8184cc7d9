// Package model defines the core data structures for the validator score adapter.
package model

import (
	"math/big"
	"time"
)

// ValidatorMetrics holds the raw on-chain metrics of a single active validator
// for one epoch snapshot. Integer quantities are arbitrary precision; a nil
// value is treated as zero everywhere.
type ValidatorMetrics struct {
	// Address is the validator's unique, epoch-stable identifier
	Address string `json:"address"`

	// Name and ImageURL are display metadata carried through from the chain
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`

	// Stake is the current staking pool balance
	Stake *big.Int `json:"stake"`

	// NextEpochStake is the projected pool balance for the next epoch
	NextEpochStake *big.Int `json:"nextEpochStake"`

	// CommissionRate is expressed in basis points (10000 = 100%)
	CommissionRate uint64 `json:"commissionRate"`

	// VotingPower is the validator's consensus weight
	VotingPower *big.Int `json:"votingPower"`

	// PendingStake is stake queued to join the pool
	PendingStake *big.Int `json:"pendingStake"`

	// PendingTotalSuiWithdraw is stake queued to leave the pool
	PendingTotalSuiWithdraw *big.Int `json:"pendingTotalSuiWithdraw"`

	// Gas prices are display-only
	GasPrice          uint64 `json:"currentEpochGasPrice,omitempty"`
	NextEpochGasPrice uint64 `json:"nextEpochGasPrice,omitempty"`
}

// SystemContext is the network-wide state shared by all validators of a snapshot.
type SystemContext struct {
	Epoch                          uint64              `json:"epoch"`
	TotalStake                     *big.Int            `json:"totalStake"`
	ValidatorLowStakeThreshold     *big.Int            `json:"validatorLowStakeThreshold"`
	ValidatorVeryLowStakeThreshold *big.Int            `json:"validatorVeryLowStakeThreshold"`
	ValidatorLowStakeGracePeriod   *big.Int            `json:"validatorLowStakeGracePeriod"`
	AtRiskValidators               map[string]*big.Int `json:"atRiskValidators"`
	ActiveValidatorCount           int                 `json:"activeValidatorCount"`
}

// EpochsAtRisk returns the number of consecutive epochs the validator has spent
// below the low stake threshold and whether it is listed at all.
func (s *SystemContext) EpochsAtRisk(address string) (*big.Int, bool) {
	if s == nil {
		return new(big.Int), false
	}
	epochs, ok := s.AtRiskValidators[address]
	if !ok {
		return new(big.Int), false
	}
	return OrZero(epochs), true
}

// ApyMap maps validator address to its annualized yield estimate, e.g. 0.05 for 5%.
type ApyMap map[string]float64

// Lookup returns the APY for an address and whether it is known.
func (m ApyMap) Lookup(address string) (float64, bool) {
	apy, ok := m[address]
	return apy, ok
}

// Snapshot is one polling cycle's worth of chain state.
type Snapshot struct {
	Epoch       uint64             `json:"epoch"`
	Validators  []ValidatorMetrics `json:"validators"`
	Context     *SystemContext     `json:"context"`
	Apys        ApyMap             `json:"apys"`
	CollectedAt int64              `json:"collectedAt"`
}

// NewSnapshot creates a snapshot stamped with the current time
func NewSnapshot(validators []ValidatorMetrics, sys *SystemContext, apys ApyMap) Snapshot {
	snap := Snapshot{
		Validators:  validators,
		Context:     sys,
		Apys:        apys,
		CollectedAt: time.Now().Unix(),
	}
	if sys != nil {
		snap.Epoch = sys.Epoch
	}
	return snap
}

// Age returns how long ago the snapshot was collected
func (s Snapshot) Age() time.Duration {
	return time.Since(time.Unix(s.CollectedAt, 0))
}

// OrZero returns x, or a fresh zero value when x is nil.
func OrZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
