// Package mapper converts Sui JSON-RPC summaries, which carry every amount as
// a decimal string, into the scoring model.
package mapper

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/yourorg/validator-score-ea/internal/model"
)

// ErrInvalidAmount is returned when an amount field does not parse as a
// non-negative integer.
var ErrInvalidAmount = errors.New("invalid amount")

// MistPerSui is the number of MIST in one SUI
var MistPerSui = big.NewInt(1_000_000_000)

// SystemStateSummary is the subset of suix_getLatestSuiSystemState used for scoring.
type SystemStateSummary struct {
	Epoch                          string             `json:"epoch"`
	ProtocolVersion                string             `json:"protocolVersion,omitempty"`
	ReferenceGasPrice              string             `json:"referenceGasPrice"`
	TotalStake                     string             `json:"totalStake"`
	ValidatorLowStakeThreshold     string             `json:"validatorLowStakeThreshold"`
	ValidatorVeryLowStakeThreshold string             `json:"validatorVeryLowStakeThreshold"`
	ValidatorLowStakeGracePeriod   string             `json:"validatorLowStakeGracePeriod"`
	AtRiskValidators               [][]string         `json:"atRiskValidators"`
	ActiveValidators               []ValidatorSummary `json:"activeValidators"`
}

// ValidatorSummary is one entry of SystemStateSummary.ActiveValidators.
type ValidatorSummary struct {
	SuiAddress              string `json:"suiAddress"`
	Name                    string `json:"name"`
	ImageURL                string `json:"imageUrl"`
	StakingPoolSuiBalance   string `json:"stakingPoolSuiBalance"`
	NextEpochStake          string `json:"nextEpochStake"`
	VotingPower             string `json:"votingPower"`
	PendingStake            string `json:"pendingStake"`
	PendingTotalSuiWithdraw string `json:"pendingTotalSuiWithdraw"`
	CommissionRate          string `json:"commissionRate"`
	GasPrice                string `json:"gasPrice"`
	NextEpochGasPrice       string `json:"nextEpochGasPrice"`
}

// ValidatorsApy is the result of suix_getValidatorsApy.
type ValidatorsApy struct {
	Apys  []ValidatorApy `json:"apys"`
	Epoch string         `json:"epoch"`
}

// ValidatorApy is one validator's APY as a fraction.
type ValidatorApy struct {
	Address string  `json:"address"`
	APY     float64 `json:"apy"`
}

// SystemContext maps the network-wide fields of a system state summary.
func SystemContext(s SystemStateSummary) (*model.SystemContext, error) {
	epoch, err := parseUint(s.Epoch, "epoch")
	if err != nil {
		return nil, err
	}

	sys := &model.SystemContext{
		Epoch:                epoch,
		AtRiskValidators:     make(map[string]*big.Int, len(s.AtRiskValidators)),
		ActiveValidatorCount: len(s.ActiveValidators),
	}

	amounts := []struct {
		dst   **big.Int
		raw   string
		field string
	}{
		{&sys.TotalStake, s.TotalStake, "totalStake"},
		{&sys.ValidatorLowStakeThreshold, s.ValidatorLowStakeThreshold, "validatorLowStakeThreshold"},
		{&sys.ValidatorVeryLowStakeThreshold, s.ValidatorVeryLowStakeThreshold, "validatorVeryLowStakeThreshold"},
		{&sys.ValidatorLowStakeGracePeriod, s.ValidatorLowStakeGracePeriod, "validatorLowStakeGracePeriod"},
	}
	for _, a := range amounts {
		if *a.dst, err = parseAmount(a.raw, a.field); err != nil {
			return nil, err
		}
	}

	for i, tuple := range s.AtRiskValidators {
		if len(tuple) != 2 {
			return nil, fmt.Errorf("atRiskValidators[%d]: expected [address, epochs], got %d elements", i, len(tuple))
		}
		epochs, err := parseAmount(tuple[1], "atRiskValidators["+tuple[0]+"]")
		if err != nil {
			return nil, err
		}
		sys.AtRiskValidators[tuple[0]] = epochs
	}

	return sys, nil
}

// Validator maps one active validator summary.
func Validator(v ValidatorSummary) (model.ValidatorMetrics, error) {
	out := model.ValidatorMetrics{
		Address:  v.SuiAddress,
		Name:     v.Name,
		ImageURL: v.ImageURL,
	}

	amounts := []struct {
		dst   **big.Int
		raw   string
		field string
	}{
		{&out.Stake, v.StakingPoolSuiBalance, "stakingPoolSuiBalance"},
		{&out.NextEpochStake, v.NextEpochStake, "nextEpochStake"},
		{&out.VotingPower, v.VotingPower, "votingPower"},
		{&out.PendingStake, v.PendingStake, "pendingStake"},
		{&out.PendingTotalSuiWithdraw, v.PendingTotalSuiWithdraw, "pendingTotalSuiWithdraw"},
	}
	var err error
	for _, a := range amounts {
		if *a.dst, err = parseAmount(a.raw, a.field); err != nil {
			return model.ValidatorMetrics{}, fmt.Errorf("validator %s: %w", v.SuiAddress, err)
		}
	}

	if out.CommissionRate, err = parseUint(v.CommissionRate, "commissionRate"); err != nil {
		return model.ValidatorMetrics{}, fmt.Errorf("validator %s: %w", v.SuiAddress, err)
	}
	if out.GasPrice, err = parseUint(v.GasPrice, "gasPrice"); err != nil {
		return model.ValidatorMetrics{}, fmt.Errorf("validator %s: %w", v.SuiAddress, err)
	}
	if out.NextEpochGasPrice, err = parseUint(v.NextEpochGasPrice, "nextEpochGasPrice"); err != nil {
		return model.ValidatorMetrics{}, fmt.Errorf("validator %s: %w", v.SuiAddress, err)
	}

	return out, nil
}

// Apys builds the APY lookup. When an address repeats the first entry wins.
func Apys(resp ValidatorsApy) model.ApyMap {
	apys := make(model.ApyMap, len(resp.Apys))
	for _, a := range resp.Apys {
		if _, seen := apys[a.Address]; seen {
			continue
		}
		apys[a.Address] = a.APY
	}
	return apys
}

// Snapshot maps a full system state and APY response into a scoring snapshot.
func Snapshot(state SystemStateSummary, apyResp ValidatorsApy) (model.Snapshot, error) {
	sys, err := SystemContext(state)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("map system context: %w", err)
	}

	validators := make([]model.ValidatorMetrics, 0, len(state.ActiveValidators))
	for _, v := range state.ActiveValidators {
		mv, err := Validator(v)
		if err != nil {
			return model.Snapshot{}, fmt.Errorf("map validators: %w", err)
		}
		validators = append(validators, mv)
	}

	return model.NewSnapshot(validators, sys, Apys(apyResp)), nil
}

// MistToSui converts an amount in MIST to SUI.
func MistToSui(mist *big.Int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(model.OrZero(mist)),
		new(big.Float).SetInt(MistPerSui),
	).Float64()
	return f
}

// parseAmount accepts decimal or 0x-prefixed hex. An empty string is zero.
func parseAmount(raw, field string) (*big.Int, error) {
	x, ok := math.ParseBig256(raw)
	if !ok || x.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidAmount, field, raw)
	}
	return x, nil
}

func parseUint(raw, field string) (uint64, error) {
	x, ok := math.ParseUint64(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidAmount, field, raw)
	}
	return x, nil
}
