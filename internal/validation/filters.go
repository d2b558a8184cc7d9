// Package validation guards the scorer against ill-shaped input: validator
// records with missing or negative amounts and implausible APY values.
package validation

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/validator-score-ea/internal/model"
)

// MaxCommissionBps is 100% commission in basis points
const MaxCommissionBps = 10_000

// ErrStaleSnapshot is returned when a snapshot is older than the allowed age
var ErrStaleSnapshot = errors.New("snapshot is stale")

// ValidationOptions holds configuration for the validation process
type ValidationOptions struct {
	// MaxAge defines how recent a snapshot must be to be considered valid.
	// Zero disables the check.
	MaxAge time.Duration

	// MaxAPY defines the maximum reasonable APY value (as a fraction)
	MaxAPY float64

	// EnableOutlierDetection enables statistical APY outlier detection
	EnableOutlierDetection bool

	// OutlierIQRMultiplier defines sensitivity for outlier detection (1.5 is standard)
	OutlierIQRMultiplier float64
}

// DefaultValidationOptions returns sensible defaults for validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MaxAge:                 10 * time.Minute,
		MaxAPY:                 1.0, // 100% as decimal
		EnableOutlierDetection: false,
		OutlierIQRMultiplier:   1.5,
	}
}

// ValidateValidator returns a descriptive error when a record cannot be
// scored meaningfully.
func ValidateValidator(v model.ValidatorMetrics) error {
	if v.Address == "" {
		return errors.New("empty validator address")
	}

	amounts := []struct {
		name  string
		value *big.Int
	}{
		{"stakingPoolSuiBalance", v.Stake},
		{"nextEpochStake", v.NextEpochStake},
		{"votingPower", v.VotingPower},
		{"pendingStake", v.PendingStake},
		{"pendingTotalSuiWithdraw", v.PendingTotalSuiWithdraw},
	}
	for _, a := range amounts {
		if a.value == nil {
			return fmt.Errorf("%s: missing %s", v.Address, a.name)
		}
		if a.value.Sign() < 0 {
			return fmt.Errorf("%s: negative %s", v.Address, a.name)
		}
	}

	if v.CommissionRate > MaxCommissionBps {
		return fmt.Errorf("%s: commission rate %d exceeds %d bps", v.Address, v.CommissionRate, MaxCommissionBps)
	}

	return nil
}

// FilterInvalid removes validator records that fail ValidateValidator.
func FilterInvalid(validators []model.ValidatorMetrics) []model.ValidatorMetrics {
	valid := make([]model.ValidatorMetrics, 0, len(validators))
	for _, v := range validators {
		if err := ValidateValidator(v); err != nil {
			logrus.WithFields(logrus.Fields{
				"address": v.Address,
				"reason":  err.Error(),
			}).Debug("Filtered invalid validator")
			continue
		}
		valid = append(valid, v)
	}
	return valid
}

// FilterInvalidConcurrently performs validation in parallel for large sets.
// Input order is preserved.
func FilterInvalidConcurrently(validators []model.ValidatorMetrics, workerCount int) []model.ValidatorMetrics {
	if len(validators) < 100 || workerCount < 2 {
		// For small sets, parallel processing overhead isn't worth it
		return FilterInvalid(validators)
	}

	chunkSize := (len(validators) + workerCount - 1) / workerCount
	chunks := make([][]model.ValidatorMetrics, workerCount)
	wg := sync.WaitGroup{}

	for i := 0; i < workerCount; i++ {
		start := i * chunkSize
		if start >= len(validators) {
			break
		}
		end := start + chunkSize
		if end > len(validators) {
			end = len(validators)
		}

		wg.Add(1)
		go func(i int, chunk []model.ValidatorMetrics) {
			defer wg.Done()
			chunks[i] = FilterInvalid(chunk)
		}(i, validators[start:end])
	}
	wg.Wait()

	valid := make([]model.ValidatorMetrics, 0, len(validators))
	for _, chunk := range chunks {
		valid = append(valid, chunk...)
	}
	return valid
}

// CleanAPYs returns a copy of apys without non-finite, negative or
// implausibly high values, and without IQR outliers when enabled. Dropped
// entries become unknown to the scorer.
func CleanAPYs(apys model.ApyMap, opts ValidationOptions) model.ApyMap {
	clean := make(model.ApyMap, len(apys))
	for addr, apy := range apys {
		if math.IsNaN(apy) || math.IsInf(apy, 0) || apy < 0 || (opts.MaxAPY > 0 && apy > opts.MaxAPY) {
			logrus.WithFields(logrus.Fields{
				"address": addr,
				"apy":     apy,
			}).Debug("Dropped implausible APY")
			continue
		}
		clean[addr] = apy
	}

	if opts.EnableOutlierDetection && len(clean) > 3 {
		for _, addr := range APYOutliers(clean, opts.OutlierIQRMultiplier) {
			delete(clean, addr)
		}
	}

	return clean
}

// APYOutliers returns the addresses whose APY lies outside the IQR bounds,
// sorted.
func APYOutliers(apys model.ApyMap, iqrMultiplier float64) []string {
	if len(apys) <= 3 {
		return nil // Need at least 4 points for meaningful outlier detection
	}
	if iqrMultiplier <= 0 {
		iqrMultiplier = 1.5
	}

	values := make([]float64, 0, len(apys))
	for _, apy := range apys {
		values = append(values, apy)
	}

	sort.Float64s(values)
	q1 := values[len(values)/4]
	q3 := values[len(values)*3/4]
	iqr := q3 - q1

	lowerBound := q1 - iqrMultiplier*iqr
	upperBound := q3 + iqrMultiplier*iqr

	// If bounds are too strict, widen them around the mean
	if upperBound-lowerBound < 0.005 {
		mean := calculateMean(values)
		lowerBound = mean * 0.5
		upperBound = mean * 2.0
	}

	var outliers []string
	for addr, apy := range apys {
		if apy < lowerBound || apy > upperBound {
			outliers = append(outliers, addr)
		}
	}
	sort.Strings(outliers)

	if len(outliers) > 0 {
		logrus.WithFields(logrus.Fields{
			"total":    len(apys),
			"outliers": len(outliers),
			"bounds":   []float64{lowerBound, upperBound},
		}).Info("Detected APY outliers")
	}

	return outliers
}

// Sanitize applies FilterInvalid and CleanAPYs to a snapshot and checks its
// age. The input snapshot is not modified.
func Sanitize(snap model.Snapshot, opts ValidationOptions, workers int) (model.Snapshot, error) {
	if opts.MaxAge > 0 && snap.CollectedAt > 0 && snap.Age() > opts.MaxAge {
		return snap, fmt.Errorf("%w: collected %s ago", ErrStaleSnapshot, snap.Age().Truncate(time.Second))
	}

	out := snap
	out.Validators = FilterInvalidConcurrently(snap.Validators, workers)
	out.Apys = CleanAPYs(snap.Apys, opts)

	if dropped := len(snap.Validators) - len(out.Validators); dropped > 0 {
		logrus.WithFields(logrus.Fields{
			"epoch":   snap.Epoch,
			"dropped": dropped,
			"kept":    len(out.Validators),
		}).Warn("Dropped invalid validator records")
	}

	return out, nil
}

// calculateMean computes the arithmetic mean of a slice of float64
func calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
