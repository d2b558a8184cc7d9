// Package circuitbreaker protects consumers from publishing rankings built on
// erroneous chain data. A snapshot that fails a sanity check trips the
// breaker; while it is open callers fall back to the last good snapshot.
package circuitbreaker

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/validator-score-ea/internal/model"
	"github.com/yourorg/validator-score-ea/internal/scoring"
)

var (
	// ErrOpen is returned by Check while the breaker refuses new snapshots
	ErrOpen = errors.New("circuit breaker open: system protection engaged")

	// ErrTripped wraps the reason a snapshot failed a sanity check
	ErrTripped = errors.New("circuit breaker tripped")
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, no new snapshots accepted
	StateHalfOpen              // Testing if the data source has recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Thresholds defines the limits that will trigger the circuit breaker
type Thresholds struct {
	// Maximum allowed APY of any validator (e.g. 1.0 for 100%)
	MaxAPY float64 `json:"max_apy" yaml:"max_apy"`

	// Maximum allowed relative change of total stake between accepted
	// snapshots (e.g. 0.5 for 50%). Zero disables the check.
	MaxStakeChange float64 `json:"max_stake_change" yaml:"max_stake_change"`

	// Minimum number of validators required for a meaningful ranking
	MinValidators int `json:"min_validators" yaml:"min_validators"`

	// Maximum standard deviation of APY values as a multiple of the mean
	MaxStdDevMultiple float64 `json:"max_std_dev_multiple,omitempty" yaml:"max_std_dev_multiple,omitempty"`
}

// Status is a point-in-time view of the breaker for operators.
type Status struct {
	State       State     `json:"state"`
	LastTrip    time.Time `json:"lastTrip,omitempty"`
	LastReason  string    `json:"lastReason,omitempty"`
	TripCount   int       `json:"tripCount"`
	LastEpoch   uint64    `json:"lastGoodEpoch"`
	HasLastGood bool      `json:"hasLastGood"`
}

// CircuitBreaker guards snapshot acceptance.
type CircuitBreaker struct {
	thresholds Thresholds

	mu    sync.RWMutex
	state State

	lastTrip   time.Time
	lastReason string
	tripCount  int

	// Duration before auto-reset attempt
	resetDelay time.Duration

	// Count of consecutive accepted snapshots in HalfOpen state
	successCount     int
	successThreshold int

	lastGood     *model.Snapshot
	stakeHistory []*big.Int

	onTripCallback func(reason string, snap model.Snapshot)
}

// New creates a new CircuitBreaker with the provided thresholds
func New(t Thresholds) *CircuitBreaker {
	return &CircuitBreaker{
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of accepted snapshots needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string, snap model.Snapshot)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// Check evaluates a snapshot against the thresholds. An accepted snapshot
// becomes the new last good snapshot. A rejected one trips the breaker and
// returns an error wrapping ErrTripped; while open, Check returns ErrOpen.
func (cb *CircuitBreaker) Check(snap model.Snapshot) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastTrip) <= cb.resetDelay {
			return ErrOpen
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
		logrus.Info("Circuit breaker half-open: testing data source recovery")
	}

	if reason := cb.violation(snap); reason != "" {
		cb.trip(reason, snap)
		return fmt.Errorf("%w: %s", ErrTripped, reason)
	}

	logrus.WithField("epoch", snap.Epoch).Debug("Circuit breaker checks passed")
	cb.accept(snap)

	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.Info("Circuit breaker closed: data source has recovered")
		}
	}

	return nil
}

// violation returns the first failed check, or "" when the snapshot is sane.
func (cb *CircuitBreaker) violation(snap model.Snapshot) string {
	if len(snap.Validators) == 0 {
		return "no validators in snapshot"
	}

	if len(snap.Validators) < cb.thresholds.MinValidators {
		return fmt.Sprintf("insufficient validator count: got %d, need %d",
			len(snap.Validators), cb.thresholds.MinValidators)
	}

	if cb.thresholds.MaxAPY > 0 {
		for addr, apy := range snap.Apys {
			if apy > cb.thresholds.MaxAPY {
				return fmt.Sprintf("APY exceeds maximum threshold: %s %f > %f",
					addr, apy, cb.thresholds.MaxAPY)
			}
		}
	}

	if cb.thresholds.MaxStakeChange > 0 && len(cb.stakeHistory) > 0 && snap.Context != nil {
		last := cb.stakeHistory[len(cb.stakeHistory)-1]
		current := model.OrZero(snap.Context.TotalStake)
		if last.Sign() > 0 {
			diff := new(big.Int).Sub(current, last)
			changeRatio := scoring.Ratio(diff.Abs(diff), last)
			if changeRatio > cb.thresholds.MaxStakeChange {
				return fmt.Sprintf("total stake change too drastic: %.2f%% (threshold: %.2f%%)",
					changeRatio*100, cb.thresholds.MaxStakeChange*100)
			}
		}
	}

	if cb.thresholds.MaxStdDevMultiple > 0 && len(snap.Apys) > 1 {
		stdDev, mean := calculateStdDevAndMean(snap.Apys)
		if mean > 0 && stdDev/mean > cb.thresholds.MaxStdDevMultiple {
			return fmt.Sprintf("APY standard deviation too high: %.2f x mean (threshold: %.2f)",
				stdDev/mean, cb.thresholds.MaxStdDevMultiple)
		}
	}

	return ""
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Status returns the breaker's state together with trip bookkeeping.
func (cb *CircuitBreaker) Status() Status {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	st := Status{
		State:      cb.state,
		LastTrip:   cb.lastTrip,
		LastReason: cb.lastReason,
		TripCount:  cb.tripCount,
	}
	if cb.lastGood != nil {
		st.HasLastGood = true
		st.LastEpoch = cb.lastGood.Epoch
	}
	return st
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.successCount = 0
	logrus.Info("Circuit breaker manually reset to closed state")
}

// LastGoodSnapshot returns the most recently accepted snapshot.
func (cb *CircuitBreaker) LastGoodSnapshot() (model.Snapshot, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.lastGood == nil {
		return model.Snapshot{}, false
	}
	return *cb.lastGood, true
}

// trip sets the circuit breaker to open state with the current time
func (cb *CircuitBreaker) trip(reason string, snap model.Snapshot) {
	cb.state = StateOpen
	cb.lastTrip = time.Now()
	cb.lastReason = reason
	cb.tripCount++

	logrus.WithFields(logrus.Fields{
		"epoch":  snap.Epoch,
		"reason": reason,
	}).Warn("Circuit breaker tripped")

	if cb.onTripCallback != nil {
		go cb.onTripCallback(reason, snap)
	}
}

// accept stores the snapshot for fallback and future stake comparisons
func (cb *CircuitBreaker) accept(snap model.Snapshot) {
	cb.lastGood = &snap

	if snap.Context == nil {
		return
	}
	cb.stakeHistory = append(cb.stakeHistory, new(big.Int).Set(model.OrZero(snap.Context.TotalStake)))

	// Keep history bounded to avoid memory growth
	const maxHistorySize = 100
	if len(cb.stakeHistory) > maxHistorySize {
		cb.stakeHistory = cb.stakeHistory[len(cb.stakeHistory)-maxHistorySize:]
	}
}

// calculateStdDevAndMean computes the sample standard deviation and mean of APY values
func calculateStdDevAndMean(apys model.ApyMap) (float64, float64) {
	if len(apys) <= 1 {
		return 0, 0
	}

	var sum float64
	for _, apy := range apys {
		sum += apy
	}
	mean := sum / float64(len(apys))

	var variance float64
	for _, apy := range apys {
		diff := apy - mean
		variance += diff * diff
	}
	variance /= float64(len(apys) - 1)

	return math.Sqrt(variance), mean
}
