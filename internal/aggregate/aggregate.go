package aggregate

import (
	"math"
	"math/big"
	"sort"

	"github.com/yourorg/validator-score-ea/internal/model"
)

// DefaultTrimPercent ist der Anteil, der an jedem Ende vor dem getrimmten Mittel entfernt wird
const DefaultTrimPercent = 0.1

// Summary fasst einen Snapshot netzwerkweit zusammen
type Summary struct {
	Epoch          uint64   `json:"epoch"`
	Validators     int      `json:"validators"`
	ActiveCount    int      `json:"activeValidatorCount"`
	TotalStake     *big.Int `json:"totalStake"`
	APYCount       int      `json:"apyCount"`
	AverageAPY     float64  `json:"avgApy"`
	WeightedAPY    float64  `json:"stakeWeightedApy"`
	MedianAPY      float64  `json:"medianApy"`
	TrimmedMeanAPY float64  `json:"trimmedMeanApy"`
	MinAPY         float64  `json:"minApy"`
	MaxAPY         float64  `json:"maxApy"`
	CollectedAt    int64    `json:"collectedAt"`
}

// Summarize berechnet alle Kennzahlen eines Snapshots
func Summarize(snap model.Snapshot) Summary {
	values := apyValues(snap.Apys)

	s := Summary{
		Epoch:          snap.Epoch,
		Validators:     len(snap.Validators),
		TotalStake:     new(big.Int),
		APYCount:       len(values),
		AverageAPY:     Mean(values),
		WeightedAPY:    StakeWeightedAPY(snap.Validators, snap.Apys),
		MedianAPY:      Median(values),
		TrimmedMeanAPY: TrimmedMean(values, DefaultTrimPercent),
		CollectedAt:    snap.CollectedAt,
	}
	if snap.Context != nil {
		s.ActiveCount = snap.Context.ActiveValidatorCount
		s.TotalStake.Set(model.OrZero(snap.Context.TotalStake))
	}
	if len(values) > 0 {
		s.MinAPY = values[0]
		s.MaxAPY = values[len(values)-1]
	}

	return s
}

// AverageAPY ist der einfache Mittelwert aller bekannten APYs
func AverageAPY(apys model.ApyMap) float64 {
	return Mean(apyValues(apys))
}

// StakeWeightedAPY gewichtet jede bekannte APY mit dem Stake des Validators.
// Validatoren ohne APY oder ohne positiven Stake werden ignoriert.
func StakeWeightedAPY(validators []model.ValidatorMetrics, apys model.ApyMap) float64 {
	totalStake := new(big.Float)
	weighted := new(big.Float)

	for _, v := range validators {
		apy, ok := apys.Lookup(v.Address)
		if !ok || !finite(apy) {
			continue
		}
		stake := model.OrZero(v.Stake)
		if stake.Sign() <= 0 {
			continue
		}

		fs := new(big.Float).SetInt(stake)
		totalStake.Add(totalStake, fs)
		weighted.Add(weighted, fs.Mul(fs, big.NewFloat(apy)))
	}

	if totalStake.Sign() == 0 {
		return 0
	}

	out, _ := new(big.Float).Quo(weighted, totalStake).Float64()
	return out
}

// Mean berechnet das arithmetische Mittel
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median berechnet den Medianwert, robust gegen Ausreißer
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)

	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// TrimmedMean entfernt trimPercent der höchsten und niedrigsten Werte vor der
// Mittelwertbildung. Bei zu wenigen Werten oder ungültigem Prozentsatz wird
// auf den einfachen Mittelwert zurückgefallen.
func TrimmedMean(values []float64, trimPercent float64) float64 {
	if len(values) < 3 || trimPercent <= 0 || trimPercent >= 0.5 {
		return Mean(values)
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	trimCount := int(float64(len(sorted)) * trimPercent)
	return Mean(sorted[trimCount : len(sorted)-trimCount])
}

// apyValues liefert die endlichen APYs aufsteigend sortiert
func apyValues(apys model.ApyMap) []float64 {
	values := make([]float64, 0, len(apys))
	for _, apy := range apys {
		if finite(apy) {
			values = append(values, apy)
		}
	}
	sort.Float64s(values)
	return values
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
