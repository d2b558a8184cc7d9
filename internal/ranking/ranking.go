// Package ranking scores and classifies every validator of a snapshot and
// orders them best first.
package ranking

import (
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/validator-score-ea/internal/model"
	"github.com/yourorg/validator-score-ea/internal/safety"
	"github.com/yourorg/validator-score-ea/internal/scoring"
)

// parallelThreshold is the validator count above which scoring fans out
const parallelThreshold = 64

// ScoredValidator is one row of the ranked validator table.
type ScoredValidator struct {
	model.ValidatorMetrics

	Rank                 int               `json:"rank"`
	Score                float64           `json:"score"`
	APY                  *float64          `json:"apy,omitempty"`
	StakeSharePercentage float64           `json:"stakeSharePercentage"`
	Breakdown            scoring.Breakdown `json:"breakdown"`
	Safety               safety.Result     `json:"safety"`
}

// Options controls a ranking pass
type Options struct {
	// Score holds per-call scorer overrides applied to every validator
	Score *scoring.Options

	// Workers is the number of goroutines used for large validator sets.
	// Values below 2 score sequentially.
	Workers int
}

// Rank scores every validator in the snapshot and returns them sorted by
// score descending, then stake descending, then address ascending. Ranks are
// 1-based.
func Rank(snap model.Snapshot, scorer *scoring.Scorer, opts Options) []ScoredValidator {
	if scorer == nil {
		scorer = scoring.NewDefaultScorer()
	}

	out := make([]ScoredValidator, len(snap.Validators))
	score := func(i int) {
		out[i] = evaluate(snap, scorer, opts.Score, snap.Validators[i])
	}

	if opts.Workers > 1 && len(snap.Validators) > parallelThreshold {
		scoreConcurrently(len(snap.Validators), opts.Workers, score)
	} else {
		for i := range snap.Validators {
			score(i)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if c := model.OrZero(a.Stake).Cmp(model.OrZero(b.Stake)); c != 0 {
			return c > 0
		}
		return a.Address < b.Address
	})
	for i := range out {
		out[i].Rank = i + 1
	}

	logrus.WithFields(logrus.Fields{
		"epoch":      snap.Epoch,
		"validators": len(out),
	}).Debug("Ranked validators")

	return out
}

func evaluate(snap model.Snapshot, scorer *scoring.Scorer, opts *scoring.Options, v model.ValidatorMetrics) ScoredValidator {
	b := scorer.Breakdown(v, snap.Context, snap.Apys, opts)

	sv := ScoredValidator{
		ValidatorMetrics: v,
		Score:            b.Score,
		Breakdown:        b,
		Safety:           safety.Evaluate(v, snap.Context),
	}
	if apy, ok := snap.Apys.Lookup(v.Address); ok {
		sv.APY = &apy
	}
	if snap.Context != nil {
		sv.StakeSharePercentage = scoring.Ratio(v.Stake, snap.Context.TotalStake) * 100
	}
	return sv
}

// scoreConcurrently splits [0, n) into contiguous chunks, one per worker.
func scoreConcurrently(n, workers int, fn func(i int)) {
	chunkSize := (n + workers - 1) / workers
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		start := w * chunkSize
		if start >= n {
			break
		}
		end := start + chunkSize
		if end > n {
			end = n
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		}(start, end)
	}

	wg.Wait()
}

// Find returns the ranked entry for an address, matched case-insensitively.
func Find(ranked []ScoredValidator, address string) (ScoredValidator, bool) {
	for _, sv := range ranked {
		if strings.EqualFold(sv.Address, address) {
			return sv, true
		}
	}
	return ScoredValidator{}, false
}

// WithIssues returns only the entries that raised at least one safety issue,
// preserving rank order.
func WithIssues(ranked []ScoredValidator) []ScoredValidator {
	out := make([]ScoredValidator, 0, len(ranked))
	for _, sv := range ranked {
		if sv.Safety.HasIssues {
			out = append(out, sv)
		}
	}
	return out
}

// IssueCounts tallies how many validators raised each issue.
func IssueCounts(ranked []ScoredValidator) map[safety.Issue]int {
	counts := make(map[safety.Issue]int, len(safety.AllIssues))
	for _, issue := range safety.AllIssues {
		counts[issue] = 0
	}
	for _, sv := range ranked {
		for _, issue := range sv.Safety.Issues {
			counts[issue]++
		}
	}
	return counts
}
