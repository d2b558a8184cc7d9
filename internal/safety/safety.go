// Package safety flags validators that exhibit discrete risk conditions. The
// flags are independent of the continuous score.
package safety

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/yourorg/validator-score-ea/internal/model"
)

// Issue identifies one safety condition
type Issue string

const (
	IssueVeryLowStake    Issue = "very_low_stake"
	IssueAtRisk          Issue = "at_risk"
	IssueHighCommission  Issue = "high_commission"
	IssueHighWithdrawals Issue = "high_withdrawals"
)

// AllIssues lists every issue in evaluation order.
var AllIssues = []Issue{IssueVeryLowStake, IssueAtRisk, IssueHighCommission, IssueHighWithdrawals}

const (
	// commission above this many basis points (10%) is flagged
	highCommissionBps = 1000

	// withdrawals above 15/100 of the pool are flagged
	highWithdrawalsNum = 15
	highWithdrawalsDen = 100
)

// Result holds the flags raised for one validator. Messages align with Issues.
type Result struct {
	HasIssues bool     `json:"hasIssues"`
	Issues    []Issue  `json:"issues"`
	Messages  []string `json:"messages"`
}

// Has reports whether the result contains the given issue
func (r Result) Has(issue Issue) bool {
	for _, i := range r.Issues {
		if i == issue {
			return true
		}
	}
	return false
}

// Evaluate checks the validator against the network thresholds. Checks run in
// the order very_low_stake, at_risk, high_commission, high_withdrawals. A nil
// context yields no issues.
func Evaluate(v model.ValidatorMetrics, sys *model.SystemContext) Result {
	res := Result{Issues: []Issue{}, Messages: []string{}}
	if sys == nil {
		return res
	}

	add := func(issue Issue, msg string) {
		res.Issues = append(res.Issues, issue)
		res.Messages = append(res.Messages, msg)
	}

	stake := model.OrZero(v.Stake)

	if stake.Cmp(model.OrZero(sys.ValidatorVeryLowStakeThreshold)) < 0 {
		add(IssueVeryLowStake, "Below very-low stake threshold")
	}

	if _, listed := sys.EpochsAtRisk(v.Address); listed {
		add(IssueAtRisk, "At-risk validator")
	}

	if v.CommissionRate > highCommissionBps {
		pct := strconv.FormatFloat(float64(v.CommissionRate)/100, 'f', -1, 64)
		add(IssueHighCommission, fmt.Sprintf("Commission %s%% > 10%%", pct))
	}

	if stake.Sign() > 0 {
		pending := model.OrZero(v.PendingTotalSuiWithdraw)
		// pending/stake > 15/100  <=>  pending*100 > stake*15
		lhs := new(big.Int).Mul(pending, big.NewInt(highWithdrawalsDen))
		rhs := new(big.Int).Mul(stake, big.NewInt(highWithdrawalsNum))
		if lhs.Cmp(rhs) > 0 {
			pct, _ := new(big.Float).Quo(new(big.Float).SetInt(pending), new(big.Float).SetInt(stake)).Float64()
			add(IssueHighWithdrawals, fmt.Sprintf("Withdrawals %.2f%% > 15%%", pct*100))
		}
	}

	res.HasIssues = len(res.Issues) > 0
	return res
}
