// Package reconcile implements the alert-only conservation auditor. A run
// executes six independent checks over persisted state, never mutates the
// ledger, and always completes with a result.
package reconcile

import (
	"time"

	"github.com/xraph/credits/id"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusPassed             Status = "passed"
	StatusDivergenceDetected Status = "divergence_detected"
)

// CheckStatus is the outcome of one check.
type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckSkipped CheckStatus = "skipped"
)

// Check names, in execution order.
const (
	CheckLotConservation      = "lot_conservation"
	CheckReceivableBalance    = "receivable_balance"
	CheckPlatformConservation = "platform_conservation"
	CheckBudgetConsistency    = "budget_consistency"
	CheckTransferConservation = "transfer_conservation"
	CheckDepositBridge        = "deposit_bridge_conservation"
)

// CheckResult is the reported outcome of one check.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Details string      `json:"details"`
}

// Run is one reconciliation invocation. It is immutable once persisted.
type Run struct {
	ID          id.RunID      `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Status      Status        `json:"status"`
	Checks      []CheckResult `json:"checks"`
	Divergences []string      `json:"divergences"`
}

// Check returns the result with the given name.
func (r *Run) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
