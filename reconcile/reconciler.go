package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/types"
)

// CheckError captures the internal failure of one check. It is recorded in
// the check's details and never aborts the run.
type CheckError struct {
	Check string
	Err   error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("credits: reconciliation check %s: %v", e.Check, e.Err)
}

func (e *CheckError) Unwrap() error { return e.Err }

// Emitter receives run outcome events. Delivery is best-effort.
type Emitter interface {
	EmitReconciliationCompleted(ctx context.Context, run *Run)
	EmitReconciliationDivergence(ctx context.Context, run *Run)
}

// Reconciler runs the conservation checks.
type Reconciler struct {
	reader  Reader
	runs    RunStore
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithEmitter sets the event emitter.
func WithEmitter(e Emitter) Option {
	return func(r *Reconciler) { r.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler over reader. Runs are persisted to runs when it
// is non-nil.
func New(reader Reader, runs RunStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		reader: reader,
		runs:   runs,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// outcome is what a check produces before it is folded into the run.
type outcome struct {
	status      CheckStatus
	details     string
	divergences []string
}

type checkFunc func(ctx context.Context) (outcome, error)

// Reconcile executes all checks and returns the completed run. It never
// returns an error: check failures become skipped results, persistence and
// emission failures are logged.
func (r *Reconciler) Reconcile(ctx context.Context) *Run {
	run := &Run{
		ID:          id.NewRunID(),
		StartedAt:   r.now().UTC(),
		Checks:      make([]CheckResult, 0, 6),
		Divergences: []string{},
	}

	checks := []struct {
		name string
		fn   checkFunc
	}{
		{CheckLotConservation, r.checkLotConservation},
		{CheckReceivableBalance, r.checkReceivableBalance},
		{CheckPlatformConservation, r.checkPlatformConservation},
		{CheckBudgetConsistency, r.checkBudgetConsistency},
		{CheckTransferConservation, r.checkTransferConservation},
		{CheckDepositBridge, r.checkDepositBridge},
	}

	for _, c := range checks {
		out := r.runCheck(ctx, c.name, c.fn)
		run.Checks = append(run.Checks, CheckResult{Name: c.name, Status: out.status, Details: out.details})
		run.Divergences = append(run.Divergences, out.divergences...)
	}

	run.Status = StatusPassed
	if len(run.Divergences) > 0 {
		run.Status = StatusDivergenceDetected
	}
	run.FinishedAt = r.now().UTC()

	if r.runs != nil {
		if err := r.runs.SaveRun(ctx, run); err != nil {
			r.logger.Error("reconcile: failed to persist run",
				"run_id", run.ID.String(),
				"error", err,
			)
		}
	}

	r.logger.Info("reconciliation completed",
		"run_id", run.ID.String(),
		"status", run.Status,
		"divergences", len(run.Divergences),
		"elapsed_ms", run.Duration().Milliseconds(),
	)

	if r.emitter != nil {
		if run.Status == StatusPassed {
			r.emitter.EmitReconciliationCompleted(ctx, run)
		} else {
			r.emitter.EmitReconciliationDivergence(ctx, run)
		}
	}

	return run
}

// History returns the most recent runs, newest first.
func (r *Reconciler) History(ctx context.Context, limit int) ([]*Run, error) {
	if r.runs == nil {
		return []*Run{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return r.runs.ListRuns(ctx, limit)
}

// runCheck isolates one check from the others: errors and panics become a
// skipped result.
func (r *Reconciler) runCheck(ctx context.Context, name string, fn checkFunc) (out outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = r.skipped(name, fmt.Errorf("panic: %v", p))
		}
	}()

	res, err := fn(ctx)
	if err != nil {
		return r.skipped(name, err)
	}
	return res
}

func (r *Reconciler) skipped(name string, err error) outcome {
	if errors.Is(err, ErrTableMissing) {
		return outcome{status: CheckSkipped, details: "skipped: " + err.Error()}
	}
	cerr := &CheckError{Check: name, Err: err}
	r.logger.Warn("reconcile: check failed to run",
		"check", name,
		"error", cerr,
	)
	return outcome{status: CheckSkipped, details: cerr.Error()}
}

func verdict(checked string, divergences []string) outcome {
	if len(divergences) == 0 {
		return outcome{status: CheckPassed, details: checked}
	}
	return outcome{
		status:      CheckFailed,
		details:     fmt.Sprintf("%s; %d divergence(s)", checked, len(divergences)),
		divergences: divergences,
	}
}

// ──────────────────────────────────────────────────
// Checks
// ──────────────────────────────────────────────────

func (r *Reconciler) checkLotConservation(ctx context.Context) (outcome, error) {
	totals, err := r.reader.LotTotalsByAccount(ctx)
	if err != nil {
		return outcome{}, err
	}

	var divergences []string
	for _, t := range totals {
		if t.Accounted > t.Original {
			divergences = append(divergences, fmt.Sprintf(
				"lot conservation: account %s lots account for %s against %s original",
				t.AccountID, t.Accounted, t.Original))
		}
	}
	return verdict(fmt.Sprintf("%d account(s) checked", len(totals)), divergences), nil
}

func (r *Reconciler) checkReceivableBalance(ctx context.Context) (outcome, error) {
	rt, err := r.reader.ReceivableTotals(ctx)
	if err != nil {
		return outcome{}, err
	}

	var divergences []string
	for _, rid := range rt.Overdrawn {
		divergences = append(divergences, fmt.Sprintf(
			"receivable balance: receivable %s outstanding balance exceeds its original amount", rid))
	}
	return verdict(fmt.Sprintf("%d receivable(s), %s outstanding", rt.Count, rt.Outstanding), divergences), nil
}

func (r *Reconciler) checkPlatformConservation(ctx context.Context) (outcome, error) {
	totals, err := r.reader.LotTotalsByAccount(ctx)
	if err != nil {
		return outcome{}, err
	}

	var original, accounted types.Micro
	for _, t := range totals {
		if original, err = original.Add(t.Original); err != nil {
			return outcome{}, err
		}
		if accounted, err = accounted.Add(t.Accounted); err != nil {
			return outcome{}, err
		}
	}

	note := ""
	var outstanding types.Micro
	rt, err := r.reader.ReceivableTotals(ctx)
	switch {
	case errors.Is(err, ErrTableMissing):
		note = " (no receivables table)"
	case err != nil:
		return outcome{}, err
	default:
		outstanding = rt.Outstanding
	}

	claimed, err := accounted.Add(outstanding)
	if err != nil {
		return outcome{}, err
	}

	checked := fmt.Sprintf("lots %s + receivables %s against %s original%s", accounted, outstanding, original, note)
	var divergences []string
	if claimed > original {
		divergences = append(divergences, fmt.Sprintf(
			"platform conservation: lots and receivables claim %s against %s minted", claimed, original))
	}
	return verdict(checked, divergences), nil
}

func (r *Reconciler) checkBudgetConsistency(ctx context.Context) (outcome, error) {
	limits, err := r.reader.ListSpendingLimits(ctx)
	if err != nil {
		return outcome{}, err
	}

	var divergences []string
	for _, l := range limits {
		sum, err := r.reader.SumSettled(ctx, l.AccountID, l.WindowStart, l.WindowEnd())
		if err != nil {
			return outcome{}, err
		}
		if sum != l.CurrentSpend {
			divergences = append(divergences, fmt.Sprintf(
				"budget consistency: account %s records %s spend but window finalizations sum to %s",
				l.AccountID, l.CurrentSpend, sum))
		}
	}
	return verdict(fmt.Sprintf("%d spending limit(s) checked", len(limits)), divergences), nil
}

func (r *Reconciler) checkTransferConservation(ctx context.Context) (outcome, error) {
	orphans, err := r.reader.OrphanTransfers(ctx)
	if err != nil {
		return outcome{}, err
	}
	var divergences []string
	for _, t := range orphans {
		divergences = append(divergences, fmt.Sprintf(
			"transfer conservation: completed transfer %s (%s) has no transfer_in lot", t.ID, t.Amount))
	}

	completed, err := r.reader.SumCompletedTransfers(ctx)
	if err != nil {
		return outcome{}, err
	}
	outbound, err := r.reader.SumEntryMagnitudes(ctx, journal.EntryTransferOut)
	if err != nil {
		return outcome{}, err
	}
	if completed != outbound {
		divergences = append(divergences, fmt.Sprintf(
			"transfer conservation: transfer_out entries total %s but completed transfers total %s", outbound, completed))
	}

	return verdict(fmt.Sprintf("completed transfers total %s", completed), divergences), nil
}

func (r *Reconciler) checkDepositBridge(ctx context.Context) (outcome, error) {
	bridged, err := r.reader.SumBridgedDeposits(ctx)
	if err != nil {
		return outcome{}, err
	}
	minted, err := r.reader.SumLotOriginals(ctx, lot.SourceTBADeposit)
	if err != nil {
		return outcome{}, err
	}

	var divergences []string
	if bridged != minted {
		divergences = append(divergences, fmt.Sprintf(
			"deposit bridge: bridged deposits total %s but tba_deposit lots total %s", bridged, minted))
	}
	return verdict(fmt.Sprintf("bridged deposits total %s", bridged), divergences), nil
}
