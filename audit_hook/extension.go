// Package audithook bridges credit ledger lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not import any
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/transfer"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                     = (*Extension)(nil)
	_ plugin.OnLotMinted                = (*Extension)(nil)
	_ plugin.OnReserved                 = (*Extension)(nil)
	_ plugin.OnFinalized                = (*Extension)(nil)
	_ plugin.OnTransferred              = (*Extension)(nil)
	_ plugin.OnDepositBridged           = (*Extension)(nil)
	_ plugin.OnBudgetWarning            = (*Extension)(nil)
	_ plugin.OnBudgetExhausted          = (*Extension)(nil)
	_ plugin.OnReconciliationCompleted  = (*Extension)(nil)
	_ plugin.OnReconciliationDivergence = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges ledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnLotMinted implements plugin.OnLotMinted.
func (e *Extension) OnLotMinted(ctx context.Context, l *lot.Lot) error {
	return e.record(ctx, ActionLotMinted, SeverityInfo, OutcomeSuccess,
		ResourceLot, l.ID.String(), CategoryLedger, nil,
		"account_id", l.AccountID.String(),
		"pool_id", l.PoolID,
		"source_type", string(l.SourceType),
		"source_id", l.SourceID,
		"amount_micro", l.Original.Int64(),
	)
}

// OnReserved implements plugin.OnReserved.
func (e *Extension) OnReserved(ctx context.Context, r *reservation.Reservation) error {
	return e.record(ctx, ActionFundsReserved, SeverityInfo, OutcomeSuccess,
		ResourceReservation, r.ID.String(), CategorySpend, nil,
		"account_id", r.AccountID.String(),
		"request_id", r.RequestID,
		"amount_micro", r.Total.Int64(),
		"lots", len(r.Allocations),
	)
}

// OnFinalized implements plugin.OnFinalized. Clamped settlements are
// recorded as partial outcomes.
func (e *Extension) OnFinalized(ctx context.Context, f *reservation.Finalization) error {
	action, severity, outcome := ActionReservationFinalized, SeverityInfo, OutcomeSuccess
	var err error
	if f.Outcome == reservation.OutcomeClamped {
		action, severity, outcome = ActionReservationClamped, SeverityWarning, OutcomePartial
		err = errors.New(f.Reason)
	}
	return e.record(ctx, action, severity, outcome,
		ResourceReservation, f.ReservationID.String(), CategorySpend, err,
		"account_id", f.AccountID.String(),
		"requested_micro", f.Requested.Int64(),
		"settled_micro", f.Settled.Int64(),
		"released_micro", f.Released.Int64(),
	)
}

// OnTransferred implements plugin.OnTransferred.
func (e *Extension) OnTransferred(ctx context.Context, t *transfer.Transfer) error {
	return e.record(ctx, ActionTransferCompleted, SeverityInfo, OutcomeSuccess,
		ResourceTransfer, t.ID.String(), CategoryLedger, nil,
		"from_account_id", t.FromAccountID.String(),
		"to_account_id", t.ToAccountID.String(),
		"amount_micro", t.Amount.Int64(),
	)
}

// OnDepositBridged implements plugin.OnDepositBridged.
func (e *Extension) OnDepositBridged(ctx context.Context, d *deposit.Deposit) error {
	return e.record(ctx, ActionDepositBridged, SeverityInfo, OutcomeSuccess,
		ResourceDeposit, d.ID.String(), CategoryLedger, nil,
		"account_id", d.AccountID.String(),
		"chain_id", d.ChainID,
		"tx_hash", d.TxHash,
		"amount_micro", d.Amount.Int64(),
	)
}

// ──────────────────────────────────────────────────
// Budget hooks
// ──────────────────────────────────────────────────

// OnBudgetWarning implements plugin.OnBudgetWarning.
func (e *Extension) OnBudgetWarning(ctx context.Context, s budget.Status) error {
	return e.record(ctx, ActionBudgetWarning, SeverityWarning, OutcomeSuccess,
		ResourceSpendingLimit, s.AccountID.String(), CategoryBudget, nil,
		"spent_micro", s.Spent.Int64(),
		"daily_cap_micro", s.DailyCap.Int64(),
	)
}

// OnBudgetExhausted implements plugin.OnBudgetExhausted.
func (e *Extension) OnBudgetExhausted(ctx context.Context, s budget.Status) error {
	return e.record(ctx, ActionBudgetExhausted, SeverityError, OutcomeSuccess,
		ResourceSpendingLimit, s.AccountID.String(), CategoryBudget, nil,
		"spent_micro", s.Spent.Int64(),
		"daily_cap_micro", s.DailyCap.Int64(),
	)
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconciliationCompleted implements plugin.OnReconciliationCompleted.
func (e *Extension) OnReconciliationCompleted(ctx context.Context, run *reconcile.Run) error {
	return e.record(ctx, ActionReconciliationPassed, SeverityInfo, OutcomeSuccess,
		ResourceReconciliation, run.ID.String(), CategoryIntegrity, nil,
		"checks", len(run.Checks),
	)
}

// OnReconciliationDivergence implements plugin.OnReconciliationDivergence.
func (e *Extension) OnReconciliationDivergence(ctx context.Context, run *reconcile.Run) error {
	return e.record(ctx, ActionReconciliationDiverged, SeverityCritical, OutcomeFailure,
		ResourceReconciliation, run.ID.String(), CategoryIntegrity, nil,
		"checks", len(run.Checks),
		"divergences", run.Divergences,
	)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
