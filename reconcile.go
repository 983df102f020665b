package credits

import (
	"context"

	"github.com/xraph/credits/reconcile"
)

// Reconcile runs the six conservation checks once and returns the run. It
// never fails: detected inconsistencies are reported in the run's
// divergences and are never corrected.
func (l *Ledger) Reconcile(ctx context.Context) *reconcile.Run {
	return l.reconciler.Reconcile(ctx)
}

// ReconciliationHistory returns the most recent runs, newest first.
func (l *Ledger) ReconciliationHistory(ctx context.Context, limit int) ([]*reconcile.Run, error) {
	return l.reconciler.History(ctx, limit)
}

// Reconciler returns the underlying auditor.
func (l *Ledger) Reconciler() *reconcile.Reconciler { return l.reconciler }
