// Package plugin provides the extension points of the credits engine.
// Plugins hook into ledger events after the owning transaction commits;
// they never run while a ledger lock is held.
package plugin

import (
	"context"

	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/transfer"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Balance hooks
// ──────────────────────────────────────────────────

// OnLotMinted is called after a new lot is committed. Idempotent replays do
// not fire it again.
type OnLotMinted interface {
	Plugin
	OnLotMinted(ctx context.Context, l *lot.Lot) error
}

// OnReserved is called after a reservation is committed.
type OnReserved interface {
	Plugin
	OnReserved(ctx context.Context, r *reservation.Reservation) error
}

// OnFinalized is called after a reservation is settled.
type OnFinalized interface {
	Plugin
	OnFinalized(ctx context.Context, f *reservation.Finalization) error
}

// OnTransferred is called after a peer transfer completes.
type OnTransferred interface {
	Plugin
	OnTransferred(ctx context.Context, t *transfer.Transfer) error
}

// OnDepositBridged is called after an on-chain deposit is credited.
type OnDepositBridged interface {
	Plugin
	OnDepositBridged(ctx context.Context, d *deposit.Deposit) error
}

// ──────────────────────────────────────────────────
// Budget hooks
// ──────────────────────────────────────────────────

// OnBudgetWarning is called when an account's circuit moves into warning.
type OnBudgetWarning interface {
	Plugin
	OnBudgetWarning(ctx context.Context, status budget.Status) error
}

// OnBudgetExhausted is called when an account's circuit opens.
type OnBudgetExhausted interface {
	Plugin
	OnBudgetExhausted(ctx context.Context, status budget.Status) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconciliationCompleted is called after a run with no divergences.
type OnReconciliationCompleted interface {
	Plugin
	OnReconciliationCompleted(ctx context.Context, run *reconcile.Run) error
}

// OnReconciliationDivergence is called after a run that found divergences.
type OnReconciliationDivergence interface {
	Plugin
	OnReconciliationDivergence(ctx context.Context, run *reconcile.Run) error
}
