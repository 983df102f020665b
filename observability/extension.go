// Package observability provides a metrics extension for the credits engine
// that records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/transfer"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                     = (*MetricsExtension)(nil)
	_ plugin.OnLotMinted                = (*MetricsExtension)(nil)
	_ plugin.OnReserved                 = (*MetricsExtension)(nil)
	_ plugin.OnFinalized                = (*MetricsExtension)(nil)
	_ plugin.OnTransferred              = (*MetricsExtension)(nil)
	_ plugin.OnDepositBridged           = (*MetricsExtension)(nil)
	_ plugin.OnBudgetWarning            = (*MetricsExtension)(nil)
	_ plugin.OnBudgetExhausted          = (*MetricsExtension)(nil)
	_ plugin.OnReconciliationCompleted  = (*MetricsExtension)(nil)
	_ plugin.OnReconciliationDivergence = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a credits plugin to automatically track ledger metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Lot metrics
	LotsMinted   Counter
	MintedAmount Histogram

	// Spend metrics
	Reservations         Counter
	ReservedAmount       Histogram
	Finalizations        Counter
	FinalizationsClamped Counter
	SettledAmount        Histogram
	ReleasedAmount       Histogram

	// Movement metrics
	Transfers       Counter
	TransferAmount  Histogram
	DepositsBridged Counter
	DepositAmount   Histogram

	// Budget metrics
	BudgetWarnings  Counter
	BudgetExhausted Counter

	// Reconciliation metrics
	ReconcileRuns        Counter
	ReconcileDivergences Counter
	ReconcileSkipped     Counter
	ReconcileLatency     Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions or NewPrometheusFactory standalone.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		LotsMinted:   factory.Counter("credits.lot.minted"),
		MintedAmount: factory.Histogram("credits.lot.minted.amount_usd"),

		Reservations:         factory.Counter("credits.reservation.created"),
		ReservedAmount:       factory.Histogram("credits.reservation.amount_usd"),
		Finalizations:        factory.Counter("credits.reservation.finalized"),
		FinalizationsClamped: factory.Counter("credits.reservation.clamped"),
		SettledAmount:        factory.Histogram("credits.reservation.settled_usd"),
		ReleasedAmount:       factory.Histogram("credits.reservation.released_usd"),

		Transfers:       factory.Counter("credits.transfer.completed"),
		TransferAmount:  factory.Histogram("credits.transfer.amount_usd"),
		DepositsBridged: factory.Counter("credits.deposit.bridged"),
		DepositAmount:   factory.Histogram("credits.deposit.amount_usd"),

		BudgetWarnings:  factory.Counter("credits.budget.warning"),
		BudgetExhausted: factory.Counter("credits.budget.exhausted"),

		ReconcileRuns:        factory.Counter("credits.reconcile.runs"),
		ReconcileDivergences: factory.Counter("credits.reconcile.divergences"),
		ReconcileSkipped:     factory.Counter("credits.reconcile.checks.skipped"),
		ReconcileLatency:     factory.Histogram("credits.reconcile.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnLotMinted implements plugin.OnLotMinted.
func (m *MetricsExtension) OnLotMinted(_ context.Context, l *lot.Lot) error {
	m.LotsMinted.Inc()
	m.MintedAmount.Observe(usd(int64(l.Original)))
	return nil
}

// OnReserved implements plugin.OnReserved.
func (m *MetricsExtension) OnReserved(_ context.Context, r *reservation.Reservation) error {
	m.Reservations.Inc()
	m.ReservedAmount.Observe(usd(int64(r.Total)))
	return nil
}

// OnFinalized implements plugin.OnFinalized.
func (m *MetricsExtension) OnFinalized(_ context.Context, f *reservation.Finalization) error {
	m.Finalizations.Inc()
	if f.Outcome == reservation.OutcomeClamped {
		m.FinalizationsClamped.Inc()
	}
	m.SettledAmount.Observe(usd(int64(f.Settled)))
	m.ReleasedAmount.Observe(usd(int64(f.Released)))
	return nil
}

// OnTransferred implements plugin.OnTransferred.
func (m *MetricsExtension) OnTransferred(_ context.Context, t *transfer.Transfer) error {
	m.Transfers.Inc()
	m.TransferAmount.Observe(usd(int64(t.Amount)))
	return nil
}

// OnDepositBridged implements plugin.OnDepositBridged.
func (m *MetricsExtension) OnDepositBridged(_ context.Context, d *deposit.Deposit) error {
	m.DepositsBridged.Inc()
	m.DepositAmount.Observe(usd(int64(d.Amount)))
	return nil
}

// ──────────────────────────────────────────────────
// Budget hooks
// ──────────────────────────────────────────────────

// OnBudgetWarning implements plugin.OnBudgetWarning.
func (m *MetricsExtension) OnBudgetWarning(_ context.Context, _ budget.Status) error {
	m.BudgetWarnings.Inc()
	return nil
}

// OnBudgetExhausted implements plugin.OnBudgetExhausted.
func (m *MetricsExtension) OnBudgetExhausted(_ context.Context, _ budget.Status) error {
	m.BudgetExhausted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconciliationCompleted implements plugin.OnReconciliationCompleted.
func (m *MetricsExtension) OnReconciliationCompleted(_ context.Context, run *reconcile.Run) error {
	m.observeRun(run)
	return nil
}

// OnReconciliationDivergence implements plugin.OnReconciliationDivergence.
func (m *MetricsExtension) OnReconciliationDivergence(_ context.Context, run *reconcile.Run) error {
	m.observeRun(run)
	m.ReconcileDivergences.Add(float64(len(run.Divergences)))
	return nil
}

func (m *MetricsExtension) observeRun(run *reconcile.Run) {
	m.ReconcileRuns.Inc()
	m.ReconcileLatency.Observe(float64(run.Duration().Milliseconds()))
	for _, c := range run.Checks {
		if c.Status == reconcile.CheckSkipped {
			m.ReconcileSkipped.Inc()
		}
	}
}

// usd converts micro-USD to dollars for histogram observations.
func usd(micro int64) float64 { return float64(micro) / 1_000_000 }
