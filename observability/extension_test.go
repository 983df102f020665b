package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/transfer"
)

func counterValue(t *testing.T, c Counter) float64 {
	t.Helper()
	pc, ok := c.(prometheus.Counter)
	if !ok {
		t.Fatalf("counter is %T, want prometheus.Counter", c)
	}
	return testutil.ToFloat64(pc)
}

func TestMetricsExtensionCountsEvents(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetricsExtension(NewPrometheusFactory(reg))

	_ = m.OnLotMinted(ctx, &lot.Lot{Original: 1_000_000})
	_ = m.OnLotMinted(ctx, &lot.Lot{Original: 500_000})
	_ = m.OnReserved(ctx, &reservation.Reservation{Total: 400_000})
	_ = m.OnFinalized(ctx, &reservation.Finalization{Settled: 250_000, Released: 150_000, Outcome: reservation.OutcomeSettled})
	_ = m.OnFinalized(ctx, &reservation.Finalization{Settled: 100, Outcome: reservation.OutcomeClamped})
	_ = m.OnTransferred(ctx, &transfer.Transfer{Amount: 10})
	_ = m.OnBudgetWarning(ctx, budget.Status{})
	_ = m.OnBudgetExhausted(ctx, budget.Status{})

	started := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	run := &reconcile.Run{
		StartedAt:   started,
		FinishedAt:  started.Add(40 * time.Millisecond),
		Checks:      []reconcile.CheckResult{{Status: reconcile.CheckPassed}, {Status: reconcile.CheckSkipped}},
		Divergences: []string{"a", "b"},
	}
	_ = m.OnReconciliationDivergence(ctx, run)

	tests := []struct {
		name    string
		counter Counter
		want    float64
	}{
		{"LotsMinted", m.LotsMinted, 2},
		{"Reservations", m.Reservations, 1},
		{"Finalizations", m.Finalizations, 2},
		{"FinalizationsClamped", m.FinalizationsClamped, 1},
		{"Transfers", m.Transfers, 1},
		{"DepositsBridged", m.DepositsBridged, 0},
		{"BudgetWarnings", m.BudgetWarnings, 1},
		{"BudgetExhausted", m.BudgetExhausted, 1},
		{"ReconcileRuns", m.ReconcileRuns, 1},
		{"ReconcileDivergences", m.ReconcileDivergences, 2},
		{"ReconcileSkipped", m.ReconcileSkipped, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counterValue(t, tt.counter); got != tt.want {
				t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(reg, "credits_lot_minted_amount_usd"); n != 1 {
		t.Errorf("minted amount histogram: got %d series, want 1", n)
	}
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPrometheusFactory(reg)
	b := NewPrometheusFactory(reg)

	a.Counter("credits.lot.minted").Inc()
	b.Counter("credits.lot.minted").Inc()
	if a.Counter("credits.lot.minted") != a.Counter("credits.lot.minted") {
		t.Error("expected the same counter for the same name")
	}

	if got := counterValue(t, a.Counter("credits.lot.minted")); got != 2 {
		t.Errorf("shared counter: got %v, want 2", got)
	}
	if n := testutil.CollectAndCount(reg, "credits_lot_minted_total"); n != 1 {
		t.Errorf("registered series: got %d, want 1", n)
	}
}
