package mongosink_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/eventsink/mongosink"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/types"
)

func sampleRun(status reconcile.Status) *reconcile.Run {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &reconcile.Run{
		ID:         id.NewRunID(),
		StartedAt:  start,
		FinishedAt: start.Add(40 * time.Millisecond),
		Status:     status,
		Checks: []reconcile.CheckResult{
			{Name: reconcile.CheckLotConservation, Status: reconcile.CheckFailed, Details: "1 lot off"},
			{Name: reconcile.CheckTransferConservation, Status: reconcile.CheckSkipped},
		},
		Divergences: []string{"lot_conservation: 1 lot off"},
	}
}

func sampleStatus(state budget.CircuitState) budget.Status {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return budget.Status{
		AccountID:   id.NewAccountID(),
		Limited:     true,
		State:       state,
		DailyCap:    types.Micro(1_000_000),
		Spent:       types.Micro(850_000),
		Headroom:    types.Micro(150_000),
		WindowStart: start,
		WindowEnd:   start.Add(24 * time.Hour),
	}
}

func TestRunEvent(t *testing.T) {
	run := sampleRun(reconcile.StatusDivergenceDetected)
	e := mongosink.RunEvent(mongosink.TypeReconciliationDivergence, run)

	if want := "ReconciliationDivergence:" + run.ID.String(); e.EventID != want {
		t.Errorf("event id: got %q, want %q", e.EventID, want)
	}
	if e.ResourceID != run.ID.String() {
		t.Errorf("resource id: got %q, want %q", e.ResourceID, run.ID.String())
	}
	if !e.OccurredAt.Equal(run.FinishedAt) {
		t.Errorf("occurred at: got %v, want %v", e.OccurredAt, run.FinishedAt)
	}
	if got := e.Payload["status"]; got != "divergence_detected" {
		t.Errorf("status: got %v, want divergence_detected", got)
	}
	if e.AccountID != "" {
		t.Errorf("account id: got %q, want empty", e.AccountID)
	}

	again := mongosink.RunEvent(mongosink.TypeReconciliationDivergence, run)
	if again.EventID != e.EventID {
		t.Errorf("redelivery id: got %q, want %q", again.EventID, e.EventID)
	}
}

func TestBudgetEvent(t *testing.T) {
	st := sampleStatus(budget.CircuitWarning)
	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)

	e := mongosink.BudgetEvent(mongosink.TypeAgentBudgetWarning, st, now)
	if !strings.HasPrefix(e.EventID, "AgentBudgetWarning:"+st.AccountID.String()+":") {
		t.Errorf("event id: got %q", e.EventID)
	}
	if e.AccountID != st.AccountID.String() {
		t.Errorf("account id: got %q, want %q", e.AccountID, st.AccountID.String())
	}

	tests := []struct {
		key  string
		want any
	}{
		{"circuit_state", "warning"},
		{"daily_cap_micro", int64(1_000_000)},
		{"spent_micro", int64(850_000)},
		{"headroom_micro", int64(150_000)},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := e.Payload[tt.key]; got != tt.want {
				t.Errorf("%s: got %v, want %v", tt.key, got, tt.want)
			}
		})
	}

	later := mongosink.BudgetEvent(mongosink.TypeAgentBudgetWarning, st, now.Add(time.Hour))
	if later.EventID != e.EventID {
		t.Errorf("same window: got %q, want %q", later.EventID, e.EventID)
	}

	st.WindowStart = st.WindowStart.Add(24 * time.Hour)
	next := mongosink.BudgetEvent(mongosink.TypeAgentBudgetWarning, st, now.Add(24*time.Hour))
	if next.EventID == e.EventID {
		t.Error("next window reused the event id")
	}
}

func TestSinkAgainstMongo(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db := "credits_sink_test_" + strings.ToLower(id.NewRunID().String())
	sink, gdb, err := mongosink.Connect(ctx, uri, db)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() {
		_ = mongodriver.Unwrap(gdb).Database().Drop(ctx) //nolint:errcheck // best-effort test cleanup
		_ = gdb.Close()                                  //nolint:errcheck // best-effort test cleanup
	}()

	if err := sink.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st := sampleStatus(budget.CircuitOpen)
	for i := 0; i < 2; i++ {
		if err := sink.OnBudgetExhausted(ctx, st); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
	}
	if err := sink.OnReconciliationCompleted(ctx, sampleRun(reconcile.StatusPassed)); err != nil {
		t.Fatalf("deliver run: %v", err)
	}

	events, err := sink.List(ctx, mongosink.ListOpts{AccountID: st.AccountID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("account events: got %d, want 1", len(events))
	}
	if events[0].Type != mongosink.TypeAgentBudgetExhausted {
		t.Errorf("type: got %q, want %q", events[0].Type, mongosink.TypeAgentBudgetExhausted)
	}

	runs, err := sink.List(ctx, mongosink.ListOpts{Type: mongosink.TypeReconciliationCompleted, Limit: 10})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("run events: got %d, want 1", len(runs))
	}
}
