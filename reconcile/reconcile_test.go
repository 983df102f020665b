package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/transfer"
	"github.com/xraph/credits/types"
)

type fakeReader struct {
	lotTotals       []LotTotals
	lotErr          error
	receivables     *ReceivableTotals
	receivableErr   error
	limits          []*budget.SpendingLimit
	settled         map[id.AccountID]types.Micro
	orphans         []*transfer.Transfer
	transfersErr    error
	completed       types.Micro
	transferOut     types.Micro
	bridged         types.Micro
	depositsErr     error
	tbaLots         types.Micro
	panicOnBudgets  bool
	settledRequests int
}

func (f *fakeReader) LotTotalsByAccount(context.Context) ([]LotTotals, error) {
	return f.lotTotals, f.lotErr
}

func (f *fakeReader) ReceivableTotals(context.Context) (*ReceivableTotals, error) {
	if f.receivableErr != nil {
		return nil, f.receivableErr
	}
	if f.receivables == nil {
		return &ReceivableTotals{}, nil
	}
	return f.receivables, nil
}

func (f *fakeReader) ListSpendingLimits(context.Context) ([]*budget.SpendingLimit, error) {
	if f.panicOnBudgets {
		panic("boom")
	}
	return f.limits, nil
}

func (f *fakeReader) SumSettled(_ context.Context, accountID id.AccountID, _, _ time.Time) (types.Micro, error) {
	f.settledRequests++
	return f.settled[accountID], nil
}

func (f *fakeReader) OrphanTransfers(context.Context) ([]*transfer.Transfer, error) {
	return f.orphans, f.transfersErr
}

func (f *fakeReader) SumCompletedTransfers(context.Context) (types.Micro, error) {
	return f.completed, f.transfersErr
}

func (f *fakeReader) SumEntryMagnitudes(_ context.Context, t journal.EntryType) (types.Micro, error) {
	if t != journal.EntryTransferOut {
		return 0, nil
	}
	return f.transferOut, nil
}

func (f *fakeReader) SumBridgedDeposits(context.Context) (types.Micro, error) {
	return f.bridged, f.depositsErr
}

func (f *fakeReader) SumLotOriginals(_ context.Context, source lot.SourceType) (types.Micro, error) {
	if source != lot.SourceTBADeposit {
		return 0, nil
	}
	return f.tbaLots, nil
}

type memRuns struct {
	mu   sync.Mutex
	runs []*Run
	err  error
}

func (m *memRuns) SaveRun(_ context.Context, run *Run) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRuns) ListRuns(_ context.Context, limit int) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Run, 0, limit)
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

type recordingEmitter struct {
	completed  int
	divergence int
}

func (e *recordingEmitter) EmitReconciliationCompleted(context.Context, *Run)  { e.completed++ }
func (e *recordingEmitter) EmitReconciliationDivergence(context.Context, *Run) { e.divergence++ }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func checkStatus(t *testing.T, run *Run, name string, want CheckStatus) {
	t.Helper()
	c, ok := run.Check(name)
	if !ok {
		t.Fatalf("check %s missing from run", name)
	}
	if c.Status != want {
		t.Errorf("%s: got %s, want %s (details: %s)", name, c.Status, want, c.Details)
	}
}

func TestReconcileEmptyStore(t *testing.T) {
	runs := &memRuns{}
	em := &recordingEmitter{}
	rec := New(&fakeReader{}, runs, WithEmitter(em), WithLogger(quietLogger()))

	run := rec.Reconcile(context.Background())

	if run.Status != StatusPassed {
		t.Errorf("status: got %s, want passed (divergences: %v)", run.Status, run.Divergences)
	}
	if len(run.Checks) != 6 {
		t.Fatalf("checks: got %d, want 6", len(run.Checks))
	}
	for _, c := range run.Checks {
		if c.Status != CheckPassed {
			t.Errorf("%s: got %s, want passed", c.Name, c.Status)
		}
	}
	if len(runs.runs) != 1 {
		t.Errorf("persisted runs: got %d, want 1", len(runs.runs))
	}
	if em.completed != 1 || em.divergence != 0 {
		t.Errorf("events: got completed=%d divergence=%d", em.completed, em.divergence)
	}
}

func TestReconcileDetectsInflatedLots(t *testing.T) {
	acct := id.NewAccountID()
	reader := &fakeReader{
		lotTotals: []LotTotals{{AccountID: acct, Original: 1_000_000, Accounted: 1_400_000}},
	}
	em := &recordingEmitter{}
	run := New(reader, nil, WithEmitter(em), WithLogger(quietLogger())).Reconcile(context.Background())

	if run.Status != StatusDivergenceDetected {
		t.Fatalf("status: got %s, want divergence_detected", run.Status)
	}
	checkStatus(t, run, CheckLotConservation, CheckFailed)
	checkStatus(t, run, CheckPlatformConservation, CheckFailed)
	checkStatus(t, run, CheckBudgetConsistency, CheckPassed)
	if len(run.Divergences) != 2 {
		t.Errorf("divergences: got %d, want 2: %v", len(run.Divergences), run.Divergences)
	}
	if !strings.Contains(run.Divergences[0], acct.String()) {
		t.Errorf("divergence should name the account: %q", run.Divergences[0])
	}
	if em.divergence != 1 {
		t.Errorf("divergence events: got %d, want 1", em.divergence)
	}
}

func TestReconcileMissingOptionalTables(t *testing.T) {
	reader := &fakeReader{
		lotTotals:     []LotTotals{{AccountID: id.NewAccountID(), Original: 500, Accounted: 500}},
		receivableErr: ErrTableMissing,
		transfersErr:  ErrTableMissing,
		depositsErr:   ErrTableMissing,
	}
	run := New(reader, nil, WithLogger(quietLogger())).Reconcile(context.Background())

	if run.Status != StatusPassed {
		t.Errorf("status: got %s, want passed", run.Status)
	}
	checkStatus(t, run, CheckLotConservation, CheckPassed)
	checkStatus(t, run, CheckReceivableBalance, CheckSkipped)
	checkStatus(t, run, CheckPlatformConservation, CheckPassed)
	checkStatus(t, run, CheckTransferConservation, CheckSkipped)
	checkStatus(t, run, CheckDepositBridge, CheckSkipped)
}

func TestReconcileIsolatesFailingChecks(t *testing.T) {
	reader := &fakeReader{
		lotErr:         errors.New("connection reset"),
		panicOnBudgets: true,
		bridged:        300,
		tbaLots:        200,
	}
	run := New(reader, nil, WithLogger(quietLogger())).Reconcile(context.Background())

	checkStatus(t, run, CheckLotConservation, CheckSkipped)
	checkStatus(t, run, CheckPlatformConservation, CheckSkipped)
	checkStatus(t, run, CheckBudgetConsistency, CheckSkipped)
	checkStatus(t, run, CheckReceivableBalance, CheckPassed)
	checkStatus(t, run, CheckDepositBridge, CheckFailed)

	c, _ := run.Check(CheckBudgetConsistency)
	if !strings.Contains(c.Details, "panic") {
		t.Errorf("panic should be reported in details, got %q", c.Details)
	}
	if run.Status != StatusDivergenceDetected || len(run.Divergences) != 1 {
		t.Errorf("got status=%s divergences=%v", run.Status, run.Divergences)
	}
}

func TestReconcileBudgetConsistency(t *testing.T) {
	ok := id.NewAccountID()
	stale := id.NewAccountID()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reader := &fakeReader{
		limits: []*budget.SpendingLimit{
			{AccountID: ok, DailyCap: 1_000_000, CurrentSpend: 400_000, WindowStart: start, Window: 24 * time.Hour},
			{AccountID: stale, DailyCap: 1_000_000, CurrentSpend: 100_000, WindowStart: start, Window: 24 * time.Hour},
		},
		settled: map[id.AccountID]types.Micro{ok: 400_000, stale: 100_001},
	}
	run := New(reader, nil, WithLogger(quietLogger())).Reconcile(context.Background())

	checkStatus(t, run, CheckBudgetConsistency, CheckFailed)
	if len(run.Divergences) != 1 || !strings.Contains(run.Divergences[0], stale.String()) {
		t.Errorf("expected one divergence naming %s, got %v", stale, run.Divergences)
	}
	if reader.settledRequests != 2 {
		t.Errorf("SumSettled calls: got %d, want 2", reader.settledRequests)
	}
}

func TestReconcileTransferConservation(t *testing.T) {
	orphan := &transfer.Transfer{ID: id.NewTransferID(), Amount: 500_000, Status: transfer.StatusCompleted}
	tests := []struct {
		name        string
		reader      *fakeReader
		status      CheckStatus
		divergences int
	}{
		{"balanced", &fakeReader{completed: 500_000, transferOut: 500_000}, CheckPassed, 0},
		{"orphan", &fakeReader{completed: 500_000, transferOut: 500_000, orphans: []*transfer.Transfer{orphan}}, CheckFailed, 1},
		{"sum mismatch", &fakeReader{completed: 500_000, transferOut: 400_000}, CheckFailed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := New(tt.reader, nil, WithLogger(quietLogger())).Reconcile(context.Background())
			checkStatus(t, run, CheckTransferConservation, tt.status)
			if len(run.Divergences) != tt.divergences {
				t.Errorf("divergences: got %d, want %d: %v", len(run.Divergences), tt.divergences, run.Divergences)
			}
		})
	}
}

func TestReconcileReceivablesCountTowardPlatform(t *testing.T) {
	reader := &fakeReader{
		lotTotals:   []LotTotals{{AccountID: id.NewAccountID(), Original: 1_000, Accounted: 900}},
		receivables: &ReceivableTotals{Count: 1, Original: 200, Outstanding: 200},
	}
	run := New(reader, nil, WithLogger(quietLogger())).Reconcile(context.Background())

	checkStatus(t, run, CheckLotConservation, CheckPassed)
	checkStatus(t, run, CheckReceivableBalance, CheckPassed)
	checkStatus(t, run, CheckPlatformConservation, CheckFailed)
}

func TestReconcilePersistFailureStillReturnsRun(t *testing.T) {
	runs := &memRuns{err: errors.New("disk full")}
	run := New(&fakeReader{}, runs, WithLogger(quietLogger())).Reconcile(context.Background())
	if run == nil || run.Status != StatusPassed {
		t.Fatalf("expected a passed run, got %+v", run)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	runs := &memRuns{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := New(&fakeReader{}, runs, WithLogger(quietLogger()), WithClock(func() time.Time {
		now = now.Add(time.Minute)
		return now
	}))

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, rec.Reconcile(context.Background()).ID.String())
	}

	got, err := rec.History(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("history: got %d runs, want 2", len(got))
	}
	if got[0].ID.String() != ids[2] || got[1].ID.String() != ids[1] {
		t.Errorf("history order: got %s,%s want %s,%s", got[0].ID, got[1].ID, ids[2], ids[1])
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	rec := New(&fakeReader{}, nil, WithLogger(quietLogger()))
	if _, err := NewScheduler(rec, "not a schedule", 0, quietLogger()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}

	s, err := NewScheduler(rec, "@every 1h", time.Minute, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
