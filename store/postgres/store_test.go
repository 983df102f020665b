package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/grovetest"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/credits"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/sqlstore"
)

func newMock(t *testing.T, opts ...sqlstore.Option) (*Store, *grovetest.MockDriver) {
	t.Helper()
	md := grovetest.NewMockDriver()
	db, err := grove.Open(md)
	if err != nil {
		t.Fatalf("grove open: %v", err)
	}
	return New(db, opts...), md
}

func queriesLike(md *grovetest.MockDriver, substr string) []grovetest.RecordedQuery {
	var out []grovetest.RecordedQuery
	for _, q := range md.Queries() {
		if strings.Contains(q.Query, substr) {
			out = append(out, q)
		}
	}
	return out
}

type rowsAffected int64

func (n rowsAffected) RowsAffected() (int64, error) { return int64(n), nil }
func (n rowsAffected) LastInsertId() (int64, error) { return 0, nil }

type boolRow bool

func (b boolRow) Scan(dest ...any) error {
	*dest[0].(*bool) = bool(b)
	return nil
}

func TestAdvisoryKeys(t *testing.T) {
	acct := id.NewAccountID()
	a := store.PoolKey(acct, "general")
	b := store.AccountKey(acct)
	c := store.PoolKey(id.NewAccountID(), "general")

	got := advisoryKeys([]store.LockKey{c, a, b, a})
	if len(got) != 3 {
		t.Fatalf("keys: got %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if prev.hi > cur.hi || (prev.hi == cur.hi && prev.lo >= cur.lo) {
			t.Errorf("order at %d: got (%d,%d) before (%d,%d)", i, prev.hi, prev.lo, cur.hi, cur.lo)
		}
	}

	// The pair depends only on the key, so every caller locks it the
	// same way.
	if advisoryKeyFor(a) != advisoryKeyFor(store.PoolKey(acct, "general")) {
		t.Error("advisory key is not stable for equal lock keys")
	}
}

func TestRunInTxTakesAdvisoryLocksInPairOrder(t *testing.T) {
	s, md := newMock(t)
	a := store.PoolKey(id.NewAccountID(), "general")
	b := store.AccountKey(id.NewAccountID())

	err := s.RunInTx(context.Background(), []store.LockKey{b, a, b}, func(context.Context, store.Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	locks := queriesLike(md, "pg_advisory_xact_lock($1, $2)")
	want := advisoryKeys([]store.LockKey{a, b})
	if len(locks) != len(want) {
		t.Fatalf("lock statements: got %d, want %d", len(locks), len(want))
	}
	for i, q := range locks {
		if q.Args[0] != want[i].hi || q.Args[1] != want[i].lo {
			t.Errorf("lock %d: got args %v, want (%d, %d)", i, q.Args, want[i].hi, want[i].lo)
		}
	}
}

func TestRunInTxLockFailureSkipsFn(t *testing.T) {
	s, md := newMock(t)
	boom := errors.New("lock timeout")
	md.ExecFunc = func(context.Context, string, ...any) (driver.Result, error) { return nil, boom }

	called := false
	err := s.RunInTx(context.Background(), []store.LockKey{store.AccountKey(id.NewAccountID())},
		func(context.Context, store.Tx) error { called = true; return nil })
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx: got %v, want lock error", err)
	}
	if called {
		t.Error("fn ran without its lock")
	}
}

func TestRunInTxReturnsFnError(t *testing.T) {
	s, _ := newMock(t)
	boom := errors.New("boom")

	err := s.RunInTx(context.Background(), []store.LockKey{store.AccountKey(id.NewAccountID())},
		func(context.Context, store.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx: got %v, want boom", err)
	}
}

func TestFinalizationConflictIsDuplicate(t *testing.T) {
	s, md := newMock(t)
	md.ExecFunc = func(context.Context, string, ...any) (driver.Result, error) { return rowsAffected(0), nil }
	f := &reservation.Finalization{
		ID:            id.NewFinalizationID(),
		AccountID:     id.NewAccountID(),
		PoolID:        lot.DefaultPool,
		ReservationID: id.NewReservationID(),
		Requested:     10,
		Settled:       10,
		Outcome:       reservation.OutcomeSettled,
	}

	err := s.RunInTx(context.Background(), nil, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertFinalization(ctx, f)
	})
	if !errors.Is(err, credits.ErrDuplicate) {
		t.Fatalf("InsertFinalization: got %v, want ErrDuplicate", err)
	}

	inserts := queriesLike(md, "INSERT INTO agent_budget_finalizations")
	if len(inserts) != 1 {
		t.Fatalf("inserts: got %d, want 1", len(inserts))
	}
	if !strings.Contains(inserts[0].Query, "VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)") {
		t.Errorf("placeholders were not rebound: %s", inserts[0].Query)
	}
	if len(inserts[0].Args) != 10 {
		t.Errorf("args: got %d, want 10", len(inserts[0].Args))
	}
}

func TestUniqueViolationMapsToDuplicate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"flattened unique", errors.New(`duplicate key value violates unique constraint (SQLSTATE 23505)`), true},
		{"foreign key", &pgconn.PgError{Code: "23503"}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Dialect{}).IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("IsUniqueViolation: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMissingOptionalTable(t *testing.T) {
	s, md := newMock(t)
	md.QueryRowFunc = func(context.Context, string, ...any) driver.Row { return boolRow(false) }

	_, err := s.SumBridgedDeposits(context.Background())
	if !errors.Is(err, reconcile.ErrTableMissing) {
		t.Fatalf("SumBridgedDeposits: got %v, want ErrTableMissing", err)
	}
	checks := queriesLike(md, "to_regclass($1)")
	if len(checks) != 1 || checks[0].Args[0] != store.TableDeposits {
		t.Errorf("table check: got %+v", checks)
	}
}

// recordingExecutor is a migrate.Executor that records statements and
// keeps applied migrations in memory.
type recordingExecutor struct {
	mu       sync.Mutex
	stmts    []string
	applied  []*migrate.AppliedMigration
	locked   int
	released int
}

func (e *recordingExecutor) Exec(_ context.Context, query string, _ ...any) (driver.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stmts = append(e.stmts, query)
	return rowsAffected(0), nil
}

func (e *recordingExecutor) Query(context.Context, string, ...any) (driver.Rows, error) {
	return &grovetest.MockRows{}, nil
}

func (e *recordingExecutor) EnsureMigrationTable(context.Context) error { return nil }
func (e *recordingExecutor) EnsureLockTable(context.Context) error      { return nil }

func (e *recordingExecutor) AcquireLock(context.Context, string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locked++
	return nil
}

func (e *recordingExecutor) ReleaseLock(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released++
	return nil
}

func (e *recordingExecutor) ListApplied(context.Context) ([]*migrate.AppliedMigration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*migrate.AppliedMigration(nil), e.applied...), nil
}

func (e *recordingExecutor) RecordApplied(_ context.Context, m *migrate.Migration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, &migrate.AppliedMigration{Version: m.Version, Name: m.Name, Group: m.Group})
	return nil
}

func (e *recordingExecutor) RemoveApplied(context.Context, *migrate.Migration) error { return nil }

func (e *recordingExecutor) ran(substr string) bool {
	for _, s := range e.stmts {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestMigrateRunsGroupsUnderLock(t *testing.T) {
	exec := &recordingExecutor{}
	migrate.RegisterExecutor("mock", func(any) migrate.Executor { return exec })

	s, _ := newMock(t, sqlstore.WithoutTables(store.TableDeposits))
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if exec.locked != 1 || exec.released != 1 {
		t.Errorf("lock: got %d acquired and %d released, want 1 and 1", exec.locked, exec.released)
	}
	if len(exec.applied) != 5 {
		t.Errorf("applied: got %d, want 5", len(exec.applied))
	}
	tests := []struct {
		table string
		want  bool
	}{
		{"credit_ledger (", true},
		{"agent_spending_limits (", true},
		{"transfers (", true},
		{"credit_receivables (", true},
		{"tba_deposits (", false},
	}
	for _, tt := range tests {
		if got := exec.ran("CREATE TABLE IF NOT EXISTS " + tt.table); got != tt.want {
			t.Errorf("create %s: got %v, want %v", tt.table, got, tt.want)
		}
	}

	stmts := len(exec.stmts)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(exec.stmts) != stmts {
		t.Errorf("second migrate ran %d statements, want 0", len(exec.stmts)-stmts)
	}
}

func TestIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	acct := id.NewAccountID()
	err = s.RunInTx(ctx, []store.LockKey{store.PoolKey(acct, lot.DefaultPool), store.AccountKey(acct)},
		func(ctx context.Context, tx store.Tx) error {
			seq, err := tx.NextEntrySeq(ctx, acct, lot.DefaultPool)
			if err != nil {
				return err
			}
			if seq != 1 {
				t.Errorf("next seq for new account: got %d, want 1", seq)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	run := reconcile.New(s, s).Reconcile(ctx)
	if len(run.Checks) != 6 {
		t.Errorf("checks: got %d, want 6", len(run.Checks))
	}
}
