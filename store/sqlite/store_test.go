package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/receivable"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/sqlite"
	"github.com/xraph/credits/store/sqlstore"
	"github.com/xraph/credits/transfer"
	"github.com/xraph/credits/types"
)

func openStore(t *testing.T, opts ...sqlstore.Option) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:", opts...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

// conn is the raw driver behind the store, for statements the Store
// interface does not offer.
func conn(s *sqlite.Store) driver.Driver {
	return s.DB().Driver().(driver.Driver)
}

func rawExec(t *testing.T, s *sqlite.Store, query string, args ...any) {
	t.Helper()
	if _, err := conn(s).Exec(context.Background(), query, args...); err != nil {
		t.Fatal(err)
	}
}

func seedLot(t *testing.T, s *sqlite.Store, acct id.AccountID, amount types.Micro, created time.Time) *lot.Lot {
	t.Helper()
	l := &lot.Lot{
		ID:         id.NewLotID(),
		AccountID:  acct,
		PoolID:     lot.DefaultPool,
		SourceType: lot.SourceDeposit,
		Original:   amount,
		Available:  amount,
		CreatedAt:  created,
	}
	err := s.RunInTx(context.Background(), []store.LockKey{store.PoolKey(acct, lot.DefaultPool)},
		func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.EnsureAccount(ctx, &account.Account{
				Entity: types.NewEntityAt(created), ID: acct, EntityType: account.EntityUser,
			}); err != nil {
				return err
			}
			return tx.InsertLot(ctx, l)
		})
	if err != nil {
		t.Fatalf("seed lot: %v", err)
	}
	return l
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	executor, err := migrate.NewExecutorFor(s.DB().Driver())
	if err != nil {
		t.Fatal(err)
	}
	groups, err := migrate.NewOrchestrator(executor, sqlite.Schema.Groups(nil)...).Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var applied, pending int
	for _, g := range groups {
		applied += len(g.Applied)
		pending += len(g.Pending)
	}
	if applied != 6 || pending != 0 {
		t.Errorf("migrations: got %d applied and %d pending, want 6 and 0", applied, pending)
	}
}

func TestMigrateWithoutOptionalTables(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, sqlstore.WithoutTables(store.TableReceivables, store.TableDeposits))

	tests := []struct {
		table string
		want  bool
	}{
		{store.TableLots, true},
		{store.TableTransfers, true},
		{store.TableReceivables, false},
		{store.TableDeposits, false},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			got, err := sqlite.Dialect{}.TableExists(ctx, conn(s), tt.table)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("exists: got %v, want %v", got, tt.want)
			}
		})
	}

	err := s.InsertReceivable(ctx, &receivable.Receivable{ID: id.NewReceivableID(), AccountID: id.NewAccountID(), Original: 10, Balance: 10, CreatedAt: time.Now()})
	if !errors.Is(err, reconcile.ErrTableMissing) {
		t.Errorf("InsertReceivable: got %v, want ErrTableMissing", err)
	}
}

func TestLotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	acct := id.NewAccountID()
	created := time.Date(2026, 5, 1, 12, 0, 0, 123, time.UTC)
	l := seedLot(t, s, acct, 2_500_000, created)

	got, err := s.GetLot(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != l.ID.String() || got.AccountID.String() != acct.String() {
		t.Errorf("ids: got %s/%s", got.ID, got.AccountID)
	}
	if got.Original != 2_500_000 || got.Available != 2_500_000 {
		t.Errorf("balances: got original=%d available=%d", got.Original, got.Available)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at: got %v, want %v", got.CreatedAt, created)
	}
	if got.ExpiresAt != nil {
		t.Errorf("expires_at: got %v, want nil", got.ExpiresAt)
	}

	acc, err := s.GetAccount(ctx, acct)
	if err != nil {
		t.Fatal(err)
	}
	if acc.EntityType != account.EntityUser {
		t.Errorf("entity type: got %s", acc.EntityType)
	}

	if _, err := s.GetLot(ctx, id.NewLotID()); !credits.IsNotFound(err) {
		t.Errorf("unknown lot: got %v, want not found", err)
	}
}

func TestEntryUniqueness(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	acct := id.NewAccountID()

	insert := func(seq int64, key string) error {
		return s.RunInTx(ctx, nil, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertEntry(ctx, &journal.Entry{
				ID: id.NewEntryID(), AccountID: acct, PoolID: lot.DefaultPool, Seq: seq,
				Type: journal.EntryDeposit, Amount: 10, IdempotencyKey: key, PostBalance: 10,
				CreatedAt: time.Now(),
			})
		})
	}

	tests := []struct {
		name string
		seq  int64
		key  string
		want error
	}{
		{"first", 1, "mint:a", nil},
		{"same key", 2, "mint:a", credits.ErrDuplicate},
		{"same seq", 1, "mint:b", credits.ErrDuplicate},
		{"null keys never collide", 2, "", nil},
		{"second null key", 3, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := insert(tt.seq, tt.key); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	err := s.RunInTx(ctx, nil, func(ctx context.Context, tx store.Tx) error {
		seq, err := tx.NextEntrySeq(ctx, acct, lot.DefaultPool)
		if err != nil {
			return err
		}
		if seq != 4 {
			t.Errorf("next seq: got %d, want 4", seq)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRunInTxRollback(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	acct := id.NewAccountID()
	l := seedLot(t, s, acct, 100, time.Now())
	boom := errors.New("boom")

	err := s.RunInTx(ctx, []store.LockKey{store.PoolKey(acct, lot.DefaultPool)}, func(ctx context.Context, tx store.Tx) error {
		l.Available, l.Reserved = 40, 60
		if err := tx.UpdateLotBalances(ctx, l); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx: got %v, want boom", err)
	}

	got, err := s.GetLot(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Available != 100 || got.Reserved != 0 {
		t.Errorf("rolled back lot: got available=%d reserved=%d", got.Available, got.Reserved)
	}
}

func TestReservationAndFinalization(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	acct := id.NewAccountID()
	l1 := seedLot(t, s, acct, 100, time.Now().Add(-time.Hour))
	l2 := seedLot(t, s, acct, 100, time.Now())

	r := &reservation.Reservation{
		ID: id.NewReservationID(), AccountID: acct, PoolID: lot.DefaultPool, RequestID: "req-1",
		Total: 150, BillingMode: reservation.BillingMetered, CreatedAt: time.Now(),
		Allocations: []lot.Draw{{LotID: l1.ID, Amount: 100}, {LotID: l2.ID, Amount: 50}},
	}
	f := &reservation.Finalization{
		ID: id.NewFinalizationID(), AccountID: acct, PoolID: lot.DefaultPool, ReservationID: r.ID,
		Requested: 120, Settled: 120, Released: 30, Outcome: reservation.OutcomeSettled, FinalizedAt: time.Now(),
	}

	err := s.RunInTx(ctx, nil, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		dup := *r
		dup.ID = id.NewReservationID()
		if err := tx.InsertReservation(ctx, &dup); !errors.Is(err, credits.ErrDuplicate) {
			t.Errorf("duplicate request: got %v, want ErrDuplicate", err)
		}
		if err := tx.InsertFinalization(ctx, f); err != nil {
			return err
		}
		again := *f
		again.ID = id.NewFinalizationID()
		if err := tx.InsertFinalization(ctx, &again); !errors.Is(err, credits.ErrDuplicate) {
			t.Errorf("duplicate finalization: got %v, want ErrDuplicate", err)
		}
		if err := tx.MarkReservationFinalized(ctx, r.ID, f.FinalizedAt); err != nil {
			return err
		}
		if err := tx.MarkReservationFinalized(ctx, r.ID, f.FinalizedAt); !errors.Is(err, credits.ErrDuplicate) {
			t.Errorf("second mark: got %v, want ErrDuplicate", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetReservation(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Open() {
		t.Error("reservation should be finalized")
	}
	if len(got.Allocations) != 2 || got.Allocations[0].LotID.String() != l1.ID.String() || got.Allocations[1].Amount != 50 {
		t.Errorf("allocations: got %+v", got.Allocations)
	}

	fin, err := s.GetFinalization(ctx, acct, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fin.Settled != 120 || fin.Outcome != reservation.OutcomeSettled {
		t.Errorf("finalization: got settled=%d outcome=%s", fin.Settled, fin.Outcome)
	}

	sum, err := s.SumSettled(ctx, acct, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sum != 120 {
		t.Errorf("SumSettled: got %d, want 120", sum)
	}
}

func TestSpendingLimitUpsert(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	acct := id.NewAccountID()
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, spend := range []types.Micro{100, 250} {
		l := &budget.SpendingLimit{
			AccountID: acct, DailyCap: 1_000, CurrentSpend: spend, WindowStart: start,
			Window: 24 * time.Hour, CircuitState: budget.CircuitClosed, UpdatedAt: start,
		}
		if err := s.RunInTx(ctx, nil, func(ctx context.Context, tx store.Tx) error {
			return tx.UpsertSpendingLimit(ctx, l)
		}); err != nil {
			t.Fatal(err)
		}
	}

	limits, err := s.ListSpendingLimits(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(limits) != 1 {
		t.Fatalf("limits: got %d, want 1", len(limits))
	}
	if limits[0].CurrentSpend != 250 || limits[0].Window != 24*time.Hour {
		t.Errorf("limit: got spend=%d window=%v", limits[0].CurrentSpend, limits[0].Window)
	}
}

func TestReconcileDetectsRawCorruption(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	acct := id.NewAccountID()
	l := seedLot(t, s, acct, 1_000_000, time.Now())

	rec := reconcile.New(s, s)
	if run := rec.Reconcile(ctx); run.Status != reconcile.StatusPassed {
		t.Fatalf("clean store: got %s (%v)", run.Status, run.Divergences)
	}

	rawExec(t, s, `UPDATE credit_lots SET available_micro = 1400000 WHERE id = ?`, l.ID.String())

	run := rec.Reconcile(ctx)
	if run.Status != reconcile.StatusDivergenceDetected {
		t.Fatalf("corrupted store: got %s", run.Status)
	}
	if c, _ := run.Check(reconcile.CheckLotConservation); c.Status != reconcile.CheckFailed {
		t.Errorf("lot conservation: got %s", c.Status)
	}

	history, err := rec.History(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].ID.String() != run.ID.String() {
		t.Errorf("history: got %d runs, newest %v", len(history), history)
	}
	if len(history[0].Checks) != 6 {
		t.Errorf("persisted checks: got %d, want 6", len(history[0].Checks))
	}
}

func TestReconcileSkipsDroppedTables(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	for _, table := range store.OptionalTables {
		rawExec(t, s, `DROP TABLE `+table)
	}

	if _, err := s.SumBridgedDeposits(ctx); !errors.Is(err, reconcile.ErrTableMissing) {
		t.Errorf("SumBridgedDeposits: got %v, want ErrTableMissing", err)
	}

	run := reconcile.New(s, s).Reconcile(ctx)
	if run.Status != reconcile.StatusPassed {
		t.Errorf("status: got %s", run.Status)
	}
	for _, name := range []string{reconcile.CheckReceivableBalance, reconcile.CheckTransferConservation, reconcile.CheckDepositBridge} {
		if c, _ := run.Check(name); c.Status != reconcile.CheckSkipped {
			t.Errorf("%s: got %s, want skipped", name, c.Status)
		}
	}
	if c, _ := run.Check(reconcile.CheckLotConservation); c.Status != reconcile.CheckPassed {
		t.Errorf("lot conservation: got %s, want passed", c.Status)
	}
}

func TestOrphanTransfer(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	tr := &transfer.Transfer{
		ID: id.NewTransferID(), FromAccountID: id.NewAccountID(), ToAccountID: id.NewAccountID(),
		PoolID: lot.DefaultPool, Amount: 500, Status: transfer.StatusCompleted,
		IdempotencyKey: "xfer-1", CreatedAt: time.Now(),
	}
	if err := s.RunInTx(ctx, nil, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTransfer(ctx, tr)
	}); err != nil {
		t.Fatal(err)
	}

	orphans, err := s.OrphanTransfers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(orphans) != 1 || orphans[0].ID.String() != tr.ID.String() {
		t.Errorf("orphans: got %v", orphans)
	}

	err = s.RunInTx(ctx, nil, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTransfer(ctx, tr)
	})
	if !errors.Is(err, credits.ErrDuplicate) {
		t.Errorf("duplicate transfer: got %v, want ErrDuplicate", err)
	}
}
