// Package memory provides an in-process Store. Transactions are serialized
// by a single store mutex and rolled back by restoring a snapshot, so it is
// suited to tests and single-node development rather than production.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/receivable"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transfer"
)

// Compile-time check.
var _ store.Store = (*Store)(nil)

// tables is the full mutable state. It is copied wholesale to snapshot a
// transaction.
type tables struct {
	accounts      map[string]account.Account
	lots          map[string]lot.Lot
	entries       []journal.Entry
	entryKeys     map[string]int
	entrySeqs     map[string]int64
	reservations  map[string]reservation.Reservation
	requests      map[string]string
	finalizations map[string]reservation.Finalization
	limits        map[string]budget.SpendingLimit
	transfers     map[string]transfer.Transfer
	transferKeys  map[string]string
	deposits      map[string]deposit.Deposit
	receivables   map[string]receivable.Receivable
	runs          []reconcile.Run
}

func newTables() tables {
	return tables{
		accounts:      make(map[string]account.Account),
		lots:          make(map[string]lot.Lot),
		entryKeys:     make(map[string]int),
		entrySeqs:     make(map[string]int64),
		reservations:  make(map[string]reservation.Reservation),
		requests:      make(map[string]string),
		finalizations: make(map[string]reservation.Finalization),
		limits:        make(map[string]budget.SpendingLimit),
		transfers:     make(map[string]transfer.Transfer),
		transferKeys:  make(map[string]string),
		deposits:      make(map[string]deposit.Deposit),
		receivables:   make(map[string]receivable.Receivable),
	}
}

// snapshot copies every map. Slices are append-only inside a transaction, so
// keeping their headers is enough to truncate back.
func (t *tables) snapshot() tables {
	return tables{
		accounts:      maps.Clone(t.accounts),
		lots:          maps.Clone(t.lots),
		entries:       t.entries,
		entryKeys:     maps.Clone(t.entryKeys),
		entrySeqs:     maps.Clone(t.entrySeqs),
		reservations:  maps.Clone(t.reservations),
		requests:      maps.Clone(t.requests),
		finalizations: maps.Clone(t.finalizations),
		limits:        maps.Clone(t.limits),
		transfers:     maps.Clone(t.transfers),
		transferKeys:  maps.Clone(t.transferKeys),
		deposits:      maps.Clone(t.deposits),
		receivables:   maps.Clone(t.receivables),
		runs:          t.runs,
	}
}

// Store is an in-memory credits store.
type Store struct {
	mu      sync.RWMutex
	t       tables
	missing map[string]bool
	closed  bool
}

// Option configures a memory Store.
type Option func(*Store)

// WithoutTables simulates a deployment where the named optional tables do
// not exist. Reads of them return reconcile.ErrTableMissing.
func WithoutTables(names ...string) Option {
	return func(s *Store) {
		for _, n := range names {
			s.missing[n] = true
		}
	}
}

// New creates an empty memory store.
func New(opts ...Option) *Store {
	s := &Store{
		t:       newTables(),
		missing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ==================== Core ====================

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return credits.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// RunInTx holds the store mutex for the whole of fn, which serializes every
// lock key at once. On any error, panic or cancellation the tables are
// restored to their state before fn ran.
func (s *Store) RunInTx(ctx context.Context, _ []store.LockKey, fn store.TxFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return credits.ErrStoreClosed
	}

	snap := s.t.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.t = snap
			panic(p)
		}
		if err != nil {
			s.t = snap
		}
	}()

	if err = fn(ctx, &tx{s: s}); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Store) table(name string) error {
	if s.missing[name] {
		return reconcile.ErrTableMissing
	}
	return nil
}

// ==================== Reads ====================

// GetAccount returns the account with the given ID.
func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t.getAccount(accountID)
}

// GetLot returns the lot with the given ID.
func (s *Store) GetLot(_ context.Context, lotID id.LotID) (*lot.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t.getLot(lotID)
}

// ListLots lists lots oldest first.
func (s *Store) ListLots(_ context.Context, opts lot.ListOpts) ([]*lot.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	result := make([]*lot.Lot, 0)
	for _, l := range s.t.sortedLots() {
		if !opts.AccountID.IsNil() && l.AccountID != opts.AccountID {
			continue
		}
		if opts.PoolID != "" && l.PoolID != opts.PoolID {
			continue
		}
		if opts.SourceType != "" && l.SourceType != opts.SourceType {
			continue
		}
		if !opts.IncludeExpired && l.Expired(now) {
			continue
		}
		result = append(result, l)
	}
	return page(result, opts.Offset, opts.Limit), nil
}

// SumBalance sums the unexpired lots of an account pool.
func (s *Store) SumBalance(_ context.Context, accountID id.AccountID, poolID string, now time.Time) (*lot.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := &lot.Balance{AccountID: accountID, PoolID: poolID}
	for _, l := range s.t.lots {
		if l.AccountID != accountID || l.PoolID != poolID || l.Expired(now) {
			continue
		}
		b.Available += l.Available
		b.Reserved += l.Reserved
		b.Consumed += l.Consumed
	}
	return b, nil
}

// ListEntries lists journal entries in sequence order.
func (s *Store) ListEntries(_ context.Context, opts journal.ListOpts) ([]*journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*journal.Entry, 0)
	for i := range s.t.entries {
		e := s.t.entries[i]
		if !opts.AccountID.IsNil() && e.AccountID != opts.AccountID {
			continue
		}
		if opts.PoolID != "" && e.PoolID != opts.PoolID {
			continue
		}
		if len(opts.Types) > 0 && !hasType(opts.Types, e.Type) {
			continue
		}
		result = append(result, &e)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].AccountID != result[j].AccountID {
			return result[i].AccountID.String() < result[j].AccountID.String()
		}
		if result[i].PoolID != result[j].PoolID {
			return result[i].PoolID < result[j].PoolID
		}
		return result[i].Seq < result[j].Seq
	})
	return page(result, opts.Offset, opts.Limit), nil
}

// FindEntryByIdempotencyKey returns the entry written under key.
func (s *Store) FindEntryByIdempotencyKey(_ context.Context, key string) (*journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t.findEntry(key)
}

// GetReservation returns the reservation with the given ID.
func (s *Store) GetReservation(_ context.Context, reservationID id.ReservationID) (*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t.getReservation(reservationID)
}

// GetFinalization returns the settlement of a reservation.
func (s *Store) GetFinalization(_ context.Context, accountID id.AccountID, reservationID id.ReservationID) (*reservation.Finalization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t.getFinalization(accountID, reservationID)
}

// GetSpendingLimit returns the account's spending limit.
func (s *Store) GetSpendingLimit(_ context.Context, accountID id.AccountID) (*budget.SpendingLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t.getLimit(accountID)
}

// ListSpendingLimits lists every spending limit ordered by account.
func (s *Store) ListSpendingLimits(_ context.Context) ([]*budget.SpendingLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*budget.SpendingLimit, 0, len(s.t.limits))
	for _, l := range s.t.limits {
		result = append(result, &l)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AccountID.String() < result[j].AccountID.String()
	})
	return result, nil
}

// GetTransfer returns the transfer with the given ID.
func (s *Store) GetTransfer(_ context.Context, transferID id.TransferID) (*transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.table(store.TableTransfers); err != nil {
		return nil, err
	}
	t, ok := s.t.transfers[transferID.String()]
	if !ok {
		return nil, credits.NotFound("transfer", transferID.String())
	}
	return &t, nil
}

// FindTransferByIdempotencyKey returns the transfer created under key.
func (s *Store) FindTransferByIdempotencyKey(_ context.Context, key string) (*transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.table(store.TableTransfers); err != nil {
		return nil, err
	}
	return s.t.findTransfer(key)
}

// GetDepositByTxHash returns the deposit recorded for a chain transaction.
func (s *Store) GetDepositByTxHash(_ context.Context, chainID int64, txHash string) (*deposit.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.table(store.TableDeposits); err != nil {
		return nil, err
	}
	return s.t.getDeposit(chainID, txHash)
}

// InsertReceivable records an outstanding receivable.
func (s *Store) InsertReceivable(_ context.Context, r *receivable.Receivable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.table(store.TableReceivables); err != nil {
		return err
	}
	if _, ok := s.t.receivables[r.ID.String()]; ok {
		return credits.ErrDuplicate
	}
	s.t.receivables[r.ID.String()] = *r
	return nil
}

// SaveRun persists a reconciliation run.
func (s *Store) SaveRun(_ context.Context, run *reconcile.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	cp.Checks = append([]reconcile.CheckResult(nil), run.Checks...)
	cp.Divergences = append([]string(nil), run.Divergences...)
	s.t.runs = append(s.t.runs, cp)
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(_ context.Context, limit int) ([]*reconcile.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return []*reconcile.Run{}, nil
	}
	result := make([]*reconcile.Run, 0, min(limit, len(s.t.runs)))
	for i := len(s.t.runs) - 1; i >= 0 && len(result) < limit; i-- {
		r := s.t.runs[i]
		result = append(result, &r)
	}
	return result, nil
}

func hasType(types []journal.EntryType, t journal.EntryType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func page[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
