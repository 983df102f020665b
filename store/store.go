// Package store defines the transactional persistence contract shared by
// the memory, SQLite and PostgreSQL backends.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/receivable"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/transfer"
	"github.com/xraph/credits/types"
)

// Table names.
const (
	TableAccounts      = "credit_accounts"
	TableLots          = "credit_lots"
	TableLedger        = "credit_ledger"
	TableReservations  = "credit_reservations"
	TableAllocations   = "credit_reservation_allocations"
	TableFinalizations = "agent_budget_finalizations"
	TableLimits        = "agent_spending_limits"
	TableRuns          = "reconciliation_runs"
	TableTransfers     = "transfers"
	TableDeposits      = "tba_deposits"
	TableReceivables   = "credit_receivables"
)

// OptionalTables may be absent from a deployment. Reconciliation readers
// report reconcile.ErrTableMissing for them instead of failing.
var OptionalTables = []string{TableReceivables, TableTransfers, TableDeposits}

// AnyPool is the pool component of an account-level lock key.
const AnyPool = "*"

// LockKey identifies one write-serialization domain.
type LockKey struct {
	AccountID id.AccountID
	PoolID    string
}

// PoolKey returns the lock key for an (account, pool) balance.
func PoolKey(accountID id.AccountID, poolID string) LockKey {
	return LockKey{AccountID: accountID, PoolID: poolID}
}

// AccountKey returns the account-level lock key guarding the spending limit.
func AccountKey(accountID id.AccountID) LockKey {
	return LockKey{AccountID: accountID, PoolID: AnyPool}
}

func (k LockKey) String() string {
	return k.AccountID.String() + "/" + k.PoolID
}

// SortKeys returns keys deduplicated and in a stable global order. Locks are
// always acquired in this order.
func SortKeys(keys []LockKey) []LockKey {
	seen := make(map[string]struct{}, len(keys))
	out := make([]LockKey, 0, len(keys))
	for _, k := range keys {
		s := k.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// TxFunc is the body of a ledger transaction.
type TxFunc func(ctx context.Context, tx Tx) error

// Tx is the write view of a ledger transaction. Every mutation of lots,
// entries, reservations, finalizations, limits, transfers and deposits
// happens through a Tx.
type Tx interface {
	// EnsureAccount inserts a if no account with its ID exists and returns
	// the stored account.
	EnsureAccount(ctx context.Context, a *account.Account) (*account.Account, error)

	InsertLot(ctx context.Context, l *lot.Lot) error
	GetLot(ctx context.Context, lotID id.LotID) (*lot.Lot, error)
	// UpdateLotBalances writes the available, reserved and consumed
	// balances of l. No other lot field is ever updated.
	UpdateLotBalances(ctx context.Context, l *lot.Lot) error
	// ListSpendableLots returns unexpired lots with available > 0, oldest
	// first.
	ListSpendableLots(ctx context.Context, accountID id.AccountID, poolID string, now time.Time) ([]*lot.Lot, error)
	FindLotBySource(ctx context.Context, sourceType lot.SourceType, sourceID string) (*lot.Lot, error)
	AvailableBalance(ctx context.Context, accountID id.AccountID, poolID string, now time.Time) (types.Micro, error)

	// NextEntrySeq returns max(entry_seq)+1 for the (account, pool).
	NextEntrySeq(ctx context.Context, accountID id.AccountID, poolID string) (int64, error)
	// InsertEntry returns ErrDuplicate when the idempotency key or the
	// sequence number is taken.
	InsertEntry(ctx context.Context, e *journal.Entry) error
	FindEntryByIdempotencyKey(ctx context.Context, key string) (*journal.Entry, error)

	// InsertReservation returns ErrDuplicate when (account, request) is taken.
	InsertReservation(ctx context.Context, r *reservation.Reservation) error
	GetReservation(ctx context.Context, reservationID id.ReservationID) (*reservation.Reservation, error)
	FindReservationByRequest(ctx context.Context, accountID id.AccountID, requestID string) (*reservation.Reservation, error)
	MarkReservationFinalized(ctx context.Context, reservationID id.ReservationID, at time.Time) error
	// InsertFinalization returns ErrDuplicate when (account, reservation)
	// is taken.
	InsertFinalization(ctx context.Context, f *reservation.Finalization) error
	GetFinalization(ctx context.Context, accountID id.AccountID, reservationID id.ReservationID) (*reservation.Finalization, error)

	GetSpendingLimit(ctx context.Context, accountID id.AccountID) (*budget.SpendingLimit, error)
	UpsertSpendingLimit(ctx context.Context, l *budget.SpendingLimit) error
	SumSettled(ctx context.Context, accountID id.AccountID, from, to time.Time) (types.Micro, error)

	// InsertTransfer returns ErrDuplicate when the idempotency key is taken.
	InsertTransfer(ctx context.Context, t *transfer.Transfer) error
	FindTransferByIdempotencyKey(ctx context.Context, key string) (*transfer.Transfer, error)
	// LastOutboundTransferAt reports the creation time of the account's
	// newest outbound transfer.
	LastOutboundTransferAt(ctx context.Context, accountID id.AccountID) (time.Time, bool, error)

	GetDepositByTxHash(ctx context.Context, chainID int64, txHash string) (*deposit.Deposit, error)
	UpsertDeposit(ctx context.Context, d *deposit.Deposit) error
}

// Store is the unified storage interface. Reads outside RunInTx go through
// the embedded domain interfaces and never take ledger write locks.
type Store interface {
	account.Store
	lot.Store
	journal.Store
	reservation.Store
	budget.Store
	transfer.Store
	deposit.Store
	receivable.Store
	reconcile.Reader
	reconcile.RunStore

	// RunInTx runs fn in one ACID transaction after taking the write locks
	// for keys in SortKeys order. Any error returned by fn, a panic, or a
	// cancelled context rolls the whole transaction back.
	RunInTx(ctx context.Context, keys []LockKey, fn TxFunc) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
