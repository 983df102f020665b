package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/transfer"
	"github.com/xraph/credits/types"
)

// ErrTableMissing is returned by a Reader when an optional table does not
// exist in the backing store.
var ErrTableMissing = errors.New("credits: table missing")

// LotTotals are the summed lot balances of one account.
type LotTotals struct {
	AccountID id.AccountID
	Original  types.Micro
	Accounted types.Micro
}

// ReceivableTotals summarize outstanding receivables. Overdrawn lists the
// receivables whose balance exceeds their original amount.
type ReceivableTotals struct {
	Count       int64
	Original    types.Micro
	Outstanding types.Micro
	Overdrawn   []id.ReceivableID
}

// Reader is the read-only view of persisted state the checks run against.
// It never takes ledger write locks.
type Reader interface {
	LotTotalsByAccount(ctx context.Context) ([]LotTotals, error)
	ReceivableTotals(ctx context.Context) (*ReceivableTotals, error)
	ListSpendingLimits(ctx context.Context) ([]*budget.SpendingLimit, error)
	SumSettled(ctx context.Context, accountID id.AccountID, from, to time.Time) (types.Micro, error)
	// OrphanTransfers returns completed transfers without a transfer_in lot.
	OrphanTransfers(ctx context.Context) ([]*transfer.Transfer, error)
	SumCompletedTransfers(ctx context.Context) (types.Micro, error)
	// SumEntryMagnitudes returns the sum of |amount| over entries of type t.
	SumEntryMagnitudes(ctx context.Context, t journal.EntryType) (types.Micro, error)
	SumBridgedDeposits(ctx context.Context) (types.Micro, error)
	SumLotOriginals(ctx context.Context, source lot.SourceType) (types.Micro, error)
}

// RunStore persists reconciliation runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
}
