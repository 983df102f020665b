package lot

import (
	"context"
	"time"

	"github.com/xraph/credits/id"
)

// Store defines read access to lots outside of a ledger transaction.
type Store interface {
	GetLot(ctx context.Context, lotID id.LotID) (*Lot, error)
	ListLots(ctx context.Context, opts ListOpts) ([]*Lot, error)
	SumBalance(ctx context.Context, accountID id.AccountID, poolID string, now time.Time) (*Balance, error)
}
