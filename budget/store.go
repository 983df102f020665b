package budget

import (
	"context"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Store defines read access to spending limits and the finalization sums
// they are recomputed from.
type Store interface {
	GetSpendingLimit(ctx context.Context, accountID id.AccountID) (*SpendingLimit, error)
	ListSpendingLimits(ctx context.Context) ([]*SpendingLimit, error)
	// SumSettled sums finalization settled amounts for the account with
	// finalizedAt in [from, to).
	SumSettled(ctx context.Context, accountID id.AccountID, from, to time.Time) (types.Micro, error)
}
