package account

import (
	"context"

	"github.com/xraph/credits/id"
)

// Store defines read access to accounts. Accounts are written only inside
// ledger transactions.
type Store interface {
	GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error)
}
