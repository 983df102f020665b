// Package receivable defines outstanding receivables: credit advanced to an
// account that is owed back to the platform.
package receivable

import (
	"context"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Receivable is an amount owed by an account. Balance is the outstanding
// part and never exceeds Original.
type Receivable struct {
	ID        id.ReceivableID `json:"id"`
	AccountID id.AccountID    `json:"account_id"`
	SourceID  string          `json:"source_id,omitempty"`
	Original  types.Micro     `json:"original_micro"`
	Balance   types.Micro     `json:"balance_micro"`
	CreatedAt time.Time       `json:"created_at"`
	SettledAt *time.Time      `json:"settled_at,omitempty"`
}

// Store persists receivables. The backing table is optional.
type Store interface {
	InsertReceivable(ctx context.Context, r *Receivable) error
}
