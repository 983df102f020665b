// Package lot defines credit lots: discrete units of minted credit, each with
// its own available, reserved and consumed sub-balances.
package lot

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// DefaultPool is the pool used when a caller does not name one.
const DefaultPool = "general"

// SourceType identifies the collaborator that minted a lot.
type SourceType string

const (
	SourceDeposit    SourceType = "deposit"
	SourceTransferIn SourceType = "transfer_in"
	SourceTBADeposit SourceType = "tba_deposit"
	SourceGrant      SourceType = "grant"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceDeposit, SourceTransferIn, SourceTBADeposit, SourceGrant:
		return true
	}
	return false
}

// Lot is a unit of minted credit. Only Available, Reserved and Consumed
// change after creation, and always so that
// Available + Reserved + Consumed <= Original.
type Lot struct {
	ID          id.LotID     `json:"id"`
	AccountID   id.AccountID `json:"account_id"`
	PoolID      string       `json:"pool_id"`
	SourceType  SourceType   `json:"source_type"`
	SourceID    string       `json:"source_id,omitempty"`
	Original    types.Micro  `json:"original_micro"`
	Available   types.Micro  `json:"available_micro"`
	Reserved    types.Micro  `json:"reserved_micro"`
	Consumed    types.Micro  `json:"consumed_micro"`
	Description string       `json:"description,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
}

// Accounted returns Available + Reserved + Consumed.
func (l *Lot) Accounted() (types.Micro, error) {
	return types.Sum(l.Available, l.Reserved, l.Consumed)
}

// Conserved reports whether the lot satisfies its conservation invariant and
// has no negative sub-balance.
func (l *Lot) Conserved() bool {
	if l.Available < 0 || l.Reserved < 0 || l.Consumed < 0 {
		return false
	}
	total, err := l.Accounted()
	return err == nil && total <= l.Original
}

// Expired reports whether the lot has passed its expiry at now.
func (l *Lot) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// Spendable reports whether funds can be reserved from the lot at now.
func (l *Lot) Spendable(now time.Time) bool {
	return l.Available > 0 && !l.Expired(now)
}

// Balance is the spendable view of an account pool, summed over its
// non-expired lots.
type Balance struct {
	AccountID id.AccountID `json:"account_id"`
	PoolID    string       `json:"pool_id"`
	Available types.Micro  `json:"available_micro"`
	Reserved  types.Micro  `json:"reserved_micro"`
	Consumed  types.Micro  `json:"consumed_micro"`
}

// ListOpts filters lot listings.
type ListOpts struct {
	AccountID      id.AccountID
	PoolID         string
	SourceType     SourceType
	IncludeExpired bool
	Limit          int
	Offset         int
}
