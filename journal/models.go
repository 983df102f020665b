// Package journal defines the append-only ledger entry log. Entries are
// never mutated or deleted; balances are provably derivable from them.
package journal

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// EntryType classifies a balance-affecting event.
type EntryType string

const (
	EntryDeposit     EntryType = "deposit"
	EntryReserve     EntryType = "reserve"
	EntryFinalize    EntryType = "finalize"
	EntryRelease     EntryType = "release"
	EntryGrant       EntryType = "grant"
	EntryTransferOut EntryType = "transfer_out"
	EntryTransferIn  EntryType = "transfer_in"
	EntryClawback    EntryType = "clawback"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryDeposit, EntryReserve, EntryFinalize, EntryRelease,
		EntryGrant, EntryTransferOut, EntryTransferIn, EntryClawback:
		return true
	}
	return false
}

// MovesAvailable reports whether entries of this type change the available
// balance. A finalize entry records settlement of already-reserved funds, so
// its pre and post balances are equal.
func (t EntryType) MovesAvailable() bool {
	return t != EntryFinalize
}

// Entry is one immutable journal record. PreBalance and PostBalance are the
// available balance of (AccountID, PoolID) around the entry.
type Entry struct {
	ID             id.EntryID       `json:"id"`
	AccountID      id.AccountID     `json:"account_id"`
	PoolID         string           `json:"pool_id"`
	LotID          id.LotID         `json:"lot_id,omitzero"`
	ReservationID  id.ReservationID `json:"reservation_id,omitzero"`
	Seq            int64            `json:"entry_seq"`
	Type           EntryType        `json:"entry_type"`
	Amount         types.Micro      `json:"amount_micro"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	PreBalance     types.Micro      `json:"pre_balance_micro"`
	PostBalance    types.Micro      `json:"post_balance_micro"`
	Description    string           `json:"description,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Consistent reports whether the entry's balances agree with its amount.
func (e *Entry) Consistent() bool {
	if !e.Type.MovesAvailable() {
		return e.PreBalance == e.PostBalance
	}
	post, err := e.PreBalance.Add(e.Amount)
	return err == nil && post == e.PostBalance
}

// ListOpts filters journal listings. Results are ordered by Seq ascending.
type ListOpts struct {
	AccountID id.AccountID
	PoolID    string
	Types     []EntryType
	Limit     int
	Offset    int
}
