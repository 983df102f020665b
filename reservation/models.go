// Package reservation defines the two-phase spend protocol records: a
// Reservation holds funds drawn from lots, and a Finalization settles it
// exactly once.
package reservation

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/types"
)

// BillingMode describes how the reserved spend is metered.
type BillingMode string

const (
	BillingMetered BillingMode = "metered"
	BillingFlat    BillingMode = "flat"
)

// Valid reports whether m is a known billing mode.
func (m BillingMode) Valid() bool {
	return m == BillingMetered || m == BillingFlat
}

// Reservation is a hold against available balance. It is open until
// FinalizedAt is set, which happens exactly once.
type Reservation struct {
	ID          id.ReservationID `json:"id"`
	AccountID   id.AccountID     `json:"account_id"`
	PoolID      string           `json:"pool_id"`
	RequestID   string           `json:"request_id"`
	Total       types.Micro      `json:"total_reserved_micro"`
	BillingMode BillingMode      `json:"billing_mode"`
	Description string           `json:"description,omitempty"`
	Allocations []lot.Draw       `json:"allocations"`
	CreatedAt   time.Time        `json:"created_at"`
	FinalizedAt *time.Time       `json:"finalized_at,omitempty"`
}

// Open reports whether the reservation is still awaiting finalization.
func (r *Reservation) Open() bool {
	return r.FinalizedAt == nil
}

// Outcome distinguishes a full settlement from one clamped by a budget cap.
type Outcome string

const (
	OutcomeSettled Outcome = "settled"
	OutcomeClamped Outcome = "clamped"
)

// Finalization is the settlement record of a reservation. Requested is the
// actual cost the caller reported; Settled is what was consumed, which is
// lower than Requested only when the outcome is clamped.
type Finalization struct {
	ID            id.FinalizationID `json:"id"`
	AccountID     id.AccountID      `json:"account_id"`
	PoolID        string            `json:"pool_id"`
	ReservationID id.ReservationID  `json:"reservation_id"`
	Requested     types.Micro       `json:"requested_micro"`
	Settled       types.Micro       `json:"settled_micro"`
	Released      types.Micro       `json:"released_micro"`
	Outcome       Outcome           `json:"outcome"`
	Reason        string            `json:"reason,omitempty"`
	FinalizedAt   time.Time         `json:"finalized_at"`
}

// AsSettled returns the settled amount when the outcome is a full settlement.
func (f *Finalization) AsSettled() (types.Micro, bool) {
	if f.Outcome != OutcomeSettled {
		return 0, false
	}
	return f.Settled, true
}

// AsClamped returns the clamped amount and reason when a budget cap reduced
// the settlement.
func (f *Finalization) AsClamped() (types.Micro, string, bool) {
	if f.Outcome != OutcomeClamped {
		return 0, "", false
	}
	return f.Settled, f.Reason, true
}
