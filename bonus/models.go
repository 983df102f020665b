// Package bonus processes referral bonus awards. An award is granted only
// after its hold period has elapsed and it has passed the risk check.
package bonus

import (
	"context"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/types"
)

// Status is the lifecycle state of an award.
type Status string

const (
	StatusPending  Status = "pending"
	StatusGranted  Status = "granted"
	StatusRejected Status = "rejected"
)

// Award is a referral bonus owed to a referrer.
type Award struct {
	ID         id.BonusID   `json:"id"`
	ReferrerID id.AccountID `json:"referrer_id"`
	RefereeID  id.AccountID `json:"referee_id"`
	PoolID     string       `json:"pool_id,omitempty"`
	Amount     types.Micro  `json:"amount_micro"`
	Status     Status       `json:"status"`
	EarnedAt   time.Time    `json:"earned_at"`
	RiskScore  int64        `json:"risk_score,omitempty"`
	LotID      id.LotID     `json:"lot_id,omitzero"`
	Reason     string       `json:"reason,omitempty"`
}

// Due reports whether the hold period has elapsed at now.
func (a *Award) Due(now time.Time, hold time.Duration) bool {
	return !now.Before(a.EarnedAt.Add(hold))
}

// Source is the collaborator that owns award records.
type Source interface {
	// DueAwards returns up to limit pending awards earned at or before
	// cutoff, oldest first.
	DueAwards(ctx context.Context, cutoff time.Time, limit int) ([]*Award, error)
	MarkGranted(ctx context.Context, awardID id.BonusID, lotID id.LotID) error
	MarkRejected(ctx context.Context, awardID id.BonusID, score int64, reason string) error
}

// RiskChecker scores an award; higher is riskier.
type RiskChecker interface {
	Score(ctx context.Context, a *Award) (int64, error)
}

// RiskFunc adapts a function to the RiskChecker interface.
type RiskFunc func(ctx context.Context, a *Award) (int64, error)

// Score implements RiskChecker.
func (f RiskFunc) Score(ctx context.Context, a *Award) (int64, error) { return f(ctx, a) }

// Granter credits an award. It must be idempotent on the award ID.
type Granter interface {
	GrantBonus(ctx context.Context, a *Award) (*lot.Lot, error)
}

// Summary counts the outcome of one processing pass.
type Summary struct {
	Granted  int `json:"granted"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
}
