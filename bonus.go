package credits

import (
	"context"

	"github.com/xraph/credits/bonus"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/types"
)

var _ bonus.Granter = (*Ledger)(nil)

// GrantBonus credits a referral bonus award to its referrer as a grant lot.
// It is idempotent on the award ID.
func (l *Ledger) GrantBonus(ctx context.Context, a *bonus.Award) (*lot.Lot, error) {
	switch {
	case a == nil || a.ID.IsNil():
		return nil, Invalid("award_id", "is required")
	case a.ReferrerID.IsNil():
		return nil, Invalid("referrer_id", "is required")
	}
	return l.MintLot(ctx, a.ReferrerID, a.Amount, lot.SourceGrant, MintOpts{
		PoolID:         a.PoolID,
		SourceID:       a.ID.String(),
		Description:    "referral bonus",
		IdempotencyKey: types.IdempotencyKey(types.ScopeReferralBonus, a.ID.String()),
	})
}
