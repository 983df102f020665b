package credits

import (
	"context"
	"fmt"

	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/governance"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/types"
)

// ReserveOpts are the optional parameters of Reserve.
type ReserveOpts struct {
	PoolID      string
	BillingMode reservation.BillingMode
	Description string
}

// Reserve holds amount against the account's available balance, drawing
// from its oldest lots first. It is all-or-nothing and idempotent on
// (accountID, requestID).
func (l *Ledger) Reserve(ctx context.Context, accountID id.AccountID, requestID string, amount types.Micro, opts ReserveOpts) (*reservation.Reservation, error) {
	poolID := l.pool(opts.PoolID)
	if opts.BillingMode == "" {
		opts.BillingMode = reservation.BillingMetered
	}
	switch {
	case accountID.IsNil():
		return nil, Invalid("account_id", "is required")
	case requestID == "":
		return nil, Invalid("request_id", "is required")
	case amount <= 0:
		return nil, Invalid("amount", "must be positive, got %s", amount)
	case !opts.BillingMode.Valid():
		return nil, Invalid("billing_mode", "unknown billing mode %q", opts.BillingMode)
	}

	status, err := l.CheckBudget(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if status.State == budget.CircuitOpen {
		return nil, BudgetExhaustedError{AccountID: accountID, DailyCap: status.DailyCap, Spent: status.Spent}
	}

	key := types.IdempotencyKey(types.ScopeReserve, accountID.String(), requestID)
	now := l.clock()

	var (
		rsv    *reservation.Reservation
		replay bool
	)
	err = l.store.RunInTx(ctx, []store.LockKey{store.PoolKey(accountID, poolID)}, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.FindReservationByRequest(ctx, accountID, requestID)
		if err == nil {
			rsv, replay = existing, true
			return nil
		}
		if !IsNotFound(err) {
			return err
		}

		lots, err := tx.ListSpendableLots(ctx, accountID, poolID, now)
		if err != nil {
			return err
		}
		draws, available, err := lot.PlanDraw(lots, amount)
		if err != nil {
			return err
		}
		if draws == nil {
			return InsufficientFundsError{AccountID: accountID, PoolID: poolID, Available: available, Requested: amount}
		}

		byID := make(map[id.LotID]*lot.Lot, len(lots))
		for _, lt := range lots {
			byID[lt.ID] = lt
		}
		for _, d := range draws {
			lt := byID[d.LotID]
			lt.Available -= d.Amount
			if lt.Reserved, err = lt.Reserved.Add(d.Amount); err != nil {
				return err
			}
			if err := tx.UpdateLotBalances(ctx, lt); err != nil {
				return err
			}
		}

		rsv = &reservation.Reservation{
			ID:          id.NewReservationID(),
			AccountID:   accountID,
			PoolID:      poolID,
			RequestID:   requestID,
			Total:       amount,
			BillingMode: opts.BillingMode,
			Description: opts.Description,
			Allocations: draws,
			CreatedAt:   now,
		}
		if err := tx.InsertReservation(ctx, rsv); err != nil {
			return err
		}

		seq, err := tx.NextEntrySeq(ctx, accountID, poolID)
		if err != nil {
			return err
		}
		return tx.InsertEntry(ctx, &journal.Entry{
			ID:             id.NewEntryID(),
			AccountID:      accountID,
			PoolID:         poolID,
			ReservationID:  rsv.ID,
			Seq:            seq,
			Type:           journal.EntryReserve,
			Amount:         -amount,
			IdempotencyKey: key,
			PreBalance:     available,
			PostBalance:    available - amount,
			Description:    opts.Description,
			CreatedAt:      now,
		})
	})
	if isDuplicate(err) {
		return l.reservedBy(ctx, key)
	}
	if err != nil {
		return nil, err
	}

	if !replay {
		l.logger.Debug("funds reserved",
			"account_id", accountID.String(),
			"pool_id", poolID,
			"reservation_id", rsv.ID.String(),
			"amount", amount,
			"lots", len(rsv.Allocations),
		)
		l.plugins.EmitReserved(ctx, rsv)
	}
	return rsv, nil
}

func (l *Ledger) reservedBy(ctx context.Context, key string) (*reservation.Reservation, error) {
	e, err := l.store.FindEntryByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return l.store.GetReservation(ctx, e.ReservationID)
}

// Finalize settles a reservation with its actual cost. The settled amount
// moves from reserved to consumed across the reservation's lots in draw
// order and the rest is released to available. When the account's spending
// cap would be exceeded, the settlement is clamped to the remaining
// headroom and the result reports OutcomeClamped. A repeat call returns the
// prior result unchanged.
func (l *Ledger) Finalize(ctx context.Context, reservationID id.ReservationID, actualCost types.Micro) (*reservation.Finalization, error) {
	if reservationID.IsNil() {
		return nil, Invalid("reservation_id", "is required")
	}
	if actualCost < 0 {
		return nil, Invalid("actual_cost", "must not be negative, got %s", actualCost)
	}

	r, err := l.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	accountID, poolID := r.AccountID, r.PoolID
	now := l.clock()
	warningBps := l.params.Int(ctx, governance.KeyBudgetWarningBps)

	var (
		fin    *reservation.Finalization
		limit  *budget.SpendingLimit
		prev   budget.CircuitState
		replay bool
	)
	keys := []store.LockKey{store.PoolKey(accountID, poolID), store.AccountKey(accountID)}
	err = l.store.RunInTx(ctx, keys, func(ctx context.Context, tx store.Tx) error {
		prior, err := tx.GetFinalization(ctx, accountID, reservationID)
		if err == nil {
			fin, replay = prior, true
			return nil
		}
		if !IsNotFound(err) {
			return err
		}

		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if actualCost > r.Total {
			return Invalid("actual_cost", "%s exceeds reserved %s", actualCost, r.Total)
		}

		var (
			settled types.Micro
			reason  string
		)
		limit, prev, settled, reason, err = l.settleBudget(ctx, tx, accountID, actualCost, warningBps, now)
		if err != nil {
			return err
		}

		pre, err := tx.AvailableBalance(ctx, accountID, poolID, now)
		if err != nil {
			return err
		}
		if err := l.settleLots(ctx, tx, r.Allocations, settled); err != nil {
			return err
		}

		surplus := r.Total - settled
		seq, err := tx.NextEntrySeq(ctx, accountID, poolID)
		if err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &journal.Entry{
			ID:             id.NewEntryID(),
			AccountID:      accountID,
			PoolID:         poolID,
			ReservationID:  reservationID,
			Seq:            seq,
			Type:           journal.EntryFinalize,
			Amount:         -settled,
			IdempotencyKey: types.IdempotencyKey(types.ScopeFinalize, reservationID.String()),
			PreBalance:     pre,
			PostBalance:    pre,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if surplus > 0 {
			post, err := pre.Add(surplus)
			if err != nil {
				return err
			}
			if err := tx.InsertEntry(ctx, &journal.Entry{
				ID:             id.NewEntryID(),
				AccountID:      accountID,
				PoolID:         poolID,
				ReservationID:  reservationID,
				Seq:            seq + 1,
				Type:           journal.EntryRelease,
				Amount:         surplus,
				IdempotencyKey: types.IdempotencyKey(types.ScopeRelease, reservationID.String()),
				PreBalance:     pre,
				PostBalance:    post,
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}

		if err := tx.MarkReservationFinalized(ctx, reservationID, now); err != nil {
			return err
		}

		outcome := reservation.OutcomeSettled
		if settled < actualCost {
			outcome = reservation.OutcomeClamped
		}
		fin = &reservation.Finalization{
			ID:            id.NewFinalizationID(),
			AccountID:     accountID,
			PoolID:        poolID,
			ReservationID: reservationID,
			Requested:     actualCost,
			Settled:       settled,
			Released:      surplus,
			Outcome:       outcome,
			Reason:        reason,
			FinalizedAt:   now,
		}
		return tx.InsertFinalization(ctx, fin)
	})
	if isDuplicate(err) {
		return l.store.GetFinalization(ctx, accountID, reservationID)
	}
	if err != nil {
		return nil, err
	}
	if replay {
		return fin, nil
	}

	if limit != nil {
		status := budget.StatusOf(limit)
		l.cache.Set(status)
		l.emitBudgetTransition(ctx, prev, status)
	}

	l.logger.Debug("reservation finalized",
		"account_id", accountID.String(),
		"reservation_id", reservationID.String(),
		"requested", actualCost,
		"settled", fin.Settled,
		"released", fin.Released,
		"outcome", fin.Outcome,
	)
	l.plugins.EmitFinalized(ctx, fin)
	return fin, nil
}

// settleLots moves settled from reserved to consumed across allocations in
// order and releases the remainder of each allocation to available.
func (l *Ledger) settleLots(ctx context.Context, tx store.Tx, allocations []lot.Draw, settled types.Micro) error {
	remaining := settled
	for _, a := range allocations {
		lt, err := tx.GetLot(ctx, a.LotID)
		if err != nil {
			return err
		}
		if lt.Reserved < a.Amount {
			return fmt.Errorf("credits: lot %s holds %s reserved, allocation needs %s", lt.ID, lt.Reserved, a.Amount)
		}

		take := types.Min(a.Amount, remaining)
		remaining -= take
		lt.Reserved -= a.Amount
		if lt.Consumed, err = lt.Consumed.Add(take); err != nil {
			return err
		}
		if lt.Available, err = lt.Available.Add(a.Amount - take); err != nil {
			return err
		}
		if err := tx.UpdateLotBalances(ctx, lt); err != nil {
			return err
		}
	}
	if remaining != 0 {
		return fmt.Errorf("credits: allocations cover %s less than settled %s", remaining, settled)
	}
	return nil
}
