package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/credits/governance"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transfer"
	"github.com/xraph/credits/types"
)

// TransferParams describe a peer transfer.
type TransferParams struct {
	FromAccountID  id.AccountID
	ToAccountID    id.AccountID
	PoolID         string
	Amount         types.Micro
	IdempotencyKey string
	Description    string
}

// Transfer moves credit between two accounts in one transaction: the
// sender's lots are drawn oldest first into consumed, a transfer_out entry
// and a completed transfer row are written, and the receiver gets a
// transfer_in lot sourced by the transfer ID. A repeat with the same
// idempotency key returns the original transfer.
func (l *Ledger) Transfer(ctx context.Context, p TransferParams) (*transfer.Transfer, error) {
	poolID := l.pool(p.PoolID)
	switch {
	case p.FromAccountID.IsNil():
		return nil, Invalid("from_account_id", "is required")
	case p.ToAccountID.IsNil():
		return nil, Invalid("to_account_id", "is required")
	case p.FromAccountID == p.ToAccountID:
		return nil, Invalid("to_account_id", "must differ from the sender")
	case p.Amount <= 0:
		return nil, Invalid("amount", "must be positive, got %s", p.Amount)
	case p.IdempotencyKey == "":
		return nil, Invalid("idempotency_key", "is required")
	}

	cooldown := l.params.Seconds(ctx, governance.KeyTransferCooldownSeconds)
	now := l.clock()

	var (
		tr       *transfer.Transfer
		received *lot.Lot
		replay   bool
	)
	keys := []store.LockKey{
		store.PoolKey(p.FromAccountID, poolID),
		store.PoolKey(p.ToAccountID, poolID),
		store.AccountKey(p.FromAccountID),
	}
	err := l.store.RunInTx(ctx, keys, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.FindTransferByIdempotencyKey(ctx, p.IdempotencyKey)
		if err == nil {
			tr, replay = existing, true
			return nil
		}
		if !IsNotFound(err) {
			return err
		}

		if cooldown > 0 {
			last, ok, err := tx.LastOutboundTransferAt(ctx, p.FromAccountID)
			if err != nil {
				return err
			}
			if ok && now.Sub(last) < cooldown {
				return fmt.Errorf("%w: next transfer allowed at %s", ErrTransferCooldown, last.Add(cooldown).Format(time.RFC3339))
			}
		}

		lots, err := tx.ListSpendableLots(ctx, p.FromAccountID, poolID, now)
		if err != nil {
			return err
		}
		draws, available, err := lot.PlanDraw(lots, p.Amount)
		if err != nil {
			return err
		}
		if draws == nil {
			return InsufficientFundsError{AccountID: p.FromAccountID, PoolID: poolID, Available: available, Requested: p.Amount}
		}

		byID := make(map[id.LotID]*lot.Lot, len(lots))
		for _, lt := range lots {
			byID[lt.ID] = lt
		}
		for _, d := range draws {
			lt := byID[d.LotID]
			lt.Available -= d.Amount
			if lt.Consumed, err = lt.Consumed.Add(d.Amount); err != nil {
				return err
			}
			if err := tx.UpdateLotBalances(ctx, lt); err != nil {
				return err
			}
		}

		tr = &transfer.Transfer{
			ID:             id.NewTransferID(),
			FromAccountID:  p.FromAccountID,
			ToAccountID:    p.ToAccountID,
			PoolID:         poolID,
			Amount:         p.Amount,
			Status:         transfer.StatusCompleted,
			IdempotencyKey: p.IdempotencyKey,
			Description:    p.Description,
			CreatedAt:      now,
			CompletedAt:    &now,
		}
		if err := tx.InsertTransfer(ctx, tr); err != nil {
			return err
		}

		seq, err := tx.NextEntrySeq(ctx, p.FromAccountID, poolID)
		if err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &journal.Entry{
			ID:             id.NewEntryID(),
			AccountID:      p.FromAccountID,
			PoolID:         poolID,
			Seq:            seq,
			Type:           journal.EntryTransferOut,
			Amount:         -p.Amount,
			IdempotencyKey: types.IdempotencyKey(types.ScopeTransferOut, p.IdempotencyKey),
			PreBalance:     available,
			PostBalance:    available - p.Amount,
			Description:    p.Description,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		received, _, err = l.mintInTx(ctx, tx, p.ToAccountID, p.Amount, lot.SourceTransferIn, MintOpts{
			PoolID:         poolID,
			SourceID:       tr.ID.String(),
			Description:    p.Description,
			IdempotencyKey: types.IdempotencyKey(types.ScopeTransferIn, tr.ID.String()),
		}, now)
		return err
	})
	if isDuplicate(err) {
		return l.store.FindTransferByIdempotencyKey(ctx, p.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}
	if replay {
		return tr, nil
	}

	l.logger.Debug("credits transferred",
		"transfer_id", tr.ID.String(),
		"from_account_id", p.FromAccountID.String(),
		"to_account_id", p.ToAccountID.String(),
		"amount", p.Amount,
	)
	l.plugins.EmitLotMinted(ctx, received)
	l.plugins.EmitTransferred(ctx, tr)
	return tr, nil
}
