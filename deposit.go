package credits

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/governance"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/types"
)

// BridgeParams identify an on-chain deposit to credit.
type BridgeParams struct {
	AccountID id.AccountID
	PoolID    string
	ChainID   int64
	TxHash    string
	// Amount, when set, must equal the verified transfer amount.
	Amount types.Micro
}

// BridgeDeposit verifies an on-chain deposit and credits it as a
// tba_deposit lot. Verification runs before any transaction opens; the
// deposit row, the lot and its entry then commit together. Bridging the
// same transaction again returns the original deposit.
func (l *Ledger) BridgeDeposit(ctx context.Context, p BridgeParams) (*deposit.Deposit, error) {
	poolID := l.pool(p.PoolID)
	txHash := strings.ToLower(strings.TrimSpace(p.TxHash))
	switch {
	case p.AccountID.IsNil():
		return nil, Invalid("account_id", "is required")
	case p.ChainID <= 0:
		return nil, Invalid("chain_id", "must be positive, got %d", p.ChainID)
	case txHash == "":
		return nil, Invalid("tx_hash", "is required")
	case p.Amount < 0:
		return nil, Invalid("amount", "must not be negative, got %s", p.Amount)
	}
	if l.verifier == nil {
		return nil, ErrNoVerifier
	}

	known, err := l.store.GetDepositByTxHash(ctx, p.ChainID, txHash)
	switch {
	case err == nil && known.Status == deposit.StatusBridged:
		return bridgedTo(known, p.AccountID)
	case err != nil && !IsNotFound(err):
		return nil, err
	}

	receipt, err := l.verifier.Verify(ctx, p.ChainID, txHash)
	if err != nil {
		return nil, fmt.Errorf("credits: verify deposit %s: %w", txHash, err)
	}
	if err := l.checkReceipt(ctx, p, txHash, receipt); err != nil {
		l.logger.Warn("deposit rejected",
			"account_id", p.AccountID.String(),
			"chain_id", p.ChainID,
			"tx_hash", txHash,
			"error", err,
		)
		return nil, err
	}

	now := l.clock()
	var (
		dep    *deposit.Deposit
		minted *lot.Lot
		replay bool
	)
	err = l.store.RunInTx(ctx, []store.LockKey{store.PoolKey(p.AccountID, poolID)}, func(ctx context.Context, tx store.Tx) error {
		dep = &deposit.Deposit{
			ID:          id.NewDepositID(),
			AccountID:   p.AccountID,
			PoolID:      poolID,
			ChainID:     p.ChainID,
			TxHash:      txHash,
			FromAddress: receipt.FromAddress,
			BlockNumber: receipt.BlockNumber,
			Amount:      receipt.Amount,
			Status:      deposit.StatusPending,
			DetectedAt:  now,
		}

		existing, err := tx.GetDepositByTxHash(ctx, p.ChainID, txHash)
		switch {
		case err == nil && existing.Status == deposit.StatusBridged:
			dep, replay = existing, true
			return nil
		case err == nil:
			dep.ID, dep.DetectedAt = existing.ID, existing.DetectedAt
		case !IsNotFound(err):
			return err
		}

		minted, _, err = l.mintInTx(ctx, tx, p.AccountID, receipt.Amount, lot.SourceTBADeposit, MintOpts{
			PoolID:         poolID,
			SourceID:       dep.ID.String(),
			Description:    "on-chain deposit " + txHash,
			IdempotencyKey: types.IdempotencyKey(types.ScopeTBADeposit, strconv.FormatInt(p.ChainID, 10), txHash),
		}, now)
		if err != nil {
			return err
		}

		dep.Status = deposit.StatusBridged
		dep.LotID = minted.ID
		dep.BridgedAt = &now
		return tx.UpsertDeposit(ctx, dep)
	})
	if isDuplicate(err) {
		known, err := l.store.GetDepositByTxHash(ctx, p.ChainID, txHash)
		if err != nil {
			return nil, err
		}
		return bridgedTo(known, p.AccountID)
	}
	if err != nil {
		return nil, err
	}
	if replay {
		return bridgedTo(dep, p.AccountID)
	}

	l.logger.Info("deposit bridged",
		"deposit_id", dep.ID.String(),
		"account_id", p.AccountID.String(),
		"chain_id", p.ChainID,
		"tx_hash", txHash,
		"amount", dep.Amount,
	)
	l.plugins.EmitLotMinted(ctx, minted)
	l.plugins.EmitDepositBridged(ctx, dep)
	return dep, nil
}

// checkReceipt validates a verified receipt against the request.
func (l *Ledger) checkReceipt(ctx context.Context, p BridgeParams, txHash string, r *deposit.Receipt) error {
	if r == nil {
		return fmt.Errorf("%w: empty receipt", ErrDepositMismatch)
	}
	if !r.Success {
		return ErrDepositFailed
	}
	if r.ChainID != p.ChainID || !strings.EqualFold(r.TxHash, txHash) {
		return fmt.Errorf("%w: receipt is for %d/%s", ErrDepositMismatch, r.ChainID, r.TxHash)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: no matching token transfer", ErrDepositMismatch)
	}
	if p.Amount != 0 && r.Amount != p.Amount {
		return fmt.Errorf("%w: amount %s, expected %s", ErrDepositMismatch, r.Amount, p.Amount)
	}
	minConf := l.params.Int(ctx, governance.KeyDepositMinConfirms)
	if minConf > 0 && r.Confirmations < uint64(minConf) {
		return fmt.Errorf("%w: %d of %d confirmations", ErrDepositUnconfirmed, r.Confirmations, minConf)
	}
	return nil
}

// bridgedTo returns d when it was credited to accountID.
func bridgedTo(d *deposit.Deposit, accountID id.AccountID) (*deposit.Deposit, error) {
	if d.AccountID != accountID {
		return nil, ErrDepositAlreadyKnown
	}
	return d, nil
}
