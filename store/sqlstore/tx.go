package sqlstore

import (
	"context"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transfer"
	"github.com/xraph/credits/types"
)

// sqlTx is the write view of one database transaction.
type sqlTx struct {
	queries
}

var _ store.Tx = (*sqlTx)(nil)

// ==================== Accounts ====================

func (t *sqlTx) EnsureAccount(ctx context.Context, a *account.Account) (*account.Account, error) {
	m := toAccountModel(a)
	if _, err := t.exec(ctx, `INSERT INTO credit_accounts (id, entity_type, external_ref, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`,
		m.ID, m.EntityType, m.ExternalRef, m.CreatedAt, m.UpdatedAt); err != nil {
		return nil, t.wrap(err)
	}
	return t.getAccount(ctx, a.ID)
}

// ==================== Lots ====================

func (t *sqlTx) InsertLot(ctx context.Context, l *lot.Lot) error {
	m := toLotModel(l)
	_, err := t.exec(ctx, `INSERT INTO credit_lots
    (id, account_id, pool_id, source_type, source_id, original_micro, available_micro,
     reserved_micro, consumed_micro, description, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AccountID, m.PoolID, m.SourceType, m.SourceID, m.Original, m.Available,
		m.Reserved, m.Consumed, m.Description, m.CreatedAt, m.ExpiresAt)
	return t.wrap(err)
}

func (t *sqlTx) UpdateLotBalances(ctx context.Context, l *lot.Lot) error {
	res, err := t.exec(ctx, `UPDATE credit_lots
SET available_micro = ?, reserved_micro = ?, consumed_micro = ?
WHERE id = ?`,
		l.Available.Int64(), l.Reserved.Int64(), l.Consumed.Int64(), l.ID.String())
	if err != nil {
		return t.wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return t.wrap(err)
	}
	if n == 0 {
		return credits.NotFound("lot", l.ID.String())
	}
	return nil
}

func (t *sqlTx) ListSpendableLots(ctx context.Context, accountID id.AccountID, poolID string, now time.Time) ([]*lot.Lot, error) {
	var ms []lotModel
	if err := t.sel(ctx, &ms, `SELECT * FROM credit_lots
WHERE account_id = ? AND pool_id = ? AND available_micro > 0
  AND (expires_at IS NULL OR expires_at > ?)
ORDER BY created_at ASC, id ASC`,
		accountID.String(), poolID, toNanos(now)); err != nil {
		return nil, t.wrap(err)
	}
	return fromLotModels(ms)
}

func (t *sqlTx) FindLotBySource(ctx context.Context, sourceType lot.SourceType, sourceID string) (*lot.Lot, error) {
	m := new(lotModel)
	if err := t.get(ctx, m, `SELECT * FROM credit_lots WHERE source_type = ? AND source_id = ?
ORDER BY created_at ASC, id ASC LIMIT 1`, string(sourceType), sourceID); err != nil {
		return nil, t.notFound(err, "lot", string(sourceType)+":"+sourceID)
	}
	return fromLotModel(m)
}

func (t *sqlTx) AvailableBalance(ctx context.Context, accountID id.AccountID, poolID string, now time.Time) (types.Micro, error) {
	return t.sum(ctx, `SELECT CAST(COALESCE(SUM(available_micro), 0) AS BIGINT)
FROM credit_lots
WHERE account_id = ? AND pool_id = ? AND (expires_at IS NULL OR expires_at > ?)`,
		accountID.String(), poolID, toNanos(now))
}

// ==================== Journal ====================

func (t *sqlTx) NextEntrySeq(ctx context.Context, accountID id.AccountID, poolID string) (int64, error) {
	var last int64
	if err := t.get(ctx, &last, `SELECT CAST(COALESCE(MAX(entry_seq), 0) AS BIGINT)
FROM credit_ledger WHERE account_id = ? AND pool_id = ?`,
		accountID.String(), poolID); err != nil {
		return 0, t.wrap(err)
	}
	return last + 1, nil
}

func (t *sqlTx) InsertEntry(ctx context.Context, e *journal.Entry) error {
	m := toEntryModel(e)
	return t.execOnce(ctx, `INSERT INTO credit_ledger
    (id, account_id, pool_id, lot_id, reservation_id, entry_seq, entry_type, amount_micro,
     idempotency_key, pre_balance_micro, post_balance_micro, description, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
		m.ID, m.AccountID, m.PoolID, m.LotID, m.ReservationID, m.Seq, m.Type, m.Amount,
		m.IdempotencyKey, m.PreBalance, m.PostBalance, m.Description, m.CreatedAt)
}

// ==================== Reservations ====================

func (t *sqlTx) InsertReservation(ctx context.Context, r *reservation.Reservation) error {
	m := toReservationModel(r)
	if err := t.execOnce(ctx, `INSERT INTO credit_reservations
    (id, account_id, pool_id, request_id, total_micro, billing_mode, description, created_at, finalized_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
		m.ID, m.AccountID, m.PoolID, m.RequestID, m.Total, m.BillingMode, m.Description,
		m.CreatedAt, m.FinalizedAt); err != nil {
		return err
	}
	for i, d := range r.Allocations {
		if _, err := t.exec(ctx, `INSERT INTO credit_reservation_allocations
    (reservation_id, position, lot_id, amount_micro)
VALUES (?, ?, ?, ?)`,
			m.ID, i, d.LotID.String(), d.Amount.Int64()); err != nil {
			return t.wrap(err)
		}
	}
	return nil
}

func (t *sqlTx) FindReservationByRequest(ctx context.Context, accountID id.AccountID, requestID string) (*reservation.Reservation, error) {
	m := new(reservationModel)
	if err := t.get(ctx, m, `SELECT * FROM credit_reservations WHERE account_id = ? AND request_id = ?`,
		accountID.String(), requestID); err != nil {
		return nil, t.notFound(err, "reservation", requestID)
	}
	return t.withAllocations(ctx, m)
}

func (t *sqlTx) MarkReservationFinalized(ctx context.Context, reservationID id.ReservationID, at time.Time) error {
	res, err := t.exec(ctx, `UPDATE credit_reservations SET finalized_at = ?
WHERE id = ? AND finalized_at IS NULL`, toNanos(at), reservationID.String())
	if err != nil {
		return t.wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return t.wrap(err)
	}
	if n == 0 {
		if _, err := t.GetReservation(ctx, reservationID); err != nil {
			return err
		}
		return credits.ErrDuplicate
	}
	return nil
}

func (t *sqlTx) InsertFinalization(ctx context.Context, f *reservation.Finalization) error {
	m := toFinalizationModel(f)
	return t.execOnce(ctx, `INSERT INTO agent_budget_finalizations
    (id, account_id, pool_id, reservation_id, requested_micro, settled_micro, released_micro,
     outcome, reason, finalized_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (account_id, reservation_id) DO NOTHING`,
		m.ID, m.AccountID, m.PoolID, m.ReservationID, m.Requested, m.Settled, m.Released,
		m.Outcome, m.Reason, m.FinalizedAt)
}

// ==================== Budgets ====================

func (t *sqlTx) UpsertSpendingLimit(ctx context.Context, l *budget.SpendingLimit) error {
	m := toLimitModel(l)
	_, err := t.exec(ctx, `INSERT INTO agent_spending_limits
    (account_id, daily_cap_micro, current_spend_micro, window_start, window_seconds, circuit_state, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (account_id) DO UPDATE SET
    daily_cap_micro     = excluded.daily_cap_micro,
    current_spend_micro = excluded.current_spend_micro,
    window_start        = excluded.window_start,
    window_seconds      = excluded.window_seconds,
    circuit_state       = excluded.circuit_state,
    updated_at          = excluded.updated_at`,
		m.AccountID, m.DailyCap, m.CurrentSpend, m.WindowStart, m.WindowSeconds, m.CircuitState, m.UpdatedAt)
	return t.wrap(err)
}

// ==================== Transfers ====================

func (t *sqlTx) InsertTransfer(ctx context.Context, tr *transfer.Transfer) error {
	m := toTransferModel(tr)
	_, err := t.exec(ctx, `INSERT INTO transfers
    (id, from_account_id, to_account_id, pool_id, amount_micro, status, idempotency_key,
     description, created_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FromAccountID, m.ToAccountID, m.PoolID, m.Amount, m.Status, m.IdempotencyKey,
		m.Description, m.CreatedAt, m.CompletedAt)
	return t.wrap(err)
}

func (t *sqlTx) LastOutboundTransferAt(ctx context.Context, accountID id.AccountID) (time.Time, bool, error) {
	var last []int64
	if err := t.sel(ctx, &last, `SELECT created_at FROM transfers WHERE from_account_id = ?
ORDER BY created_at DESC LIMIT 1`, accountID.String()); err != nil {
		return time.Time{}, false, t.wrap(err)
	}
	if len(last) == 0 {
		return time.Time{}, false, nil
	}
	return fromNanos(last[0]), true, nil
}

// ==================== Deposits ====================

func (t *sqlTx) UpsertDeposit(ctx context.Context, d *deposit.Deposit) error {
	m := toDepositModel(d)
	_, err := t.exec(ctx, `INSERT INTO tba_deposits
    (id, account_id, pool_id, chain_id, tx_hash, from_address, block_number, amount_micro,
     status, lot_id, detected_at, bridged_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (chain_id, tx_hash) DO UPDATE SET
    status     = excluded.status,
    lot_id     = excluded.lot_id,
    bridged_at = excluded.bridged_at`,
		m.ID, m.AccountID, m.PoolID, m.ChainID, m.TxHash, m.FromAddress, m.BlockNumber, m.Amount,
		m.Status, m.LotID, m.DetectedAt, m.BridgedAt)
	return t.wrap(err)
}
