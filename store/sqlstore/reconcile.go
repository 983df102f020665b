package sqlstore

import (
	"context"

	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transfer"
	"github.com/xraph/credits/types"
)

// Compile-time checks.
var (
	_ store.Store      = (*Store)(nil)
	_ reconcile.Reader = (*Store)(nil)
)

// ==================== Reconciliation reads ====================

// LotTotalsByAccount sums lot balances per account, ordered by account.
func (s *Store) LotTotalsByAccount(ctx context.Context) ([]reconcile.LotTotals, error) {
	var rows []struct {
		AccountID string `db:"account_id"`
		Original  int64  `db:"original_micro"`
		Accounted int64  `db:"accounted_micro"`
	}
	if err := s.sel(ctx, &rows, `SELECT
    account_id,
    CAST(COALESCE(SUM(original_micro), 0) AS BIGINT) AS original_micro,
    CAST(COALESCE(SUM(available_micro + reserved_micro + consumed_micro), 0) AS BIGINT) AS accounted_micro
FROM credit_lots
GROUP BY account_id
ORDER BY account_id ASC`); err != nil {
		return nil, s.wrap(err)
	}

	result := make([]reconcile.LotTotals, 0, len(rows))
	for _, r := range rows {
		accountID, err := id.ParseAccountID(r.AccountID)
		if err != nil {
			return nil, err
		}
		result = append(result, reconcile.LotTotals{
			AccountID: accountID,
			Original:  types.Micro(r.Original),
			Accounted: types.Micro(r.Accounted),
		})
	}
	return result, nil
}

// ReceivableTotals summarizes outstanding receivables.
func (s *Store) ReceivableTotals(ctx context.Context) (*reconcile.ReceivableTotals, error) {
	if err := s.optional(ctx, store.TableReceivables); err != nil {
		return nil, err
	}

	var row struct {
		Count       int64 `db:"n"`
		Original    int64 `db:"original_micro"`
		Outstanding int64 `db:"balance_micro"`
	}
	if err := s.get(ctx, &row, `SELECT
    COUNT(*) AS n,
    CAST(COALESCE(SUM(original_micro), 0) AS BIGINT) AS original_micro,
    CAST(COALESCE(SUM(balance_micro), 0) AS BIGINT) AS balance_micro
FROM credit_receivables`); err != nil {
		return nil, s.wrap(err)
	}

	var overdrawn []string
	if err := s.sel(ctx, &overdrawn,
		`SELECT id FROM credit_receivables WHERE balance_micro > original_micro ORDER BY id ASC`); err != nil {
		return nil, s.wrap(err)
	}

	rt := &reconcile.ReceivableTotals{
		Count:       row.Count,
		Original:    types.Micro(row.Original),
		Outstanding: types.Micro(row.Outstanding),
	}
	for _, raw := range overdrawn {
		rid, err := id.ParseReceivableID(raw)
		if err != nil {
			return nil, err
		}
		rt.Overdrawn = append(rt.Overdrawn, rid)
	}
	return rt, nil
}

// OrphanTransfers returns completed transfers without a transfer_in lot.
func (s *Store) OrphanTransfers(ctx context.Context) ([]*transfer.Transfer, error) {
	if err := s.optional(ctx, store.TableTransfers); err != nil {
		return nil, err
	}

	var ms []transferModel
	if err := s.sel(ctx, &ms, `SELECT t.* FROM transfers t
WHERE t.status = ?
  AND NOT EXISTS (
    SELECT 1 FROM credit_lots l
    WHERE l.source_type = ? AND l.source_id = t.id
  )
ORDER BY t.id ASC`,
		string(transfer.StatusCompleted), string(lot.SourceTransferIn)); err != nil {
		return nil, s.wrap(err)
	}

	result := make([]*transfer.Transfer, 0, len(ms))
	for i := range ms {
		t, err := fromTransferModel(&ms[i])
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

// SumCompletedTransfers sums the amounts of completed transfers.
func (s *Store) SumCompletedTransfers(ctx context.Context) (types.Micro, error) {
	if err := s.optional(ctx, store.TableTransfers); err != nil {
		return 0, err
	}
	return s.sum(ctx, `SELECT CAST(COALESCE(SUM(amount_micro), 0) AS BIGINT) FROM transfers WHERE status = ?`,
		string(transfer.StatusCompleted))
}

// SumEntryMagnitudes sums |amount| over entries of type t.
func (s *Store) SumEntryMagnitudes(ctx context.Context, t journal.EntryType) (types.Micro, error) {
	return s.sum(ctx, `SELECT CAST(COALESCE(SUM(ABS(amount_micro)), 0) AS BIGINT) FROM credit_ledger WHERE entry_type = ?`,
		string(t))
}

// SumBridgedDeposits sums the amounts of bridged deposits.
func (s *Store) SumBridgedDeposits(ctx context.Context) (types.Micro, error) {
	if err := s.optional(ctx, store.TableDeposits); err != nil {
		return 0, err
	}
	return s.sum(ctx, `SELECT CAST(COALESCE(SUM(amount_micro), 0) AS BIGINT) FROM tba_deposits WHERE status = ?`,
		string(deposit.StatusBridged))
}

// SumLotOriginals sums the original amounts of lots minted by source.
func (s *Store) SumLotOriginals(ctx context.Context, source lot.SourceType) (types.Micro, error) {
	return s.sum(ctx, `SELECT CAST(COALESCE(SUM(original_micro), 0) AS BIGINT) FROM credit_lots WHERE source_type = ?`,
		string(source))
}
