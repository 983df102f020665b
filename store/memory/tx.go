package memory

import (
	"context"
	"slices"
	"sort"
	"strconv"
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

// tx operates directly on the store tables while RunInTx holds the mutex.
type tx struct {
	s *Store
}

var _ store.Tx = (*tx)(nil)

func poolKey(accountID id.AccountID, poolID string) string {
	return accountID.String() + "/" + poolID
}

func depositKey(chainID int64, txHash string) string {
	return strconv.FormatInt(chainID, 10) + ":" + txHash
}

// ==================== Accounts ====================

func (t *tx) EnsureAccount(_ context.Context, a *account.Account) (*account.Account, error) {
	if existing, ok := t.s.t.accounts[a.ID.String()]; ok {
		return &existing, nil
	}
	t.s.t.accounts[a.ID.String()] = *a
	stored := *a
	return &stored, nil
}

func (t *tables) getAccount(accountID id.AccountID) (*account.Account, error) {
	a, ok := t.accounts[accountID.String()]
	if !ok {
		return nil, credits.NotFound("account", accountID.String())
	}
	return &a, nil
}

// ==================== Lots ====================

func (t *tx) InsertLot(_ context.Context, l *lot.Lot) error {
	if _, ok := t.s.t.lots[l.ID.String()]; ok {
		return credits.ErrDuplicate
	}
	t.s.t.lots[l.ID.String()] = *l
	return nil
}

func (t *tx) GetLot(_ context.Context, lotID id.LotID) (*lot.Lot, error) {
	return t.s.t.getLot(lotID)
}

func (t *tx) UpdateLotBalances(_ context.Context, l *lot.Lot) error {
	stored, ok := t.s.t.lots[l.ID.String()]
	if !ok {
		return credits.NotFound("lot", l.ID.String())
	}
	stored.Available = l.Available
	stored.Reserved = l.Reserved
	stored.Consumed = l.Consumed
	t.s.t.lots[l.ID.String()] = stored
	return nil
}

func (t *tx) ListSpendableLots(_ context.Context, accountID id.AccountID, poolID string, now time.Time) ([]*lot.Lot, error) {
	result := make([]*lot.Lot, 0)
	for _, l := range t.s.t.sortedLots() {
		if l.AccountID == accountID && l.PoolID == poolID && l.Spendable(now) {
			result = append(result, l)
		}
	}
	return result, nil
}

func (t *tx) FindLotBySource(_ context.Context, sourceType lot.SourceType, sourceID string) (*lot.Lot, error) {
	for _, l := range t.s.t.sortedLots() {
		if l.SourceType == sourceType && l.SourceID == sourceID {
			return l, nil
		}
	}
	return nil, credits.NotFound("lot", string(sourceType)+":"+sourceID)
}

func (t *tx) AvailableBalance(_ context.Context, accountID id.AccountID, poolID string, now time.Time) (types.Micro, error) {
	var total types.Micro
	for _, l := range t.s.t.lots {
		if l.AccountID != accountID || l.PoolID != poolID || l.Expired(now) {
			continue
		}
		next, err := total.Add(l.Available)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

func (t *tables) getLot(lotID id.LotID) (*lot.Lot, error) {
	l, ok := t.lots[lotID.String()]
	if !ok {
		return nil, credits.NotFound("lot", lotID.String())
	}
	return &l, nil
}

// sortedLots returns copies of all lots, oldest first.
func (t *tables) sortedLots() []*lot.Lot {
	result := make([]*lot.Lot, 0, len(t.lots))
	for _, l := range t.lots {
		result = append(result, &l)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result
}

// ==================== Journal ====================

func (t *tx) NextEntrySeq(_ context.Context, accountID id.AccountID, poolID string) (int64, error) {
	return t.s.t.entrySeqs[poolKey(accountID, poolID)] + 1, nil
}

func (t *tx) InsertEntry(_ context.Context, e *journal.Entry) error {
	tb := &t.s.t
	if e.IdempotencyKey != "" {
		if _, ok := tb.entryKeys[e.IdempotencyKey]; ok {
			return credits.ErrDuplicate
		}
	}
	k := poolKey(e.AccountID, e.PoolID)
	if e.Seq <= tb.entrySeqs[k] {
		return credits.ErrDuplicate
	}

	tb.entries = append(tb.entries, *e)
	if e.IdempotencyKey != "" {
		tb.entryKeys[e.IdempotencyKey] = len(tb.entries) - 1
	}
	tb.entrySeqs[k] = e.Seq
	return nil
}

func (t *tx) FindEntryByIdempotencyKey(_ context.Context, key string) (*journal.Entry, error) {
	return t.s.t.findEntry(key)
}

func (t *tables) findEntry(key string) (*journal.Entry, error) {
	i, ok := t.entryKeys[key]
	if !ok {
		return nil, credits.NotFound("entry", key)
	}
	e := t.entries[i]
	return &e, nil
}

// ==================== Reservations ====================

func (t *tx) InsertReservation(_ context.Context, r *reservation.Reservation) error {
	tb := &t.s.t
	rk := poolKey(r.AccountID, r.RequestID)
	if _, ok := tb.requests[rk]; ok {
		return credits.ErrDuplicate
	}
	if _, ok := tb.reservations[r.ID.String()]; ok {
		return credits.ErrDuplicate
	}
	cp := *r
	cp.Allocations = slices.Clone(r.Allocations)
	tb.reservations[r.ID.String()] = cp
	tb.requests[rk] = r.ID.String()
	return nil
}

func (t *tx) GetReservation(_ context.Context, reservationID id.ReservationID) (*reservation.Reservation, error) {
	return t.s.t.getReservation(reservationID)
}

func (t *tx) FindReservationByRequest(_ context.Context, accountID id.AccountID, requestID string) (*reservation.Reservation, error) {
	rid, ok := t.s.t.requests[poolKey(accountID, requestID)]
	if !ok {
		return nil, credits.NotFound("reservation", requestID)
	}
	r := t.s.t.reservations[rid]
	r.Allocations = slices.Clone(r.Allocations)
	return &r, nil
}

func (t *tx) MarkReservationFinalized(_ context.Context, reservationID id.ReservationID, at time.Time) error {
	r, ok := t.s.t.reservations[reservationID.String()]
	if !ok {
		return credits.NotFound("reservation", reservationID.String())
	}
	if r.FinalizedAt != nil {
		return credits.ErrDuplicate
	}
	r.FinalizedAt = &at
	t.s.t.reservations[reservationID.String()] = r
	return nil
}

func (t *tx) InsertFinalization(_ context.Context, f *reservation.Finalization) error {
	k := poolKey(f.AccountID, f.ReservationID.String())
	if _, ok := t.s.t.finalizations[k]; ok {
		return credits.ErrDuplicate
	}
	t.s.t.finalizations[k] = *f
	return nil
}

func (t *tx) GetFinalization(_ context.Context, accountID id.AccountID, reservationID id.ReservationID) (*reservation.Finalization, error) {
	return t.s.t.getFinalization(accountID, reservationID)
}

func (t *tables) getReservation(reservationID id.ReservationID) (*reservation.Reservation, error) {
	r, ok := t.reservations[reservationID.String()]
	if !ok {
		return nil, credits.NotFound("reservation", reservationID.String())
	}
	r.Allocations = slices.Clone(r.Allocations)
	return &r, nil
}

func (t *tables) getFinalization(accountID id.AccountID, reservationID id.ReservationID) (*reservation.Finalization, error) {
	f, ok := t.finalizations[poolKey(accountID, reservationID.String())]
	if !ok {
		return nil, credits.NotFound("finalization", reservationID.String())
	}
	return &f, nil
}

// ==================== Budgets ====================

func (t *tx) GetSpendingLimit(_ context.Context, accountID id.AccountID) (*budget.SpendingLimit, error) {
	return t.s.t.getLimit(accountID)
}

func (t *tx) UpsertSpendingLimit(_ context.Context, l *budget.SpendingLimit) error {
	t.s.t.limits[l.AccountID.String()] = *l
	return nil
}

func (t *tx) SumSettled(_ context.Context, accountID id.AccountID, from, to time.Time) (types.Micro, error) {
	return t.s.t.sumSettled(accountID, from, to)
}

// SumSettled sums finalizations of the account inside [from, to).
func (s *Store) SumSettled(_ context.Context, accountID id.AccountID, from, to time.Time) (types.Micro, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t.sumSettled(accountID, from, to)
}

func (t *tables) getLimit(accountID id.AccountID) (*budget.SpendingLimit, error) {
	l, ok := t.limits[accountID.String()]
	if !ok {
		return nil, credits.NotFound("spending limit", accountID.String())
	}
	return &l, nil
}

func (t *tables) sumSettled(accountID id.AccountID, from, to time.Time) (types.Micro, error) {
	var total types.Micro
	for _, f := range t.finalizations {
		if f.AccountID != accountID || f.FinalizedAt.Before(from) || !f.FinalizedAt.Before(to) {
			continue
		}
		next, err := total.Add(f.Settled)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// ==================== Transfers ====================

func (t *tx) InsertTransfer(_ context.Context, tr *transfer.Transfer) error {
	if err := t.s.table(store.TableTransfers); err != nil {
		return err
	}
	if _, ok := t.s.t.transferKeys[tr.IdempotencyKey]; ok {
		return credits.ErrDuplicate
	}
	t.s.t.transfers[tr.ID.String()] = *tr
	t.s.t.transferKeys[tr.IdempotencyKey] = tr.ID.String()
	return nil
}

func (t *tx) FindTransferByIdempotencyKey(_ context.Context, key string) (*transfer.Transfer, error) {
	if err := t.s.table(store.TableTransfers); err != nil {
		return nil, err
	}
	return t.s.t.findTransfer(key)
}

func (t *tx) LastOutboundTransferAt(_ context.Context, accountID id.AccountID) (time.Time, bool, error) {
	if err := t.s.table(store.TableTransfers); err != nil {
		return time.Time{}, false, err
	}
	var last time.Time
	found := false
	for _, tr := range t.s.t.transfers {
		if tr.FromAccountID == accountID && (!found || tr.CreatedAt.After(last)) {
			last, found = tr.CreatedAt, true
		}
	}
	return last, found, nil
}

func (t *tables) findTransfer(key string) (*transfer.Transfer, error) {
	tid, ok := t.transferKeys[key]
	if !ok {
		return nil, credits.NotFound("transfer", key)
	}
	tr := t.transfers[tid]
	return &tr, nil
}

// ==================== Deposits ====================

func (t *tx) GetDepositByTxHash(_ context.Context, chainID int64, txHash string) (*deposit.Deposit, error) {
	if err := t.s.table(store.TableDeposits); err != nil {
		return nil, err
	}
	return t.s.t.getDeposit(chainID, txHash)
}

func (t *tx) UpsertDeposit(_ context.Context, d *deposit.Deposit) error {
	if err := t.s.table(store.TableDeposits); err != nil {
		return err
	}
	t.s.t.deposits[depositKey(d.ChainID, d.TxHash)] = *d
	return nil
}

func (t *tables) getDeposit(chainID int64, txHash string) (*deposit.Deposit, error) {
	d, ok := t.deposits[depositKey(chainID, txHash)]
	if !ok {
		return nil, credits.NotFound("deposit", txHash)
	}
	return &d, nil
}
