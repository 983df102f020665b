package memory

import (
	"context"
	"sort"

	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transfer"
	"github.com/xraph/credits/types"
)

// ==================== Reconciliation reads ====================

// LotTotalsByAccount sums lot balances per account, ordered by account.
func (s *Store) LotTotalsByAccount(_ context.Context) ([]reconcile.LotTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byAccount := make(map[string]*reconcile.LotTotals)
	for _, l := range s.t.lots {
		k := l.AccountID.String()
		lt, ok := byAccount[k]
		if !ok {
			lt = &reconcile.LotTotals{AccountID: l.AccountID}
			byAccount[k] = lt
		}
		accounted, err := l.Accounted()
		if err != nil {
			return nil, err
		}
		if lt.Original, err = lt.Original.Add(l.Original); err != nil {
			return nil, err
		}
		if lt.Accounted, err = lt.Accounted.Add(accounted); err != nil {
			return nil, err
		}
	}

	result := make([]reconcile.LotTotals, 0, len(byAccount))
	for _, lt := range byAccount {
		result = append(result, *lt)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AccountID.String() < result[j].AccountID.String()
	})
	return result, nil
}

// ReceivableTotals summarizes outstanding receivables.
func (s *Store) ReceivableTotals(_ context.Context) (*reconcile.ReceivableTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.table(store.TableReceivables); err != nil {
		return nil, err
	}

	rt := &reconcile.ReceivableTotals{}
	ids := make([]string, 0)
	for k, r := range s.t.receivables {
		rt.Count++
		var err error
		if rt.Original, err = rt.Original.Add(r.Original); err != nil {
			return nil, err
		}
		if rt.Outstanding, err = rt.Outstanding.Add(r.Balance); err != nil {
			return nil, err
		}
		if r.Balance > r.Original {
			ids = append(ids, k)
		}
	}
	sort.Strings(ids)
	for _, k := range ids {
		rt.Overdrawn = append(rt.Overdrawn, s.t.receivables[k].ID)
	}
	return rt, nil
}

// OrphanTransfers returns completed transfers without a transfer_in lot.
func (s *Store) OrphanTransfers(_ context.Context) ([]*transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.table(store.TableTransfers); err != nil {
		return nil, err
	}

	sourced := make(map[string]bool)
	for _, l := range s.t.lots {
		if l.SourceType == lot.SourceTransferIn {
			sourced[l.SourceID] = true
		}
	}

	result := make([]*transfer.Transfer, 0)
	for _, tr := range s.t.transfers {
		if tr.Status == transfer.StatusCompleted && !sourced[tr.ID.String()] {
			result = append(result, &tr)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return result, nil
}

// SumCompletedTransfers sums the amounts of completed transfers.
func (s *Store) SumCompletedTransfers(_ context.Context) (types.Micro, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.table(store.TableTransfers); err != nil {
		return 0, err
	}

	var total types.Micro
	for _, tr := range s.t.transfers {
		if tr.Status != transfer.StatusCompleted {
			continue
		}
		next, err := total.Add(tr.Amount)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// SumEntryMagnitudes sums |amount| over entries of type t.
func (s *Store) SumEntryMagnitudes(_ context.Context, t journal.EntryType) (types.Micro, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total types.Micro
	for _, e := range s.t.entries {
		if e.Type != t {
			continue
		}
		mag, err := e.Amount.Abs()
		if err != nil {
			return 0, err
		}
		if total, err = total.Add(mag); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// SumBridgedDeposits sums the amounts of bridged deposits.
func (s *Store) SumBridgedDeposits(_ context.Context) (types.Micro, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.table(store.TableDeposits); err != nil {
		return 0, err
	}

	var total types.Micro
	for _, d := range s.t.deposits {
		if d.Status != deposit.StatusBridged {
			continue
		}
		next, err := total.Add(d.Amount)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// SumLotOriginals sums the original amounts of lots minted by source.
func (s *Store) SumLotOriginals(_ context.Context, source lot.SourceType) (types.Micro, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total types.Micro
	for _, l := range s.t.lots {
		if l.SourceType != source {
			continue
		}
		next, err := total.Add(l.Original)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// ==================== Test seams ====================

// CorruptLot overwrites a lot's balances without any checks. It exists so
// tests can exercise reconciliation against inconsistent state.
func (s *Store) CorruptLot(lotID id.LotID, available, reserved, consumed types.Micro) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.t.lots[lotID.String()]
	if !ok {
		return false
	}
	l.Available, l.Reserved, l.Consumed = available, reserved, consumed
	s.t.lots[lotID.String()] = l
	return true
}
