package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/governance"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/types"
)

// SetSpendingLimit sets the account's windowed spend cap. A zero window uses
// the governed default. The current window is kept when its duration does
// not change; spend is always recomputed from finalizations.
func (l *Ledger) SetSpendingLimit(ctx context.Context, accountID id.AccountID, dailyCap types.Micro, window time.Duration) (*budget.SpendingLimit, error) {
	switch {
	case accountID.IsNil():
		return nil, Invalid("account_id", "is required")
	case dailyCap < 0:
		return nil, Invalid("daily_cap", "must not be negative, got %s", dailyCap)
	case window < 0:
		return nil, Invalid("window", "must not be negative, got %s", window)
	}
	if window == 0 {
		window = l.params.Seconds(ctx, governance.KeyBudgetWindowSeconds)
	}
	warningBps := l.params.Int(ctx, governance.KeyBudgetWarningBps)
	now := l.clock()

	var (
		limit *budget.SpendingLimit
		prev  budget.CircuitState
	)
	err := l.store.RunInTx(ctx, []store.LockKey{store.AccountKey(accountID)}, func(ctx context.Context, tx store.Tx) error {
		limit = &budget.SpendingLimit{
			AccountID:   accountID,
			DailyCap:    dailyCap,
			WindowStart: now,
			Window:      window,
		}

		existing, err := tx.GetSpendingLimit(ctx, accountID)
		switch {
		case err == nil:
			prev = existing.CircuitState
			if existing.Window == window && existing.InWindow(now) {
				limit.WindowStart = existing.WindowStart
			}
		case !IsNotFound(err):
			return err
		}

		spent, err := tx.SumSettled(ctx, accountID, limit.WindowStart, limit.WindowEnd())
		if err != nil {
			return err
		}
		limit.CurrentSpend = spent
		limit.CircuitState = budget.Evaluate(spent, dailyCap, warningBps)
		limit.UpdatedAt = now
		return tx.UpsertSpendingLimit(ctx, limit)
	})
	if err != nil {
		return nil, err
	}

	status := budget.StatusOf(limit)
	l.cache.Set(status)
	l.emitBudgetTransition(ctx, prev, status)

	l.logger.Info("spending limit set",
		"account_id", accountID.String(),
		"daily_cap", dailyCap,
		"window", window,
		"circuit_state", limit.CircuitState,
	)
	return limit, nil
}

// CheckBudget returns the account's budget status. Answers may come from
// the advisory cache and be up to its TTL stale; Finalize never relies on
// them.
func (l *Ledger) CheckBudget(ctx context.Context, accountID id.AccountID) (budget.Status, error) {
	if accountID.IsNil() {
		return budget.Status{}, Invalid("account_id", "is required")
	}
	if s, ok := l.cache.Get(accountID); ok {
		return s, nil
	}

	limit, err := l.store.GetSpendingLimit(ctx, accountID)
	if IsNotFound(err) {
		s := budget.Unlimited(accountID)
		l.cache.Set(s)
		return s, nil
	}
	if err != nil {
		return budget.Status{}, err
	}

	now := l.clock()
	view := *limit
	if view.Expired(now) {
		view.Roll(now)
	}
	spent, err := l.store.SumSettled(ctx, accountID, view.WindowStart, view.WindowEnd())
	if err != nil {
		return budget.Status{}, err
	}
	view.CurrentSpend = spent
	view.CircuitState = budget.Evaluate(spent, view.DailyCap, l.params.Int(ctx, governance.KeyBudgetWarningBps))

	s := budget.StatusOf(&view)
	l.cache.Set(s)
	return s, nil
}

// settleBudget recomputes the account's windowed spend from finalizations,
// clamps actual to the remaining headroom and records the new spend. It
// returns a nil limit when the account has none.
func (l *Ledger) settleBudget(ctx context.Context, tx store.Tx, accountID id.AccountID, actual types.Micro, warningBps int64, now time.Time) (*budget.SpendingLimit, budget.CircuitState, types.Micro, string, error) {
	limit, err := tx.GetSpendingLimit(ctx, accountID)
	if IsNotFound(err) {
		return nil, "", actual, "", nil
	}
	if err != nil {
		return nil, "", 0, "", err
	}

	prev := limit.CircuitState
	if !limit.InWindow(now) {
		limit.Roll(now)
	}

	spent, err := tx.SumSettled(ctx, accountID, limit.WindowStart, limit.WindowEnd())
	if err != nil {
		return nil, "", 0, "", err
	}
	headroom := types.Max(limit.DailyCap-spent, 0)

	settled, reason := actual, ""
	if actual > headroom {
		settled = headroom
		reason = fmt.Sprintf("daily cap %s reached: spent %s, headroom %s, requested %s",
			limit.DailyCap, spent, headroom, actual)
	}

	if limit.CurrentSpend, err = spent.Add(settled); err != nil {
		return nil, "", 0, "", err
	}
	limit.CircuitState = budget.Evaluate(limit.CurrentSpend, limit.DailyCap, warningBps)
	limit.UpdatedAt = now
	if err := tx.UpsertSpendingLimit(ctx, limit); err != nil {
		return nil, "", 0, "", err
	}
	return limit, prev, settled, reason, nil
}

// emitBudgetTransition fires budget events when the circuit moves into
// warning or open.
func (l *Ledger) emitBudgetTransition(ctx context.Context, prev budget.CircuitState, status budget.Status) {
	if status.State == prev {
		return
	}
	switch status.State {
	case budget.CircuitWarning:
		l.logger.Warn("agent budget warning",
			"account_id", status.AccountID.String(),
			"spent", status.Spent,
			"daily_cap", status.DailyCap,
		)
		l.plugins.EmitBudgetWarning(ctx, status)
	case budget.CircuitOpen:
		l.logger.Warn("agent budget exhausted",
			"account_id", status.AccountID.String(),
			"spent", status.Spent,
			"daily_cap", status.DailyCap,
		)
		l.plugins.EmitBudgetExhausted(ctx, status)
	}
}
