// Package budget implements the per-account windowed spend cap and its
// circuit breaker states.
package budget

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// DefaultWarningBps is the share of the cap, in basis points, at which the
// circuit moves to warning.
const DefaultWarningBps = 8000

// DefaultWindow is the spend window used when none is given.
const DefaultWindow = 24 * time.Hour

// CircuitState is the derived gate on further spend.
type CircuitState string

const (
	CircuitClosed  CircuitState = "closed"
	CircuitWarning CircuitState = "warning"
	CircuitOpen    CircuitState = "open"
)

// Valid reports whether s is a known circuit state.
func (s CircuitState) Valid() bool {
	return s == CircuitClosed || s == CircuitWarning || s == CircuitOpen
}

// SpendingLimit is the windowed cap on settled spend for one account.
// CurrentSpend caches the sum of finalizations inside
// [WindowStart, WindowStart+Window) and can always be recomputed.
type SpendingLimit struct {
	AccountID    id.AccountID  `json:"account_id"`
	DailyCap     types.Micro   `json:"daily_cap_micro"`
	CurrentSpend types.Micro   `json:"current_spend_micro"`
	WindowStart  time.Time     `json:"window_start"`
	Window       time.Duration `json:"window_duration"`
	CircuitState CircuitState  `json:"circuit_state"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// WindowEnd returns the exclusive end of the current window.
func (l *SpendingLimit) WindowEnd() time.Time {
	return l.WindowStart.Add(l.Window)
}

// InWindow reports whether t falls inside the half-open current window.
func (l *SpendingLimit) InWindow(t time.Time) bool {
	return !t.Before(l.WindowStart) && t.Before(l.WindowEnd())
}

// Expired reports whether the window has ended at now.
func (l *SpendingLimit) Expired(now time.Time) bool {
	return !now.Before(l.WindowEnd())
}

// Roll starts a fresh window at now. Spend is not carried over; the caller
// recomputes it from finalizations inside the new window.
func (l *SpendingLimit) Roll(now time.Time) {
	l.WindowStart = now
	l.CurrentSpend = 0
}

// Headroom returns how much more spend the cap allows, never negative.
func (l *SpendingLimit) Headroom() types.Micro {
	if l.CurrentSpend >= l.DailyCap {
		return 0
	}
	return l.DailyCap - l.CurrentSpend
}

// Evaluate derives the circuit state for spend against limit.
func Evaluate(spend, limit types.Micro, warningBps int64) CircuitState {
	if warningBps <= 0 || warningBps > 10_000 {
		warningBps = DefaultWarningBps
	}
	switch {
	case spend >= limit:
		return CircuitOpen
	case spend >= limit.Bps(warningBps):
		return CircuitWarning
	default:
		return CircuitClosed
	}
}

// Status is the answer to a budget check.
type Status struct {
	AccountID   id.AccountID `json:"account_id"`
	Limited     bool         `json:"limited"`
	State       CircuitState `json:"circuit_state"`
	DailyCap    types.Micro  `json:"daily_cap_micro"`
	Spent       types.Micro  `json:"current_spend_micro"`
	Headroom    types.Micro  `json:"headroom_micro"`
	WindowStart time.Time    `json:"window_start"`
	WindowEnd   time.Time    `json:"window_end"`
	Cached      bool         `json:"cached"`
}

// Unlimited returns the status of an account without a spending limit.
func Unlimited(accountID id.AccountID) Status {
	return Status{AccountID: accountID, State: CircuitClosed}
}

// StatusOf builds a status from a persisted limit.
func StatusOf(l *SpendingLimit) Status {
	return Status{
		AccountID:   l.AccountID,
		Limited:     true,
		State:       l.CircuitState,
		DailyCap:    l.DailyCap,
		Spent:       l.CurrentSpend,
		Headroom:    l.Headroom(),
		WindowStart: l.WindowStart,
		WindowEnd:   l.WindowEnd(),
	}
}
