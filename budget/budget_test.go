package budget

import (
	"testing"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		spend types.Micro
		cap   types.Micro
		bps   int64
		want  CircuitState
	}{
		{"empty", 0, 1_000_000, 8000, CircuitClosed},
		{"just below warning", 799_999, 1_000_000, 8000, CircuitClosed},
		{"at warning", 800_000, 1_000_000, 8000, CircuitWarning},
		{"just below cap", 999_999, 1_000_000, 8000, CircuitWarning},
		{"at cap", 1_000_000, 1_000_000, 8000, CircuitOpen},
		{"over cap", 1_200_000, 1_000_000, 8000, CircuitOpen},
		{"custom threshold", 500_000, 1_000_000, 5000, CircuitWarning},
		{"invalid bps falls back", 800_000, 1_000_000, 0, CircuitWarning},
		{"zero cap", 0, 0, 8000, CircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.spend, tt.cap, tt.bps); got != tt.want {
				t.Errorf("Evaluate(%d, %d, %d): got %s, want %s", tt.spend, tt.cap, tt.bps, got, tt.want)
			}
		})
	}
}

func TestSpendingLimitWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := &SpendingLimit{DailyCap: 1_000_000, CurrentSpend: 300_000, WindowStart: start, Window: time.Hour}

	if !l.InWindow(start) {
		t.Error("window start should be inside the window")
	}
	if l.InWindow(start.Add(time.Hour)) {
		t.Error("window end should be outside the half-open window")
	}
	if l.InWindow(start.Add(-time.Nanosecond)) {
		t.Error("instant before start should be outside the window")
	}
	if l.Expired(start.Add(59 * time.Minute)) {
		t.Error("window should not be expired before its end")
	}
	if !l.Expired(start.Add(time.Hour)) {
		t.Error("window should be expired at its end")
	}
	if got := l.Headroom(); got != 700_000 {
		t.Errorf("Headroom: got %d, want 700000", got)
	}

	now := start.Add(3 * time.Hour)
	l.Roll(now)
	if !l.WindowStart.Equal(now) || l.CurrentSpend != 0 {
		t.Errorf("Roll: got start=%v spend=%d", l.WindowStart, l.CurrentSpend)
	}

	l.CurrentSpend = 1_500_000
	if got := l.Headroom(); got != 0 {
		t.Errorf("Headroom over cap: got %d, want 0", got)
	}
}

func TestCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(5 * time.Second).WithClock(func() time.Time { return now })
	acct := id.NewAccountID()

	if _, ok := c.Get(acct); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set(Status{AccountID: acct, Limited: true, State: CircuitWarning})
	got, ok := c.Get(acct)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.State != CircuitWarning || !got.Cached {
		t.Errorf("got state=%s cached=%v", got.State, got.Cached)
	}

	now = now.Add(5 * time.Second)
	if _, ok := c.Get(acct); ok {
		t.Error("expected entry to expire at ttl")
	}

	c.Set(Status{AccountID: acct, State: CircuitOpen})
	c.Invalidate(acct)
	if _, ok := c.Get(acct); ok {
		t.Error("expected miss after invalidate")
	}

	disabled := NewCache(0)
	disabled.Set(Status{AccountID: acct})
	if _, ok := disabled.Get(acct); ok {
		t.Error("disabled cache should never hit")
	}
}
