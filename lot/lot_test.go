package lot

import (
	"testing"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

func TestLotConserved(t *testing.T) {
	tests := []struct {
		name string
		lot  Lot
		want bool
	}{
		{"fresh", Lot{Original: 100, Available: 100}, true},
		{"split", Lot{Original: 100, Available: 50, Reserved: 30, Consumed: 20}, true},
		{"expired gap", Lot{Original: 100, Available: 10, Consumed: 20}, true},
		{"inflated reserve", Lot{Original: 100, Available: 50, Reserved: 60}, false},
		{"negative available", Lot{Original: 100, Available: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.lot.Conserved(); got != tt.want {
				t.Errorf("Conserved: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLotSpendable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		lot  Lot
		want bool
	}{
		{"no expiry", Lot{Available: 1}, true},
		{"empty", Lot{Available: 0}, false},
		{"expires later", Lot{Available: 1, ExpiresAt: &future}, true},
		{"expired", Lot{Available: 1, ExpiresAt: &past}, false},
		{"expires exactly now", Lot{Available: 1, ExpiresAt: &now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.lot.Spendable(now); got != tt.want {
				t.Errorf("Spendable: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanDraw(t *testing.T) {
	a := &Lot{ID: id.NewLotID(), Available: 300}
	b := &Lot{ID: id.NewLotID(), Available: 0}
	c := &Lot{ID: id.NewLotID(), Available: 500}

	draws, total, err := PlanDraw([]*Lot{a, b, c}, 400)
	if err != nil {
		t.Fatal(err)
	}
	if total != 800 {
		t.Errorf("total: got %d, want 800", total)
	}
	if len(draws) != 2 {
		t.Fatalf("draws: got %d, want 2", len(draws))
	}
	if draws[0].LotID != a.ID || draws[0].Amount != 300 {
		t.Errorf("first draw: got %v/%d, want %v/300", draws[0].LotID, draws[0].Amount, a.ID)
	}
	if draws[1].LotID != c.ID || draws[1].Amount != 100 {
		t.Errorf("second draw: got %v/%d, want %v/100", draws[1].LotID, draws[1].Amount, c.ID)
	}
	if a.Available != 300 || c.Available != 500 {
		t.Error("PlanDraw must not modify lots")
	}

	draws, total, err = PlanDraw([]*Lot{a, c}, types.Micro(801))
	if err != nil {
		t.Fatal(err)
	}
	if draws != nil || total != 800 {
		t.Errorf("short: got draws=%v total=%d, want nil/800", draws, total)
	}
}
