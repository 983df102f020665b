package lot

import (
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Draw is one lot's share of a drawdown.
type Draw struct {
	LotID  id.LotID    `json:"lot_id"`
	Amount types.Micro `json:"amount_micro"`
}

// PlanDraw walks lots in the given order and takes from each lot's Available
// until amount is covered. It returns the draws and the total available
// across lots. When the total is short of amount the draws are nil. The lots
// are not modified.
func PlanDraw(lots []*Lot, amount types.Micro) ([]Draw, types.Micro, error) {
	var total types.Micro
	for _, l := range lots {
		if l.Available <= 0 {
			continue
		}
		next, err := total.Add(l.Available)
		if err != nil {
			return nil, 0, err
		}
		total = next
	}
	if total < amount {
		return nil, total, nil
	}

	draws := make([]Draw, 0, len(lots))
	remaining := amount
	for _, l := range lots {
		if remaining == 0 {
			break
		}
		if l.Available <= 0 {
			continue
		}
		take := types.Min(l.Available, remaining)
		draws = append(draws, Draw{LotID: l.ID, Amount: take})
		remaining -= take
	}
	return draws, total, nil
}
