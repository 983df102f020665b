// Package transfer defines peer credit transfers between accounts.
package transfer

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transfer moves credit from one account pool to another. A completed
// transfer has exactly one transfer_in lot on the receiving side, sourced by
// the transfer ID, and one transfer_out entry on the sending side.
type Transfer struct {
	ID             id.TransferID `json:"id"`
	FromAccountID  id.AccountID  `json:"from_account_id"`
	ToAccountID    id.AccountID  `json:"to_account_id"`
	PoolID         string        `json:"pool_id"`
	Amount         types.Micro   `json:"amount_micro"`
	Status         Status        `json:"status"`
	IdempotencyKey string        `json:"idempotency_key"`
	Description    string        `json:"description,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}
