package transfer

import (
	"context"

	"github.com/xraph/credits/id"
)

// Store defines read access to transfers.
type Store interface {
	GetTransfer(ctx context.Context, transferID id.TransferID) (*Transfer, error)
	FindTransferByIdempotencyKey(ctx context.Context, key string) (*Transfer, error)
}
