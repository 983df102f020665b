package deposit

import "context"

// Store defines read access to bridged deposits.
type Store interface {
	GetDepositByTxHash(ctx context.Context, chainID int64, txHash string) (*Deposit, error)
}
