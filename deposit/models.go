// Package deposit defines on-chain deposits bridged into credit lots and the
// verifier capability that checks them before any ledger write.
package deposit

import (
	"context"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Status is the bridge state of a deposit.
type Status string

const (
	StatusPending Status = "pending"
	StatusBridged Status = "bridged"
	StatusFailed  Status = "failed"
)

// Deposit is an on-chain transfer credited to an account. Once bridged it
// references the tba_deposit lot it minted.
type Deposit struct {
	ID          id.DepositID `json:"id"`
	AccountID   id.AccountID `json:"account_id"`
	PoolID      string       `json:"pool_id"`
	ChainID     int64        `json:"chain_id"`
	TxHash      string       `json:"tx_hash"`
	FromAddress string       `json:"from_address,omitempty"`
	BlockNumber uint64       `json:"block_number"`
	Amount      types.Micro  `json:"amount_micro"`
	Status      Status       `json:"status"`
	LotID       id.LotID     `json:"lot_id,omitzero"`
	DetectedAt  time.Time    `json:"detected_at"`
	BridgedAt   *time.Time   `json:"bridged_at,omitempty"`
}

// Receipt is the verified result of inspecting a deposit transaction.
type Receipt struct {
	ChainID       int64
	TxHash        string
	BlockNumber   uint64
	Confirmations uint64
	Success       bool
	FromAddress   string
	ToAddress     string
	// Amount is the matched token transfer value in micro-USD.
	Amount types.Micro
}

// Verifier independently checks a deposit transaction receipt: success
// status, block match, a matching token Transfer log and finality depth.
// It is called before the minting transaction begins and never while a
// ledger lock is held.
type Verifier interface {
	Verify(ctx context.Context, chainID int64, txHash string) (*Receipt, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, chainID int64, txHash string) (*Receipt, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, chainID int64, txHash string) (*Receipt, error) {
	return f(ctx, chainID, txHash)
}
