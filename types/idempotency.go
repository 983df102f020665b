package types

import "strings"

// Idempotency key scopes. A key is "<scope>:<part>[:<part>...]" and is
// globally unique across the journal.
const (
	ScopeReserve       = "reserve"
	ScopeFinalize      = "finalize"
	ScopeRelease       = "release"
	ScopeTransferOut   = "transfer_out"
	ScopeTransferIn    = "transfer_in"
	ScopeTBADeposit    = "tba_deposit"
	ScopeReferralBonus = "referral_bonus"
)

// IdempotencyKey joins a scope and its parts into a key.
func IdempotencyKey(scope string, parts ...string) string {
	if len(parts) == 0 {
		return scope
	}
	return scope + ":" + strings.Join(parts, ":")
}

// KeyScope returns the scope portion of an idempotency key.
func KeyScope(key string) string {
	scope, _, _ := strings.Cut(key, ":")
	return scope
}
