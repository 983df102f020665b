package journal

import "context"

// Store defines read access to the journal outside of a ledger transaction.
type Store interface {
	ListEntries(ctx context.Context, opts ListOpts) ([]*Entry, error)
	FindEntryByIdempotencyKey(ctx context.Context, key string) (*Entry, error)
}
