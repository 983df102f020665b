package credits

import (
	"context"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/receivable"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/types"
)

// MintOpts are the optional parameters of MintLot.
type MintOpts struct {
	PoolID      string
	SourceID    string
	Description string
	// IdempotencyKey makes the mint at-most-once: a repeat returns the
	// original lot.
	IdempotencyKey string
	ExpiresAt      *time.Time
	// EntityType and ExternalRef describe the account when this mint
	// creates it. EntityType defaults to user.
	EntityType  account.EntityType
	ExternalRef string
}

// entryTypeFor maps a lot source to the journal entry that records it.
func entryTypeFor(source lot.SourceType) journal.EntryType {
	switch source {
	case lot.SourceGrant:
		return journal.EntryGrant
	case lot.SourceTransferIn:
		return journal.EntryTransferIn
	default:
		return journal.EntryDeposit
	}
}

// MintLot creates one lot and its minting entry in one transaction.
func (l *Ledger) MintLot(ctx context.Context, accountID id.AccountID, amount types.Micro, source lot.SourceType, opts MintOpts) (*lot.Lot, error) {
	opts.PoolID = l.pool(opts.PoolID)
	now := l.clock()
	if err := validateMint(accountID, amount, source, opts, now); err != nil {
		return nil, err
	}

	var (
		minted *lot.Lot
		replay bool
	)
	err := l.store.RunInTx(ctx, []store.LockKey{store.PoolKey(accountID, opts.PoolID)}, func(ctx context.Context, tx store.Tx) error {
		var err error
		minted, replay, err = l.mintInTx(ctx, tx, accountID, amount, source, opts, now)
		return err
	})
	if isDuplicate(err) && opts.IdempotencyKey != "" {
		return l.mintedBy(ctx, accountID, opts.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}

	if !replay {
		l.logger.Debug("lot minted",
			"account_id", accountID.String(),
			"pool_id", opts.PoolID,
			"lot_id", minted.ID.String(),
			"source_type", source,
			"amount", amount,
		)
		l.plugins.EmitLotMinted(ctx, minted)
	}
	return minted, nil
}

func validateMint(accountID id.AccountID, amount types.Micro, source lot.SourceType, opts MintOpts, now time.Time) error {
	switch {
	case accountID.IsNil():
		return Invalid("account_id", "is required")
	case amount <= 0:
		return Invalid("amount", "must be positive, got %s", amount)
	case !source.Valid():
		return Invalid("source_type", "unknown source %q", source)
	case opts.EntityType != "" && !opts.EntityType.Valid():
		return Invalid("entity_type", "unknown entity type %q", opts.EntityType)
	case opts.ExpiresAt != nil && !opts.ExpiresAt.After(now):
		return Invalid("expires_at", "must be in the future")
	}
	return nil
}

// mintInTx writes a lot and its entry using tx. replay is true when the
// idempotency key was already used and the existing lot is returned.
func (l *Ledger) mintInTx(ctx context.Context, tx store.Tx, accountID id.AccountID, amount types.Micro, source lot.SourceType, opts MintOpts, now time.Time) (*lot.Lot, bool, error) {
	if opts.IdempotencyKey != "" {
		prior, err := tx.FindEntryByIdempotencyKey(ctx, opts.IdempotencyKey)
		if err == nil {
			if err := mintKeyOwner(prior, accountID); err != nil {
				return nil, false, err
			}
			existing, err := tx.GetLot(ctx, prior.LotID)
			return existing, true, err
		}
		if !IsNotFound(err) {
			return nil, false, err
		}
	}

	entityType := opts.EntityType
	if entityType == "" {
		entityType = account.EntityUser
	}
	if _, err := tx.EnsureAccount(ctx, &account.Account{
		Entity:      types.NewEntityAt(now),
		ID:          accountID,
		EntityType:  entityType,
		ExternalRef: opts.ExternalRef,
	}); err != nil {
		return nil, false, err
	}

	pre, err := tx.AvailableBalance(ctx, accountID, opts.PoolID, now)
	if err != nil {
		return nil, false, err
	}
	post, err := pre.Add(amount)
	if err != nil {
		return nil, false, err
	}
	seq, err := tx.NextEntrySeq(ctx, accountID, opts.PoolID)
	if err != nil {
		return nil, false, err
	}

	minted := &lot.Lot{
		ID:          id.NewLotID(),
		AccountID:   accountID,
		PoolID:      opts.PoolID,
		SourceType:  source,
		SourceID:    opts.SourceID,
		Original:    amount,
		Available:   amount,
		Description: opts.Description,
		CreatedAt:   now,
		ExpiresAt:   opts.ExpiresAt,
	}
	if err := tx.InsertLot(ctx, minted); err != nil {
		return nil, false, err
	}

	if err := tx.InsertEntry(ctx, &journal.Entry{
		ID:             id.NewEntryID(),
		AccountID:      accountID,
		PoolID:         opts.PoolID,
		LotID:          minted.ID,
		Seq:            seq,
		Type:           entryTypeFor(source),
		Amount:         amount,
		IdempotencyKey: opts.IdempotencyKey,
		PreBalance:     pre,
		PostBalance:    post,
		Description:    opts.Description,
		CreatedAt:      now,
	}); err != nil {
		return nil, false, err
	}

	return minted, false, nil
}

// mintedBy returns the lot minted under an idempotency key.
func (l *Ledger) mintedBy(ctx context.Context, accountID id.AccountID, key string) (*lot.Lot, error) {
	e, err := l.store.FindEntryByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := mintKeyOwner(e, accountID); err != nil {
		return nil, err
	}
	return l.store.GetLot(ctx, e.LotID)
}

// mintKeyOwner rejects a replay whose key belongs to an entry that did not
// mint a lot for accountID.
func mintKeyOwner(prior *journal.Entry, accountID id.AccountID) error {
	if prior.LotID.IsNil() || prior.AccountID.String() != accountID.String() {
		return Invalid("idempotency_key", "idempotency key already used")
	}
	return nil
}

// Balance returns the spendable view of an account pool, summed from its
// unexpired lots.
func (l *Ledger) Balance(ctx context.Context, accountID id.AccountID, poolID string) (*lot.Balance, error) {
	if accountID.IsNil() {
		return nil, Invalid("account_id", "is required")
	}
	return l.store.SumBalance(ctx, accountID, l.pool(poolID), l.clock())
}

// RecordReceivable records credit advanced to an account that is owed back
// to the platform. It requires the optional receivables table.
func (l *Ledger) RecordReceivable(ctx context.Context, accountID id.AccountID, amount types.Micro, sourceID string) (*receivable.Receivable, error) {
	if accountID.IsNil() {
		return nil, Invalid("account_id", "is required")
	}
	if amount <= 0 {
		return nil, Invalid("amount", "must be positive, got %s", amount)
	}

	r := &receivable.Receivable{
		ID:        id.NewReceivableID(),
		AccountID: accountID,
		SourceID:  sourceID,
		Original:  amount,
		Balance:   amount,
		CreatedAt: l.clock(),
	}
	if err := l.store.InsertReceivable(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}
