package sqlstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/receivable"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/transfer"
	"github.com/xraph/credits/types"
)

// Times are stored as UTC unix nanoseconds so both dialects compare and
// order them as plain integers.

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullID(i id.ID) sql.NullString {
	return nullString(i.String())
}

func parseNullID(s sql.NullString) (id.ID, error) {
	if !s.Valid || s.String == "" {
		return id.Nil, nil
	}
	return id.Parse(s.String)
}

// ==================== Account models ====================

type accountModel struct {
	ID          string `db:"id"`
	EntityType  string `db:"entity_type"`
	ExternalRef string `db:"external_ref"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:          a.ID.String(),
		EntityType:  string(a.EntityType),
		ExternalRef: a.ExternalRef,
		CreatedAt:   toNanos(a.CreatedAt),
		UpdatedAt:   toNanos(a.UpdatedAt),
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	accountID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &account.Account{
		Entity:      types.Entity{CreatedAt: fromNanos(m.CreatedAt), UpdatedAt: fromNanos(m.UpdatedAt)},
		ID:          accountID,
		EntityType:  account.EntityType(m.EntityType),
		ExternalRef: m.ExternalRef,
	}, nil
}

// ==================== Lot models ====================

type lotModel struct {
	ID          string        `db:"id"`
	AccountID   string        `db:"account_id"`
	PoolID      string        `db:"pool_id"`
	SourceType  string        `db:"source_type"`
	SourceID    string        `db:"source_id"`
	Original    int64         `db:"original_micro"`
	Available   int64         `db:"available_micro"`
	Reserved    int64         `db:"reserved_micro"`
	Consumed    int64         `db:"consumed_micro"`
	Description string        `db:"description"`
	CreatedAt   int64         `db:"created_at"`
	ExpiresAt   sql.NullInt64 `db:"expires_at"`
}

func toLotModel(l *lot.Lot) *lotModel {
	return &lotModel{
		ID:          l.ID.String(),
		AccountID:   l.AccountID.String(),
		PoolID:      l.PoolID,
		SourceType:  string(l.SourceType),
		SourceID:    l.SourceID,
		Original:    l.Original.Int64(),
		Available:   l.Available.Int64(),
		Reserved:    l.Reserved.Int64(),
		Consumed:    l.Consumed.Int64(),
		Description: l.Description,
		CreatedAt:   toNanos(l.CreatedAt),
		ExpiresAt:   toNullNanos(l.ExpiresAt),
	}
}

func fromLotModel(m *lotModel) (*lot.Lot, error) {
	lotID, err := id.ParseLotID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &lot.Lot{
		ID:          lotID,
		AccountID:   accountID,
		PoolID:      m.PoolID,
		SourceType:  lot.SourceType(m.SourceType),
		SourceID:    m.SourceID,
		Original:    types.Micro(m.Original),
		Available:   types.Micro(m.Available),
		Reserved:    types.Micro(m.Reserved),
		Consumed:    types.Micro(m.Consumed),
		Description: m.Description,
		CreatedAt:   fromNanos(m.CreatedAt),
		ExpiresAt:   fromNullNanos(m.ExpiresAt),
	}, nil
}

func fromLotModels(ms []lotModel) ([]*lot.Lot, error) {
	result := make([]*lot.Lot, 0, len(ms))
	for i := range ms {
		l, err := fromLotModel(&ms[i])
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, nil
}

// ==================== Journal models ====================

type entryModel struct {
	ID             string         `db:"id"`
	AccountID      string         `db:"account_id"`
	PoolID         string         `db:"pool_id"`
	LotID          sql.NullString `db:"lot_id"`
	ReservationID  sql.NullString `db:"reservation_id"`
	Seq            int64          `db:"entry_seq"`
	Type           string         `db:"entry_type"`
	Amount         int64          `db:"amount_micro"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	PreBalance     int64          `db:"pre_balance_micro"`
	PostBalance    int64          `db:"post_balance_micro"`
	Description    string         `db:"description"`
	CreatedAt      int64          `db:"created_at"`
}

func toEntryModel(e *journal.Entry) *entryModel {
	return &entryModel{
		ID:             e.ID.String(),
		AccountID:      e.AccountID.String(),
		PoolID:         e.PoolID,
		LotID:          nullID(e.LotID),
		ReservationID:  nullID(e.ReservationID),
		Seq:            e.Seq,
		Type:           string(e.Type),
		Amount:         e.Amount.Int64(),
		IdempotencyKey: nullString(e.IdempotencyKey),
		PreBalance:     e.PreBalance.Int64(),
		PostBalance:    e.PostBalance.Int64(),
		Description:    e.Description,
		CreatedAt:      toNanos(e.CreatedAt),
	}
}

func fromEntryModel(m *entryModel) (*journal.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	lotID, err := parseNullID(m.LotID)
	if err != nil {
		return nil, err
	}
	rsvID, err := parseNullID(m.ReservationID)
	if err != nil {
		return nil, err
	}
	return &journal.Entry{
		ID:             entryID,
		AccountID:      accountID,
		PoolID:         m.PoolID,
		LotID:          lotID,
		ReservationID:  rsvID,
		Seq:            m.Seq,
		Type:           journal.EntryType(m.Type),
		Amount:         types.Micro(m.Amount),
		IdempotencyKey: m.IdempotencyKey.String,
		PreBalance:     types.Micro(m.PreBalance),
		PostBalance:    types.Micro(m.PostBalance),
		Description:    m.Description,
		CreatedAt:      fromNanos(m.CreatedAt),
	}, nil
}

// ==================== Reservation models ====================

type reservationModel struct {
	ID          string        `db:"id"`
	AccountID   string        `db:"account_id"`
	PoolID      string        `db:"pool_id"`
	RequestID   string        `db:"request_id"`
	Total       int64         `db:"total_micro"`
	BillingMode string        `db:"billing_mode"`
	Description string        `db:"description"`
	CreatedAt   int64         `db:"created_at"`
	FinalizedAt sql.NullInt64 `db:"finalized_at"`
}

type allocationModel struct {
	ReservationID string `db:"reservation_id"`
	Position      int    `db:"position"`
	LotID         string `db:"lot_id"`
	Amount        int64  `db:"amount_micro"`
}

func toReservationModel(r *reservation.Reservation) *reservationModel {
	return &reservationModel{
		ID:          r.ID.String(),
		AccountID:   r.AccountID.String(),
		PoolID:      r.PoolID,
		RequestID:   r.RequestID,
		Total:       r.Total.Int64(),
		BillingMode: string(r.BillingMode),
		Description: r.Description,
		CreatedAt:   toNanos(r.CreatedAt),
		FinalizedAt: toNullNanos(r.FinalizedAt),
	}
}

func fromReservationModel(m *reservationModel, allocs []allocationModel) (*reservation.Reservation, error) {
	rsvID, err := id.ParseReservationID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	draws := make([]lot.Draw, 0, len(allocs))
	for _, a := range allocs {
		lotID, err := id.ParseLotID(a.LotID)
		if err != nil {
			return nil, err
		}
		draws = append(draws, lot.Draw{LotID: lotID, Amount: types.Micro(a.Amount)})
	}
	return &reservation.Reservation{
		ID:          rsvID,
		AccountID:   accountID,
		PoolID:      m.PoolID,
		RequestID:   m.RequestID,
		Total:       types.Micro(m.Total),
		BillingMode: reservation.BillingMode(m.BillingMode),
		Description: m.Description,
		Allocations: draws,
		CreatedAt:   fromNanos(m.CreatedAt),
		FinalizedAt: fromNullNanos(m.FinalizedAt),
	}, nil
}

type finalizationModel struct {
	ID            string `db:"id"`
	AccountID     string `db:"account_id"`
	PoolID        string `db:"pool_id"`
	ReservationID string `db:"reservation_id"`
	Requested     int64  `db:"requested_micro"`
	Settled       int64  `db:"settled_micro"`
	Released      int64  `db:"released_micro"`
	Outcome       string `db:"outcome"`
	Reason        string `db:"reason"`
	FinalizedAt   int64  `db:"finalized_at"`
}

func toFinalizationModel(f *reservation.Finalization) *finalizationModel {
	return &finalizationModel{
		ID:            f.ID.String(),
		AccountID:     f.AccountID.String(),
		PoolID:        f.PoolID,
		ReservationID: f.ReservationID.String(),
		Requested:     f.Requested.Int64(),
		Settled:       f.Settled.Int64(),
		Released:      f.Released.Int64(),
		Outcome:       string(f.Outcome),
		Reason:        f.Reason,
		FinalizedAt:   toNanos(f.FinalizedAt),
	}
}

func fromFinalizationModel(m *finalizationModel) (*reservation.Finalization, error) {
	finID, err := id.ParseFinalizationID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	rsvID, err := id.ParseReservationID(m.ReservationID)
	if err != nil {
		return nil, err
	}
	return &reservation.Finalization{
		ID:            finID,
		AccountID:     accountID,
		PoolID:        m.PoolID,
		ReservationID: rsvID,
		Requested:     types.Micro(m.Requested),
		Settled:       types.Micro(m.Settled),
		Released:      types.Micro(m.Released),
		Outcome:       reservation.Outcome(m.Outcome),
		Reason:        m.Reason,
		FinalizedAt:   fromNanos(m.FinalizedAt),
	}, nil
}

// ==================== Budget models ====================

type limitModel struct {
	AccountID     string `db:"account_id"`
	DailyCap      int64  `db:"daily_cap_micro"`
	CurrentSpend  int64  `db:"current_spend_micro"`
	WindowStart   int64  `db:"window_start"`
	WindowSeconds int64  `db:"window_seconds"`
	CircuitState  string `db:"circuit_state"`
	UpdatedAt     int64  `db:"updated_at"`
}

func toLimitModel(l *budget.SpendingLimit) *limitModel {
	return &limitModel{
		AccountID:     l.AccountID.String(),
		DailyCap:      l.DailyCap.Int64(),
		CurrentSpend:  l.CurrentSpend.Int64(),
		WindowStart:   toNanos(l.WindowStart),
		WindowSeconds: int64(l.Window / time.Second),
		CircuitState:  string(l.CircuitState),
		UpdatedAt:     toNanos(l.UpdatedAt),
	}
}

func fromLimitModel(m *limitModel) (*budget.SpendingLimit, error) {
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &budget.SpendingLimit{
		AccountID:    accountID,
		DailyCap:     types.Micro(m.DailyCap),
		CurrentSpend: types.Micro(m.CurrentSpend),
		WindowStart:  fromNanos(m.WindowStart),
		Window:       time.Duration(m.WindowSeconds) * time.Second,
		CircuitState: budget.CircuitState(m.CircuitState),
		UpdatedAt:    fromNanos(m.UpdatedAt),
	}, nil
}

// ==================== Transfer models ====================

type transferModel struct {
	ID             string        `db:"id"`
	FromAccountID  string        `db:"from_account_id"`
	ToAccountID    string        `db:"to_account_id"`
	PoolID         string        `db:"pool_id"`
	Amount         int64         `db:"amount_micro"`
	Status         string        `db:"status"`
	IdempotencyKey string        `db:"idempotency_key"`
	Description    string        `db:"description"`
	CreatedAt      int64         `db:"created_at"`
	CompletedAt    sql.NullInt64 `db:"completed_at"`
}

func toTransferModel(t *transfer.Transfer) *transferModel {
	return &transferModel{
		ID:             t.ID.String(),
		FromAccountID:  t.FromAccountID.String(),
		ToAccountID:    t.ToAccountID.String(),
		PoolID:         t.PoolID,
		Amount:         t.Amount.Int64(),
		Status:         string(t.Status),
		IdempotencyKey: t.IdempotencyKey,
		Description:    t.Description,
		CreatedAt:      toNanos(t.CreatedAt),
		CompletedAt:    toNullNanos(t.CompletedAt),
	}
}

func fromTransferModel(m *transferModel) (*transfer.Transfer, error) {
	transferID, err := id.ParseTransferID(m.ID)
	if err != nil {
		return nil, err
	}
	from, err := id.ParseAccountID(m.FromAccountID)
	if err != nil {
		return nil, err
	}
	to, err := id.ParseAccountID(m.ToAccountID)
	if err != nil {
		return nil, err
	}
	return &transfer.Transfer{
		ID:             transferID,
		FromAccountID:  from,
		ToAccountID:    to,
		PoolID:         m.PoolID,
		Amount:         types.Micro(m.Amount),
		Status:         transfer.Status(m.Status),
		IdempotencyKey: m.IdempotencyKey,
		Description:    m.Description,
		CreatedAt:      fromNanos(m.CreatedAt),
		CompletedAt:    fromNullNanos(m.CompletedAt),
	}, nil
}

// ==================== Deposit models ====================

type depositModel struct {
	ID          string         `db:"id"`
	AccountID   string         `db:"account_id"`
	PoolID      string         `db:"pool_id"`
	ChainID     int64          `db:"chain_id"`
	TxHash      string         `db:"tx_hash"`
	FromAddress string         `db:"from_address"`
	BlockNumber int64          `db:"block_number"`
	Amount      int64          `db:"amount_micro"`
	Status      string         `db:"status"`
	LotID       sql.NullString `db:"lot_id"`
	DetectedAt  int64          `db:"detected_at"`
	BridgedAt   sql.NullInt64  `db:"bridged_at"`
}

func toDepositModel(d *deposit.Deposit) *depositModel {
	return &depositModel{
		ID:          d.ID.String(),
		AccountID:   d.AccountID.String(),
		PoolID:      d.PoolID,
		ChainID:     d.ChainID,
		TxHash:      d.TxHash,
		FromAddress: d.FromAddress,
		BlockNumber: int64(d.BlockNumber), //nolint:gosec // block heights fit in int64
		Amount:      d.Amount.Int64(),
		Status:      string(d.Status),
		LotID:       nullID(d.LotID),
		DetectedAt:  toNanos(d.DetectedAt),
		BridgedAt:   toNullNanos(d.BridgedAt),
	}
}

func fromDepositModel(m *depositModel) (*deposit.Deposit, error) {
	depositID, err := id.ParseDepositID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	lotID, err := parseNullID(m.LotID)
	if err != nil {
		return nil, err
	}
	return &deposit.Deposit{
		ID:          depositID,
		AccountID:   accountID,
		PoolID:      m.PoolID,
		ChainID:     m.ChainID,
		TxHash:      m.TxHash,
		FromAddress: m.FromAddress,
		BlockNumber: uint64(m.BlockNumber), //nolint:gosec // stored from a uint64
		Amount:      types.Micro(m.Amount),
		Status:      deposit.Status(m.Status),
		LotID:       lotID,
		DetectedAt:  fromNanos(m.DetectedAt),
		BridgedAt:   fromNullNanos(m.BridgedAt),
	}, nil
}

// ==================== Receivable models ====================

type receivableModel struct {
	ID        string        `db:"id"`
	AccountID string        `db:"account_id"`
	SourceID  string        `db:"source_id"`
	Original  int64         `db:"original_micro"`
	Balance   int64         `db:"balance_micro"`
	CreatedAt int64         `db:"created_at"`
	SettledAt sql.NullInt64 `db:"settled_at"`
}

func toReceivableModel(r *receivable.Receivable) *receivableModel {
	return &receivableModel{
		ID:        r.ID.String(),
		AccountID: r.AccountID.String(),
		SourceID:  r.SourceID,
		Original:  r.Original.Int64(),
		Balance:   r.Balance.Int64(),
		CreatedAt: toNanos(r.CreatedAt),
		SettledAt: toNullNanos(r.SettledAt),
	}
}

// ==================== Reconciliation models ====================

type runModel struct {
	ID          string `db:"id"`
	StartedAt   int64  `db:"started_at"`
	FinishedAt  int64  `db:"finished_at"`
	Status      string `db:"status"`
	Checks      string `db:"checks"`
	Divergences string `db:"divergences"`
}

func toRunModel(r *reconcile.Run) (*runModel, error) {
	checks, err := json.Marshal(r.Checks)
	if err != nil {
		return nil, err
	}
	divergences, err := json.Marshal(r.Divergences)
	if err != nil {
		return nil, err
	}
	return &runModel{
		ID:          r.ID.String(),
		StartedAt:   toNanos(r.StartedAt),
		FinishedAt:  toNanos(r.FinishedAt),
		Status:      string(r.Status),
		Checks:      string(checks),
		Divergences: string(divergences),
	}, nil
}

func fromRunModel(m *runModel) (*reconcile.Run, error) {
	runID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, err
	}
	run := &reconcile.Run{
		ID:          runID,
		StartedAt:   fromNanos(m.StartedAt),
		FinishedAt:  fromNanos(m.FinishedAt),
		Status:      reconcile.Status(m.Status),
		Checks:      []reconcile.CheckResult{},
		Divergences: []string{},
	}
	if err := json.Unmarshal([]byte(m.Checks), &run.Checks); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(m.Divergences), &run.Divergences); err != nil {
		return nil, err
	}
	return run, nil
}
