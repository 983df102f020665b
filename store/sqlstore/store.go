// Package sqlstore implements the credits Store on a grove database. The
// SQLite and PostgreSQL backends share its queries and differ only in their
// Dialect and migration groups. Queries are written with "?" placeholders
// and rebound per dialect; rows are scanned with sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/receivable"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transfer"
	"github.com/xraph/credits/types"
)

// Querier is the statement surface shared by a grove driver and its
// transactions.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (driver.Result, error)
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) driver.Row
}

// Dialect captures what differs between relational engines.
type Dialect interface {
	// Name is the short backend name used in logs and error prefixes.
	Name() string
	// BindType is the sqlx placeholder style, such as sqlx.DOLLAR.
	BindType() int
	// Lock takes write locks on keys that are released when tx ends. keys
	// arrive sorted and deduplicated.
	Lock(ctx context.Context, tx driver.Tx, keys []store.LockKey) error
	TableExists(ctx context.Context, q Querier, table string) (bool, error)
	IsUniqueViolation(err error) bool
	Schema() Schema
}

// Store implements store.Store on a grove database.
type Store struct {
	queries
	db     *grove.DB
	logger *slog.Logger
	skip   map[string]bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithoutTables leaves the named optional tables out of migrations.
func WithoutTables(names ...string) Option {
	return func(s *Store) {
		for _, n := range names {
			s.skip[n] = true
		}
	}
}

// New creates a Store over db using dialect d. It panics if the grove
// driver behind db does not implement driver.Driver.
func New(db *grove.DB, d Dialect, opts ...Option) *Store {
	conn, ok := db.Driver().(driver.Driver)
	if !ok {
		panic(fmt.Sprintf("credits/%s: grove driver %q has no SQL interface", d.Name(), db.Driver().Name()))
	}
	s := &Store{
		queries: queries{q: conn, dialect: d, prefix: "credits/" + d.Name()},
		db:      db,
		logger:  slog.Default(),
		skip:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx begins a grove transaction, takes the dialect locks for keys in
// sorted order, and runs fn. fn's error, a panic or a cancelled context
// rolls the transaction back.
func (s *Store) RunInTx(ctx context.Context, keys []store.LockKey, fn store.TxFunc) (err error) {
	gtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.prefix, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = gtx.Rollback() //nolint:errcheck // re-panicking
			panic(p)
		}
		if err != nil {
			_ = gtx.Rollback() //nolint:errcheck // best-effort rollback, original error wins
		}
	}()

	tx, ok := gtx.Raw().(driver.Tx)
	if !ok {
		return fmt.Errorf("%s: begin: driver transaction %T has no SQL interface", s.prefix, gtx.Raw())
	}
	if err = s.dialect.Lock(ctx, tx, store.SortKeys(keys)); err != nil {
		return fmt.Errorf("%s: lock: %w", s.prefix, err)
	}

	t := &sqlTx{queries: queries{q: tx, dialect: s.dialect, prefix: s.prefix}}
	if err = fn(ctx, t); err != nil {
		return err
	}
	if err = gtx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.prefix, err)
	}
	return nil
}

// ==================== Query helpers ====================

// queries holds the statements shared by the store and its transactions.
type queries struct {
	q       Querier
	dialect Dialect
	prefix  string
}

var (
	scannerType = reflect.TypeFor[sql.Scanner]()
	timeType    = reflect.TypeFor[time.Time]()
)

// scalar reports whether t scans from a single column rather than by
// struct field mapping.
func scalar(t reflect.Type) bool {
	return t.Kind() != reflect.Struct || t == timeType || reflect.PointerTo(t).Implements(scannerType)
}

func (x queries) rebind(query string) string {
	return sqlx.Rebind(x.dialect.BindType(), query)
}

// get scans the first row into dest and returns sql.ErrNoRows when the
// query yields nothing.
func (x queries) get(ctx context.Context, dest any, query string, args ...any) error {
	target := reflect.ValueOf(dest)
	if scalar(target.Type().Elem()) {
		return x.q.QueryRow(ctx, x.rebind(query), args...).Scan(dest)
	}

	rows, err := x.q.Query(ctx, x.rebind(query), args...)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	all := reflect.New(reflect.SliceOf(target.Type().Elem()))
	if err := sqlx.StructScan(rows, all.Interface()); err != nil {
		return err
	}
	if all.Elem().Len() == 0 {
		return sql.ErrNoRows
	}
	target.Elem().Set(all.Elem().Index(0))
	return nil
}

// sel scans every row into the slice dest points to.
func (x queries) sel(ctx context.Context, dest any, query string, args ...any) error {
	rows, err := x.q.Query(ctx, x.rebind(query), args...)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	out := reflect.ValueOf(dest).Elem()
	elem := out.Type().Elem()
	if !scalar(elem) {
		return sqlx.StructScan(rows, dest)
	}
	out.SetLen(0)
	for rows.Next() {
		v := reflect.New(elem)
		if err := rows.Scan(v.Interface()); err != nil {
			return err
		}
		out.Set(reflect.Append(out, v.Elem()))
	}
	return rows.Err()
}

func (x queries) exec(ctx context.Context, query string, args ...any) (driver.Result, error) {
	return x.q.Exec(ctx, x.rebind(query), args...)
}

// execOnce runs an INSERT ... ON CONFLICT DO NOTHING and reports a skipped
// row as ErrDuplicate.
func (x queries) execOnce(ctx context.Context, query string, args ...any) error {
	res, err := x.exec(ctx, query, args...)
	if err != nil {
		return x.wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return x.wrap(err)
	}
	if n == 0 {
		return credits.ErrDuplicate
	}
	return nil
}

func (x queries) sum(ctx context.Context, query string, args ...any) (types.Micro, error) {
	var total int64
	if err := x.get(ctx, &total, query, args...); err != nil {
		return 0, x.wrap(err)
	}
	return types.Micro(total), nil
}

// optional returns reconcile.ErrTableMissing when an optional table is
// absent.
func (x queries) optional(ctx context.Context, table string) error {
	ok, err := x.dialect.TableExists(ctx, x.q, table)
	if err != nil {
		return x.wrap(err)
	}
	if !ok {
		return fmt.Errorf("%s: %s: %w", x.prefix, table, reconcile.ErrTableMissing)
	}
	return nil
}

func (x queries) wrap(err error) error {
	if err == nil {
		return nil
	}
	if x.dialect.IsUniqueViolation(err) {
		return credits.ErrDuplicate
	}
	return fmt.Errorf("%s: %w", x.prefix, err)
}

func (x queries) notFound(err error, resource, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return credits.NotFound(resource, key)
	}
	return x.wrap(err)
}

// ==================== Account reads ====================

func (x queries) getAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	if err := x.get(ctx, m, `SELECT * FROM credit_accounts WHERE id = ?`, accountID.String()); err != nil {
		return nil, x.notFound(err, "account", accountID.String())
	}
	return fromAccountModel(m)
}

// GetAccount returns the account with the given ID.
func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return s.getAccount(ctx, accountID)
}

// ==================== Lot reads ====================

// GetLot returns the lot with the given ID.
func (x queries) GetLot(ctx context.Context, lotID id.LotID) (*lot.Lot, error) {
	m := new(lotModel)
	if err := x.get(ctx, m, `SELECT * FROM credit_lots WHERE id = ?`, lotID.String()); err != nil {
		return nil, x.notFound(err, "lot", lotID.String())
	}
	return fromLotModel(m)
}

// ListLots lists lots oldest first.
func (s *Store) ListLots(ctx context.Context, opts lot.ListOpts) ([]*lot.Lot, error) {
	var (
		where []string
		args  []any
	)
	if !opts.AccountID.IsNil() {
		where = append(where, "account_id = ?")
		args = append(args, opts.AccountID.String())
	}
	if opts.PoolID != "" {
		where = append(where, "pool_id = ?")
		args = append(args, opts.PoolID)
	}
	if opts.SourceType != "" {
		where = append(where, "source_type = ?")
		args = append(args, string(opts.SourceType))
	}
	if !opts.IncludeExpired {
		where = append(where, "(expires_at IS NULL OR expires_at > ?)")
		args = append(args, toNanos(time.Now()))
	}

	q := `SELECT * FROM credit_lots` + whereClause(where) + ` ORDER BY created_at ASC, id ASC` + pageClause(opts.Limit, opts.Offset)
	var ms []lotModel
	if err := s.sel(ctx, &ms, q, args...); err != nil {
		return nil, s.wrap(err)
	}
	return fromLotModels(ms)
}

// SumBalance sums the unexpired lots of an account pool.
func (s *Store) SumBalance(ctx context.Context, accountID id.AccountID, poolID string, now time.Time) (*lot.Balance, error) {
	var row struct {
		Available int64 `db:"available_micro"`
		Reserved  int64 `db:"reserved_micro"`
		Consumed  int64 `db:"consumed_micro"`
	}
	err := s.get(ctx, &row, `SELECT
    CAST(COALESCE(SUM(available_micro), 0) AS BIGINT) AS available_micro,
    CAST(COALESCE(SUM(reserved_micro), 0) AS BIGINT) AS reserved_micro,
    CAST(COALESCE(SUM(consumed_micro), 0) AS BIGINT) AS consumed_micro
FROM credit_lots
WHERE account_id = ? AND pool_id = ? AND (expires_at IS NULL OR expires_at > ?)`,
		accountID.String(), poolID, toNanos(now))
	if err != nil {
		return nil, s.wrap(err)
	}
	return &lot.Balance{
		AccountID: accountID,
		PoolID:    poolID,
		Available: types.Micro(row.Available),
		Reserved:  types.Micro(row.Reserved),
		Consumed:  types.Micro(row.Consumed),
	}, nil
}

// ==================== Journal reads ====================

// ListEntries lists journal entries in sequence order.
func (s *Store) ListEntries(ctx context.Context, opts journal.ListOpts) ([]*journal.Entry, error) {
	var (
		where []string
		args  []any
	)
	if !opts.AccountID.IsNil() {
		where = append(where, "account_id = ?")
		args = append(args, opts.AccountID.String())
	}
	if opts.PoolID != "" {
		where = append(where, "pool_id = ?")
		args = append(args, opts.PoolID)
	}
	if len(opts.Types) > 0 {
		names := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			names[i] = string(t)
		}
		where = append(where, "entry_type IN (?)")
		args = append(args, names)
	}

	q := `SELECT * FROM credit_ledger` + whereClause(where) +
		` ORDER BY account_id ASC, pool_id ASC, entry_seq ASC` + pageClause(opts.Limit, opts.Offset)
	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, s.wrap(err)
	}

	var ms []entryModel
	if err := s.sel(ctx, &ms, q, args...); err != nil {
		return nil, s.wrap(err)
	}
	result := make([]*journal.Entry, 0, len(ms))
	for i := range ms {
		e, err := fromEntryModel(&ms[i])
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

// FindEntryByIdempotencyKey returns the entry written under key.
func (x queries) FindEntryByIdempotencyKey(ctx context.Context, key string) (*journal.Entry, error) {
	m := new(entryModel)
	if err := x.get(ctx, m, `SELECT * FROM credit_ledger WHERE idempotency_key = ?`, key); err != nil {
		return nil, x.notFound(err, "entry", key)
	}
	return fromEntryModel(m)
}

// ==================== Reservation reads ====================

// GetReservation returns the reservation with its allocations in draw order.
func (x queries) GetReservation(ctx context.Context, reservationID id.ReservationID) (*reservation.Reservation, error) {
	m := new(reservationModel)
	if err := x.get(ctx, m, `SELECT * FROM credit_reservations WHERE id = ?`, reservationID.String()); err != nil {
		return nil, x.notFound(err, "reservation", reservationID.String())
	}
	return x.withAllocations(ctx, m)
}

func (x queries) withAllocations(ctx context.Context, m *reservationModel) (*reservation.Reservation, error) {
	var allocs []allocationModel
	if err := x.sel(ctx, &allocs,
		`SELECT * FROM credit_reservation_allocations WHERE reservation_id = ? ORDER BY position ASC`, m.ID); err != nil {
		return nil, x.wrap(err)
	}
	return fromReservationModel(m, allocs)
}

// GetFinalization returns the settlement of a reservation.
func (x queries) GetFinalization(ctx context.Context, accountID id.AccountID, reservationID id.ReservationID) (*reservation.Finalization, error) {
	m := new(finalizationModel)
	if err := x.get(ctx, m, `SELECT * FROM agent_budget_finalizations WHERE account_id = ? AND reservation_id = ?`,
		accountID.String(), reservationID.String()); err != nil {
		return nil, x.notFound(err, "finalization", reservationID.String())
	}
	return fromFinalizationModel(m)
}

// ==================== Budget reads ====================

// GetSpendingLimit returns the account's spending limit.
func (x queries) GetSpendingLimit(ctx context.Context, accountID id.AccountID) (*budget.SpendingLimit, error) {
	m := new(limitModel)
	if err := x.get(ctx, m, `SELECT * FROM agent_spending_limits WHERE account_id = ?`, accountID.String()); err != nil {
		return nil, x.notFound(err, "spending limit", accountID.String())
	}
	return fromLimitModel(m)
}

// ListSpendingLimits lists every spending limit ordered by account.
func (s *Store) ListSpendingLimits(ctx context.Context) ([]*budget.SpendingLimit, error) {
	var ms []limitModel
	if err := s.sel(ctx, &ms, `SELECT * FROM agent_spending_limits ORDER BY account_id ASC`); err != nil {
		return nil, s.wrap(err)
	}
	result := make([]*budget.SpendingLimit, 0, len(ms))
	for i := range ms {
		l, err := fromLimitModel(&ms[i])
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, nil
}

// SumSettled sums finalizations of the account inside [from, to).
func (x queries) SumSettled(ctx context.Context, accountID id.AccountID, from, to time.Time) (types.Micro, error) {
	return x.sum(ctx, `SELECT CAST(COALESCE(SUM(settled_micro), 0) AS BIGINT)
FROM agent_budget_finalizations
WHERE account_id = ? AND finalized_at >= ? AND finalized_at < ?`,
		accountID.String(), toNanos(from), toNanos(to))
}

// ==================== Transfer reads ====================

// GetTransfer returns the transfer with the given ID.
func (s *Store) GetTransfer(ctx context.Context, transferID id.TransferID) (*transfer.Transfer, error) {
	m := new(transferModel)
	if err := s.get(ctx, m, `SELECT * FROM transfers WHERE id = ?`, transferID.String()); err != nil {
		return nil, s.notFound(err, "transfer", transferID.String())
	}
	return fromTransferModel(m)
}

// FindTransferByIdempotencyKey returns the transfer created under key.
func (x queries) FindTransferByIdempotencyKey(ctx context.Context, key string) (*transfer.Transfer, error) {
	m := new(transferModel)
	if err := x.get(ctx, m, `SELECT * FROM transfers WHERE idempotency_key = ?`, key); err != nil {
		return nil, x.notFound(err, "transfer", key)
	}
	return fromTransferModel(m)
}

// ==================== Deposit reads ====================

// GetDepositByTxHash returns the deposit recorded for a chain transaction.
func (x queries) GetDepositByTxHash(ctx context.Context, chainID int64, txHash string) (*deposit.Deposit, error) {
	m := new(depositModel)
	if err := x.get(ctx, m, `SELECT * FROM tba_deposits WHERE chain_id = ? AND tx_hash = ?`, chainID, txHash); err != nil {
		return nil, x.notFound(err, "deposit", txHash)
	}
	return fromDepositModel(m)
}

// ==================== Receivables ====================

// InsertReceivable records an outstanding receivable.
func (s *Store) InsertReceivable(ctx context.Context, r *receivable.Receivable) error {
	if err := s.optional(ctx, store.TableReceivables); err != nil {
		return err
	}
	m := toReceivableModel(r)
	_, err := s.exec(ctx, `INSERT INTO credit_receivables
    (id, account_id, source_id, original_micro, balance_micro, created_at, settled_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AccountID, m.SourceID, m.Original, m.Balance, m.CreatedAt, m.SettledAt)
	return s.wrap(err)
}

// ==================== Reconciliation runs ====================

// SaveRun persists a reconciliation run.
func (s *Store) SaveRun(ctx context.Context, run *reconcile.Run) error {
	m, err := toRunModel(run)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO reconciliation_runs
    (id, started_at, finished_at, status, checks, divergences)
VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.StartedAt, m.FinishedAt, m.Status, m.Checks, m.Divergences)
	return s.wrap(err)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*reconcile.Run, error) {
	if limit <= 0 {
		return []*reconcile.Run{}, nil
	}
	var ms []runModel
	if err := s.sel(ctx, &ms, `SELECT * FROM reconciliation_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit); err != nil {
		return nil, s.wrap(err)
	}
	result := make([]*reconcile.Run, 0, len(ms))
	for i := range ms {
		r, err := fromRunModel(&ms[i])
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func pageClause(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		if limit <= 0 {
			// SQLite requires a LIMIT before OFFSET.
			b.WriteString(" LIMIT 9223372036854775807")
		}
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}
