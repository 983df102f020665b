// Package postgres provides the PostgreSQL credits store on the grove pg
// driver. Ledger transactions serialize per lock key with transaction-scoped
// advisory locks, so writers on different accounts never wait on each other.
package postgres

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the "pg" migration executor

	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/sqlstore"
)

// uniqueViolation is SQLSTATE unique_violation.
const uniqueViolation = "23505"

// Dialect implements sqlstore.Dialect for PostgreSQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string            { return "postgres" }
func (Dialect) BindType() int           { return sqlx.DOLLAR }
func (Dialect) Schema() sqlstore.Schema { return Schema }

// advisoryKey is the (int4, int4) pair pg_advisory_xact_lock takes for one
// lock key.
type advisoryKey struct {
	hi, lo int32
	key    string
}

func advisoryKeyFor(k store.LockKey) advisoryKey {
	h := fnv.New64a()
	h.Write([]byte(k.String())) //nolint:errcheck // hash writes never fail
	sum := h.Sum64()
	return advisoryKey{hi: int32(sum >> 32), lo: int32(sum), key: k.String()} //nolint:gosec // intentional split of the 64-bit hash
}

// advisoryKeys maps keys to lock pairs in ascending pair order with
// colliding pairs dropped, so any two transactions acquire the pairs they
// share in the same order.
func advisoryKeys(keys []store.LockKey) []advisoryKey {
	out := make([]advisoryKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, advisoryKeyFor(k))
	}
	slices.SortFunc(out, func(a, b advisoryKey) int {
		if c := cmp.Compare(a.hi, b.hi); c != 0 {
			return c
		}
		return cmp.Compare(a.lo, b.lo)
	})
	return slices.CompactFunc(out, func(a, b advisoryKey) bool {
		return a.hi == b.hi && a.lo == b.lo
	})
}

// Lock takes pg_advisory_xact_lock for each key. The locks are released at
// commit or rollback.
func (Dialect) Lock(ctx context.Context, tx driver.Tx, keys []store.LockKey) error {
	for _, k := range advisoryKeys(keys) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, k.hi, k.lo); err != nil {
			return fmt.Errorf("%s: %w", k.key, err)
		}
	}
	return nil
}

func (Dialect) TableExists(ctx context.Context, q sqlstore.Querier, table string) (bool, error) {
	var ok bool
	if err := q.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// IsUniqueViolation matches SQLSTATE 23505 from pgx, or its text when the
// driver flattened the error.
func (Dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return err != nil && strings.Contains(err.Error(), "SQLSTATE "+uniqueViolation)
}

// Store is the PostgreSQL credits store.
type Store struct {
	*sqlstore.Store
}

// New wraps a grove database opened with pgdriver.
func New(db *grove.DB, opts ...sqlstore.Option) *Store {
	return &Store{Store: sqlstore.New(db, Dialect{}, opts...)}
}

// Open connects pgdriver to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...sqlstore.Option) (*Store, error) {
	pgdb := pgdriver.New()
	if err := pgdb.Open(ctx, dsn); err != nil {
		return nil, fmt.Errorf("credits/postgres: open: %w", err)
	}
	db, err := grove.Open(pgdb)
	if err != nil {
		_ = pgdb.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("credits/postgres: open: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("credits/postgres: ping: %w", err)
	}
	return New(db, opts...), nil
}
