// Package sqlite provides the SQLite credits store on the grove sqlite
// driver (pure-Go modernc). The pool holds a single connection, which
// serializes every ledger transaction.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // registers the "sqlite" migration executor
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/sqlstore"
)

// busyTimeout is appended to file DSNs so a second process waits for the
// write lock instead of failing with SQLITE_BUSY.
const busyTimeout = "_pragma=busy_timeout(5000)"

// Dialect implements sqlstore.Dialect for SQLite.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string            { return "sqlite" }
func (Dialect) BindType() int           { return sqlx.QUESTION }
func (Dialect) Schema() sqlstore.Schema { return Schema }

// Lock is a no-op: the store runs on one connection, so a transaction
// already excludes every other writer.
func (Dialect) Lock(context.Context, driver.Tx, []store.LockKey) error { return nil }

func (Dialect) TableExists(ctx context.Context, q sqlstore.Querier, table string) (bool, error) {
	var n int64
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (Dialect) IsUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return false
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Store is the SQLite credits store.
type Store struct {
	*sqlstore.Store
}

// New wraps a grove database opened with sqlitedriver.
func New(db *grove.DB, opts ...sqlstore.Option) *Store {
	return &Store{Store: sqlstore.New(db, Dialect{}, opts...)}
}

// Open opens the database at dsn on a one-connection pool. ":memory:"
// gives a private in-memory database that lives as long as the store.
func Open(ctx context.Context, dsn string, opts ...sqlstore.Option) (*Store, error) {
	if dsn != ":memory:" && !strings.Contains(dsn, "busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + busyTimeout
	}
	sdb := sqlitedriver.New()
	if err := sdb.Open(ctx, dsn, driver.WithPoolSize(1)); err != nil {
		return nil, fmt.Errorf("credits/sqlite: open: %w", err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		_ = sdb.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("credits/sqlite: open: %w", err)
	}
	return New(db, opts...), nil
}
