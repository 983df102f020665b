package sqlite

import (
	"github.com/xraph/grove/migrate"

	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/sqlstore"
)

// Migration groups for the SQLite store. Amounts (micro-USD) and times
// (unix nanoseconds) are INTEGER columns, which SQLite stores as 64-bit.
var (
	Migrations           = migrate.NewGroup("credits")
	TransferMigrations   = migrate.NewGroup("credits_transfers", migrate.DependsOn("credits"))
	DepositMigrations    = migrate.NewGroup("credits_deposits", migrate.DependsOn("credits"))
	ReceivableMigrations = migrate.NewGroup("credits_receivables", migrate.DependsOn("credits"))
)

// Schema lists the groups in the order Migrate applies them.
var Schema = sqlstore.Schema{
	Core: Migrations,
	Optional: []sqlstore.OptionalGroup{
		{Table: store.TableTransfers, Group: TransferMigrations},
		{Table: store.TableDeposits, Group: DepositMigrations},
		{Table: store.TableReceivables, Group: ReceivableMigrations},
	},
}

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_credit_core",
			Version: "20260101000001",
			Up: sqlstore.Statements(`
CREATE TABLE IF NOT EXISTS credit_accounts (
    id           TEXT PRIMARY KEY,
    entity_type  TEXT NOT NULL,
    external_ref TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS credit_lots (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL,
    pool_id         TEXT NOT NULL,
    source_type     TEXT NOT NULL,
    source_id       TEXT NOT NULL DEFAULT '',
    original_micro  INTEGER NOT NULL,
    available_micro INTEGER NOT NULL,
    reserved_micro  INTEGER NOT NULL DEFAULT 0,
    consumed_micro  INTEGER NOT NULL DEFAULT 0,
    description     TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL,
    expires_at      INTEGER
)`,
				`CREATE INDEX IF NOT EXISTS idx_credit_lots_account_pool ON credit_lots (account_id, pool_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_credit_lots_spendable ON credit_lots (account_id, pool_id, created_at) WHERE available_micro > 0`,
				`CREATE INDEX IF NOT EXISTS idx_credit_lots_source ON credit_lots (source_type, source_id)`, `
CREATE TABLE IF NOT EXISTS credit_ledger (
    id                 TEXT PRIMARY KEY,
    account_id         TEXT NOT NULL,
    pool_id            TEXT NOT NULL,
    lot_id             TEXT,
    reservation_id     TEXT,
    entry_seq          INTEGER NOT NULL,
    entry_type         TEXT NOT NULL,
    amount_micro       INTEGER NOT NULL,
    idempotency_key    TEXT UNIQUE,
    pre_balance_micro  INTEGER NOT NULL,
    post_balance_micro INTEGER NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    created_at         INTEGER NOT NULL,
    UNIQUE (account_id, pool_id, entry_seq)
)`,
				`CREATE INDEX IF NOT EXISTS idx_credit_ledger_type ON credit_ledger (entry_type)`, `
CREATE TABLE IF NOT EXISTS credit_reservations (
    id           TEXT PRIMARY KEY,
    account_id   TEXT NOT NULL,
    pool_id      TEXT NOT NULL,
    request_id   TEXT NOT NULL,
    total_micro  INTEGER NOT NULL,
    billing_mode TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    finalized_at INTEGER,
    UNIQUE (account_id, request_id)
)`,
				`CREATE INDEX IF NOT EXISTS idx_credit_reservations_open ON credit_reservations (account_id) WHERE finalized_at IS NULL`, `
CREATE TABLE IF NOT EXISTS credit_reservation_allocations (
    reservation_id TEXT NOT NULL,
    position       INTEGER NOT NULL,
    lot_id         TEXT NOT NULL,
    amount_micro   INTEGER NOT NULL,
    PRIMARY KEY (reservation_id, position)
)`),
			Down: sqlstore.DropTables(store.TableAllocations, store.TableReservations, store.TableLedger, store.TableLots, store.TableAccounts),
		},
		&migrate.Migration{
			Name:    "create_agent_budgets",
			Version: "20260101000002",
			Up: sqlstore.Statements(`
CREATE TABLE IF NOT EXISTS agent_budget_finalizations (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL,
    pool_id         TEXT NOT NULL,
    reservation_id  TEXT NOT NULL,
    requested_micro INTEGER NOT NULL,
    settled_micro   INTEGER NOT NULL,
    released_micro  INTEGER NOT NULL,
    outcome         TEXT NOT NULL,
    reason          TEXT NOT NULL DEFAULT '',
    finalized_at    INTEGER NOT NULL,
    UNIQUE (account_id, reservation_id)
)`,
				`CREATE INDEX IF NOT EXISTS idx_agent_budget_finalizations_window ON agent_budget_finalizations (account_id, finalized_at)`, `
CREATE TABLE IF NOT EXISTS agent_spending_limits (
    account_id          TEXT PRIMARY KEY,
    daily_cap_micro     INTEGER NOT NULL,
    current_spend_micro INTEGER NOT NULL DEFAULT 0,
    window_start        INTEGER NOT NULL,
    window_seconds      INTEGER NOT NULL,
    circuit_state       TEXT NOT NULL DEFAULT 'closed',
    updated_at          INTEGER NOT NULL
)`),
			Down: sqlstore.DropTables(store.TableLimits, store.TableFinalizations),
		},
		&migrate.Migration{
			Name:    "create_reconciliation_runs",
			Version: "20260101000003",
			Up: sqlstore.Statements(`
CREATE TABLE IF NOT EXISTS reconciliation_runs (
    id          TEXT PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    status      TEXT NOT NULL,
    checks      TEXT NOT NULL,
    divergences TEXT NOT NULL
)`,
				`CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started ON reconciliation_runs (started_at)`),
			Down: sqlstore.DropTables(store.TableRuns),
		},
	)

	TransferMigrations.MustRegister(&migrate.Migration{
		Name:    "create_transfers",
		Version: "20260101000004",
		Up: sqlstore.Statements(`
CREATE TABLE IF NOT EXISTS transfers (
    id              TEXT PRIMARY KEY,
    from_account_id TEXT NOT NULL,
    to_account_id   TEXT NOT NULL,
    pool_id         TEXT NOT NULL,
    amount_micro    INTEGER NOT NULL,
    status          TEXT NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    description     TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL,
    completed_at    INTEGER
)`,
			`CREATE INDEX IF NOT EXISTS idx_transfers_from ON transfers (from_account_id, created_at)`),
		Down: sqlstore.DropTables(store.TableTransfers),
	})

	DepositMigrations.MustRegister(&migrate.Migration{
		Name:    "create_tba_deposits",
		Version: "20260101000005",
		Up: sqlstore.Statements(`
CREATE TABLE IF NOT EXISTS tba_deposits (
    id           TEXT PRIMARY KEY,
    account_id   TEXT NOT NULL,
    pool_id      TEXT NOT NULL,
    chain_id     INTEGER NOT NULL,
    tx_hash      TEXT NOT NULL,
    from_address TEXT NOT NULL DEFAULT '',
    block_number INTEGER NOT NULL,
    amount_micro INTEGER NOT NULL,
    status       TEXT NOT NULL,
    lot_id       TEXT,
    detected_at  INTEGER NOT NULL,
    bridged_at   INTEGER,
    UNIQUE (chain_id, tx_hash)
)`),
		Down: sqlstore.DropTables(store.TableDeposits),
	})

	ReceivableMigrations.MustRegister(&migrate.Migration{
		Name:    "create_credit_receivables",
		Version: "20260101000006",
		Up: sqlstore.Statements(`
CREATE TABLE IF NOT EXISTS credit_receivables (
    id             TEXT PRIMARY KEY,
    account_id     TEXT NOT NULL,
    source_id      TEXT NOT NULL DEFAULT '',
    original_micro INTEGER NOT NULL,
    balance_micro  INTEGER NOT NULL,
    created_at     INTEGER NOT NULL,
    settled_at     INTEGER
)`,
			`CREATE INDEX IF NOT EXISTS idx_credit_receivables_open ON credit_receivables (account_id) WHERE balance_micro > 0`),
		Down: sqlstore.DropTables(store.TableReceivables),
	})
}
