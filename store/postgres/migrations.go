package postgres

import (
	"github.com/xraph/grove/migrate"

	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/sqlstore"
)

// Migration groups for the PostgreSQL store. Amounts are BIGINT micro-USD
// and times are BIGINT unix nanoseconds, matching the SQLite layout so the
// shared queries scan the same types.
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
    created_at   BIGINT NOT NULL,
    updated_at   BIGINT NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS credit_lots (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL REFERENCES credit_accounts (id),
    pool_id         TEXT NOT NULL,
    source_type     TEXT NOT NULL,
    source_id       TEXT NOT NULL DEFAULT '',
    original_micro  BIGINT NOT NULL,
    available_micro BIGINT NOT NULL,
    reserved_micro  BIGINT NOT NULL DEFAULT 0,
    consumed_micro  BIGINT NOT NULL DEFAULT 0,
    description     TEXT NOT NULL DEFAULT '',
    created_at      BIGINT NOT NULL,
    expires_at      BIGINT
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
    entry_seq          BIGINT NOT NULL,
    entry_type         TEXT NOT NULL,
    amount_micro       BIGINT NOT NULL,
    idempotency_key    TEXT UNIQUE,
    pre_balance_micro  BIGINT NOT NULL,
    post_balance_micro BIGINT NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    created_at         BIGINT NOT NULL,
    UNIQUE (account_id, pool_id, entry_seq)
)`,
				`CREATE INDEX IF NOT EXISTS idx_credit_ledger_type ON credit_ledger (entry_type)`, `
CREATE TABLE IF NOT EXISTS credit_reservations (
    id           TEXT PRIMARY KEY,
    account_id   TEXT NOT NULL,
    pool_id      TEXT NOT NULL,
    request_id   TEXT NOT NULL,
    total_micro  BIGINT NOT NULL,
    billing_mode TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    created_at   BIGINT NOT NULL,
    finalized_at BIGINT,
    UNIQUE (account_id, request_id)
)`,
				`CREATE INDEX IF NOT EXISTS idx_credit_reservations_open ON credit_reservations (account_id) WHERE finalized_at IS NULL`, `
CREATE TABLE IF NOT EXISTS credit_reservation_allocations (
    reservation_id TEXT NOT NULL REFERENCES credit_reservations (id),
    position       INTEGER NOT NULL,
    lot_id         TEXT NOT NULL,
    amount_micro   BIGINT NOT NULL,
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
    requested_micro BIGINT NOT NULL,
    settled_micro   BIGINT NOT NULL,
    released_micro  BIGINT NOT NULL,
    outcome         TEXT NOT NULL,
    reason          TEXT NOT NULL DEFAULT '',
    finalized_at    BIGINT NOT NULL,
    UNIQUE (account_id, reservation_id)
)`,
				`CREATE INDEX IF NOT EXISTS idx_agent_budget_finalizations_window ON agent_budget_finalizations (account_id, finalized_at)`, `
CREATE TABLE IF NOT EXISTS agent_spending_limits (
    account_id          TEXT PRIMARY KEY,
    daily_cap_micro     BIGINT NOT NULL,
    current_spend_micro BIGINT NOT NULL DEFAULT 0,
    window_start        BIGINT NOT NULL,
    window_seconds      BIGINT NOT NULL,
    circuit_state       TEXT NOT NULL DEFAULT 'closed',
    updated_at          BIGINT NOT NULL
)`),
			Down: sqlstore.DropTables(store.TableLimits, store.TableFinalizations),
		},
		&migrate.Migration{
			Name:    "create_reconciliation_runs",
			Version: "20260101000003",
			Up: sqlstore.Statements(`
CREATE TABLE IF NOT EXISTS reconciliation_runs (
    id          TEXT PRIMARY KEY,
    started_at  BIGINT NOT NULL,
    finished_at BIGINT NOT NULL,
    status      TEXT NOT NULL,
    checks      TEXT NOT NULL,
    divergences TEXT NOT NULL
)`,
				`CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started ON reconciliation_runs (started_at DESC)`),
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
    amount_micro    BIGINT NOT NULL,
    status          TEXT NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    description     TEXT NOT NULL DEFAULT '',
    created_at      BIGINT NOT NULL,
    completed_at    BIGINT
)`,
			`CREATE INDEX IF NOT EXISTS idx_transfers_from ON transfers (from_account_id, created_at DESC)`),
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
    chain_id     BIGINT NOT NULL,
    tx_hash      TEXT NOT NULL,
    from_address TEXT NOT NULL DEFAULT '',
    block_number BIGINT NOT NULL,
    amount_micro BIGINT NOT NULL,
    status       TEXT NOT NULL,
    lot_id       TEXT,
    detected_at  BIGINT NOT NULL,
    bridged_at   BIGINT,
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
    original_micro BIGINT NOT NULL,
    balance_micro  BIGINT NOT NULL,
    created_at     BIGINT NOT NULL,
    settled_at     BIGINT
)`,
			`CREATE INDEX IF NOT EXISTS idx_credit_receivables_open ON credit_receivables (account_id) WHERE balance_micro > 0`),
		Down: sqlstore.DropTables(store.TableReceivables),
	})
}
