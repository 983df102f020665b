package extension

import (
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/store"
)

// Option configures the credits Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine. It takes precedence over
// the configured store driver.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a credits.Option through to the underlying engine.
func WithLedgerOption(opt credits.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, credits.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithStoreDriver selects the store backend built at Register.
func WithStoreDriver(driver, dsn string) Option {
	return func(e *Extension) {
		e.config.StoreDriver = driver
		e.config.StoreDSN = dsn
	}
}

// WithGroveDatabase builds the store on a grove.DB from the DI container.
// An empty name selects the default database.
func WithGroveDatabase(name string) Option {
	return func(e *Extension) {
		e.config.GroveDatabase = name
		e.useGrove = true
	}
}

// WithDefaultPool sets the pool used when an operation names none.
func WithDefaultPool(poolID string) Option {
	return func(e *Extension) { e.config.DefaultPool = poolID }
}

// WithBudgetCacheTTL sets the budget check cache duration.
func WithBudgetCacheTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.BudgetCacheTTL = d }
}

// WithReconcileSchedule runs reconciliation on a cron spec.
func WithReconcileSchedule(spec string, timeout time.Duration) Option {
	return func(e *Extension) {
		e.config.ReconcileSchedule = spec
		e.config.ReconcileTimeout = timeout
	}
}

// WithGovernanceFile loads governance parameters from a TOML file.
func WithGovernanceFile(path string) Option {
	return func(e *Extension) { e.config.GovernanceFile = path }
}
