package extension

import "time"

// Config holds the credits extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.credits" or "credits" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// StoreDriver selects the backend built when no store is supplied
	// programmatically: "memory" (default), "sqlite" or "postgres".
	StoreDriver string `json:"store_driver" mapstructure:"store_driver" yaml:"store_driver"`

	// StoreDSN is the connection string for the sqlite and postgres drivers.
	StoreDSN string `json:"store_dsn" mapstructure:"store_dsn" yaml:"store_dsn"`

	// GroveDatabase names a grove.DB registered in the DI container. When
	// set, or when WithGroveDatabase was called, the store is built on that
	// database ("pg" or "sqlite" driver) and StoreDriver is ignored.
	GroveDatabase string `json:"grove_database" mapstructure:"grove_database" yaml:"grove_database"`

	// DefaultPool is the pool used when an operation names none
	// (default: "general").
	DefaultPool string `json:"default_pool" mapstructure:"default_pool" yaml:"default_pool"`

	// BudgetCacheTTL controls how long budget checks are cached in-process
	// (default: 5s).
	BudgetCacheTTL time.Duration `json:"budget_cache_ttl" mapstructure:"budget_cache_ttl" yaml:"budget_cache_ttl"`

	// ReconcileSchedule is a cron spec for scheduled reconciliation.
	// Empty disables it.
	ReconcileSchedule string `json:"reconcile_schedule" mapstructure:"reconcile_schedule" yaml:"reconcile_schedule"`

	// ReconcileTimeout bounds one scheduled run (default: 5m).
	ReconcileTimeout time.Duration `json:"reconcile_timeout" mapstructure:"reconcile_timeout" yaml:"reconcile_timeout"`

	// GovernanceFile is an optional TOML file of governance parameters.
	GovernanceFile string `json:"governance_file" mapstructure:"governance_file" yaml:"governance_file"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StoreDriver:      "memory",
		DefaultPool:      "general",
		BudgetCacheTTL:   5 * time.Second,
		ReconcileTimeout: 5 * time.Minute,
	}
}
