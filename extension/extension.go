// Package extension provides the Forge extension adapter for the credit
// ledger.
//
// It implements the forge.Extension interface to integrate the ledger
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.credits" or "credits" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/credits"
	"github.com/xraph/credits/api"
	"github.com/xraph/credits/governance"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/store/postgres"
	"github.com/xraph/credits/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "credits"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Credit ledger with conservation auditing"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the credit ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *credits.Ledger
	store      store.Store
	ledgerOpts []credits.Option
	useGrove   bool
}

// New creates a new credits Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying ledger.
// This is nil until Register is called.
func (e *Extension) Engine() *credits.Ledger { return e.engine }

// Handler returns the ledger HTTP API for mounting on the host router.
func (e *Extension) Handler() http.Handler {
	return api.NewServer(e.engine).Handler()
}

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil && (e.useGrove || e.config.GroveDatabase != "") {
		db, err := e.resolveGroveDB(fapp)
		if err != nil {
			return err
		}
		s, err := groveStore(db)
		if err != nil {
			return err
		}
		e.store = s
	}
	if e.store == nil {
		s, err := openStore(context.Background(), e.config)
		if err != nil {
			return err
		}
		e.store = s
	}

	opts, err := e.buildLedgerOpts()
	if err != nil {
		return err
	}
	e.engine = credits.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*credits.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("credits: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(ctx); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("credits: store not initialized")
	}
	return e.store.Ping(ctx)
}

// resolveGroveDB looks up the configured grove.DB in the DI container. An
// empty name selects the default database.
func (e *Extension) resolveGroveDB(fapp forge.App) (*grove.DB, error) {
	name := e.config.GroveDatabase
	var (
		db  *grove.DB
		err error
	)
	if name != "" {
		db, err = vessel.InjectNamed[*grove.DB](fapp.Container(), name)
	} else {
		db, err = vessel.Inject[*grove.DB](fapp.Container())
	}
	if err != nil {
		return nil, fmt.Errorf("credits: resolve grove database %q: %w", name, err)
	}
	return db, nil
}

// groveStore picks the store for the driver behind db.
func groveStore(db *grove.DB) (store.Store, error) {
	switch name := db.Driver().Name(); name {
	case "pg":
		return postgres.New(db), nil
	case "sqlite":
		return sqlite.New(db), nil
	default:
		return nil, fmt.Errorf("credits: grove driver %q has no credits store", name)
	}
}

// openStore builds the configured store backend.
func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.StoreDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.StoreDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("credits: unknown store driver %q", cfg.StoreDriver)
	}
}

// buildLedgerOpts constructs credits.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() ([]credits.Option, error) {
	opts := make([]credits.Option, 0, len(e.ledgerOpts)+5)

	opts = append(opts,
		credits.WithAutoMigrate(!e.config.DisableMigrate),
		credits.WithDefaultPool(e.config.DefaultPool),
		credits.WithBudgetCacheTTL(e.config.BudgetCacheTTL),
	)

	if e.config.ReconcileSchedule != "" {
		opts = append(opts, credits.WithReconcileSchedule(e.config.ReconcileSchedule, e.config.ReconcileTimeout))
	}

	if e.config.GovernanceFile != "" {
		params, err := governance.LoadFile(e.config.GovernanceFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, credits.WithGovernance(params))
	}

	// Pass-through ledger options win over config-derived ones.
	opts = append(opts, e.ledgerOpts...)

	return opts, nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("credits: configuration is required but not found in config files; " +
				"ensure 'extensions.credits' or 'credits' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("credits: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("store_driver", e.config.StoreDriver),
		forge.F("grove_database", e.config.GroveDatabase),
		forge.F("default_pool", e.config.DefaultPool),
		forge.F("budget_cache_ttl", e.config.BudgetCacheTTL),
		forge.F("reconcile_schedule", e.config.ReconcileSchedule),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.credits", "credits"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("credits: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("credits: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = defaults.StoreDriver
	}
	if cfg.DefaultPool == "" {
		cfg.DefaultPool = defaults.DefaultPool
	}
	if cfg.BudgetCacheTTL == 0 {
		cfg.BudgetCacheTTL = defaults.BudgetCacheTTL
	}
	if cfg.ReconcileTimeout == 0 {
		cfg.ReconcileTimeout = defaults.ReconcileTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.StoreDriver == "" && programmaticConfig.StoreDriver != "" {
		yamlConfig.StoreDriver = programmaticConfig.StoreDriver
		yamlConfig.StoreDSN = programmaticConfig.StoreDSN
	}
	if yamlConfig.GroveDatabase == "" {
		yamlConfig.GroveDatabase = programmaticConfig.GroveDatabase
	}
	if yamlConfig.DefaultPool == "" {
		yamlConfig.DefaultPool = programmaticConfig.DefaultPool
	}
	if yamlConfig.ReconcileSchedule == "" {
		yamlConfig.ReconcileSchedule = programmaticConfig.ReconcileSchedule
	}
	if yamlConfig.GovernanceFile == "" {
		yamlConfig.GovernanceFile = programmaticConfig.GovernanceFile
	}

	if yamlConfig.BudgetCacheTTL == 0 {
		yamlConfig.BudgetCacheTTL = programmaticConfig.BudgetCacheTTL
	}
	if yamlConfig.ReconcileTimeout == 0 {
		yamlConfig.ReconcileTimeout = programmaticConfig.ReconcileTimeout
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
