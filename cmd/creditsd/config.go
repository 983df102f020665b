package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/xraph/credits"
	"github.com/xraph/credits/governance"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/store/postgres"
	"github.com/xraph/credits/store/sqlite"
	"github.com/xraph/credits/store/sqlstore"
)

// Config is the daemon configuration file.
type Config struct {
	Store      StoreConfig      `toml:"store"`
	HTTP       HTTPConfig       `toml:"http"`
	Reconcile  ReconcileConfig  `toml:"reconcile"`
	Budget     BudgetConfig     `toml:"budget"`
	Governance GovernanceConfig `toml:"governance"`
	Events     EventsConfig     `toml:"events"`
	Log        LogConfig        `toml:"log"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite" or "postgres".
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type HTTPConfig struct {
	Addr            string   `toml:"addr"`
	RequestTimeout  Duration `toml:"request_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type ReconcileConfig struct {
	// Schedule is a cron spec. Empty disables scheduled runs.
	Schedule string   `toml:"schedule"`
	Timeout  Duration `toml:"timeout"`
}

type BudgetConfig struct {
	CacheTTL Duration `toml:"cache_ttl"`
}

type GovernanceConfig struct {
	// File is an optional TOML parameter file.
	File string `toml:"file"`
}

// EventsConfig enables the MongoDB domain event sink.
type EventsConfig struct {
	MongoURI   string `toml:"mongo_uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration decodes TOML strings such as "5s" or "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultConfig returns the configuration used for unset keys.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{Driver: "sqlite", DSN: "credits.db"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RequestTimeout:  Duration{30 * time.Second},
			ShutdownTimeout: Duration{15 * time.Second},
		},
		Reconcile: ReconcileConfig{Schedule: "@every 15m", Timeout: Duration{5 * time.Minute}},
		Budget:    BudgetConfig{CacheTTL: Duration{5 * time.Second}},
		Events:    EventsConfig{Database: "credits"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads path over DefaultConfig. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot use.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Events.MongoURI != "" && c.Events.Database == "" {
		return fmt.Errorf("events.database is required with events.mongo_uri")
	}
	return nil
}

// Logger builds the process logger.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore opens the configured backend.
func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.DSN, sqlstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.DSN, sqlstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// ledgerOptions maps the configuration onto engine options.
func ledgerOptions(cfg Config, logger *slog.Logger) ([]credits.Option, error) {
	opts := []credits.Option{
		credits.WithLogger(logger),
		credits.WithBudgetCacheTTL(cfg.Budget.CacheTTL.Duration),
		credits.WithAutoMigrate(true),
	}
	if cfg.Governance.File != "" {
		params, err := governance.LoadFile(cfg.Governance.File)
		if err != nil {
			return nil, err
		}
		if err := governance.Validate(context.Background(), params); err != nil {
			return nil, err
		}
		opts = append(opts, credits.WithGovernance(params))
	}
	return opts, nil
}
