package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/xraph/credits"
	"github.com/xraph/credits/api"
	audithook "github.com/xraph/credits/audit_hook"
	"github.com/xraph/credits/eventsink/mongosink"
	"github.com/xraph/credits/observability"
	"github.com/xraph/credits/reconcile"
)

type configLoader func() (Config, error)

// openLedger opens the configured store and starts a ledger over it.
func openLedger(ctx context.Context, cfg Config, logger *slog.Logger, extra ...credits.Option) (*credits.Ledger, error) {
	opts, err := ledgerOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	ledger := credits.New(st, append(opts, extra...)...)
	if err := ledger.Start(ctx); err != nil {
		_ = st.Close() //nolint:errcheck // best-effort cleanup after failed start
		return nil, err
	}
	return ledger, nil
}

func serveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reconciliation scheduler",
		Long: `Run the credits HTTP API.

The store is migrated on start. Reconciliation runs on the configured cron
schedule. SIGINT or SIGTERM drains in-flight requests and stops the ledger.

Examples:
  creditsd serve --config /etc/credits/creditsd.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := cfg.Logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	plugins := []credits.Option{
		credits.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		credits.WithPlugin(audithook.New(logRecorder(logger), audithook.WithLogger(logger))),
		credits.WithReconcileSchedule(cfg.Reconcile.Schedule, cfg.Reconcile.Timeout.Duration),
	}

	if cfg.Events.MongoURI != "" {
		sink, eventsDB, err := mongosink.Connect(ctx, cfg.Events.MongoURI, cfg.Events.Database,
			mongosink.WithCollection(cfg.Events.Collection),
			mongosink.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		defer func() {
			_ = eventsDB.Close() //nolint:errcheck // best-effort disconnect on shutdown
		}()
		plugins = append(plugins, credits.WithPlugin(sink))
	}

	ledger, err := openLedger(ctx, cfg, logger, plugins...)
	if err != nil {
		return err
	}

	handler := api.NewServer(ledger,
		api.WithGatherer(reg),
		api.WithLogger(logger),
		api.WithTimeout(cfg.HTTP.RequestTimeout.Duration),
	).Handler()
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("credits api listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var errs credits.MultiError
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	case err := <-errCh:
		errs.Add(err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration)
	defer cancel()
	errs.Add(srv.Shutdown(shutdownCtx))
	errs.Add(ledger.Stop(shutdownCtx))
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// logRecorder writes audit events to the process log.
func logRecorder(logger *slog.Logger) audithook.RecorderFunc {
	return func(ctx context.Context, e *audithook.AuditEvent) error {
		level := slog.LevelInfo
		if e.Severity != audithook.SeverityInfo {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "audit",
			"action", e.Action,
			"resource", e.Resource,
			"resource_id", e.ResourceID,
			"outcome", e.Outcome,
			"severity", e.Severity,
			"metadata", e.Metadata,
		)
		return nil
	}
}

func migrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := cfg.Logger()

			st, err := openStore(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck // best-effort close after migrate

			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("%w: %w", credits.ErrMigrationFailed, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", cfg.Store.Driver)
			return nil
		},
	}
}

func reconcileCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run every conservation check once and print the result",
		Long: `Run a reconciliation and print it as JSON.

Exits with status 2 when any check diverges.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := cfg.Logger()

			ledger, err := openLedger(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer ledger.Stop(context.Background()) //nolint:errcheck // best-effort stop after one run

			run := ledger.Reconcile(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), run); err != nil {
				return err
			}
			if run.Status != reconcile.StatusPassed {
				return &exitError{code: 2, msg: "divergence detected"}
			}
			return nil
		},
	}
}

func historyCmd(load configLoader) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent reconciliation runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := cfg.Logger()

			ledger, err := openLedger(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer ledger.Stop(context.Background()) //nolint:errcheck // best-effort stop after read

			runs, err := ledger.ReconciliationHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum runs to print")

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
