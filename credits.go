package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/governance"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/journal"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transfer"
)

// Ledger is the credit engine. Every balance mutation runs inside one store
// transaction holding the write locks of the account pools it touches;
// plugin events fire only after that transaction commits.
type Ledger struct {
	store      store.Store
	plugins    *plugin.Registry
	logger     *slog.Logger
	params     *governance.Resolver
	governance governance.Params
	verifier   deposit.Verifier
	cache      *budget.Cache
	reconciler *reconcile.Reconciler
	now        func() time.Time

	// Configuration
	cacheTTL        time.Duration
	cacheTTLSet     bool
	defaultPool     string
	schedule        string
	scheduleTimeout time.Duration
	autoMigrate     bool

	mu        sync.Mutex
	scheduler *reconcile.Scheduler
	started   bool
}

// New creates a new Ledger instance over s.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       s,
		plugins:     plugin.NewRegistry(),
		logger:      slog.Default(),
		now:         time.Now,
		defaultPool: lot.DefaultPool,
		autoMigrate: true,
	}

	for _, opt := range opts {
		opt(l)
	}

	l.params = governance.NewResolver(l.governance, l.logger)
	if !l.cacheTTLSet {
		l.cacheTTL = l.params.Seconds(context.Background(), governance.KeyBudgetCacheTTLSeconds)
	}
	l.cache = budget.NewCache(l.cacheTTL).WithClock(l.now)
	l.reconciler = reconcile.New(s, s,
		reconcile.WithEmitter(l.plugins),
		reconcile.WithLogger(l.logger),
		reconcile.WithClock(l.now),
	)

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithGovernance sets the tunable parameter provider. Without one, static
// defaults apply.
func WithGovernance(p governance.Params) Option {
	return func(l *Ledger) { l.governance = p }
}

// WithDepositVerifier sets the on-chain receipt verifier used by
// BridgeDeposit.
func WithDepositVerifier(v deposit.Verifier) Option {
	return func(l *Ledger) { l.verifier = v }
}

// WithBudgetCacheTTL overrides the advisory budget cache TTL. Zero disables
// the cache.
func WithBudgetCacheTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		l.cacheTTL = ttl
		l.cacheTTLSet = true
	}
}

// WithReconcileSchedule runs reconciliation on a cron spec while the ledger
// is started. timeout bounds one run; zero means no bound.
func WithReconcileSchedule(spec string, timeout time.Duration) Option {
	return func(l *Ledger) {
		l.schedule = spec
		l.scheduleTimeout = timeout
	}
}

// WithDefaultPool sets the pool used when an operation names none.
func WithDefaultPool(poolID string) Option {
	return func(l *Ledger) {
		if poolID != "" {
			l.defaultPool = poolID
		}
	}
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithAutoMigrate controls whether Start migrates the store. It defaults to
// true.
func WithAutoMigrate(enabled bool) Option {
	return func(l *Ledger) { l.autoMigrate = enabled }
}

// Start migrates the store, initializes plugins and starts the
// reconciliation scheduler when one is configured.
func (l *Ledger) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return nil
	}

	if l.autoMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
		}
	}

	l.plugins.EmitInit(ctx, l)

	if l.schedule != "" {
		sched, err := reconcile.NewScheduler(l.reconciler, l.schedule, l.scheduleTimeout, l.logger)
		if err != nil {
			return err
		}
		sched.Start()
		l.scheduler = sched
	}

	l.started = true
	l.logger.Info("credits ledger started",
		"default_pool", l.defaultPool,
		"budget_cache_ttl", l.cacheTTL,
		"reconcile_schedule", l.schedule,
		"plugins", l.plugins.Count(),
	)

	return nil
}

// Stop halts the scheduler, shuts plugins down and closes the store.
func (l *Ledger) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs MultiError
	if l.scheduler != nil {
		errs.Add(l.scheduler.Stop(ctx))
		l.scheduler = nil
	}

	l.plugins.EmitShutdown(ctx)
	errs.Add(l.store.Close())
	l.started = false

	l.logger.Info("credits ledger stopped")
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Store returns the backing store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Governance returns the parameter resolver.
func (l *Ledger) Governance() *governance.Resolver { return l.params }

// Ping verifies the store is reachable.
func (l *Ledger) Ping(ctx context.Context) error { return l.store.Ping(ctx) }

func (l *Ledger) clock() time.Time { return l.now().UTC() }

func (l *Ledger) pool(poolID string) string {
	if poolID == "" {
		return l.defaultPool
	}
	return poolID
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// GetAccount retrieves an account by ID.
func (l *Ledger) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return l.store.GetAccount(ctx, accountID)
}

// GetLot retrieves a lot by ID.
func (l *Ledger) GetLot(ctx context.Context, lotID id.LotID) (*lot.Lot, error) {
	return l.store.GetLot(ctx, lotID)
}

// ListLots lists lots matching opts, oldest first.
func (l *Ledger) ListLots(ctx context.Context, opts lot.ListOpts) ([]*lot.Lot, error) {
	return l.store.ListLots(ctx, opts)
}

// ListEntries lists journal entries matching opts in sequence order.
func (l *Ledger) ListEntries(ctx context.Context, opts journal.ListOpts) ([]*journal.Entry, error) {
	return l.store.ListEntries(ctx, opts)
}

// GetReservation retrieves a reservation by ID.
func (l *Ledger) GetReservation(ctx context.Context, reservationID id.ReservationID) (*reservation.Reservation, error) {
	return l.store.GetReservation(ctx, reservationID)
}

// GetFinalization retrieves the settlement of a finalized reservation.
func (l *Ledger) GetFinalization(ctx context.Context, reservationID id.ReservationID) (*reservation.Finalization, error) {
	r, err := l.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return l.store.GetFinalization(ctx, r.AccountID, reservationID)
}

// GetTransfer retrieves a transfer by ID.
func (l *Ledger) GetTransfer(ctx context.Context, transferID id.TransferID) (*transfer.Transfer, error) {
	return l.store.GetTransfer(ctx, transferID)
}

// isDuplicate reports whether err is a unique collision that the caller
// resolves to the prior result.
func isDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
