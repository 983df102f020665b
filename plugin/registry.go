package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/credits/budget"
	"github.com/xraph/credits/deposit"
	"github.com/xraph/credits/lot"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/reservation"
	"github.com/xraph/credits/transfer"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// EmissionError describes a hook that failed or timed out. It is logged and
// never returned to the caller of the ledger operation.
type EmissionError struct {
	Plugin string
	Hook   string
	Err    error
}

func (e *EmissionError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Hook, e.Err)
}

func (e *EmissionError) Unwrap() error { return e.Err }

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emission never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration
	onError func(*EmissionError)

	onInit                     []OnInit
	onShutdown                 []OnShutdown
	onLotMinted                []OnLotMinted
	onReserved                 []OnReserved
	onFinalized                []OnFinalized
	onTransferred              []OnTransferred
	onDepositBridged           []OnDepositBridged
	onBudgetWarning            []OnBudgetWarning
	onBudgetExhausted          []OnBudgetExhausted
	onReconciliationCompleted  []OnReconciliationCompleted
	onReconciliationDivergence []OnReconciliationDivergence
}

var _ reconcile.Emitter = (*Registry)(nil)

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// OnError installs an observer for emission failures, in addition to
// logging.
func (r *Registry) OnError(fn func(*EmissionError)) *Registry {
	r.onError = fn
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnLotMinted); ok {
		r.onLotMinted = append(r.onLotMinted, v)
		hooks = append(hooks, "OnLotMinted")
	}
	if v, ok := p.(OnReserved); ok {
		r.onReserved = append(r.onReserved, v)
		hooks = append(hooks, "OnReserved")
	}
	if v, ok := p.(OnFinalized); ok {
		r.onFinalized = append(r.onFinalized, v)
		hooks = append(hooks, "OnFinalized")
	}
	if v, ok := p.(OnTransferred); ok {
		r.onTransferred = append(r.onTransferred, v)
		hooks = append(hooks, "OnTransferred")
	}
	if v, ok := p.(OnDepositBridged); ok {
		r.onDepositBridged = append(r.onDepositBridged, v)
		hooks = append(hooks, "OnDepositBridged")
	}
	if v, ok := p.(OnBudgetWarning); ok {
		r.onBudgetWarning = append(r.onBudgetWarning, v)
		hooks = append(hooks, "OnBudgetWarning")
	}
	if v, ok := p.(OnBudgetExhausted); ok {
		r.onBudgetExhausted = append(r.onBudgetExhausted, v)
		hooks = append(hooks, "OnBudgetExhausted")
	}
	if v, ok := p.(OnReconciliationCompleted); ok {
		r.onReconciliationCompleted = append(r.onReconciliationCompleted, v)
		hooks = append(hooks, "OnReconciliationCompleted")
	}
	if v, ok := p.(OnReconciliationDivergence); ok {
		r.onReconciliationDivergence = append(r.onReconciliationDivergence, v)
		hooks = append(hooks, "OnReconciliationDivergence")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(r, ctx, "OnInit", snapshot(r, func() []OnInit { return r.onInit }),
		func(p OnInit) error { return p.OnInit(ctx, engine) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, ctx, "OnShutdown", snapshot(r, func() []OnShutdown { return r.onShutdown }),
		func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

// EmitLotMinted emits a lot minted event.
func (r *Registry) EmitLotMinted(ctx context.Context, l *lot.Lot) {
	emit(r, ctx, "OnLotMinted", snapshot(r, func() []OnLotMinted { return r.onLotMinted }),
		func(p OnLotMinted) error { return p.OnLotMinted(ctx, l) })
}

// EmitReserved emits a reservation event.
func (r *Registry) EmitReserved(ctx context.Context, rsv *reservation.Reservation) {
	emit(r, ctx, "OnReserved", snapshot(r, func() []OnReserved { return r.onReserved }),
		func(p OnReserved) error { return p.OnReserved(ctx, rsv) })
}

// EmitFinalized emits a finalization event.
func (r *Registry) EmitFinalized(ctx context.Context, f *reservation.Finalization) {
	emit(r, ctx, "OnFinalized", snapshot(r, func() []OnFinalized { return r.onFinalized }),
		func(p OnFinalized) error { return p.OnFinalized(ctx, f) })
}

// EmitTransferred emits a transfer completed event.
func (r *Registry) EmitTransferred(ctx context.Context, t *transfer.Transfer) {
	emit(r, ctx, "OnTransferred", snapshot(r, func() []OnTransferred { return r.onTransferred }),
		func(p OnTransferred) error { return p.OnTransferred(ctx, t) })
}

// EmitDepositBridged emits a deposit bridged event.
func (r *Registry) EmitDepositBridged(ctx context.Context, d *deposit.Deposit) {
	emit(r, ctx, "OnDepositBridged", snapshot(r, func() []OnDepositBridged { return r.onDepositBridged }),
		func(p OnDepositBridged) error { return p.OnDepositBridged(ctx, d) })
}

// EmitBudgetWarning emits a budget warning event.
func (r *Registry) EmitBudgetWarning(ctx context.Context, status budget.Status) {
	emit(r, ctx, "OnBudgetWarning", snapshot(r, func() []OnBudgetWarning { return r.onBudgetWarning }),
		func(p OnBudgetWarning) error { return p.OnBudgetWarning(ctx, status) })
}

// EmitBudgetExhausted emits a budget exhausted event.
func (r *Registry) EmitBudgetExhausted(ctx context.Context, status budget.Status) {
	emit(r, ctx, "OnBudgetExhausted", snapshot(r, func() []OnBudgetExhausted { return r.onBudgetExhausted }),
		func(p OnBudgetExhausted) error { return p.OnBudgetExhausted(ctx, status) })
}

// EmitReconciliationCompleted implements reconcile.Emitter.
func (r *Registry) EmitReconciliationCompleted(ctx context.Context, run *reconcile.Run) {
	emit(r, ctx, "OnReconciliationCompleted",
		snapshot(r, func() []OnReconciliationCompleted { return r.onReconciliationCompleted }),
		func(p OnReconciliationCompleted) error { return p.OnReconciliationCompleted(ctx, run) })
}

// EmitReconciliationDivergence implements reconcile.Emitter.
func (r *Registry) EmitReconciliationDivergence(ctx context.Context, run *reconcile.Run) {
	emit(r, ctx, "OnReconciliationDivergence",
		snapshot(r, func() []OnReconciliationDivergence { return r.onReconciliationDivergence }),
		func(p OnReconciliationDivergence) error { return p.OnReconciliationDivergence(ctx, run) })
}

// snapshot reads a cached hook list under the read lock.
func snapshot[T any](r *Registry, get func() []T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return get()
}

// emit calls fn for every plugin, logging failures as EmissionErrors.
func emit[T Plugin](r *Registry, ctx context.Context, hook string, plugins []T, fn func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			e := &EmissionError{Plugin: p.Name(), Hook: hook, Err: err}
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", e,
			)
			if r.onError != nil {
				r.onError(e)
			}
		}
	}
}

// callWithTimeout calls a plugin function with a timeout. A panicking hook
// is reported as an error.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, v)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
