// Package governance supplies tunable engine parameters. A Params provider
// is optional; the Resolver falls back to static defaults whenever the
// provider is absent, fails, or has no value for a key.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Parameter keys.
const (
	KeyBudgetWarningBps        = "budget.warning_bps"
	KeyBudgetCacheTTLSeconds   = "budget.cache_ttl_seconds"
	KeyBudgetWindowSeconds     = "budget.window_seconds"
	KeyDepositMinConfirms      = "deposit.min_confirmations"
	KeyBonusHoldSeconds        = "bonus.hold_seconds"
	KeyBonusMaxRiskScore       = "bonus.max_risk_score"
	KeyBonusBatchSize          = "bonus.batch_size"
	KeyTransferCooldownSeconds = "transfer.cooldown_seconds"
)

// Defaults are the static fallbacks for every known key.
var Defaults = map[string]int64{
	KeyBudgetWarningBps:        8000,
	KeyBudgetCacheTTLSeconds:   5,
	KeyBudgetWindowSeconds:     86400,
	KeyDepositMinConfirms:      12,
	KeyBonusHoldSeconds:        604800,
	KeyBonusMaxRiskScore:       70,
	KeyBonusBatchSize:          100,
	KeyTransferCooldownSeconds: 0,
}

// Params is a source of parameter values. ok is false when the provider has
// no value for key.
type Params interface {
	Lookup(ctx context.Context, key string) (value string, ok bool, err error)
}

// Static is an in-memory Params provider.
type Static map[string]string

// Lookup implements Params.
func (s Static) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}

// ParamsFunc adapts a function to the Params interface.
type ParamsFunc func(ctx context.Context, key string) (string, bool, error)

// Lookup implements Params.
func (f ParamsFunc) Lookup(ctx context.Context, key string) (string, bool, error) {
	return f(ctx, key)
}

// Resolver reads typed parameters with fallback to Defaults.
type Resolver struct {
	params Params
	logger *slog.Logger
}

// NewResolver creates a resolver over p. A nil p always yields defaults.
func NewResolver(p Params, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{params: p, logger: logger}
}

// Int returns the integer value of key.
func (r *Resolver) Int(ctx context.Context, key string) int64 {
	def := Defaults[key]
	if r == nil || r.params == nil {
		return def
	}

	raw, ok, err := r.params.Lookup(ctx, key)
	if err != nil {
		r.logger.Warn("governance lookup failed, using default",
			"key", key,
			"default", def,
			"error", err,
		)
		return def
	}
	if !ok {
		return def
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.logger.Warn("governance value is not an integer, using default",
			"key", key,
			"value", raw,
			"default", def,
		)
		return def
	}
	return v
}

// Seconds returns the value of key as a duration in seconds.
func (r *Resolver) Seconds(ctx context.Context, key string) time.Duration {
	return time.Duration(r.Int(ctx, key)) * time.Second
}

// Validate reports keys whose provider values are out of range. It is meant
// for startup checks; the Resolver itself never fails.
func Validate(ctx context.Context, p Params) error {
	r := NewResolver(p, slog.New(slog.DiscardHandler))
	if bps := r.Int(ctx, KeyBudgetWarningBps); bps <= 0 || bps > 10_000 {
		return fmt.Errorf("governance: %s must be in (0, 10000], got %d", KeyBudgetWarningBps, bps)
	}
	for _, key := range []string{
		KeyBudgetCacheTTLSeconds, KeyDepositMinConfirms, KeyBonusHoldSeconds,
		KeyBonusMaxRiskScore, KeyTransferCooldownSeconds,
	} {
		if v := r.Int(ctx, key); v < 0 {
			return fmt.Errorf("governance: %s must not be negative, got %d", key, v)
		}
	}
	for _, key := range []string{KeyBudgetWindowSeconds, KeyBonusBatchSize} {
		if v := r.Int(ctx, key); v <= 0 {
			return fmt.Errorf("governance: %s must be positive, got %d", key, v)
		}
	}
	return nil
}
