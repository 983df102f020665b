package governance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestResolverFallsBack(t *testing.T) {
	ctx := context.Background()
	failing := ParamsFunc(func(context.Context, string) (string, bool, error) {
		return "", false, errors.New("governance service down")
	})

	tests := []struct {
		name   string
		params Params
		key    string
		want   int64
	}{
		{"no provider", nil, KeyBudgetWarningBps, 8000},
		{"provider error", failing, KeyDepositMinConfirms, 12},
		{"missing key", Static{}, KeyBonusBatchSize, 100},
		{"not an integer", Static{KeyBonusMaxRiskScore: "high"}, KeyBonusMaxRiskScore, 70},
		{"override", Static{KeyTransferCooldownSeconds: "30"}, KeyTransferCooldownSeconds, 30},
		{"unknown key", Static{}, "nope", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.params, nil)
			if got := r.Int(ctx, tt.key); got != tt.want {
				t.Errorf("Int(%s): got %d, want %d", tt.key, got, tt.want)
			}
		})
	}

	var nilResolver *Resolver
	if got := nilResolver.Seconds(ctx, KeyBudgetWindowSeconds); got != 24*time.Hour {
		t.Errorf("nil resolver window: got %v, want 24h", got)
	}
}

func TestLoad(t *testing.T) {
	doc := `
[budget]
warning_bps = 7500
cache_ttl_seconds = 1

[transfer]
cooldown_seconds = 60
`
	params, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	r := NewResolver(params, nil)
	ctx := context.Background()
	if got := r.Int(ctx, KeyBudgetWarningBps); got != 7500 {
		t.Errorf("warning bps: got %d, want 7500", got)
	}
	if got := r.Seconds(ctx, KeyTransferCooldownSeconds); got != time.Minute {
		t.Errorf("cooldown: got %v, want 1m", got)
	}
	if got := r.Int(ctx, KeyDepositMinConfirms); got != 12 {
		t.Errorf("unset key: got %d, want 12", got)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "governance.toml")
	if err := os.WriteFile(path, []byte("[bonus]\nmax_risk_score = 40\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	params, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if params[KeyBonusMaxRiskScore] != "40" {
		t.Errorf("max risk score: got %q, want 40", params[KeyBonusMaxRiskScore])
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(strings.NewReader("[budget]\nwarning_bps = 1.5\n")); err == nil {
		t.Error("expected error for float value")
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	if err := Validate(ctx, nil); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}

	tests := []struct {
		name   string
		params Static
	}{
		{"bps above cap", Static{KeyBudgetWarningBps: "10001"}},
		{"negative cooldown", Static{KeyTransferCooldownSeconds: "-1"}},
		{"zero window", Static{KeyBudgetWindowSeconds: "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(ctx, tt.params); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
