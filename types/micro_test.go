package types

import (
	"errors"
	"math"
	"testing"
)

func TestMicroArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() (Micro, error)
		expected Micro
	}{
		{"Add", func() (Micro, error) { return Micro(100).Add(200) }, 300},
		{"Sub", func() (Micro, error) { return Micro(500).Sub(200) }, 300},
		{"Sub below zero", func() (Micro, error) { return Micro(100).Sub(250) }, -150},
		{"Neg", func() (Micro, error) { return Micro(100).Neg() }, -100},
		{"Abs negative", func() (Micro, error) { return Micro(-100).Abs() }, 100},
		{"MulInt", func() (Micro, error) { return Micro(3).MulInt(MicroPerUSD) }, 3_000_000},
		{"Sum", func() (Micro, error) { return Sum(1_000_000, -400_000, 150_000) }, 750_000},
		{"Sum empty", func() (Micro, error) { return Sum() }, 0},
		{"USD", func() (Micro, error) { return USD(5) }, 5_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("got %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestMicroOverflow(t *testing.T) {
	tests := []struct {
		name string
		op   func() (Micro, error)
	}{
		{"Add max", func() (Micro, error) { return Micro(math.MaxInt64).Add(1) }},
		{"Add min", func() (Micro, error) { return Micro(math.MinInt64).Add(-1) }},
		{"Sub max", func() (Micro, error) { return Micro(math.MaxInt64).Sub(-1) }},
		{"Sub min", func() (Micro, error) { return Micro(math.MinInt64).Sub(1) }},
		{"Neg min", func() (Micro, error) { return Micro(math.MinInt64).Neg() }},
		{"Abs min", func() (Micro, error) { return Micro(math.MinInt64).Abs() }},
		{"MulInt", func() (Micro, error) { return Micro(math.MaxInt64 / 2).MulInt(3) }},
		{"MulInt min by -1", func() (Micro, error) { return Micro(math.MinInt64).MulInt(-1) }},
		{"Sum", func() (Micro, error) { return Sum(math.MaxInt64, 1, -5) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.op()
			if !errors.Is(err, ErrOverflow) {
				t.Errorf("expected ErrOverflow, got %v", err)
			}
		})
	}
}

func TestMicroBps(t *testing.T) {
	tests := []struct {
		m        Micro
		bps      int64
		expected Micro
	}{
		{1_000_000, 8000, 800_000},
		{1_000_000, 10_000, 1_000_000},
		{12_345, 5000, 6172},
		{math.MaxInt64, 10_000, math.MaxInt64},
		{0, 8000, 0},
	}

	for _, tt := range tests {
		if got := tt.m.Bps(tt.bps); got != tt.expected {
			t.Errorf("Bps(%d, %d): got %d, want %d", tt.m, tt.bps, got, tt.expected)
		}
	}
}

func TestMicroFormatting(t *testing.T) {
	tests := []struct {
		m      Micro
		str    string
		dollar string
	}{
		{0, "0.000000", "$0.00"},
		{1_000_000, "1.000000", "$1.00"},
		{1_250_000, "1.250000", "$1.25"},
		{1, "0.000001", "$0.000001"},
		{-250_000, "-0.250000", "-$0.25"},
		{math.MinInt64, "-9223372036854.775808", "-$9223372036854.775808"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if got := tt.m.String(); got != tt.str {
				t.Errorf("String: got %s, want %s", got, tt.str)
			}
			if got := tt.m.FormatUSD(); got != tt.dollar {
				t.Errorf("FormatUSD: got %s, want %s", got, tt.dollar)
			}
		})
	}
}

func TestParseMicro(t *testing.T) {
	tests := []struct {
		in       string
		expected Micro
	}{
		{"12", 12_000_000},
		{"0.25", 250_000},
		{".5", 500_000},
		{"$1.000001", 1_000_001},
		{"-3.000001", -3_000_001},
		{"+2.", 2_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMicro(tt.in)
			if err != nil {
				t.Fatalf("ParseMicro(%q): %v", tt.in, err)
			}
			if got != tt.expected {
				t.Errorf("got %d, want %d", got, tt.expected)
			}
		})
	}

	for _, bad := range []string{"", "abc", "1.0000001", ".", "1..2", "--1", "1e6",
		"1.+5", "1.-5", "++2", "-+3", "+-3", "1 .5", "0x10", "1_000"} {
		if _, err := ParseMicro(bad); err == nil {
			t.Errorf("ParseMicro(%q): expected error", bad)
		}
	}

	if _, err := ParseMicro("9223372036855"); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow for huge dollar amount, got %v", err)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, m := range []Micro{0, 1, 999_999, 1_000_000, -42, 123_456_789} {
		got, err := ParseMicro(m.String())
		if err != nil {
			t.Fatalf("ParseMicro(%q): %v", m.String(), err)
		}
		if got != m {
			t.Errorf("round-trip: got %d, want %d", got, m)
		}
	}
}

func TestIdempotencyKey(t *testing.T) {
	if got := IdempotencyKey(ScopeTBADeposit, "8453", "0xabc"); got != "tba_deposit:8453:0xabc" {
		t.Errorf("got %q", got)
	}
	if got := IdempotencyKey(ScopeReserve); got != "reserve" {
		t.Errorf("got %q", got)
	}
	if got := KeyScope("referral_bonus:bns_123"); got != ScopeReferralBonus {
		t.Errorf("KeyScope: got %q", got)
	}
}
