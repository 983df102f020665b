// Package types provides common types used across the credits engine.
package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MicroPerUSD is the number of micro-units in one US dollar.
const MicroPerUSD = 1_000_000

// ErrOverflow is returned when a Micro operation leaves the int64 range.
var ErrOverflow = errors.New("types: micro amount overflow")

// ErrInvalidAmount is returned when a string cannot be parsed as a Micro value.
var ErrInvalidAmount = errors.New("types: invalid micro amount")

// Micro is a fixed-point amount of US dollars in millionths (micro-USD).
// All arithmetic is integer-only and checked: operations that would leave the
// int64 range return ErrOverflow instead of wrapping.
//
// Examples:
//   - Micro(1_000_000) = $1.000000
//   - Micro(250_000)   = $0.250000
type Micro int64

// USD returns the Micro value of a whole-dollar amount.
func USD(dollars int64) (Micro, error) {
	return Micro(dollars).MulInt(MicroPerUSD)
}

// Add returns m + o.
func (m Micro) Add(o Micro) (Micro, error) {
	if (o > 0 && m > math.MaxInt64-o) || (o < 0 && m < math.MinInt64-o) {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, m, o)
	}
	return m + o, nil
}

// Sub returns m - o.
func (m Micro) Sub(o Micro) (Micro, error) {
	if (o < 0 && m > math.MaxInt64+o) || (o > 0 && m < math.MinInt64+o) {
		return 0, fmt.Errorf("%w: %d - %d", ErrOverflow, m, o)
	}
	return m - o, nil
}

// Neg returns -m. MinInt64 has no positive counterpart.
func (m Micro) Neg() (Micro, error) {
	if m == math.MinInt64 {
		return 0, fmt.Errorf("%w: -(%d)", ErrOverflow, m)
	}
	return -m, nil
}

// Abs returns |m|.
func (m Micro) Abs() (Micro, error) {
	if m < 0 {
		return m.Neg()
	}
	return m, nil
}

// MulInt returns m * n.
func (m Micro) MulInt(n int64) (Micro, error) {
	if m == 0 || n == 0 {
		return 0, nil
	}
	r := int64(m) * n
	if r/n != int64(m) || (int64(m) == -1 && n == math.MinInt64) || (n == -1 && int64(m) == math.MinInt64) {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, m, n)
	}
	return Micro(r), nil
}

// Bps returns floor(m * bps / 10000) for 0 <= bps <= 10000 without
// overflowing the intermediate product.
func (m Micro) Bps(bps int64) Micro {
	return m/10_000*Micro(bps) + (m%10_000)*Micro(bps)/10_000
}

// Sum adds all values, failing on the first overflow.
func Sum(values ...Micro) (Micro, error) {
	var total Micro
	for _, v := range values {
		next, err := total.Add(v)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// Min returns the smaller of a and b.
func Min(a, b Micro) Micro {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Micro) Micro {
	if a > b {
		return a
	}
	return b
}

// IsZero reports whether m is zero.
func (m Micro) IsZero() bool { return m == 0 }

// IsPositive reports whether m > 0.
func (m Micro) IsPositive() bool { return m > 0 }

// IsNegative reports whether m < 0.
func (m Micro) IsNegative() bool { return m < 0 }

// Int64 returns the raw micro-unit count.
func (m Micro) Int64() int64 { return int64(m) }

// String formats m as a decimal dollar amount with six fractional digits,
// e.g. "1.250000" or "-0.000001".
func (m Micro) String() string {
	sign := ""
	u := uint64(m)
	if m < 0 {
		sign = "-"
		u = uint64(-(m + 1)) + 1
	}
	return fmt.Sprintf("%s%d.%06d", sign, u/MicroPerUSD, u%MicroPerUSD)
}

// FormatUSD formats m with a dollar sign and trailing fractional zeros
// trimmed to a minimum of two digits, e.g. "$1.25" or "$0.000001".
func (m Micro) FormatUSD() string {
	s := m.String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	frac = strings.TrimRight(frac, "0")
	for len(frac) < 2 {
		frac += "0"
	}
	return sign + "$" + whole + "." + frac
}

// ParseMicro parses a decimal dollar string ("12", "0.25", "-3.000001") into
// a Micro value. More than six fractional digits is an error.
func ParseMicro(s string) (Micro, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}

	neg := false
	switch s[0] {
	case '-':
		neg, s = true, s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && (!hasFrac || frac == "") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if len(frac) > 6 {
		return 0, fmt.Errorf("%w: %q has more than 6 fractional digits", ErrInvalidAmount, s)
	}
	if !digits(whole) || !digits(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if whole == "" {
		whole = "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	var f int64
	if frac != "" {
		f, err = strconv.ParseInt(frac+strings.Repeat("0", 6-len(frac)), 10, 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}

	m, err := Micro(w).MulInt(MicroPerUSD)
	if err != nil {
		return 0, err
	}
	if m, err = m.Add(Micro(f)); err != nil {
		return 0, err
	}
	if neg {
		return m.Neg()
	}
	return m, nil
}

// digits reports whether s holds only ASCII decimal digits. strconv accepts
// a leading sign, which must not reappear after the one ParseMicro strips.
func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustParseMicro is like ParseMicro but panics on error. Use for constants.
func MustParseMicro(s string) Micro {
	m, err := ParseMicro(s)
	if err != nil {
		panic(err)
	}
	return m
}
