// Package fixedpoint converts between human-entered decimal strings and
// fixed-point integer amounts at a declared precision. All arithmetic on
// amounts elsewhere in the system happens on the integer form; this package
// is the only place a decimal point exists.
package fixedpoint

import (
	"fmt"
	"math"
	"strings"
)

// Standard precisions used by the platform.
const (
	// TokenPrecision is the decimal precision of the settlement token (PYUSD).
	TokenPrecision = 6
	// USDPrecision is the decimal precision of oracle-denominated USD amounts.
	USDPrecision = 8
)

// MaxPrecision bounds the supported fractional digits (10^18 < MaxInt64).
const MaxPrecision = 18

// ToFixedPoint parses a non-negative decimal string into an integer scaled by
// 10^precision. Parsing is exact: input with more fractional digits than the
// declared precision is rejected, never rounded.
func ToFixedPoint(s string, precision uint) (int64, error) {
	if precision > MaxPrecision {
		return 0, fmt.Errorf("precision %d exceeds maximum %d", precision, MaxPrecision)
	}
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("amount must be an unsigned decimal: %q", s)
	}

	intPart := s
	fracPart := ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart = s[:dot]
		fracPart = s[dot+1:]
		if strings.IndexByte(fracPart, '.') >= 0 {
			return 0, fmt.Errorf("malformed amount: %q", s)
		}
	}
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("malformed amount: %q", s)
	}
	if intPart == "" {
		intPart = "0"
	}
	if uint(len(fracPart)) > precision {
		return 0, fmt.Errorf("amount %q has more than %d fractional digits", s, precision)
	}

	scale := pow10(precision)
	var result int64
	for _, c := range []byte(intPart) {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed amount: %q", s)
		}
		d := int64(c - '0')
		if result > (math.MaxInt64-d)/10 {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		result = result*10 + d
	}
	if result > math.MaxInt64/scale {
		return 0, fmt.Errorf("amount %q overflows at precision %d", s, precision)
	}
	result *= scale

	frac := int64(0)
	for _, c := range []byte(fracPart) {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed amount: %q", s)
		}
		frac = frac*10 + int64(c-'0')
	}
	// Scale the fractional digits up to the full precision.
	frac *= pow10(precision - uint(len(fracPart)))
	if result > math.MaxInt64-frac {
		return 0, fmt.Errorf("amount %q overflows at precision %d", s, precision)
	}
	return result + frac, nil
}

// FromFixedPoint renders a scaled integer back to its canonical decimal string.
// It is a total inverse of ToFixedPoint: for every valid v,
// ToFixedPoint(FromFixedPoint(v, p), p) == v.
func FromFixedPoint(v int64, precision uint) string {
	if precision == 0 {
		return fmt.Sprintf("%d", v)
	}
	neg := ""
	if v < 0 {
		neg = "-"
		v = -v
	}
	scale := pow10(precision)
	return fmt.Sprintf("%s%d.%0*d", neg, v/scale, precision, v%scale)
}

func pow10(n uint) int64 {
	p := int64(1)
	for i := uint(0); i < n; i++ {
		p *= 10
	}
	return p
}
