package math

import (
	"errors"
	"math/bits"

	"github.com/shopspring/decimal"
)

// ErrOverflow is returned when an unsigned counter or amount would wrap.
var ErrOverflow = errors.New("arithmetic overflow occurred")

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int32  // Number of decimal places
	Scale            uint64 // 10^DecimalPrecision
}

// TokenConfig is the reward token precision: 9 decimals.
var TokenConfig = DecimalConfig{DecimalPrecision: 9, Scale: 1_000_000_000}

// AddU64 returns a + b or ErrOverflow.
func AddU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SubU64 returns a - b or ErrOverflow when b > a.
func SubU64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

// MulU64 returns a * b or ErrOverflow.
func MulU64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// AbsDiffU64 returns |a - b| without wrapping.
func AbsDiffU64(a, b uint64) uint64 {
	if a >= b {
		return a - b
	}
	return b - a
}

// CompareRatio compares n1/d1 against n2/d2 exactly using 128-bit cross
// multiplication. A zero denominator is treated as +infinity; two infinities
// compare equal. Returns -1, 0 or 1.
func CompareRatio(n1, d1, n2, d2 uint64) int {
	switch {
	case d1 == 0 && d2 == 0:
		return 0
	case d1 == 0:
		return 1
	case d2 == 0:
		return -1
	}

	// n1/d1 < n2/d2  <=>  n1*d2 < n2*d1
	lhsHi, lhsLo := bits.Mul64(n1, d2)
	rhsHi, rhsLo := bits.Mul64(n2, d1)

	if lhsHi != rhsHi {
		if lhsHi < rhsHi {
			return -1
		}
		return 1
	}
	if lhsLo != rhsLo {
		if lhsLo < rhsLo {
			return -1
		}
		return 1
	}
	return 0
}

// ToDecimal converts a raw fixed-point amount into a decimal value.
func (c DecimalConfig) ToDecimal(raw uint64) decimal.Decimal {
	return decimal.NewFromUint64(raw).Shift(-c.DecimalPrecision)
}

// FormatAmount renders a raw amount with the config's full precision,
// e.g. 100_000_000_000 -> "100.000000000".
func (c DecimalConfig) FormatAmount(raw uint64) string {
	return c.ToDecimal(raw).StringFixed(c.DecimalPrecision)
}

// ParseAmount converts a human decimal string into raw units, truncating
// digits beyond the configured precision.
func (c DecimalConfig) ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, errors.New("amount must not be negative")
	}
	raw := d.Shift(c.DecimalPrecision).Truncate(0)
	if raw.GreaterThan(decimal.NewFromUint64(^uint64(0))) {
		return 0, ErrOverflow
	}
	return raw.BigInt().Uint64(), nil
}
