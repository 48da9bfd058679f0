// Package safemath provides checked unsigned 64-bit arithmetic for settlement
// amounts and counters. Every operation that could wrap fails with an
// arithmetic_overflow domain error instead of wrapping or saturating.
package safemath

import (
	"math/bits"

	dErrors "custodia/pkg/domain-errors"
)

// Add returns a+b, failing on overflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, dErrors.New(dErrors.CodeArithmeticOverflow, "addition overflows uint64")
	}
	return sum, nil
}

// Sub returns a-b, failing on underflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, dErrors.New(dErrors.CodeArithmeticOverflow, "subtraction underflows uint64")
	}
	return diff, nil
}

// Mul returns a*b, failing on overflow.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, dErrors.New(dErrors.CodeArithmeticOverflow, "multiplication overflows uint64")
	}
	return lo, nil
}

// MulDiv returns floor(a*b/den) using a 128-bit intermediate, so a*b may
// exceed 64 bits as long as the quotient fits. This is the fee and
// price-ratio primitive: fee = MulDiv(price, feeBps, 10000).
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, dErrors.New(dErrors.CodeArithmeticOverflow, "division by zero")
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, dErrors.New(dErrors.CodeArithmeticOverflow, "quotient overflows uint64")
	}
	quo, _ := bits.Div64(hi, lo, den)
	return quo, nil
}
