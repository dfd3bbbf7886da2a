// Package fixedpoint implements the deterministic decimal arithmetic used by the ledger.
//
// A Value is a signed integer whose magnitude is held in 256 bits. Values carry no scale of
// their own: a Precision (10^decimals) is applied by Mul and Div, which rescale their result
// and round toward zero. Every operation reports overflow instead of wrapping.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrDivisionByZero     = errors.New("division by zero")
)

// Value is a signed scaled integer. Zero is never negative.
type Value struct {
	neg bool
	mag uint256.Int
}

// Zero returns the zero value.
func Zero() Value {
	return Value{}
}

// FromInt64 returns n raw units (no scaling applied).
func FromInt64(n int64) Value {
	if n < 0 {
		return Value{neg: true, mag: *uint256.NewInt(uint64(^n) + 1)}
	}
	return Value{mag: *uint256.NewInt(uint64(n))}
}

// FromUint64 returns n raw units (no scaling applied).
func FromUint64(n uint64) Value {
	return Value{mag: *uint256.NewInt(n)}
}

func newValue(neg bool, mag *uint256.Int) Value {
	v := Value{neg: neg, mag: *mag}
	if v.mag.IsZero() {
		v.neg = false
	}
	return v
}

func (v Value) IsZero() bool {
	return v.mag.IsZero()
}

func (v Value) IsNegative() bool {
	return v.neg
}

func (v Value) IsPositive() bool {
	return !v.neg && !v.mag.IsZero()
}

// Sign returns -1, 0 or 1.
func (v Value) Sign() int {
	switch {
	case v.mag.IsZero():
		return 0
	case v.neg:
		return -1
	default:
		return 1
	}
}

func (v Value) Neg() Value {
	return newValue(!v.neg, &v.mag)
}

func (v Value) Abs() Value {
	return Value{mag: v.mag}
}

// Cmp compares v and o and returns -1, 0 or 1.
func (v Value) Cmp(o Value) int {
	switch {
	case v.neg && !o.neg:
		return -1
	case !v.neg && o.neg:
		return 1
	}
	c := v.mag.Cmp(&o.mag)
	if v.neg {
		return -c
	}
	return c
}

func (v Value) Equal(o Value) bool              { return v.Cmp(o) == 0 }
func (v Value) LessThan(o Value) bool           { return v.Cmp(o) < 0 }
func (v Value) LessThanOrEqual(o Value) bool    { return v.Cmp(o) <= 0 }
func (v Value) GreaterThan(o Value) bool        { return v.Cmp(o) > 0 }
func (v Value) GreaterThanOrEqual(o Value) bool { return v.Cmp(o) >= 0 }

// Add returns v + o.
func (v Value) Add(o Value) (Value, error) {
	var out uint256.Int
	if v.neg == o.neg {
		if _, overflow := out.AddOverflow(&v.mag, &o.mag); overflow {
			return Value{}, ErrArithmeticOverflow
		}
		return newValue(v.neg, &out), nil
	}

	// opposite signs: the larger magnitude keeps its sign
	if v.mag.Cmp(&o.mag) >= 0 {
		out.Sub(&v.mag, &o.mag)
		return newValue(v.neg, &out), nil
	}
	out.Sub(&o.mag, &v.mag)
	return newValue(o.neg, &out), nil
}

// Sub returns v - o.
func (v Value) Sub(o Value) (Value, error) {
	return v.Add(o.Neg())
}

// String renders the raw (unscaled) integer.
func (v Value) String() string {
	if v.neg {
		return "-" + v.mag.Dec()
	}
	return v.mag.Dec()
}

func Min(a, b Value) Value {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a, b Value) Value {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
