package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// MaxDecimals bounds the scale so that products of two scaled values keep headroom in 256 bits.
const MaxDecimals = 36

// Precision is the scale 10^decimals shared by every quantity of a market.
type Precision struct {
	decimals uint8
	unit     uint256.Int
}

func NewPrecision(decimals uint8) (Precision, error) {
	if decimals > MaxDecimals {
		return Precision{}, fmt.Errorf("decimals %d exceeds %d: %w", decimals, MaxDecimals, ErrArithmeticOverflow)
	}

	var unit uint256.Int
	unit.Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	return Precision{decimals: decimals, unit: unit}, nil
}

// MustPrecision is NewPrecision for known-good constants.
func MustPrecision(decimals uint8) Precision {
	p, err := NewPrecision(decimals)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Precision) Decimals() uint8 {
	return p.decimals
}

// One returns 1.0 at this precision.
func (p Precision) One() Value {
	return Value{mag: p.unit}
}

// FromInt returns the whole number n at this precision.
func (p Precision) FromInt(n int64) (Value, error) {
	raw := FromInt64(n)
	var out uint256.Int
	if _, overflow := out.MulOverflow(&raw.mag, &p.unit); overflow {
		return Value{}, ErrArithmeticOverflow
	}
	return newValue(raw.neg, &out), nil
}

// Mul returns a*b rescaled, rounded toward zero.
func (p Precision) Mul(a, b Value) (Value, error) {
	if p.unit.IsZero() {
		return Value{}, ErrDivisionByZero
	}

	var out uint256.Int
	if _, overflow := out.MulDivOverflow(&a.mag, &b.mag, &p.unit); overflow {
		return Value{}, ErrArithmeticOverflow
	}
	return newValue(a.neg != b.neg, &out), nil
}

// Div returns a/b rescaled, rounded toward zero.
func (p Precision) Div(a, b Value) (Value, error) {
	if b.IsZero() {
		return Value{}, ErrDivisionByZero
	}

	var out uint256.Int
	if _, overflow := out.MulDivOverflow(&a.mag, &p.unit, &b.mag); overflow {
		return Value{}, ErrArithmeticOverflow
	}
	return newValue(a.neg != b.neg, &out), nil
}

// FromDecimal scales d. Digits beyond the precision are truncated toward zero.
func (p Precision) FromDecimal(d decimal.Decimal) (Value, error) {
	scaled := d.Shift(int32(p.decimals)).BigInt()
	neg := scaled.Sign() < 0

	mag, overflow := uint256.FromBig(new(big.Int).Abs(scaled))
	if overflow {
		return Value{}, ErrArithmeticOverflow
	}
	return newValue(neg, mag), nil
}

func (p Precision) ToDecimal(v Value) decimal.Decimal {
	b := v.mag.ToBig()
	if v.neg {
		b.Neg(b)
	}
	return decimal.NewFromBigInt(b, -int32(p.decimals))
}

// Parse reads a decimal string such as "0.05" or "-12.5".
func (p Precision) Parse(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, fmt.Errorf("parse %q: %w", s, err)
	}
	return p.FromDecimal(d)
}

// MustParse is Parse for known-good constants.
func (p Precision) MustParse(s string) Value {
	v, err := p.Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders v as a decimal string without trailing zeros.
func (p Precision) Format(v Value) string {
	return p.ToDecimal(v).String()
}
