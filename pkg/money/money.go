// Package money implements fixed-point arithmetic for prices and cash
// amounts. Internally every amount is an arbitrary-precision
// decimal.Decimal; String and JSON render it at a fixed scale of 4
// places. Conversion to float or string only happens at a system
// boundary (JSON, CLI flags, logging).
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places carried internally.
const Scale = 4

// Amount wraps decimal.Decimal so money values can't be accidentally
// mixed with raw floats or unscaled integers.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// New builds an Amount from a float64. Only use at a system boundary
// (test fixtures, CLI flag parsing) — never derive one Amount from
// another via float64 round-tripping.
func New(f float64) Amount {
	return Amount{d: decimal.NewFromFloat(f)}
}

// NewFromString parses a decimal string exactly, without the float64
// rounding New incurs.
func NewFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

// NewFromInt builds an Amount representing a whole number.
func NewFromInt(i int64) Amount {
	return Amount{d: decimal.NewFromInt(i)}
}

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }
func (a Amount) Mul(b Amount) Amount { return Amount{d: a.d.Mul(b.d)} }

// Div divides a by b. Callers must check b is non-zero; Div panics on a
// zero divisor the same way decimal.Decimal does, since a silent NaN
// would be worse than a crash in fee/margin arithmetic.
func (a Amount) Div(b Amount) Amount { return Amount{d: a.d.Div(b.d)} }

// MulFloat scales an amount by a plain ratio (e.g. a percentage or a
// stress-test shock factor expressed as 1.10 for +10%).
func (a Amount) MulFloat(ratio float64) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromFloat(ratio))}
}

// RoundHalfUp rounds to the given number of decimal places using
// round-half-up, the convention fee and margin rule sets specify.
func (a Amount) RoundHalfUp(places int32) Amount {
	return Amount{d: roundHalfUp(a.d, places)}
}

// Round2 is the common case: round half up to 2 decimal places, the
// precision brokerage/GST/STT components are quoted and settled at.
func (a Amount) Round2() Amount {
	return Amount{d: roundHalfUp(a.d, 2)}
}

func roundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	mul := decimal.New(1, places)
	shifted := d.Mul(mul)
	half := decimal.NewFromFloat(0.5)
	if shifted.IsNegative() {
		half = half.Neg()
	}
	return shifted.Add(half).Truncate(0).Div(mul)
}

// FloorToStep rounds a down to the nearest multiple of step. Used to
// align order prices to an instrument's tick size.
func (a Amount) FloorToStep(step Amount) Amount {
	if step.IsZero() {
		return a
	}
	ratio := a.d.Div(step.d).Truncate(0)
	return Amount{d: step.d.Mul(ratio)}
}

func (a Amount) IsZero() bool             { return a.d.IsZero() }
func (a Amount) IsNegative() bool         { return a.d.IsNegative() }
func (a Amount) IsPositive() bool         { return a.d.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.d.GreaterThan(b.d) }
func (a Amount) LessThan(b Amount) bool    { return a.d.LessThan(b.d) }
func (a Amount) Equal(b Amount) bool       { return a.d.Equal(b.d) }
func (a Amount) Neg() Amount               { return Amount{d: a.d.Neg()} }

func (a Amount) Float64() float64 { return a.d.InexactFloat64() }
func (a Amount) String() string   { return a.d.StringFixed(Scale) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.d.StringFixed(Scale))
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("unmarshal amount %q: %w", s, err)
		}
		a.d = d
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("unmarshal amount: %w", err)
	}
	a.d = decimal.NewFromFloat(f)
	return nil
}

// Decimal exposes the underlying decimal.Decimal for packages (risk,
// margin) that need gonum-compatible float conversions or additional
// decimal operations not wrapped here.
func (a Amount) Decimal() decimal.Decimal { return a.d }
