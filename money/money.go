/*
Package money provides the exact fixed-point money kernel.

PURPOSE:
  Every monetary amount in the engine is a Money value backed by
  decimal.Decimal. Allocation decisions use exact equality only - there is
  no floating-point tolerance anywhere in the core. Display layers may
  round, the engine never guesses.

KEY CONCEPTS:
  - Money: amount + currency code, immutable value type
  - Scale: amounts carry two fractional digits (minor units)
  - Rounding: half-up for interest/display, half-down when snapping
    installment amounts to configured multiples

WHY TWO ROUNDING MODES?
  Interest computed for a period is rounded half-up to minor units, the
  conventional banker-facing behavior. Installment principal portions are
  snapped to the product's "installment amount multiple" with half-down so
  the final installment absorbs the remainder instead of the earlier ones
  over-collecting (1250 / 4 = 312.50 snaps to 312, last installment 314).

SEE ALSO:
  - loan/schedule.go: uses SnapToMultiple when sizing installments
  - loan/allocation.go: uses exact comparison for allocation decisions
*/
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of minor-unit digits carried by every Money value.
const Scale = 2

// Money is an exact amount in a single currency.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

func New(amount decimal.Decimal, currency string) Money {
	return Money{amount: amount.Round(Scale), currency: currency}
}

func NewFromFloat(v float64, currency string) Money {
	return New(decimal.NewFromFloat(v), currency)
}

func NewFromInt(v int64, currency string) Money {
	return Money{amount: decimal.NewFromInt(v), currency: currency}
}

func NewFromString(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return New(d, currency), nil
}

// MustParse is for literals in configuration and tests.
func MustParse(s, currency string) Money {
	m, err := NewFromString(s, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// =============================================================================
// ACCESSORS
// =============================================================================

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string        { return m.currency }

func (m Money) String() string {
	return m.amount.StringFixed(Scale) + " " + m.currency
}

// =============================================================================
// ARITHMETIC - all operations return rounded-to-scale values
// =============================================================================

func (m Money) Add(o Money) Money { return Money{amount: m.amount.Add(o.amount), currency: m.currency} }
func (m Money) Sub(o Money) Money { return Money{amount: m.amount.Sub(o.amount), currency: m.currency} }
func (m Money) Neg() Money        { return Money{amount: m.amount.Neg(), currency: m.currency} }

func (m Money) Mul(f decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(f).Round(Scale), currency: m.currency}
}

// MulRaw multiplies without rounding. Used for intermediate interest math
// where rounding happens once per period, not per operation.
func (m Money) MulRaw(f decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(f), currency: m.currency}
}

func (m Money) Div(f decimal.Decimal) Money {
	return Money{amount: m.amount.DivRound(f, Scale), currency: m.currency}
}

func (m Money) Round() Money {
	return Money{amount: m.amount.Round(Scale), currency: m.currency}
}

// SnapToMultiple rounds the amount to the nearest multiple, half-down.
// A zero or negative multiple returns the value unchanged.
func (m Money) SnapToMultiple(multiple int64) Money {
	if multiple <= 0 {
		return m
	}
	mult := decimal.NewFromInt(multiple)
	q := m.amount.Div(mult)
	// Half-down: 312.5 snaps to 312, 312.51 snaps to 313.
	floor := q.Floor()
	frac := q.Sub(floor)
	rounded := floor
	if frac.GreaterThan(decimal.NewFromFloat(0.5)) {
		rounded = floor.Add(decimal.NewFromInt(1))
	}
	return Money{amount: rounded.Mul(mult), currency: m.currency}
}

// =============================================================================
// COMPARISON - exact, no tolerance
// =============================================================================

func (m Money) Equal(o Money) bool       { return m.amount.Equal(o.amount) }
func (m Money) GreaterThan(o Money) bool { return m.amount.GreaterThan(o.amount) }
func (m Money) LessThan(o Money) bool    { return m.amount.LessThan(o.amount) }
func (m Money) Compare(o Money) int      { return m.amount.Cmp(o.amount) }

func (m Money) IsZero() bool     { return m.amount.IsZero() }
func (m Money) IsNegative() bool { return m.amount.IsNegative() }
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// Zero returns a zero value in the same currency.
func (m Money) Zero() Money { return Money{amount: decimal.Zero, currency: m.currency} }

// =============================================================================
// SERIALIZATION
// =============================================================================

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.StringFixed(Scale), Currency: m.currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var mj moneyJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return err
	}
	parsed, err := NewFromString(mj.Amount, mj.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
