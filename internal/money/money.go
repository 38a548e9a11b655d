package money

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Amount is a signed quantity of minor currency units (cents).
type Amount int64

var (
	ErrFractional = errors.New("amount must be a whole number of minor units")
	ErrNotNumber  = errors.New("amount must be a JSON integer")
	ErrOverflow   = errors.New("amount out of range")
)

var (
	maxAmount = decimal.NewFromInt(math.MaxInt64)
	minAmount = decimal.NewFromInt(math.MinInt64)
)

// UnmarshalJSON accepts only integer literals. Decimal points and exponents
// are rejected rather than rounded.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) == 0 || data[0] == '"' {
		return ErrNotNumber
	}
	if bytes.ContainsAny(data, ".eE") {
		return ErrFractional
	}

	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return ErrNotNumber
	}
	if !d.IsInteger() {
		return ErrFractional
	}
	if d.GreaterThan(maxAmount) || d.LessThan(minAmount) {
		return ErrOverflow
	}

	*a = Amount(d.IntPart())
	return nil
}

// Add returns a+b, failing instead of wrapping on overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Neg returns -a. MinInt64 has no positive counterpart.
func (a Amount) Neg() (Amount, error) {
	if a == math.MinInt64 {
		return 0, ErrOverflow
	}
	return -a, nil
}

func (a Amount) Int64() int64 { return int64(a) }

// Decimal converts the amount to major units, e.g. 1234 -> 12.34.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String formats the amount for humans, e.g. "$12.34" or "-$0.05".
func (a Amount) String() string {
	d := a.Decimal()
	if d.IsNegative() {
		return fmt.Sprintf("-$%s", d.Neg().StringFixed(2))
	}
	return fmt.Sprintf("$%s", d.StringFixed(2))
}

// Sum adds amounts in order, reporting overflow.
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, amt := range amounts {
		var err error
		if total, err = total.Add(amt); err != nil {
			return 0, err
		}
	}
	return total, nil
}
