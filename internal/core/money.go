// Package core provides money parsing and handling utilities.
//
// Amounts are whole currency units in practice (the ledger is kept in đồng),
// but the backend may send decimals, so Money is backed by a decimal type.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a non-negative decimal quantity of currency.
type Money struct {
	decimal.Decimal
}

// NewMoney creates Money from whole units.
func NewMoney(units int64) Money {
	return Money{Decimal: decimal.NewFromInt(units)}
}

// Zero is the zero amount.
func Zero() Money {
	return Money{Decimal: decimal.Zero}
}

// ParseAmount converts user input to Money.
//
// Periods are thousands separators ("50.000" is fifty thousand) and a comma
// marks decimals, matching how the form formats numbers. Plain digits are
// accepted as is. Zero, negative and malformed values are rejected.
//
// Examples:
//
//	ParseAmount("50.000")  -> 50000
//	ParseAmount("1.234,5") -> 1234.5
//	ParseAmount("250")     -> 250
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	m := Money{Decimal: d}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

// Validate requires a strictly positive amount.
func (m Money) Validate() error {
	if !m.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money {
	return Money{Decimal: m.Decimal.Add(o.Decimal)}
}

func (m Money) Sub(o Money) Money {
	return Money{Decimal: m.Decimal.Sub(o.Decimal)}
}

// FloorZero returns m, or zero when m is negative.
func (m Money) FloorZero() Money {
	if m.IsNegative() {
		return Zero()
	}
	return m
}

// Format renders the amount with period thousands separators and, when
// present, a comma before the fractional part: 1234567.5 -> "1.234.567,5".
func (m Money) Format() string {
	neg := m.IsNegative()
	s := m.Abs().String()
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	return b.String()
}

// MarshalJSON writes the amount as a bare JSON number, the form the webhook
// expects.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

// UnmarshalJSON accepts numbers and quoted numbers.
func (m *Money) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		m.Decimal = decimal.Zero
		return nil
	}
	return m.Decimal.UnmarshalJSON(data)
}
