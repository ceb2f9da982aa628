package domain

import (
	"fmt"
	"strings"
)

// ErrCurrencyMismatch is returned when arithmetic mixes currencies.
var ErrCurrencyMismatch = fmt.Errorf("currency mismatch")

// Money is an exact fixed-point currency amount. The amount is stored in the
// currency's minor unit (cents for USD). Money values are immutable.
type Money struct {
	amount   int64
	currency string
}

// NewMoney creates a Money value. The currency code is normalized to upper case.
func NewMoney(amount int64, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Money{}, &ValidationError{Field: "currency", Message: "currency is required"}
	}
	if len(currency) != 3 {
		return Money{}, &ValidationError{Field: "currency", Message: "currency must be a 3-letter ISO code"}
	}
	return Money{amount: amount, currency: currency}, nil
}

// MustMoney creates a Money value and panics on invalid input. Intended for
// constants and tests.
func MustMoney(amount int64, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Amount returns the amount in minor units.
func (m Money) Amount() int64 { return m.amount }

// Currency returns the ISO currency code.
func (m Money) Currency() string { return m.currency }

// IsZero reports whether the value is the zero Money.
func (m Money) IsZero() bool { return m.currency == "" && m.amount == 0 }

// IsPositive reports whether the amount is strictly positive.
func (m Money) IsPositive() bool { return m.amount > 0 }

// Add returns the sum of two amounts of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return Money{amount: m.amount + other.amount, currency: m.currency}, nil
}

// Subtract returns the difference of two amounts of the same currency.
func (m Money) Subtract(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return Money{amount: m.amount - other.amount, currency: m.currency}, nil
}

// Cmp compares two amounts of the same currency. It returns -1, 0 or 1.
func (m Money) Cmp(other Money) (int, error) {
	if m.currency != other.currency {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	switch {
	case m.amount < other.amount:
		return -1, nil
	case m.amount > other.amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal reports whether both currency and amount match.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount == other.amount
}

// SameCurrency reports whether both values share a currency.
func (m Money) SameCurrency(other Money) bool {
	return m.currency == other.currency
}

// String renders the amount with two decimal places, e.g. "22.00 USD".
func (m Money) String() string {
	sign := ""
	amount := m.amount
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, m.currency)
}
