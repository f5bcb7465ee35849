// internal/pkg/money/money.go
package money

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrInvalidCurrency  = errors.New("currency must be a 3-letter ISO code")
	ErrInvalidQuantity  = errors.New("quantity must be greater than zero")
	ErrNegativeAmount   = errors.New("amount must not be negative")
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Money is an immutable currency-aware amount.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New builds a Money value. Negative amounts and malformed currency codes are rejected.
func New(amount decimal.Decimal, currency string) (Money, error) {
	if !currencyPattern.MatchString(currency) {
		return Money{}, errors.Wrapf(ErrInvalidCurrency, "got %q", currency)
	}
	if amount.IsNegative() {
		return Money{}, errors.Wrapf(ErrNegativeAmount, "got %s", amount.String())
	}
	return Money{amount: amount, currency: currency}, nil
}

// MustNew is New for literals known to be valid.
func MustNew(amount string, currency string) Money {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		panic(err)
	}
	m, err := New(d, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string        { return m.currency }

// Add returns m+other; both operands must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, errors.Wrapf(ErrCurrencyMismatch, "%s + %s", m.currency, other.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

func (m Money) Multiply(q Quantity) Money {
	return Money{amount: m.amount.Mul(decimal.NewFromInt(int64(q))), currency: m.currency}
}

// Equals compares amount and currency. 10.0 USD equals 10.00 USD.
func (m Money) Equals(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(2), m.currency)
}

// Quantity is a strictly positive item count.
type Quantity int

func NewQuantity(n int) (Quantity, error) {
	if n <= 0 {
		return 0, errors.Wrapf(ErrInvalidQuantity, "got %d", n)
	}
	return Quantity(n), nil
}

func (q Quantity) Int() int { return int(q) }
