package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCurrency используется для новых заказов, если валюта не задана явно.
const DefaultCurrency = "EUR"

// Money — денежная сумма с валютой. Арифметика допустима только в одной валюте.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney создаёт сумму в указанной валюте.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// MoneyFromFloat удобен для тестов и сидов: 1.2 EUR и т.п.
func MoneyFromFloat(amount float64, currency string) Money {
	return Money{Amount: decimal.NewFromFloat(amount), Currency: currency}
}

// ZeroMoney возвращает нулевую сумму в валюте.
func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Add складывает суммы одной валюты.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Times умножает сумму на коэффициент (например, на количество).
func (m Money) Times(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// Equal сравнивает суммы по значению, а не по представлению decimal.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}
