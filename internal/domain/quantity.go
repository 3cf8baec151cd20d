package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Metric — единица измерения количества.
type Metric string

const (
	// MetricUnit для штучного товара.
	MetricUnit Metric = "unit"
	// MetricKilogram для весового товара.
	MetricKilogram Metric = "kg"
	// MetricLiter для объёма.
	MetricLiter Metric = "l"
	// MetricMeter для длины (ткани, кабели).
	MetricMeter Metric = "m"
)

// Valid проверяет, что единица поддерживается.
func (m Metric) Valid() bool {
	switch m {
	case MetricUnit, MetricKilogram, MetricLiter, MetricMeter:
		return true
	default:
		return false
	}
}

// Quantity — количество с единицей измерения.
// Сравнение и арифметика допустимы только при совпадающих единицах.
type Quantity struct {
	Amount decimal.Decimal
	Metric Metric
}

// NewQuantity создаёт количество в указанной единице.
func NewQuantity(amount decimal.Decimal, metric Metric) Quantity {
	return Quantity{Amount: amount, Metric: metric}
}

// Units возвращает n штук.
func Units(n int64) Quantity {
	return Quantity{Amount: decimal.NewFromInt(n), Metric: MetricUnit}
}

// ZeroOf возвращает нулевое количество в единице metric.
func ZeroOf(metric Metric) Quantity {
	return Quantity{Amount: decimal.Zero, Metric: metric}
}

func (q Quantity) compatible(other Quantity) error {
	if q.Metric != other.Metric {
		return fmt.Errorf("%w: %s vs %s", ErrMetricMismatch, q.Metric, other.Metric)
	}
	return nil
}

// Add складывает количества одной единицы.
func (q Quantity) Add(other Quantity) (Quantity, error) {
	if err := q.compatible(other); err != nil {
		return Quantity{}, err
	}
	return Quantity{Amount: q.Amount.Add(other.Amount), Metric: q.Metric}, nil
}

// Sub вычитает количества одной единицы; результат может быть отрицательным.
func (q Quantity) Sub(other Quantity) (Quantity, error) {
	if err := q.compatible(other); err != nil {
		return Quantity{}, err
	}
	return Quantity{Amount: q.Amount.Sub(other.Amount), Metric: q.Metric}, nil
}

// Cmp возвращает -1, 0 или 1.
func (q Quantity) Cmp(other Quantity) (int, error) {
	if err := q.compatible(other); err != nil {
		return 0, err
	}
	return q.Amount.Cmp(other.Amount), nil
}

func (q Quantity) IsPositive() bool { return q.Amount.IsPositive() }
func (q Quantity) IsNegative() bool { return q.Amount.IsNegative() }
func (q Quantity) IsZero() bool     { return q.Amount.IsZero() }

func (q Quantity) String() string {
	return q.Amount.String() + " " + string(q.Metric)
}
