package domain

import "time"

// Interval — отрезок времени с включёнными границами.
type Interval struct {
	From time.Time
	To   time.Time
}

// NewInterval создаёт интервал, если To раньше From, возвращает ErrInvalidArgument.
func NewInterval(from, to time.Time) (Interval, error) {
	iv := Interval{From: from, To: to}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Validate проверяет порядок границ.
func (iv Interval) Validate() error {
	if iv.To.Before(iv.From) {
		return invalidArgument("interval end %s is before start %s",
			iv.To.Format(time.RFC3339Nano), iv.From.Format(time.RFC3339Nano))
	}
	return nil
}

// Contains проверяет попадание момента в интервал, включая границы.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.From) && !t.After(iv.To)
}
