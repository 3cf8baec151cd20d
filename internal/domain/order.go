package domain

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// OrderID — идентификатор заказа.
type OrderID string

// OrderLineID — идентификатор позиции заказа.
type OrderLineID string

// UserID — ссылка на владельца заказа.
type UserID string

// NewOrderID генерирует новый идентификатор заказа.
func NewOrderID() OrderID {
	return OrderID(uuid.NewString())
}

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusOpen: заказ создан, позиции можно менять.
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusPaid: заказ оплачен, позиции заморожены.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusCompleted: товар списан со склада, конечный статус.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled: заказ отменён, конечный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusOpen: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid: {OrderStatusCompleted, OrderStatusCancelled},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusOpen, OrderStatusPaid, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса переходов нет.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionTo проверяет переход по таблице состояний.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return slices.Contains(orderTransitions[s], next)
}

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCash       PaymentMethod = "cash"
	PaymentMethodCheque     PaymentMethod = "cheque"
	PaymentMethodCreditCard PaymentMethod = "credit_card"
)

// Valid проверяет поддерживаемые способы оплаты.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCheque, PaymentMethodCreditCard:
		return true
	default:
		return false
	}
}

// OrderLine — позиция заказа. Ссылается на товар по идентификатору
// и фиксирует цену на момент добавления.
type OrderLine struct {
	ID          OrderLineID
	ProductID   ProductID
	ProductName string
	Quantity    Quantity
	// Price хранит цену за единицу на момент добавления в заказ.
	Price     Money
	CreatedAt time.Time
}

// NewOrderLine создаёт позицию по товару из каталога.
func NewOrderLine(product ProductType, qty Quantity) (OrderLine, error) {
	if product.ID == "" {
		return OrderLine{}, invalidArgument("product id is empty")
	}
	if !qty.IsPositive() {
		return OrderLine{}, fmt.Errorf("%w: %w", ErrInvalidArgument, ErrLineQtyInvalid)
	}
	if qty.Metric != product.Metric {
		return OrderLine{}, fmt.Errorf("%w: %w", ErrInvalidArgument, ErrMetricMismatch)
	}
	return OrderLine{
		ID:          OrderLineID(uuid.NewString()),
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    qty,
		Price:       product.Price,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}, nil
}

// Total считает стоимость позиции.
func (l OrderLine) Total() Money {
	return l.Price.Times(l.Quantity.Amount)
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID            OrderID
	UserID        UserID
	PaymentMethod PaymentMethod
	Status        OrderStatus
	Currency      string
	// Total пересчитывается при каждом изменении позиций.
	Total     Money
	Lines     []OrderLine
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder создаёт открытый заказ. Время создания усечено до микросекунд,
// чтобы совпадать после сохранения в PostgreSQL.
func NewOrder(user UserID, method PaymentMethod) Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return Order{
		ID:            NewOrderID(),
		UserID:        user,
		PaymentMethod: method,
		Status:        OrderStatusOpen,
		Currency:      DefaultCurrency,
		Total:         ZeroMoney(DefaultCurrency),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Add добавляет позицию; допустимо только для открытого заказа.
func (o *Order) Add(line OrderLine) error {
	if o.Status != OrderStatusOpen {
		return fmt.Errorf("%w: lines of %s order are frozen", ErrInvalidState, o.Status)
	}
	if line.Price.Currency != o.Currency {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrCurrencyMismatch)
	}
	if !line.Quantity.IsPositive() {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrLineQtyInvalid)
	}
	o.Lines = append(o.Lines, line)
	return o.recalculate()
}

// Remove удаляет позицию по идентификатору; false, если такой нет.
func (o *Order) Remove(lineID OrderLineID) (bool, error) {
	if o.Status != OrderStatusOpen {
		return false, fmt.Errorf("%w: lines of %s order are frozen", ErrInvalidState, o.Status)
	}
	idx := slices.IndexFunc(o.Lines, func(l OrderLine) bool { return l.ID == lineID })
	if idx < 0 {
		return false, nil
	}
	o.Lines = slices.Delete(o.Lines, idx, idx+1)
	return true, o.recalculate()
}

func (o *Order) recalculate() error {
	total := ZeroMoney(o.Currency)
	for _, line := range o.Lines {
		var err error
		if total, err = total.Add(line.Total()); err != nil {
			return err
		}
	}
	o.Total = total
	return nil
}

// TransitionTo переводит заказ в новый статус по таблице состояний.
func (o *Order) TransitionTo(next OrderStatus, at time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: order %s cannot move from %s to %s", ErrInvalidState, o.ID, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = at
	return nil
}

// Requirement: суммарное требуемое количество товара по заказу.
type Requirement struct {
	ProductID ProductID
	Quantity  Quantity
	Lines     []OrderLine
}

// Requirements агрегирует позиции по товарам в порядке идентификаторов.
// Детерминированный порядок нужен, чтобы блокировки склада брались одинаково.
func (o *Order) Requirements() ([]Requirement, error) {
	byProduct := make(map[ProductID]*Requirement, len(o.Lines))
	for _, line := range o.Lines {
		req, ok := byProduct[line.ProductID]
		if !ok {
			byProduct[line.ProductID] = &Requirement{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Lines:     []OrderLine{line},
			}
			continue
		}
		sum, err := req.Quantity.Add(line.Quantity)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", line.ProductID, err)
		}
		req.Quantity = sum
		req.Lines = append(req.Lines, line)
	}

	result := make([]Requirement, 0, len(byProduct))
	for _, req := range byProduct {
		result = append(result, *req)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result, nil
}

// Clone возвращает копию без общего среза позиций.
func (o Order) Clone() Order {
	o.Lines = slices.Clone(o.Lines)
	return o
}

// SameLines сравнивает состав позиций двух заказов.
func (o Order) SameLines(other Order) bool {
	if len(o.Lines) != len(other.Lines) {
		return false
	}
	for i := range o.Lines {
		a, b := o.Lines[i], other.Lines[i]
		if a.ID != b.ID || a.ProductID != b.ProductID ||
			!a.Quantity.Amount.Equal(b.Quantity.Amount) || a.Quantity.Metric != b.Quantity.Metric ||
			!a.Price.Equal(b.Price) {
			return false
		}
	}
	return true
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if !o.PaymentMethod.Valid() {
		errs = append(errs, ErrPaymentMethodInvalid)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}

	// Сверяем итог с суммой позиций: qty * price.
	calc := ZeroMoney(o.Currency)
	for _, line := range o.Lines {
		if !line.Quantity.IsPositive() {
			errs = append(errs, ErrLineQtyInvalid)
		}
		sum, err := calc.Add(line.Total())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		calc = sum
	}
	if !calc.Equal(o.Total) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
