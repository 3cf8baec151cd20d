package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument — входные данные нарушают контракт (nil, пустой идентификатор и т.п.).
	// Всегда возвращается до обращения к хранилищу.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState — переход статуса не разрешён из текущего состояния.
	ErrInvalidState = errors.New("invalid state")
	// ErrOrderCompletionFailed: общий маркер для OrderCompletionFailure.
	ErrOrderCompletionFailed = errors.New("order completion failed")
	// ErrInsufficientStock — списание со склада увело бы остаток в минус.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrPersistence — ошибка хранилища (соединение, ограничения и т.п.).
	ErrPersistence = errors.New("persistence failure")

	// ErrProductNotFound возвращается, если тип товара отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInventoryItemNotFound возвращается, если для товара нет складской записи.
	ErrInventoryItemNotFound = errors.New("inventory item not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")

	// ErrMetricMismatch: арифметика над количествами в разных единицах.
	ErrMetricMismatch = errors.New("quantity metric mismatch")
	// ErrCurrencyMismatch: арифметика над суммами в разных валютах.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// Ошибки валидации полей.
	ErrProductIDRequired    = errors.New("product id is required")
	ErrProductNameRequired  = errors.New("product name is required")
	ErrProductKindInvalid   = errors.New("product kind is invalid")
	ErrPriceNegative        = errors.New("price must be non-negative")
	ErrMetricInvalid        = errors.New("metric is invalid")
	ErrOrderIDRequired      = errors.New("order id is required")
	ErrUserRequired         = errors.New("user id is required")
	ErrPaymentMethodInvalid = errors.New("payment method is invalid")
	ErrCurrencyRequired     = errors.New("currency is required")
	ErrLineQtyInvalid       = errors.New("line quantity must be greater than zero")
	ErrAmountMismatch       = errors.New("order total does not match lines sum")
	ErrOutboxPublish        = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// LineShortage описывает позицию, которую склад не может обеспечить.
type LineShortage struct {
	Line      OrderLine
	Required  Quantity
	Available Quantity
	Reason    error
}

// OrderCompletionFailure возвращается CompleteOrder, если хотя бы одна позиция не обеспечена.
// Гарантирует, что склад не изменился.
type OrderCompletionFailure struct {
	OrderID   OrderID
	Shortages []LineShortage
}

func (e *OrderCompletionFailure) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s: required %s, available %s", s.Line.ProductID, s.Required, s.Available))
	}
	return fmt.Sprintf("order %s cannot be completed: %s", e.OrderID, strings.Join(parts, "; "))
}

// Is позволяет сравнивать ошибку с ErrOrderCompletionFailed через errors.Is.
func (e *OrderCompletionFailure) Is(target error) bool {
	return target == ErrOrderCompletionFailed
}

// Lines возвращает позиции, которые не удалось обеспечить.
func (e *OrderCompletionFailure) Lines() []OrderLine {
	lines := make([]OrderLine, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		lines = append(lines, s.Line)
	}
	return lines
}

// PersistenceError оборачивает ошибку хранилища, сохраняя исходную причину.
type PersistenceError struct {
	Op  string
	Err error
}

// Persistence создаёт PersistenceError; nil остаётся nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}
