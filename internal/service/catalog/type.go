package catalog

import (
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Type — токен типа записи каталога: вид в иерархии и преобразования
// между T и базовой записью, в которой хранится состояние подтипа.
type Type[T any] struct {
	kind   domain.ProductKind
	encode func(T) (domain.ProductType, error)
	decode func(domain.ProductType) (T, error)
}

// NewType описывает подтип. encode переводит значение в базовую запись,
// decode восстанавливает его.
func NewType[T any](
	kind domain.ProductKind,
	encode func(T) (domain.ProductType, error),
	decode func(domain.ProductType) (T, error),
) Type[T] {
	return Type[T]{kind: kind, encode: encode, decode: decode}
}

// Kind возвращает вид токена.
func (t Type[T]) Kind() domain.ProductKind {
	return t.kind
}

// Accepts сообщает, присваиваема ли запись вида kind типу T.
func (t Type[T]) Accepts(kind domain.ProductKind) bool {
	return t.kind.Includes(kind)
}

// Products описывает все товары каталога как базовые записи.
var Products = NewType(domain.ProductKindBase,
	func(p domain.ProductType) (domain.ProductType, error) { return p.Clone(), nil },
	func(p domain.ProductType) (domain.ProductType, error) { return p.Clone(), nil },
)

// Perishables описывает скоропортящиеся товары.
var Perishables = NewType(domain.ProductKindPerishable, domain.EncodePerishable, domain.DecodePerishable)
