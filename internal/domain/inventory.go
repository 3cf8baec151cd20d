package domain

import (
	"context"
	"time"
)

// InventoryItem — складской остаток по товару.
type InventoryItem struct {
	ProductID ProductID
	Quantity  Quantity
	Version   int64
	UpdatedAt time.Time
}

// Inventory — складской учёт в объёме, нужном для завершения заказа.
type Inventory interface {
	// QuantityOf возвращает остаток или ErrInventoryItemNotFound.
	QuantityOf(ctx context.Context, id ProductID) (Quantity, error)
	// Decrement уменьшает остаток. Если остатка не хватает, возвращает
	// ErrInsufficientStock и ничего не меняет.
	Decrement(ctx context.Context, id ProductID, qty Quantity) error
	// Increment увеличивает остаток, создавая запись при необходимости.
	Increment(ctx context.Context, id ProductID, qty Quantity) error
}

// InventoryRepository дополняет Inventory администрированием записей.
type InventoryRepository interface {
	Inventory
	Save(ctx context.Context, item InventoryItem) error
	Get(ctx context.Context, id ProductID) (InventoryItem, error)
	Remove(ctx context.Context, id ProductID) (bool, error)
}
