package memory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// inventoryRepository реализует складской учёт в памяти.
type inventoryRepository struct {
	v view
}

func (r *inventoryRepository) QuantityOf(ctx context.Context, id domain.ProductID) (domain.Quantity, error) {
	var qty domain.Quantity
	err := r.v.read(ctx, func(st *state) error {
		item, ok := st.stock[id]
		if !ok {
			return domain.ErrInventoryItemNotFound
		}
		qty = item.Quantity
		return nil
	})
	return qty, err
}

// Decrement списывает qty, не допуская отрицательного остатка.
func (r *inventoryRepository) Decrement(ctx context.Context, id domain.ProductID, qty domain.Quantity) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: decrement by %s", domain.ErrInvalidArgument, qty)
	}
	return r.v.write(ctx, func(st *state) error {
		item, ok := st.stock[id]
		if !ok {
			return domain.ErrInventoryItemNotFound
		}
		left, err := item.Quantity.Sub(qty)
		if err != nil {
			return err
		}
		if left.IsNegative() {
			return fmt.Errorf("%w: %s has %s, requested %s", domain.ErrInsufficientStock, id, item.Quantity, qty)
		}
		item.Quantity = left
		item.Version++
		item.UpdatedAt = r.v.store.now()
		st.stock[id] = item
		return nil
	})
}

// Increment пополняет остаток, создавая запись при первом поступлении.
func (r *inventoryRepository) Increment(ctx context.Context, id domain.ProductID, qty domain.Quantity) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: increment by %s", domain.ErrInvalidArgument, qty)
	}
	return r.v.write(ctx, func(st *state) error {
		item, ok := st.stock[id]
		if !ok {
			item = domain.InventoryItem{ProductID: id, Quantity: domain.ZeroOf(qty.Metric)}
		}
		sum, err := item.Quantity.Add(qty)
		if err != nil {
			return err
		}
		item.Quantity = sum
		item.Version++
		item.UpdatedAt = r.v.store.now()
		st.stock[id] = item
		return nil
	})
}

// Save устанавливает остаток напрямую (инвентаризация).
func (r *inventoryRepository) Save(ctx context.Context, item domain.InventoryItem) error {
	if item.ProductID == "" {
		return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrProductIDRequired)
	}
	if !item.Quantity.Metric.Valid() || item.Quantity.IsNegative() {
		return fmt.Errorf("%w: stock quantity %s", domain.ErrInvalidArgument, item.Quantity)
	}
	return r.v.write(ctx, func(st *state) error {
		item.Version = st.stock[item.ProductID].Version + 1
		item.UpdatedAt = r.v.store.now()
		st.stock[item.ProductID] = item
		return nil
	})
}

func (r *inventoryRepository) Get(ctx context.Context, id domain.ProductID) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := r.v.read(ctx, func(st *state) error {
		stored, ok := st.stock[id]
		if !ok {
			return domain.ErrInventoryItemNotFound
		}
		item = stored
		return nil
	})
	return item, err
}

func (r *inventoryRepository) Remove(ctx context.Context, id domain.ProductID) (bool, error) {
	var existed bool
	err := r.v.write(ctx, func(st *state) error {
		_, existed = st.stock[id]
		delete(st.stock, id)
		return nil
	})
	return existed, err
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
