package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type inventoryRepository struct {
	q       querier
	locking bool
}

// NewInventoryRepository создаёт PostgreSQL-реализацию складского учёта.
func NewInventoryRepository(store *Store) domain.InventoryRepository {
	return &inventoryRepository{q: store.DB()}
}

// QuantityOf внутри транзакции блокирует строку до её завершения.
func (r *inventoryRepository) QuantityOf(ctx context.Context, id domain.ProductID) (domain.Quantity, error) {
	item, err := r.Get(ctx, id)
	if err != nil {
		return domain.Quantity{}, err
	}
	return item.Quantity, nil
}

// Decrement списывает остаток одним UPDATE с условием quantity >= qty.
func (r *inventoryRepository) Decrement(ctx context.Context, id domain.ProductID, qty domain.Quantity) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: decrement by %s", domain.ErrInvalidArgument, qty)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE inventory_items
		SET quantity = quantity - $2,
		    version = version + 1,
		    updated_at = $4
		WHERE product_id = $1
		  AND metric = $3
		  AND quantity >= $2
	`, id, qty.Amount, string(qty.Metric), time.Now().UTC())
	if err != nil {
		return domain.Persistence("decrement inventory", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence("rows affected", err)
	}
	if affected > 0 {
		return nil
	}

	// Строка не обновилась: выясняем причину.
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Quantity.Metric != qty.Metric {
		return fmt.Errorf("%w: %s vs %s", domain.ErrMetricMismatch, current.Quantity.Metric, qty.Metric)
	}
	return fmt.Errorf("%w: %s has %s, requested %s", domain.ErrInsufficientStock, id, current.Quantity, qty)
}

// Increment пополняет остаток, создавая запись при первом поступлении.
func (r *inventoryRepository) Increment(ctx context.Context, id domain.ProductID, qty domain.Quantity) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: increment by %s", domain.ErrInvalidArgument, qty)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var metric string
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO inventory_items (product_id, quantity, metric, version, updated_at)
		VALUES ($1,$2,$3,1,$4)
		ON CONFLICT (product_id) DO UPDATE
		SET quantity = inventory_items.quantity + EXCLUDED.quantity,
		    version = inventory_items.version + 1,
		    updated_at = EXCLUDED.updated_at
		WHERE inventory_items.metric = EXCLUDED.metric
		RETURNING metric
	`, id, qty.Amount, string(qty.Metric), time.Now().UTC()).Scan(&metric)
	if errors.Is(err, sql.ErrNoRows) {
		// Конфликт по ключу, но WHERE не прошёл: единицы не совпали.
		return fmt.Errorf("%w: increment %s by %s", domain.ErrMetricMismatch, id, qty)
	}
	if err != nil {
		return domain.Persistence("increment inventory", err)
	}
	return nil
}

func (r *inventoryRepository) Save(ctx context.Context, item domain.InventoryItem) error {
	if item.ProductID == "" {
		return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrProductIDRequired)
	}
	if !item.Quantity.Metric.Valid() || item.Quantity.IsNegative() {
		return fmt.Errorf("%w: stock quantity %s", domain.ErrInvalidArgument, item.Quantity)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO inventory_items (product_id, quantity, metric, version, updated_at)
		VALUES ($1,$2,$3,1,$4)
		ON CONFLICT (product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity,
		    metric = EXCLUDED.metric,
		    version = inventory_items.version + 1,
		    updated_at = EXCLUDED.updated_at
	`, item.ProductID, item.Quantity.Amount, string(item.Quantity.Metric), time.Now().UTC()); err != nil {
		return domain.Persistence("save inventory item", err)
	}
	return nil
}

func (r *inventoryRepository) Get(ctx context.Context, id domain.ProductID) (domain.InventoryItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	stmt := `
		SELECT product_id, quantity, metric, version, updated_at
		FROM inventory_items
		WHERE product_id = $1`
	if r.locking {
		stmt += ` FOR UPDATE`
	}

	var (
		item   domain.InventoryItem
		metric string
	)
	err := r.q.QueryRowContext(ctx, stmt, id).Scan(
		&item.ProductID, &item.Quantity.Amount, &metric, &item.Version, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryItem{}, domain.ErrInventoryItemNotFound
		}
		return domain.InventoryItem{}, domain.Persistence("select inventory item", err)
	}
	item.Quantity.Metric = domain.Metric(metric)
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func (r *inventoryRepository) Remove(ctx context.Context, id domain.ProductID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `DELETE FROM inventory_items WHERE product_id = $1`, id)
	if err != nil {
		return false, domain.Persistence("delete inventory item", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, domain.Persistence("rows affected", err)
	}
	return affected > 0, nil
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
