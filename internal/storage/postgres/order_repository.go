package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const orderColumns = `id, user_id, payment_method, status, currency, total_amount, version, created_at, updated_at`

type orderRepository struct {
	q querier
	// locking: репозиторий работает внутри транзакции и читает строки с FOR UPDATE.
	locking bool
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{q: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return runInTx(ctx, r.q, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (
				id, user_id, payment_method, status, currency, total_amount, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			order.ID, order.UserID, string(order.PaymentMethod), string(order.Status), order.Currency,
			order.Total.Amount, order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderVersionConflict
			}
			return domain.Persistence("insert order", err)
		}
		return insertLines(ctx, q, order)
	})
}

func (r *orderRepository) Get(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	stmt := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if r.locking {
		stmt += ` FOR UPDATE`
	}

	order, err := scanOrder(r.q.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.Persistence("select order", err)
	}

	lines, err := r.loadLines(ctx, []domain.OrderID{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines[order.ID]
	return order, nil
}

func (r *orderRepository) Exists(ctx context.Context, id domain.OrderID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, domain.Persistence("check order exists", err)
	}
	return exists, nil
}

func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return runInTx(ctx, r.q, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE orders
			SET user_id = $1,
			    payment_method = $2,
			    status = $3,
			    currency = $4,
			    total_amount = $5,
			    version = version + 1,
			    updated_at = $6
			WHERE id = $7
			  AND version = $8
		`,
			order.UserID,
			string(order.PaymentMethod),
			string(order.Status),
			order.Currency,
			order.Total.Amount,
			order.UpdatedAt,
			order.ID,
			order.Version,
		)
		if err != nil {
			return domain.Persistence("update order", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return domain.Persistence("rows affected", err)
		}
		if affected == 0 {
			exists, err := orderExists(ctx, q, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrOrderVersionConflict
		}

		// Позиции перезаписываются целиком: меняться они могут только у открытого заказа.
		if _, err := q.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, order.ID); err != nil {
			return domain.Persistence("clear order lines", err)
		}
		return insertLines(ctx, q, order)
	})
}

func (r *orderRepository) ListByInterval(ctx context.Context, interval domain.Interval) ([]domain.Order, error) {
	return r.list(ctx, `created_at BETWEEN $1 AND $2 ORDER BY created_at ASC, id ASC`, interval.From, interval.To)
}

func (r *orderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return r.list(ctx, `status = $1 ORDER BY created_at ASC, id ASC`, string(status))
}

func (r *orderRepository) ListByUser(ctx context.Context, user domain.UserID, limit int) ([]domain.Order, error) {
	if limit > 0 {
		return r.list(ctx, `user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, user, limit)
	}
	return r.list(ctx, `user_id = $1 ORDER BY created_at DESC, id DESC`, user)
}

func (r *orderRepository) list(ctx context.Context, condition string, args ...any) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+condition, args...)
	if err != nil {
		return nil, domain.Persistence("list orders", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, domain.Persistence("scan order row", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, domain.Persistence("iterate order rows", err)
	}
	// Закрываем до загрузки позиций: в транзакции соединение одно.
	_ = rows.Close()

	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]domain.OrderID, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

func (r *orderRepository) loadLines(ctx context.Context, ids []domain.OrderID) (map[domain.OrderID][]domain.OrderLine, error) {
	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, id)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT order_id, id, product_id, product_name, quantity, metric, price_amount, currency, created_at
		FROM order_lines
		WHERE order_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY order_id, position ASC
	`, args...)
	if err != nil {
		return nil, domain.Persistence("load order lines", err)
	}
	defer rows.Close()

	result := make(map[domain.OrderID][]domain.OrderLine, len(ids))
	for rows.Next() {
		var (
			orderID domain.OrderID
			line    domain.OrderLine
			metric  string
		)
		if err := rows.Scan(
			&orderID, &line.ID, &line.ProductID, &line.ProductName,
			&line.Quantity.Amount, &metric, &line.Price.Amount, &line.Price.Currency, &line.CreatedAt,
		); err != nil {
			return nil, domain.Persistence("scan order line", err)
		}
		line.Quantity.Metric = domain.Metric(metric)
		line.Price.Currency = strings.TrimSpace(line.Price.Currency)
		line.CreatedAt = line.CreatedAt.UTC()
		result[orderID] = append(result[orderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("iterate order lines", err)
	}

	return result, nil
}

func insertLines(ctx context.Context, q querier, order domain.Order) error {
	for i, line := range order.Lines {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_lines (
				id, order_id, position, product_id, product_name, quantity, metric, price_amount, currency, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			line.ID, order.ID, i, line.ProductID, line.ProductName,
			line.Quantity.Amount, string(line.Quantity.Metric), line.Price.Amount, line.Price.Currency, line.CreatedAt,
		); err != nil {
			return domain.Persistence("insert order line", err)
		}
	}
	return nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		method string
		status string
	)
	if err := row.Scan(
		&order.ID, &order.UserID, &method, &status, &order.Currency,
		&order.Total.Amount, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.PaymentMethod = domain.PaymentMethod(method)
	order.Status = domain.OrderStatus(status)
	order.Currency = strings.TrimSpace(order.Currency)
	order.Total.Currency = order.Currency
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func orderExists(ctx context.Context, q querier, orderID domain.OrderID) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, domain.Persistence("check order exists", err)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
