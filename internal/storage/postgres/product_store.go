package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const productColumns = `
	p.id, p.kind, p.name, p.price_amount, p.currency, p.metric, p.attributes,
	COALESCE((
		SELECT json_agg(c.category ORDER BY c.category)
		FROM product_categories c
		WHERE c.product_id = p.id
	), '[]'::json),
	p.created_at, p.updated_at`

type productStore struct {
	q querier
}

// NewProductStore создаёт PostgreSQL-реализацию ProductStore.
func NewProductStore(store *Store) domain.ProductStore {
	return &productStore{q: store.DB()}
}

func (s *productStore) Upsert(ctx context.Context, products ...domain.ProductType) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Весь пакет пишется одной транзакцией.
	return runInTx(ctx, s.q, func(q querier) error {
		for _, p := range products {
			if p.ID == "" {
				return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrProductIDRequired)
			}
			if _, err := q.ExecContext(ctx, `
				INSERT INTO products (
					id, kind, name, price_amount, currency, metric, attributes, created_at, updated_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				ON CONFLICT (id) DO UPDATE
				SET kind = EXCLUDED.kind,
				    name = EXCLUDED.name,
				    price_amount = EXCLUDED.price_amount,
				    currency = EXCLUDED.currency,
				    metric = EXCLUDED.metric,
				    attributes = EXCLUDED.attributes,
				    updated_at = EXCLUDED.updated_at
			`,
				p.ID, string(p.Kind), p.Name, p.Price.Amount, p.Price.Currency, string(p.Metric),
				nullableJSON(p.Attributes), p.CreatedAt, p.UpdatedAt,
			); err != nil {
				return domain.Persistence("upsert product", err)
			}
			if err := replaceCategories(ctx, q, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *productStore) Update(ctx context.Context, p domain.ProductType) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return runInTx(ctx, s.q, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE products
			SET kind = $2,
			    name = $3,
			    price_amount = $4,
			    currency = $5,
			    metric = $6,
			    attributes = $7,
			    updated_at = $8
			WHERE id = $1
		`,
			p.ID, string(p.Kind), p.Name, p.Price.Amount, p.Price.Currency, string(p.Metric),
			nullableJSON(p.Attributes), p.UpdatedAt,
		)
		if err != nil {
			return domain.Persistence("update product", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return domain.Persistence("rows affected", err)
		}
		if affected == 0 {
			return domain.ErrProductNotFound
		}
		return replaceCategories(ctx, q, p)
	})
}

func (s *productStore) Delete(ctx context.Context, id domain.ProductID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return false, domain.Persistence("delete product", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, domain.Persistence("rows affected", err)
	}
	return affected > 0, nil
}

func (s *productStore) Exists(ctx context.Context, id domain.ProductID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, domain.Persistence("check product exists", err)
	}
	return exists, nil
}

func (s *productStore) Get(ctx context.Context, id domain.ProductID) (domain.ProductType, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := s.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProductType{}, domain.ErrProductNotFound
		}
		return domain.ProductType{}, domain.Persistence("select product", err)
	}
	return p, nil
}

// Each стримит строки выборки; LIKE использует стандартный экранирующий символ \.
func (s *productStore) Each(ctx context.Context, query domain.ProductQuery, fn func(domain.ProductType) bool) error {
	var (
		where []string
		args  []any
	)
	if query.Kind != "" {
		args = append(args, string(query.Kind))
		where = append(where, fmt.Sprintf("(p.kind = $%d OR starts_with(p.kind, $%d || '.'))", len(args), len(args)))
	}
	if query.NamePattern != "" {
		args = append(args, query.NamePattern)
		where = append(where, fmt.Sprintf("p.name LIKE $%d", len(args)))
	}
	if query.Category != "" {
		args = append(args, query.Category)
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM product_categories c WHERE c.product_id = p.id AND c.category = $%d)", len(args)))
	}

	stmt := `SELECT ` + productColumns + ` FROM products p`
	if len(where) > 0 {
		stmt += ` WHERE ` + strings.Join(where, " AND ")
	}
	stmt += ` ORDER BY p.name, p.id`

	rows, err := s.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return domain.Persistence("query products", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return domain.Persistence("scan product", err)
		}
		if !fn(p) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Persistence("iterate products", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.ProductType, error) {
	var (
		p          domain.ProductType
		kind       string
		metric     string
		categories []byte
	)
	if err := row.Scan(
		&p.ID, &kind, &p.Name, &p.Price.Amount, &p.Price.Currency, &metric, &p.Attributes,
		&categories, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.ProductType{}, err
	}
	p.Kind = domain.ProductKind(kind)
	p.Metric = domain.Metric(metric)
	p.Price.Currency = strings.TrimSpace(p.Price.Currency)
	if err := json.Unmarshal(categories, &p.Categories); err != nil {
		return domain.ProductType{}, fmt.Errorf("decode categories: %w", err)
	}
	if len(p.Categories) == 0 {
		p.Categories = nil
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func replaceCategories(ctx context.Context, q querier, p domain.ProductType) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM product_categories WHERE product_id = $1`, p.ID); err != nil {
		return domain.Persistence("clear product categories", err)
	}
	for _, category := range p.Categories {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO product_categories (product_id, category)
			VALUES ($1,$2)
			ON CONFLICT DO NOTHING
		`, p.ID, category); err != nil {
			return domain.Persistence("insert product category", err)
		}
	}
	return nil
}

// nullableJSON превращает пустые атрибуты в NULL.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ domain.ProductStore = (*productStore)(nil)
