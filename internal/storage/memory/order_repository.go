package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepository: in-memory реализация OrderRepository.
type orderRepository struct {
	v view
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	return r.v.write(ctx, func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return domain.ErrOrderVersionConflict
		}
		// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
		st.orders[order.ID] = order.Clone()
		return nil
	})
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	var order domain.Order
	err := r.v.read(ctx, func(st *state) error {
		stored, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = stored.Clone()
		return nil
	})
	return order, err
}

func (r *orderRepository) Exists(ctx context.Context, id domain.OrderID) (bool, error) {
	var ok bool
	err := r.v.read(ctx, func(st *state) error {
		_, ok = st.orders[id]
		return nil
	})
	return ok, err
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	return r.v.write(ctx, func(st *state) error {
		current, ok := st.orders[order.ID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if current.Version != order.Version {
			return domain.ErrOrderVersionConflict
		}
		// Инкрементируем версию перед сохранением.
		order = order.Clone()
		order.Version++
		st.orders[order.ID] = order
		return nil
	})
}

// ListByInterval возвращает заказы, созданные в интервале, по возрастанию времени.
func (r *orderRepository) ListByInterval(ctx context.Context, interval domain.Interval) ([]domain.Order, error) {
	return r.list(ctx, false, func(o domain.Order) bool { return interval.Contains(o.CreatedAt) })
}

// ListByStatus возвращает заказы в статусе по возрастанию времени создания.
func (r *orderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return r.list(ctx, false, func(o domain.Order) bool { return o.Status == status })
}

// ListByUser возвращает заказы пользователя, новые первыми, ограничивая выборку limit (если >0).
func (r *orderRepository) ListByUser(ctx context.Context, user domain.UserID, limit int) ([]domain.Order, error) {
	result, err := r.list(ctx, true, func(o domain.Order) bool { return o.UserID == user })
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *orderRepository) list(ctx context.Context, newestFirst bool, keep func(domain.Order) bool) ([]domain.Order, error) {
	var result []domain.Order
	err := r.v.read(ctx, func(st *state) error {
		result = make([]domain.Order, 0, len(st.orders))
		for _, order := range st.orders {
			if keep(order) {
				result = append(result, order.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if newestFirst {
			a, b = b, a
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return result, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
