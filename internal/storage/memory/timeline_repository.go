package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// timelineRepository хранит события в памяти (для разработки/тестов).
type timelineRepository struct {
	v view
}

// Append добавляет событие, сохраняя хронологический порядок.
// История бывает только у существующего заказа.
func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrOrderIDRequired)
	}
	return r.v.write(ctx, func(st *state) error {
		if _, ok := st.orders[event.OrderID]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, event.OrderID)
		}
		// Clip: срез мог достаться по наследству от снимка до транзакции.
		events := slices.Clip(st.timeline[event.OrderID])
		idx := len(events)
		for idx > 0 && events[idx-1].Occurred.After(event.Occurred) {
			idx--
		}
		st.timeline[event.OrderID] = slices.Insert(events, idx, event)
		return nil
	})
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepository) List(ctx context.Context, orderID domain.OrderID) ([]domain.TimelineEvent, error) {
	var result []domain.TimelineEvent
	err := r.v.read(ctx, func(st *state) error {
		result = slices.Clone(st.timeline[orderID])
		return nil
	})
	return result, err
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
