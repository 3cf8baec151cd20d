package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestTimelineRepository_PostgresHistory(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	orders := NewOrderRepository(store)
	timeline := NewTimelineRepository(store)
	ctx := context.Background()

	placed := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	order := sampleOrder(t, "timeline-order", "user-timeline", placed)
	require.NoError(t, orders.Create(ctx, order))

	// Записаны не по порядку: List сортирует по времени события.
	paidAt := placed.Add(time.Minute)
	require.NoError(t, timeline.Append(ctx, domain.NewTransitionEvent(order.ID, domain.OrderStatusPaid, domain.OrderStatusCompleted, paidAt.Add(time.Minute))))
	require.NoError(t, timeline.Append(ctx, domain.NewTransitionEvent(order.ID, domain.OrderStatusOpen, domain.OrderStatusPaid, paidAt)))
	// Без времени событие получает текущее.
	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{OrderID: order.ID, Type: "order.note", Reason: "gift wrap"}))

	history, err := timeline.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"status.paid", "status.completed", "order.note"},
		[]string{history[0].Type, history[1].Type, history[2].Type})
	assert.True(t, paidAt.Equal(history[0].Occurred), "got %s", history[0].Occurred)
	assert.Equal(t, order.ID, history[2].OrderID)
	assert.False(t, history[2].Occurred.IsZero())
}

func TestTimelineRepository_PostgresUnknownOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	timeline := NewTimelineRepository(store)
	ctx := context.Background()

	err := timeline.Append(ctx, domain.TimelineEvent{OrderID: "missing-order", Type: "status.paid"})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	err = timeline.Append(ctx, domain.TimelineEvent{Type: "status.paid"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	history, err := timeline.List(ctx, "missing-order")
	require.NoError(t, err)
	assert.Empty(t, history)
}
