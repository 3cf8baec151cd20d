package app

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

// Заказ из двух позиций одного товара при остатке 100: после завершения остаётся 90.
func TestServices_DoubleChocolateScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	services := NewServices(memoryBackend(store), prometheus.NewRegistry(), log.WithField("test", t.Name()))

	choc := domain.ProductType{
		ID:         "choc",
		Name:       "Chocolate",
		Price:      domain.MoneyFromFloat(1.2, domain.DefaultCurrency),
		Metric:     domain.MetricUnit,
		Categories: []string{"sweets"},
	}
	require.NoError(t, services.Products.Save(ctx, &choc))
	require.NoError(t, store.Inventory().Save(ctx, domain.InventoryItem{ProductID: "choc", Quantity: domain.Units(100)}))

	order := domain.NewOrder("user-1", domain.PaymentMethodCreditCard)
	require.NoError(t, order.Add(line(t, choc, 7)))
	require.NoError(t, order.Add(line(t, choc, 3)))

	require.NoError(t, services.Orders.PayOrder(ctx, &order))
	require.NoError(t, services.Orders.CompleteOrder(ctx, &order))
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)

	left, err := store.Inventory().QuantityOf(ctx, "choc")
	require.NoError(t, err)
	assert.Equal(t, "90", left.Amount.String())

	greedy := domain.NewOrder("user-2", domain.PaymentMethodCreditCard)
	require.NoError(t, greedy.Add(line(t, choc, 91)))
	require.NoError(t, services.Orders.PayOrder(ctx, &greedy))

	err = services.Orders.CompleteOrder(ctx, &greedy)
	var failure *domain.OrderCompletionFailure
	require.True(t, errors.As(err, &failure))
	assert.ErrorIs(t, err, domain.ErrOrderCompletionFailed)
	assert.Equal(t, domain.OrderStatusPaid, greedy.Status)
}

func line(t *testing.T, p domain.ProductType, units int64) domain.OrderLine {
	t.Helper()
	l, err := domain.NewOrderLine(p, domain.Units(units))
	require.NoError(t, err)
	return l
}
