package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var transitionEvents = map[domain.OrderStatus]string{
	domain.OrderStatusPaid:      domain.EventOrderPaid,
	domain.OrderStatusCompleted: domain.EventOrderCompleted,
	domain.OrderStatusCancelled: domain.EventOrderCancelled,
}

// StatusChangedPayload — тело событий смены статуса в outbox.
type StatusChangedPayload struct {
	OrderID        domain.OrderID     `json:"order_id"`
	UserID         domain.UserID      `json:"user_id"`
	Status         domain.OrderStatus `json:"status"`
	PreviousStatus domain.OrderStatus `json:"previous_status"`
	Total          string             `json:"total"`
	Currency       string             `json:"currency"`
	Lines          int                `json:"lines"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

func enqueue(ctx context.Context, uow domain.UnitOfWork, order domain.Order, from domain.OrderStatus) error {
	eventType, ok := transitionEvents[order.Status]
	if !ok {
		return nil
	}
	data, err := json.Marshal(StatusChangedPayload{
		OrderID:        order.ID,
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: from,
		Total:          order.Total.Amount.StringFixed(2),
		Currency:       order.Currency,
		Lines:          len(order.Lines),
		OccurredAt:     order.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	_, err = uow.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   string(order.ID),
		EventType:     eventType,
		Payload:       data,
	})
	return err
}
