package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  OrderID
	Type     string
	Reason   string
	Occurred time.Time
}

// NewTransitionEvent фиксирует смену статуса заказа.
func NewTransitionEvent(orderID OrderID, from, to OrderStatus, at time.Time) TimelineEvent {
	return TimelineEvent{
		OrderID:  orderID,
		Type:     "status." + string(to),
		Reason:   string(from) + " -> " + string(to),
		Occurred: at,
	}
}
