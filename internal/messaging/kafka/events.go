package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Topics по умолчанию.
const (
	TopicOrderEvents = "storefront.order.events"
	TopicOrderDLQ    = "storefront.order.dlq"
	TopicStockFeed   = "storefront.inventory.restock"
	TopicStockDLQ    = "storefront.inventory.restock.dlq"
)

// Kafka headers.
const (
	HeaderEventType     = "event-type"
	HeaderAggregateType = "aggregate-type"
	HeaderOutboxID      = "outbox-id"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope — формат outbox-события в топике.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Restock — поступление товара на склад из внешней системы учёта.
type Restock struct {
	ProductID string          `json:"product_id"`
	Amount    decimal.Decimal `json:"amount"`
	Metric    string          `json:"metric"`
}

// ParseRestock разбирает и проверяет сообщение о поступлении.
func ParseRestock(value []byte) (domain.ProductID, domain.Quantity, error) {
	var r Restock
	if err := json.Unmarshal(value, &r); err != nil {
		return "", domain.Quantity{}, fmt.Errorf("%w: decode restock: %w", domain.ErrInvalidArgument, err)
	}
	if r.ProductID == "" {
		return "", domain.Quantity{}, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrProductIDRequired)
	}
	metric := domain.Metric(r.Metric)
	if metric == "" {
		metric = domain.MetricUnit
	}
	if !metric.Valid() {
		return "", domain.Quantity{}, fmt.Errorf("%w: %w: %q", domain.ErrInvalidArgument, domain.ErrMetricInvalid, r.Metric)
	}
	qty := domain.NewQuantity(r.Amount, metric)
	if !qty.IsPositive() {
		return "", domain.Quantity{}, fmt.Errorf("%w: restock amount must be positive, got %s", domain.ErrInvalidArgument, qty)
	}
	return domain.ProductID(r.ProductID), qty, nil
}
