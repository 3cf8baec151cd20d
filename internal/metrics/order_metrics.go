package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики жизненного цикла заказов.
// Методы допускают nil-получатель: менеджер без метрик просто ничего не пишет.
type OrderMetrics struct {
	// Переходы статусов
	transitions        *prometheus.CounterVec
	completionFailures prometheus.Counter

	operationDuration *prometheus.HistogramVec
	inFlight          prometheus.Gauge

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewOrderMetrics регистрирует метрики заказов в registerer
// (nil означает prometheus.DefaultRegisterer).
func NewOrderMetrics(registerer prometheus.Registerer) *OrderMetrics {
	return &OrderMetrics{
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_transitions_total",
			Help: "Total number of order status transitions by target status",
		}, []string{"status"}),
		completionFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_order_completion_failures_total",
			Help: "Total number of orders that could not be completed due to missing stock",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_order_operation_duration_seconds",
			Help:    "Duration of order manager operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation", "result"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_order_operations_in_flight",
			Help: "Number of order operations currently running",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of order timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_enqueued_total",
			Help: "Total number of outbox events enqueued by order transitions",
		}),
	}
}

// RecordTransition учитывает переход заказа в status.
func (m *OrderMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// RecordCompletionFailure учитывает заказ, который склад не смог обеспечить.
func (m *OrderMetrics) RecordCompletionFailure() {
	if m == nil {
		return
	}
	m.completionFailures.Inc()
}

// Track отмечает начало операции; возвращённая функция фиксирует длительность и результат.
func (m *OrderMetrics) Track(operation string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	started := time.Now()
	m.inFlight.Inc()
	return func(err error) {
		m.inFlight.Dec()
		m.operationDuration.WithLabelValues(operation, resultLabel(err)).Observe(time.Since(started).Seconds())
	}
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
