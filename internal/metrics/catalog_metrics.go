package metrics

import "github.com/prometheus/client_golang/prometheus"

// CatalogMetrics считает обращения к каталогу.
type CatalogMetrics struct {
	operations *prometheus.CounterVec
	// found считает, сколько записей отдали выборки find*.
	found *prometheus.CounterVec
}

// NewCatalogMetrics регистрирует метрики каталога.
func NewCatalogMetrics(registerer prometheus.Registerer) *CatalogMetrics {
	return &CatalogMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_catalog_operations_total",
			Help: "Total number of catalog operations by operation and result",
		}, []string{"operation", "result"}),
		found: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_catalog_records_found_total",
			Help: "Total number of catalog records yielded by queries",
		}, []string{"kind"}),
	}
}

// RecordOperation учитывает операцию с её результатом.
func (m *CatalogMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, resultLabel(err)).Inc()
}

// RecordFound учитывает записи вида kind, отданные выборкой.
func (m *CatalogMetrics) RecordFound(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.found.WithLabelValues(kind).Add(float64(n))
}
