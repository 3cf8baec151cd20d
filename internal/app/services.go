package app

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

// Services — прикладной слой поверх Backend.
type Services struct {
	Products    *catalog.Catalog[domain.ProductType]
	Perishables *catalog.Catalog[domain.PerishableProduct]
	Orders      *orders.Manager
}

// NewServices собирает каталог и менеджер заказов с общими метриками.
func NewServices(b *Backend, registerer prometheus.Registerer, logger *log.Entry) *Services {
	catalogMetrics := metrics.NewCatalogMetrics(registerer)
	catalogOpts := []catalog.Option{
		catalog.WithLogger(logger.WithField("component", "catalog")),
		catalog.WithMetrics(catalogMetrics),
	}

	return &Services{
		Products:    catalog.New(b.Products, catalog.Products, catalogOpts...),
		Perishables: catalog.New(b.Products, catalog.Perishables, catalogOpts...),
		Orders: orders.NewManager(b.Orders, b.Tx,
			orders.WithLogger(logger.WithField("component", "orders")),
			orders.WithMetrics(metrics.NewOrderMetrics(registerer)),
			orders.WithTimeline(b.Timeline),
		),
	}
}
