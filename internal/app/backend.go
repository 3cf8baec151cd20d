package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// Backend — набор репозиториев одного хранилища.
type Backend struct {
	Products  domain.ProductStore
	Orders    domain.OrderRepository
	Inventory domain.InventoryRepository
	Outbox    domain.OutboxRepository
	Timeline  domain.TimelineRepository
	Tx        domain.Transactor

	checks map[string]health.Checker
	close  func() error
}

// Close освобождает подключения хранилища.
func (b *Backend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// OpenBackend открывает хранилище, выбранное в конфигурации.
func OpenBackend(ctx context.Context, cfg Config, logger *log.Entry) (*Backend, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")
		return memoryBackend(memory.New()), nil
	case StorageDriverPostgres:
		return postgresBackend(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func memoryBackend(store *memory.Store) *Backend {
	return &Backend{
		Products:  store.Products(),
		Orders:    store.Orders(),
		Inventory: store.Inventory(),
		Outbox:    store.Outbox(),
		Timeline:  store.Timeline(),
		Tx:        store.Transactor(),
		checks:    map[string]health.Checker{},
	}
}

func postgresBackend(ctx context.Context, cfg Config, logger *log.Entry) (*Backend, error) {
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	store = store.WithLogger(logger.WithField("storage", "postgres"))

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	return &Backend{
		Products:  postgres.NewProductStore(store),
		Orders:    postgres.NewOrderRepository(store),
		Inventory: postgres.NewInventoryRepository(store),
		Outbox:    postgres.NewOutboxRepository(store),
		Timeline:  postgres.NewTimelineRepository(store),
		Tx:        postgres.NewTransactor(store),
		checks:    map[string]health.Checker{"postgres": health.Database(store.DB())},
		close:     store.Close,
	}, nil
}
