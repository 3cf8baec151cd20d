package domain

import "context"

// ProductStore — хранилище записей каталога. Записи всех подтипов лежат
// в одном пространстве имён, вид различается по ProductType.Kind.
type ProductStore interface {
	// Upsert вставляет или заменяет записи. Пакет применяется атомарно:
	// при ошибке ни одна запись не сохранена.
	Upsert(ctx context.Context, products ...ProductType) error
	// Update заменяет существующую запись или возвращает ErrProductNotFound.
	Update(ctx context.Context, product ProductType) error
	// Delete удаляет запись; false, если её не было.
	Delete(ctx context.Context, id ProductID) (bool, error)
	Exists(ctx context.Context, id ProductID) (bool, error)
	// Get возвращает запись или ErrProductNotFound.
	Get(ctx context.Context, id ProductID) (ProductType, error)
	// Each обходит записи, подходящие под запрос, в порядке имени и идентификатора.
	// Обход прекращается, если fn вернула false.
	Each(ctx context.Context, query ProductQuery, fn func(ProductType) bool) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id OrderID) (Order, error)
	Exists(ctx context.Context, id OrderID) (bool, error)
	// Save применяет обновления к заказу с учётом optimistic locking:
	// order.Version должна совпадать с сохранённой, после записи она увеличивается.
	Save(ctx context.Context, order Order) error
	// ListByInterval возвращает заказы, созданные в интервале (границы включены).
	ListByInterval(ctx context.Context, interval Interval) ([]Order, error)
	ListByStatus(ctx context.Context, status OrderStatus) ([]Order, error)
	// ListByUser возвращает заказы пользователя с опциональным ограничением на количество.
	ListByUser(ctx context.Context, user UserID, limit int) ([]Order, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID OrderID) ([]TimelineEvent, error)
}

// UnitOfWork даёт доступ к репозиториям в рамках одной транзакции.
type UnitOfWork interface {
	Orders() OrderRepository
	Inventory() Inventory
	Outbox() OutboxRepository
	Timeline() TimelineRepository
}

// Transactor выполняет fn атомарно: либо все изменения через UnitOfWork
// фиксируются вместе, либо ни одно. Ошибка fn откатывает транзакцию.
type Transactor interface {
	InTx(ctx context.Context, fn func(UnitOfWork) error) error
}
