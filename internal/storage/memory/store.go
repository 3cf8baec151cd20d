package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// state хранит снимок всех данных хранилища. Значения в картах не мутируются
// на месте: запись всегда кладёт новую копию, поэтому неглубокого
// копирования карт достаточно для изоляции транзакции.
type state struct {
	products  map[domain.ProductID]domain.ProductType
	orders    map[domain.OrderID]domain.Order
	stock     map[domain.ProductID]domain.InventoryItem
	outbox    map[string]outboxRecord
	outboxSeq int64
	timeline  map[domain.OrderID][]domain.TimelineEvent
}

func newState() *state {
	return &state{
		products: make(map[domain.ProductID]domain.ProductType),
		orders:   make(map[domain.OrderID]domain.Order),
		stock:    make(map[domain.ProductID]domain.InventoryItem),
		outbox:   make(map[string]outboxRecord),
		timeline: make(map[domain.OrderID][]domain.TimelineEvent),
	}
}

func (s *state) clone() *state {
	return &state{
		products:  maps.Clone(s.products),
		orders:    maps.Clone(s.orders),
		stock:     maps.Clone(s.stock),
		outbox:    maps.Clone(s.outbox),
		outboxSeq: s.outboxSeq,
		timeline:  maps.Clone(s.timeline),
	}
}

// Store — in-memory хранилище для локальной разработки и тестов.
// Все репозитории одного Store видят общие данные и участвуют в общих транзакциях.
type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		st:  newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Products() domain.ProductStore         { return &productStore{view{store: s}} }
func (s *Store) Orders() domain.OrderRepository        { return &orderRepository{view{store: s}} }
func (s *Store) Inventory() domain.InventoryRepository { return &inventoryRepository{view{store: s}} }
func (s *Store) Outbox() *OutboxRepository             { return &OutboxRepository{view{store: s}} }
func (s *Store) Timeline() domain.TimelineRepository   { return &timelineRepository{view{store: s}} }
func (s *Store) Transactor() domain.Transactor         { return s }

// view связывает репозиторий с хранилищем. Вне транзакции каждая операция
// берёт блокировку сама; внутри транзакции tx уже защищён блокировкой InTx.
type view struct {
	store *Store
	tx    *state
}

func (v view) read(ctx context.Context, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return fn(v.store.st)
}

func (v view) write(ctx context.Context, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.st)
}
