package memory

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type unitOfWork struct {
	v view
}

func (u unitOfWork) Orders() domain.OrderRepository      { return &orderRepository{u.v} }
func (u unitOfWork) Inventory() domain.Inventory         { return &inventoryRepository{u.v} }
func (u unitOfWork) Outbox() domain.OutboxRepository     { return &OutboxRepository{u.v} }
func (u unitOfWork) Timeline() domain.TimelineRepository { return &timelineRepository{u.v} }

// InTx выполняет fn над копией состояния под эксклюзивной блокировкой.
// Копия подменяет состояние только при успешном завершении fn.
func (s *Store) InTx(ctx context.Context, fn func(domain.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.st.clone()
	if err := fn(unitOfWork{view{store: s, tx: tx}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = tx
	return nil
}

var (
	_ domain.Transactor = (*Store)(nil)
	_ domain.UnitOfWork = unitOfWork{}
)
