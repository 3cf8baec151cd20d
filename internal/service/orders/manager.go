// Package orders координирует жизненный цикл заказа: сохранение, оплату,
// завершение со списанием склада и отмену.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/telemetry"
)

// Option настраивает Manager.
type Option func(*Manager)

// WithLogger задаёт logger менеджера.
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics включает Prometheus-метрики переходов.
func WithMetrics(om *metrics.OrderMetrics) Option {
	return func(m *Manager) {
		m.metrics = om
	}
}

// WithTimeline задаёт репозиторий для чтения истории заказов.
// Без него Timeline читает историю через единицу работы.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(m *Manager) {
		m.timeline = repo
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager — единая точка входа для операций над заказами.
// Состояние между вызовами не хранит, безопасен для конкурентного использования.
type Manager struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	tx       domain.Transactor
	logger   *log.Entry
	metrics  *metrics.OrderMetrics
	now      func() time.Time
}

// NewManager создаёт менеджер. orders используется для чтения,
// все изменения идут через tx.
func NewManager(orders domain.OrderRepository, tx domain.Transactor, opts ...Option) *Manager {
	m := &Manager{
		orders: orders,
		tx:     tx,
		logger: log.WithField("component", "order-manager"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

// Save сохраняет заказ и возвращает сохранённое состояние. Заказ без
// идентификатора получает новый. Статус через Save не меняется, а позиции
// можно менять только пока заказ открыт.
func (m *Manager) Save(ctx context.Context, order *domain.Order) (saved domain.Order, err error) {
	ctx, span := telemetry.StartSpan(ctx, "orders.save")
	done := m.metrics.Track("save")
	defer func() {
		done(err)
		telemetry.Finish(span, err)
	}()

	if order == nil {
		return domain.Order{}, fmt.Errorf("%w: order is nil", domain.ErrInvalidArgument)
	}
	candidate := order.Clone()
	if candidate.ID == "" {
		candidate.ID = domain.NewOrderID()
	}
	if err := validate(candidate); err != nil {
		return domain.Order{}, err
	}

	var created bool
	err = m.tx.InTx(ctx, func(uow domain.UnitOfWork) error {
		stored, err := uow.Orders().Get(ctx, candidate.ID)
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			created = true
			return m.create(ctx, uow, &candidate)
		case err != nil:
			return err
		}

		if stored.Status != candidate.Status {
			return fmt.Errorf("%w: status of order %s changes only through transitions (stored %s, got %s)",
				domain.ErrInvalidState, candidate.ID, stored.Status, candidate.Status)
		}
		if stored.Status != domain.OrderStatusOpen && !stored.SameLines(candidate) {
			return fmt.Errorf("%w: lines of %s order %s are frozen", domain.ErrInvalidState, stored.Status, candidate.ID)
		}
		candidate.CreatedAt = stored.CreatedAt
		candidate.UpdatedAt = m.timestamp()
		if err := uow.Orders().Save(ctx, candidate); err != nil {
			return err
		}
		candidate.Version++
		return nil
	})
	if err != nil {
		m.logFailure("save", candidate.ID, err)
		return domain.Order{}, err
	}

	*order = candidate.Clone()
	if created {
		m.metrics.RecordTimelineEvent()
	}
	m.logger.WithFields(log.Fields{"order_id": candidate.ID, "version": candidate.Version}).Debug("order saved")
	return candidate, nil
}

// create вставляет новый заказ. Новый заказ всегда открыт.
func (m *Manager) create(ctx context.Context, uow domain.UnitOfWork, order *domain.Order) error {
	if order.Status != domain.OrderStatusOpen {
		return fmt.Errorf("%w: new order %s must be %s, got %s",
			domain.ErrInvalidState, order.ID, domain.OrderStatusOpen, order.Status)
	}
	now := m.timestamp()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Version = 0
	if err := uow.Orders().Create(ctx, *order); err != nil {
		return err
	}
	if err := uow.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     "order.created",
		Reason:   "order placed by " + string(order.UserID),
		Occurred: now,
	}); err != nil {
		return err
	}
	return nil
}

// Get возвращает заказ; ok == false, если его нет.
func (m *Manager) Get(ctx context.Context, id domain.OrderID) (order domain.Order, ok bool, err error) {
	if id == "" {
		return domain.Order{}, false, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrOrderIDRequired)
	}
	order, err = m.orders.Get(ctx, id)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}
	return order, true, nil
}

// Contains проверяет существование заказа.
func (m *Manager) Contains(ctx context.Context, id domain.OrderID) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrOrderIDRequired)
	}
	return m.orders.Exists(ctx, id)
}

// PayOrder переводит открытый заказ в paid. Склад не проверяется.
func (m *Manager) PayOrder(ctx context.Context, order *domain.Order) error {
	return m.transition(ctx, "pay", order, domain.OrderStatusPaid, nil)
}

// CompleteOrder списывает со склада все позиции оплаченного заказа и
// переводит его в completed. Если хотя бы одна позиция не обеспечена,
// возвращает *domain.OrderCompletionFailure, склад и заказ не меняются.
func (m *Manager) CompleteOrder(ctx context.Context, order *domain.Order) error {
	return m.transition(ctx, "complete", order, domain.OrderStatusCompleted, m.fulfil)
}

// CancelOrder отменяет открытый или оплаченный заказ. Склад не трогает:
// до завершения ничего не списывалось.
func (m *Manager) CancelOrder(ctx context.Context, order *domain.Order) error {
	return m.transition(ctx, "cancel", order, domain.OrderStatusCancelled, nil)
}

// transition выполняет переход в одной единице работы: загрузка живого
// состояния, проверка, побочные действия, запись статуса, outbox и timeline.
// При ошибке ни хранилище, ни order не меняются.
func (m *Manager) transition(
	ctx context.Context,
	operation string,
	order *domain.Order,
	target domain.OrderStatus,
	apply func(context.Context, domain.UnitOfWork, *domain.Order) error,
) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "orders."+operation, attribute.String("order.target_status", string(target)))
	done := m.metrics.Track(operation)
	defer func() {
		done(err)
		telemetry.Finish(span, err)
	}()

	if order == nil {
		return fmt.Errorf("%w: order is nil", domain.ErrInvalidArgument)
	}
	draft := order.Clone()
	if draft.ID == "" {
		draft.ID = domain.NewOrderID()
	}
	span.SetAttributes(attribute.String("order.id", string(draft.ID)))

	var live domain.Order
	err = m.tx.InTx(ctx, func(uow domain.UnitOfWork) error {
		var err error
		live, err = uow.Orders().Get(ctx, draft.ID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			// Несохранённый заказ записываем в той же транзакции.
			if err := validate(draft); err != nil {
				return err
			}
			if err := m.create(ctx, uow, &draft); err != nil {
				return err
			}
			live, err = draft.Clone(), nil
		}
		if err != nil {
			return err
		}

		from := live.Status
		at := m.timestamp()
		if err := live.TransitionTo(target, at); err != nil {
			return err
		}
		if apply != nil {
			if err := apply(ctx, uow, &live); err != nil {
				return err
			}
		}
		if err := uow.Orders().Save(ctx, live); err != nil {
			return err
		}
		live.Version++

		if err := enqueue(ctx, uow, live, from); err != nil {
			return err
		}
		return uow.Timeline().Append(ctx, domain.NewTransitionEvent(live.ID, from, target, at))
	})
	if err != nil {
		var failure *domain.OrderCompletionFailure
		if errors.As(err, &failure) {
			m.metrics.RecordCompletionFailure()
		}
		m.logFailure(operation, draft.ID, err)
		return err
	}

	*order = live
	m.metrics.RecordTransition(string(target))
	m.metrics.RecordOutboxEvent()
	m.metrics.RecordTimelineEvent()
	m.logger.WithFields(log.Fields{
		"order_id": live.ID,
		"status":   live.Status,
		"version":  live.Version,
	}).Info("order status changed")
	return nil
}

// fulfil проверяет все позиции и только потом списывает склад.
// Строки склада обходятся в порядке идентификаторов товара.
func (m *Manager) fulfil(ctx context.Context, uow domain.UnitOfWork, order *domain.Order) error {
	requirements, err := order.Requirements()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}
	inventory := uow.Inventory()

	var shortages []domain.LineShortage
	for _, req := range requirements {
		available, err := inventory.QuantityOf(ctx, req.ProductID)
		switch {
		case errors.Is(err, domain.ErrInventoryItemNotFound):
			shortages = append(shortages, shortagesOf(req, domain.ZeroOf(req.Quantity.Metric), err)...)
			continue
		case err != nil:
			return err
		}

		cmp, err := available.Cmp(req.Quantity)
		switch {
		case err != nil:
			shortages = append(shortages, shortagesOf(req, available, err)...)
		case cmp < 0:
			shortages = append(shortages, shortagesOf(req, available, domain.ErrInsufficientStock)...)
		}
	}
	if len(shortages) > 0 {
		return &domain.OrderCompletionFailure{OrderID: order.ID, Shortages: shortages}
	}

	for _, req := range requirements {
		err := inventory.Decrement(ctx, req.ProductID, req.Quantity)
		if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrInventoryItemNotFound) {
			// Остаток изменился между проверкой и списанием; транзакция откатится целиком.
			available, qErr := inventory.QuantityOf(ctx, req.ProductID)
			if qErr != nil {
				available = domain.ZeroOf(req.Quantity.Metric)
			}
			return &domain.OrderCompletionFailure{OrderID: order.ID, Shortages: shortagesOf(req, available, err)}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func shortagesOf(req domain.Requirement, available domain.Quantity, reason error) []domain.LineShortage {
	out := make([]domain.LineShortage, 0, len(req.Lines))
	for _, line := range req.Lines {
		out = append(out, domain.LineShortage{
			Line:      line,
			Required:  req.Quantity,
			Available: available,
			Reason:    reason,
		})
	}
	return out
}

// FindByInterval возвращает заказы, созданные в [from, to] включительно.
func (m *Manager) FindByInterval(ctx context.Context, interval domain.Interval) (orders []domain.Order, err error) {
	ctx, span := telemetry.StartSpan(ctx, "orders.find_by_interval")
	defer func() { telemetry.Finish(span, err) }()

	if err := interval.Validate(); err != nil {
		return nil, err
	}
	return m.orders.ListByInterval(ctx, interval)
}

// FindByStatus возвращает заказы в статусе status на момент запроса.
func (m *Manager) FindByStatus(ctx context.Context, status domain.OrderStatus) (orders []domain.Order, err error) {
	ctx, span := telemetry.StartSpan(ctx, "orders.find_by_status", attribute.String("order.status", string(status)))
	defer func() { telemetry.Finish(span, err) }()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidArgument, status)
	}
	return m.orders.ListByStatus(ctx, status)
}

// FindByUser возвращает заказы пользователя, новые первыми; limit <= 0 снимает ограничение.
func (m *Manager) FindByUser(ctx context.Context, user domain.UserID, limit int) ([]domain.Order, error) {
	if user == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrUserRequired)
	}
	return m.orders.ListByUser(ctx, user, limit)
}

// Timeline возвращает историю заказа в порядке событий.
func (m *Manager) Timeline(ctx context.Context, id domain.OrderID) ([]domain.TimelineEvent, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrOrderIDRequired)
	}
	if m.timeline != nil {
		return m.timeline.List(ctx, id)
	}
	var events []domain.TimelineEvent
	err := m.tx.InTx(ctx, func(uow domain.UnitOfWork) error {
		var err error
		events, err = uow.Timeline().List(ctx, id)
		return err
	})
	return events, err
}

func (m *Manager) logFailure(operation string, id domain.OrderID, err error) {
	entry := m.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"order_id":  id,
	})
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrOrderCompletionFailed):
		entry.Info("order operation rejected")
	default:
		entry.Error("order operation failed")
	}
}

// validate проверяет заказ до обращения к хранилищу.
func validate(order domain.Order) error {
	if !order.Status.Valid() {
		return fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidArgument, order.Status)
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, errors.Join(errs...))
	}
	return nil
}
