package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/telemetry"
)

// Option настраивает Catalog.
type Option func(*options)

type options struct {
	logger  *log.Entry
	metrics *metrics.CatalogMetrics
	now     func() time.Time
}

// WithLogger задаёт logger каталога.
func WithLogger(logger *log.Entry) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics включает учёт операций в Prometheus.
func WithMetrics(m *metrics.CatalogMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Catalog — типизированный доступ к записям каталога вида T и его подвидов.
// Каждая мутация идёт отдельной транзакцией хранилища; SaveAll пишет пакет атомарно.
type Catalog[T any] struct {
	store   domain.ProductStore
	typ     Type[T]
	logger  *log.Entry
	metrics *metrics.CatalogMetrics
	now     func() time.Time
}

// New создаёт каталог поверх store для типа typ.
func New[T any](store domain.ProductStore, typ Type[T], opts ...Option) *Catalog[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Catalog[T]{
		store:   store,
		typ:     typ,
		logger:  logger.WithField("kind", string(typ.kind)),
		metrics: o.metrics,
		now:     o.now,
	}
}

// Save вставляет или заменяет запись.
func (c *Catalog[T]) Save(ctx context.Context, item *T) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.save", c.kindAttr())
	defer func() { c.finish(span, "save", err) }()

	if item == nil {
		return fmt.Errorf("%w: product is nil", domain.ErrInvalidArgument)
	}
	record, err := c.prepare(*item)
	if err != nil {
		return err
	}
	if err := c.store.Upsert(ctx, record); err != nil {
		return err
	}
	c.logger.WithField("product_id", record.ID).Debug("product saved")
	return c.reload(ctx, item, record.ID)
}

// SaveAll сохраняет пакет в одной транзакции: при ошибке не сохраняется ничего.
func (c *Catalog[T]) SaveAll(ctx context.Context, items []*T) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.save_all", c.kindAttr(), attribute.Int("batch_size", len(items)))
	defer func() { c.finish(span, "save_all", err) }()

	if items == nil {
		return fmt.Errorf("%w: product batch is nil", domain.ErrInvalidArgument)
	}
	records := make([]domain.ProductType, 0, len(items))
	seen := make(map[domain.ProductID]struct{}, len(items))
	for i, item := range items {
		if item == nil {
			return fmt.Errorf("%w: product #%d is nil", domain.ErrInvalidArgument, i)
		}
		record, err := c.prepare(*item)
		if err != nil {
			return fmt.Errorf("product #%d: %w", i, err)
		}
		if _, dup := seen[record.ID]; dup {
			return fmt.Errorf("%w: product %s appears twice in batch", domain.ErrInvalidArgument, record.ID)
		}
		seen[record.ID] = struct{}{}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil
	}
	if err := c.store.Upsert(ctx, records...); err != nil {
		return err
	}
	c.logger.WithField("count", len(records)).Debug("product batch saved")

	for i, item := range items {
		if err := c.reload(ctx, item, records[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// Update заменяет состояние существующей записи; ErrProductNotFound, если её нет.
// После записи item получает сохранённое состояние.
func (c *Catalog[T]) Update(ctx context.Context, item *T) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.update", c.kindAttr())
	defer func() { c.finish(span, "update", err) }()

	if item == nil {
		return fmt.Errorf("%w: product is nil", domain.ErrInvalidArgument)
	}
	record, err := c.prepare(*item)
	if err != nil {
		return err
	}
	if err := c.store.Update(ctx, record); err != nil {
		return err
	}
	c.logger.WithField("product_id", record.ID).Debug("product updated")
	return c.reload(ctx, item, record.ID)
}

// Remove удаляет запись; false, если её не было.
func (c *Catalog[T]) Remove(ctx context.Context, id domain.ProductID) (removed bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.remove", c.kindAttr(), attribute.String("product_id", string(id)))
	defer func() { c.finish(span, "remove", err) }()

	if id == "" {
		return false, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrProductIDRequired)
	}
	removed, err = c.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		c.logger.WithField("product_id", id).Debug("product removed")
	}
	return removed, nil
}

// Contains проверяет наличие записи с идентификатором id.
func (c *Catalog[T]) Contains(ctx context.Context, id domain.ProductID) (ok bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.contains", c.kindAttr(), attribute.String("product_id", string(id)))
	defer func() { c.finish(span, "contains", err) }()

	if id == "" {
		return false, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrProductIDRequired)
	}
	return c.store.Exists(ctx, id)
}

// Get возвращает запись, приведённую к T. ok == false, если записи нет
// или она другого вида.
func (c *Catalog[T]) Get(ctx context.Context, id domain.ProductID) (item T, ok bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.get", c.kindAttr(), attribute.String("product_id", string(id)))
	defer func() { c.finish(span, "get", err) }()

	if id == "" {
		return item, false, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrProductIDRequired)
	}
	record, err := c.store.Get(ctx, id)
	if errors.Is(err, domain.ErrProductNotFound) {
		return item, false, nil
	}
	if err != nil {
		return item, false, err
	}
	if !c.typ.Accepts(record.Kind) {
		return item, false, nil
	}
	item, err = c.typ.decode(record)
	if err != nil {
		return item, false, fmt.Errorf("decode product %s: %w", id, err)
	}
	return item, true, nil
}

// Find перечисляет все записи вида T. Последовательность ленивая и
// перезапускаемая: каждый range выполняет запрос заново.
func (c *Catalog[T]) Find(ctx context.Context) iter.Seq2[T, error] {
	return c.find(ctx, "find", domain.ProductQuery{})
}

// FindByName ищет по шаблону имени с семантикой LIKE (% и _).
func (c *Catalog[T]) FindByName(ctx context.Context, pattern string) iter.Seq2[T, error] {
	if pattern == "" {
		return failed[T](fmt.Errorf("%w: name pattern is empty", domain.ErrInvalidArgument))
	}
	return c.find(ctx, "find_by_name", domain.ProductQuery{NamePattern: pattern})
}

// FindByCategory возвращает записи, у которых есть категория category.
func (c *Catalog[T]) FindByCategory(ctx context.Context, category string) iter.Seq2[T, error] {
	category = strings.TrimSpace(category)
	if category == "" {
		return failed[T](fmt.Errorf("%w: category is empty", domain.ErrInvalidArgument))
	}
	return c.find(ctx, "find_by_category", domain.ProductQuery{Category: category})
}

func (c *Catalog[T]) find(ctx context.Context, operation string, query domain.ProductQuery) iter.Seq2[T, error] {
	query.Kind = c.typ.kind
	return func(yield func(T, error) bool) {
		ctx, span := telemetry.StartSpan(ctx, "catalog."+operation, c.kindAttr())

		var (
			found     int
			stopped   bool
			decodeErr error
		)
		err := c.store.Each(ctx, query, func(record domain.ProductType) bool {
			item, err := c.typ.decode(record)
			if err != nil {
				decodeErr = fmt.Errorf("decode product %s: %w", record.ID, err)
				return false
			}
			found++
			if !yield(item, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err == nil {
			err = decodeErr
		}

		c.metrics.RecordFound(string(c.typ.kind), found)
		c.finish(span, operation, err)
		if err != nil && !stopped {
			var zero T
			yield(zero, err)
		}
	}
}

// failed возвращает последовательность из одной ошибки.
func failed[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// prepare переводит значение в запись и проверяет её до обращения к хранилищу.
func (c *Catalog[T]) prepare(item T) (domain.ProductType, error) {
	record, err := c.typ.encode(item)
	if err != nil {
		return domain.ProductType{}, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}
	if record.Kind == "" {
		record.Kind = c.typ.kind
	}
	if !c.typ.Accepts(record.Kind) {
		return domain.ProductType{}, fmt.Errorf("%w: kind %q is not a %q", domain.ErrInvalidArgument, record.Kind, c.typ.kind)
	}
	record.NormalizeCategories()
	if errs := record.Validate(); len(errs) > 0 {
		return domain.ProductType{}, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, errors.Join(errs...))
	}

	now := c.now().UTC().Truncate(time.Microsecond)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	return record, nil
}

// reload возвращает вызывающему сохранённое состояние (вид, время, категории).
// Хранилище оставляет у существующей записи исходное время создания,
// поэтому состояние перечитывается, а не берётся из подготовленной записи.
func (c *Catalog[T]) reload(ctx context.Context, item *T, id domain.ProductID) error {
	record, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	saved, err := c.typ.decode(record)
	if err != nil {
		return fmt.Errorf("decode product %s: %w", record.ID, err)
	}
	*item = saved
	return nil
}

func (c *Catalog[T]) kindAttr() attribute.KeyValue {
	return attribute.String("product.kind", string(c.typ.kind))
}

func (c *Catalog[T]) finish(span trace.Span, operation string, err error) {
	c.metrics.RecordOperation(operation, err)
	telemetry.Finish(span, err)
	if err != nil && !errors.Is(err, domain.ErrInvalidArgument) {
		c.logger.WithError(err).WithField("operation", operation).Warn("catalog operation failed")
	}
}
