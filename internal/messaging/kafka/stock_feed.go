package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultStockRetries = 3

// StockFeed применяет поступления товара из внешней системы учёта к складу.
// Сообщение, которое не удалось применить за maxRetries попыток или которое
// не разбирается, уходит в DLQ; offset фиксируется только после этого.
type StockFeed struct {
	group      sarama.ConsumerGroup
	topics     []string
	inventory  domain.Inventory
	dlq        *Producer
	dlqTopic   string
	maxRetries int
	retryDelay time.Duration
	logger     *log.Entry
	wg         sync.WaitGroup
}

// StockFeedConfig задаёт подключение и поведение consumer group.
type StockFeedConfig struct {
	Brokers    []string
	GroupID    string
	Topic      string
	DLQTopic   string
	MaxRetries int
	RetryDelay time.Duration
}

// NewStockFeed создаёт consumer group; dlq может быть nil.
func NewStockFeed(cfg StockFeedConfig, inventory domain.Inventory, dlq *Producer) (*StockFeed, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return newStockFeed(group, cfg, inventory, dlq), nil
}

func newStockFeed(group sarama.ConsumerGroup, cfg StockFeedConfig, inventory domain.Inventory, dlq *Producer) *StockFeed {
	if cfg.Topic == "" {
		cfg.Topic = TopicStockFeed
	}
	if cfg.DLQTopic == "" {
		cfg.DLQTopic = TopicStockDLQ
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultStockRetries
	}
	return &StockFeed{
		group:      group,
		topics:     []string{cfg.Topic},
		inventory:  inventory,
		dlq:        dlq,
		dlqTopic:   cfg.DLQTopic,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     log.WithField("component", "stock-feed"),
	}
}

// Start запускает чтение в фоне до отмены ctx или Stop.
func (f *StockFeed) Start(ctx context.Context) {
	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		for {
			// Consume возвращается при каждом rebalance.
			if err := f.group.Consume(ctx, f.topics, f); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				f.logger.WithError(err).Error("stock feed consume failed")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer f.wg.Done()
		for err := range f.group.Errors() {
			f.logger.WithError(err).Error("stock feed consumer error")
		}
	}()
	f.logger.WithField("topics", f.topics).Info("stock feed started")
}

// Stop закрывает consumer group и ждёт фоновые горутины.
func (f *StockFeed) Stop() error {
	if err := f.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	f.wg.Wait()
	f.logger.Info("stock feed stopped")
	return nil
}

func (f *StockFeed) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (f *StockFeed) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения партиции по порядку.
func (f *StockFeed) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			entry := f.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			if err := f.handle(session.Context(), message); err != nil {
				// Без отметки сообщение перечитается после rebalance или рестарта.
				entry.WithError(err).Error("restock message left unacknowledged")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handle применяет сообщение; ошибка означает, что его нельзя отмечать.
func (f *StockFeed) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	productID, qty, err := ParseRestock(message.Value)
	if err != nil {
		return f.deadLetter(ctx, message, err)
	}

	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		if lastErr = f.inventory.Increment(ctx, productID, qty); lastErr == nil {
			f.logger.WithFields(log.Fields{
				"product_id": productID,
				"quantity":   qty.String(),
			}).Info("stock replenished")
			return nil
		}
		// Несовпадение единиц повтором не исправить.
		if errors.Is(lastErr, domain.ErrMetricMismatch) || errors.Is(lastErr, domain.ErrInvalidArgument) {
			break
		}
		if attempt < f.maxRetries && f.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}
	}
	return f.deadLetter(ctx, message, lastErr)
}

func (f *StockFeed) deadLetter(ctx context.Context, message *sarama.ConsumerMessage, cause error) error {
	if f.dlq == nil {
		return cause
	}
	headers := map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := f.dlq.Send(ctx, f.dlqTopic, string(message.Key), message.Value, headers); err != nil {
		return fmt.Errorf("send to dlq: %w (cause: %w)", err, cause)
	}
	f.logger.WithError(cause).WithField("offset", message.Offset).Warn("restock message moved to DLQ")
	return nil
}
