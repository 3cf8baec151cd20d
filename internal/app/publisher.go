package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/nats"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// relay — publisher outbox-событий и его DLQ.
type relay struct {
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	// producer нужен stock feed для DLQ; есть только у kafka.
	producer *kafka.Producer
	close    func()
}

func (r *relay) Close() {
	if r != nil && r.close != nil {
		r.close()
	}
}

// openRelay подключается к брокеру; BrokerNone даёт пустой relay.
func openRelay(ctx context.Context, cfg Config, logger *log.Entry) (*relay, error) {
	switch cfg.OutboxBroker {
	case BrokerNone, "":
		logger.Warn("outbox broker is not configured, events stay in the outbox")
		r := &relay{}
		if cfg.KafkaStockTopic != "" {
			return withKafkaProducer(r, cfg, logger)
		}
		return r, nil

	case BrokerKafka:
		r, err := withKafkaProducer(&relay{}, cfg, logger)
		if err != nil {
			return nil, err
		}
		r.publisher = kafka.NewOutboxPublisher(r.producer, cfg.KafkaTopic)
		r.dlq = kafka.NewOutboxPublisher(r.producer, cfg.KafkaDLQTopic)
		return r, nil

	case BrokerNATS:
		publisher, err := nats.Connect(ctx, cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			return nil, err
		}
		r := &relay{publisher: publisher, close: publisher.Close}
		if cfg.KafkaStockTopic != "" {
			return withKafkaProducer(r, cfg, logger)
		}
		return r, nil

	default:
		return nil, errors.New("unknown outbox broker " + string(cfg.OutboxBroker))
	}
}

func withKafkaProducer(r *relay, cfg Config, logger *log.Entry) (*relay, error) {
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, version.ClientID("storefront"))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("init kafka: %w", err)
	}
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

	prev := r.close
	r.producer = producer
	r.close = func() {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		}
		if prev != nil {
			prev()
		}
	}
	return r, nil
}
