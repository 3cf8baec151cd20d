package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultSubjectPrefix — префикс subject по умолчанию.
const DefaultSubjectPrefix = "storefront"

// Headers сообщения.
const (
	HeaderEventType     = "Storefront-Event-Type"
	HeaderAggregateType = "Storefront-Aggregate-Type"
	HeaderAggregateID   = "Storefront-Aggregate-Id"
)

// conn: часть *nats.Conn, нужная publisher.
type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Publisher публикует outbox-события в NATS core subjects вида
// <prefix>.<aggregate>.<event>, например storefront.order.paid.
type Publisher struct {
	nc     conn
	prefix string
	logger *log.Entry
}

// Connect подключается к серверу с несколькими попытками.
func Connect(ctx context.Context, url, prefix string) (*Publisher, error) {
	logger := log.WithField("component", "nats-publisher")

	var (
		nc  *nats.Conn
		err error
	)
	for attempt := 1; attempt <= 3; attempt++ {
		nc, err = nats.Connect(url,
			nats.Name("storefront"),
			nats.MaxReconnects(5),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.WithError(err).Warn("nats disconnected")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
			}),
		)
		if err == nil {
			logger.WithField("url", url).Info("connected to nats")
			return newPublisher(nc, prefix), nil
		}

		logger.WithError(err).WithField("attempt", attempt).Warn("failed to connect to nats")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to nats: %w", errors.Join(err, ctx.Err()))
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect to nats after retries: %w", err)
}

func newPublisher(nc conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{
		nc:     nc,
		prefix: prefix,
		logger: log.WithField("component", "nats-publisher"),
	}
}

// Publish отправляет событие и дожидается flush на сервер.
// Nats-Msg-Id равен ID outbox-записи, что даёт дедупликацию в JetStream-стримах.
func (p *Publisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := nats.NewMsg(p.Subject(event))
	msg.Data = event.Payload
	msg.Header.Set(nats.MsgIdHdr, event.ID)
	msg.Header.Set(HeaderEventType, event.EventType)
	msg.Header.Set(HeaderAggregateType, event.AggregateType)
	msg.Header.Set(HeaderAggregateID, event.AggregateID)

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", msg.Subject, err)
	}

	p.logger.WithFields(log.Fields{
		"subject":   msg.Subject,
		"outbox_id": event.ID,
	}).Debug("event published to nats")
	return nil
}

// Subject строит subject события: тип агрегата и имя события без его префикса.
func (p *Publisher) Subject(event domain.OutboxMessage) string {
	aggregate := strings.ToLower(event.AggregateType)
	if aggregate == "" {
		aggregate = "event"
	}
	name := strings.ToLower(event.EventType)
	if trimmed := strings.TrimPrefix(name, aggregate); trimmed != "" {
		name = trimmed
	}
	return p.prefix + "." + aggregate + "." + name
}

// Close закрывает соединение.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("nats connection closed")
	}
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
