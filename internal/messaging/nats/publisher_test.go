package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type fakeConn struct {
	published  []*nats.Msg
	publishErr error
	flushErr   error
	flushes    int
	closed     bool
}

func (c *fakeConn) PublishMsg(msg *nats.Msg) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeConn) FlushWithContext(context.Context) error {
	c.flushes++
	return c.flushErr
}

func (c *fakeConn) Close() { c.closed = true }

func paid() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            "msg-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderPaid,
		Payload:       []byte(`{"status":"paid"}`),
	}
}

func TestPublisher_Publish(t *testing.T) {
	nc := &fakeConn{}
	publisher := newPublisher(nc, "")

	require.NoError(t, publisher.Publish(context.Background(), paid()))
	require.Len(t, nc.published, 1)

	msg := nc.published[0]
	assert.Equal(t, "storefront.order.paid", msg.Subject)
	assert.Equal(t, `{"status":"paid"}`, string(msg.Data))
	assert.Equal(t, "msg-1", msg.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, domain.EventOrderPaid, msg.Header.Get(HeaderEventType))
	assert.Equal(t, "order-1", msg.Header.Get(HeaderAggregateID))
	assert.Equal(t, 1, nc.flushes)
}

func TestPublisher_Subject(t *testing.T) {
	publisher := newPublisher(&fakeConn{}, "shop")

	tests := []struct {
		event domain.OutboxMessage
		want  string
	}{
		{domain.OutboxMessage{AggregateType: domain.AggregateOrder, EventType: domain.EventOrderCompleted}, "shop.order.completed"},
		{domain.OutboxMessage{AggregateType: domain.AggregateOrder, EventType: domain.EventOrderCancelled}, "shop.order.cancelled"},
		{domain.OutboxMessage{AggregateType: "inventory", EventType: "Restocked"}, "shop.inventory.restocked"},
		{domain.OutboxMessage{EventType: "Ping"}, "shop.event.ping"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, publisher.Subject(tt.event))
	}
}

func TestPublisher_Errors(t *testing.T) {
	boom := errors.New("boom")

	err := newPublisher(&fakeConn{publishErr: boom}, "").Publish(context.Background(), paid())
	assert.ErrorIs(t, err, boom)

	err = newPublisher(&fakeConn{flushErr: boom}, "").Publish(context.Background(), paid())
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	nc := &fakeConn{}
	err = newPublisher(nc, "").Publish(ctx, paid())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, nc.published)
}

func TestPublisher_Close(t *testing.T) {
	nc := &fakeConn{}
	newPublisher(nc, "").Close()
	assert.True(t, nc.closed)
}
