package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

func outboxDeadLetter(t *testing.T, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	letter, err := json.Marshal(deadLetter{
		OutboxID:      "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "OrderPaid",
		Payload:       json.RawMessage(`{"status":"paid"}`),
		PublishError:  "broker unavailable",
	})
	require.NoError(t, err)
	value, err := json.Marshal(kafka.Envelope{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "OrderPaid",
		Payload:       letter,
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Offset: offset, Value: value}
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-execute", "-limit=5"}, func(string) string { return " b1:9092, ,b2:9092 " })
	require.NoError(t, err)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.brokers)
	assert.Equal(t, kafka.TopicOrderDLQ, cfg.sourceTopic)
	assert.Equal(t, kafka.TopicOrderEvents, cfg.targetTopic)
	assert.True(t, cfg.execute)
	assert.Equal(t, 5, cfg.limit)

	noEnv := func(string) string { return "" }
	for name, args := range map[string][]string{
		"no brokers":   {},
		"zero limit":   {"-brokers=b", "-limit=0"},
		"zero idle":    {"-brokers=b", "-idle-timeout=0s"},
		"empty source": {"-brokers=b", "-source-topic="},
	} {
		_, err := parseConfig(args, noEnv)
		assert.Error(t, err, name)
	}
}

func TestExtract_OutboxDeadLetter(t *testing.T) {
	r, err := extract(outboxDeadLetter(t, 0), "storefront.order.events")
	require.NoError(t, err)

	assert.Equal(t, "storefront.order.events", r.topic)
	assert.Equal(t, "order-1", r.key)
	assert.Equal(t, "OrderPaid", r.headers[kafka.HeaderEventType])

	var env kafka.Envelope
	require.NoError(t, json.Unmarshal(r.value, &env))
	assert.Equal(t, "outbox-1", env.ID)
	assert.JSONEq(t, `{"status":"paid"}`, string(env.Payload))
}

func TestExtract_StockFeedMessage(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Key:   []byte("choc"),
		Value: []byte(`{"product_id":"choc","amount":"5"}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderErrorMessage), Value: []byte("database down")},
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(kafka.TopicStockFeed)},
		},
	}

	r, err := extract(msg, "ignored")
	require.NoError(t, err)
	assert.Equal(t, kafka.TopicStockFeed, r.topic)
	assert.Equal(t, "choc", r.key)
	assert.Equal(t, msg.Value, r.value)
}

func TestExtract_Unsupported(t *testing.T) {
	for name, value := range map[string]string{
		"not json":       `garbage`,
		"no payload":     `{"id":"x"}`,
		"no dead letter": `{"id":"x","payload":{"status":"paid"}}`,
	} {
		_, err := extract(&sarama.ConsumerMessage{Value: []byte(value)}, "t")
		assert.Error(t, err, name)
	}
}

func TestReplayTopic_Execute(t *testing.T) {
	pc := newFakePartition(outboxDeadLetter(t, 0), &sarama.ConsumerMessage{Offset: 1, Value: []byte("garbage")}, outboxDeadLetter(t, 2))
	offsets := fakeOffsets{partitions: []int32{0}, newest: 3}
	out := &fakeSender{}

	cfg := config{sourceTopic: kafka.TopicOrderDLQ, targetTopic: kafka.TopicOrderEvents, limit: 10, execute: true, idleTimeout: time.Second}
	s, err := replayTopic(context.Background(), cfg, offsets, fakeSource{pc: pc}, out)
	require.NoError(t, err)

	assert.Equal(t, stats{scanned: 3, replayed: 2, skipped: 1}, s)
	assert.Equal(t, []string{kafka.TopicOrderEvents, kafka.TopicOrderEvents}, out.topics)
}

func TestReplayTopic_DryRunRespectsLimit(t *testing.T) {
	pc := newFakePartition(outboxDeadLetter(t, 0), outboxDeadLetter(t, 1), outboxDeadLetter(t, 2))
	offsets := fakeOffsets{partitions: []int32{0}, newest: 3}

	cfg := config{sourceTopic: "dlq", targetTopic: "events", limit: 2, idleTimeout: time.Second}
	s, err := replayTopic(context.Background(), cfg, offsets, fakeSource{pc: pc}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.scanned)
	assert.Equal(t, 2, s.replayed)
}

func TestReplayTopic_SendFailureStops(t *testing.T) {
	pc := newFakePartition(outboxDeadLetter(t, 0), outboxDeadLetter(t, 1))
	offsets := fakeOffsets{partitions: []int32{0}, newest: 2}
	out := &fakeSender{err: errors.New("not leader")}

	cfg := config{sourceTopic: "dlq", targetTopic: "events", limit: 10, execute: true, idleTimeout: time.Second}
	_, err := replayTopic(context.Background(), cfg, offsets, fakeSource{pc: pc}, out)
	assert.ErrorContains(t, err, "not leader")
}

func TestReplayTopic_ExecuteRequiresProducer(t *testing.T) {
	cfg := config{sourceTopic: "dlq", targetTopic: "events", limit: 1, execute: true, idleTimeout: time.Second}
	_, err := replayTopic(context.Background(), cfg, fakeOffsets{}, fakeSource{}, nil)
	assert.Error(t, err)
}

type fakeOffsets struct {
	partitions []int32
	newest     int64
}

func (f fakeOffsets) Partitions(string) ([]int32, error) { return f.partitions, nil }

func (f fakeOffsets) GetOffset(_ string, _ int32, at int64) (int64, error) {
	if at == sarama.OffsetNewest {
		return f.newest, nil
	}
	return 0, nil
}

type fakeSource struct {
	pc *fakePartition
}

func (f fakeSource) ConsumePartition(string, int32, int64) (sarama.PartitionConsumer, error) {
	return f.pc, nil
}

type fakePartition struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func newFakePartition(msgs ...*sarama.ConsumerMessage) *fakePartition {
	pc := &fakePartition{
		messages: make(chan *sarama.ConsumerMessage, len(msgs)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, m := range msgs {
		pc.messages <- m
	}
	return pc
}

func (p *fakePartition) AsyncClose()                              {}
func (p *fakePartition) Close() error                             { return nil }
func (p *fakePartition) Messages() <-chan *sarama.ConsumerMessage { return p.messages }
func (p *fakePartition) Errors() <-chan *sarama.ConsumerError     { return p.errors }
func (p *fakePartition) HighWaterMarkOffset() int64               { return 0 }
func (p *fakePartition) Pause()                                   {}
func (p *fakePartition) Resume()                                  {}
func (p *fakePartition) IsPaused() bool                           { return false }

type fakeSender struct {
	err    error
	topics []string
}

func (f *fakeSender) Send(_ context.Context, topic, _ string, _ []byte, _ map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	return nil
}
