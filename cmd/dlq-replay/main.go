package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
	brokersEnv         = "STOREFRONT_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// replay: сообщение, готовое к повторной отправке.
type replay struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

// deadLetter — то, что outbox worker кладёт в payload DLQ-конверта.
type deadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

type offsetSource interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error)
}

type sender interface {
	Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

type stats struct {
	scanned  int
	replayed int
	skipped  int
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	var (
		cfg     config
		brokers string
	)
	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokers, "brokers", "", "Kafka brokers, comma-separated (fallback: "+brokersEnv+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicOrderDLQ, "DLQ topic to scan")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic for outbox events without an original topic")
	fs.IntVar(&cfg.limit, "limit", defaultLimit, "max number of messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "send messages; default is dry-run")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this long without messages")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(brokersEnv)
	}
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.brokers = append(cfg.brokers, b)
		}
	}

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", brokersEnv)
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, errors.New("target-topic is required")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = version.ClientID("storefront-dlq-replay")
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer client.Close()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer consumer.Close()

	var out sender
	if cfg.execute {
		producer, err := kafka.NewProducer(cfg.brokers, saramaCfg.ClientID)
		if err != nil {
			return err
		}
		defer producer.Close()
		out = producer
	}

	_, err = replayTopic(ctx, cfg, client, consumer, out)
	return err
}

// replayTopic читает source topic по партициям до limit сообщений.
// Без out работает как dry-run: только логирует кандидатов.
func replayTopic(ctx context.Context, cfg config, offsets offsetSource, source partitionSource, out sender) (stats, error) {
	var total stats
	if cfg.execute && out == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := offsets.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if total.scanned >= cfg.limit {
			break
		}
		s, err := replayPartition(ctx, cfg, offsets, source, out, partition, cfg.limit-total.scanned)
		total.scanned += s.scanned
		total.replayed += s.replayed
		total.skipped += s.skipped
		if err != nil {
			return total, err
		}
	}

	log.WithFields(log.Fields{
		"execute":  cfg.execute,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func replayPartition(
	ctx context.Context,
	cfg config,
	offsets offsetSource,
	source partitionSource,
	out sender,
	partition int32,
	limit int,
) (stats, error) {
	var s stats

	oldest, err := offsets.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return s, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := offsets.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return s, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return s, nil
	}

	pc, err := source.ConsumePartition(cfg.sourceTopic, partition, oldest)
	if err != nil {
		return s, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer pc.AsyncClose()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for s.scanned < limit {
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-idle.C:
			return s, nil
		case cerr, ok := <-pc.Errors():
			if ok && cerr != nil {
				return s, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return s, nil
			}
			idle.Reset(cfg.idleTimeout)
			s.scanned++

			entry := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
			r, err := extract(msg, cfg.targetTopic)
			if err != nil {
				s.skipped++
				entry.WithError(err).Warn("skip unsupported dlq message")
				continue
			}
			if out == nil {
				entry.WithFields(log.Fields{"target_topic": r.topic, "key": r.key}).Info("dlq replay candidate")
			} else if err := out.Send(ctx, r.topic, r.key, r.value, r.headers); err != nil {
				return s, fmt.Errorf("replay offset %d: %w", msg.Offset, err)
			}
			s.replayed++

			if msg.Offset+1 >= newest {
				return s, nil
			}
		}
	}
	return s, nil
}

// extract восстанавливает исходное сообщение.
// Stock feed кладёт в DLQ исходное сообщение как есть с заголовком исходного topic;
// outbox worker кладёт конверт, в payload которого лежит deadLetter.
func extract(msg *sarama.ConsumerMessage, target string) (replay, error) {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == kafka.HeaderOriginalTopic && len(h.Value) > 0 {
			return replay{topic: string(h.Value), key: string(msg.Key), value: msg.Value}, nil
		}
	}

	var env kafka.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return replay{}, fmt.Errorf("decode envelope: %w", err)
	}
	var letter deadLetter
	if len(env.Payload) == 0 || json.Unmarshal(env.Payload, &letter) != nil || len(letter.Payload) == 0 {
		return replay{}, errors.New("envelope does not carry a dead letter")
	}

	original := kafka.Envelope{
		ID:            firstNonEmpty(letter.OutboxID, env.ID),
		AggregateType: firstNonEmpty(letter.AggregateType, env.AggregateType),
		AggregateID:   firstNonEmpty(letter.AggregateID, env.AggregateID),
		EventType:     firstNonEmpty(letter.EventType, env.EventType),
		Payload:       letter.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(original)
	if err != nil {
		return replay{}, fmt.Errorf("encode envelope: %w", err)
	}
	return replay{
		topic: target,
		key:   firstNonEmpty(original.AggregateID, original.ID),
		value: value,
		headers: map[string]string{
			kafka.HeaderEventType:     original.EventType,
			kafka.HeaderAggregateType: original.AggregateType,
			kafka.HeaderOutboxID:      original.ID,
		},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
