package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// StorageDriver выбирает backend хранения.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Broker выбирает, куда outbox relay публикует события.
type Broker string

const (
	BrokerNone  Broker = "none"
	BrokerKafka Broker = "kafka"
	BrokerNATS  Broker = "nats"
)

const envPrefix = "STOREFRONT_"

// Config описывает настройки запуска сервиса.
type Config struct {
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string
	Environment string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	OutboxBroker       Broker
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxLag задаёт возраст самого старого события, после которого /healthz degraded.
	OutboxMaxLag time.Duration

	KafkaBrokers  []string
	KafkaTopic    string
	KafkaDLQTopic string
	// KafkaStockTopic включает приём поступлений на склад, пустое значение его выключает.
	KafkaStockTopic   string
	KafkaStockGroupID string

	NATSURL           string
	NATSSubjectPrefix string

	OTLPEndpoint    string
	TraceSampleRate float64
}

// DefaultConfig возвращает настройки для локального запуска без внешних сервисов.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		LogLevel:            "info",
		Environment:         "development",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		OutboxBroker:        BrokerNone,
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    100 * time.Millisecond,
		OutboxMaxLag:        5 * time.Minute,
		KafkaTopic:          "storefront.order.events",
		KafkaDLQTopic:       "storefront.order.dlq",
		KafkaStockGroupID:   "storefront-stock",
		NATSURL:             "nats://127.0.0.1:4222",
		NATSSubjectPrefix:   "storefront",
		TraceSampleRate:     1,
	}
}

// LoadConfig читает STOREFRONT_* переменные поверх DefaultConfig.
// Файлы envFiles подгружаются через godotenv и не перекрывают уже заданное окружение;
// отсутствующий файл не ошибка.
func LoadConfig(envFiles ...string) (Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := DefaultConfig()
	var errs []error
	env := envReader{errs: &errs}

	env.setString("GRPC_ADDR", &cfg.GRPCAddr)
	env.setString("METRICS_ADDR", &cfg.MetricsAddr)
	env.setString("LOG_LEVEL", &cfg.LogLevel)
	env.setString("ENVIRONMENT", &cfg.Environment)

	var storage, broker string
	env.setString("STORAGE_DRIVER", &storage)
	if storage != "" {
		cfg.StorageDriver = StorageDriver(strings.ToLower(storage))
	}
	env.setString("POSTGRES_DSN", &cfg.PostgresDSN)
	env.setBool("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)

	env.setString("OUTBOX_BROKER", &broker)
	if broker != "" {
		cfg.OutboxBroker = Broker(strings.ToLower(broker))
	}
	env.setDuration("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	env.setInt("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	env.setInt("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	env.setDuration("OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	env.setDuration("OUTBOX_MAX_LAG", &cfg.OutboxMaxLag)

	env.setList("KAFKA_BROKERS", &cfg.KafkaBrokers)
	env.setString("KAFKA_TOPIC", &cfg.KafkaTopic)
	env.setString("KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)
	env.setString("KAFKA_STOCK_TOPIC", &cfg.KafkaStockTopic)
	env.setString("KAFKA_STOCK_GROUP_ID", &cfg.KafkaStockGroupID)

	env.setString("NATS_URL", &cfg.NATSURL)
	env.setString("NATS_SUBJECT_PREFIX", &cfg.NATSSubjectPrefix)

	env.setString("OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	env.setFloat("TRACE_SAMPLE_RATE", &cfg.TraceSampleRate)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate отклоняет противоречивые настройки.
func (c Config) Validate() error {
	var errs []error
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}
	if c.MetricsAddr == "" {
		errs = append(errs, errors.New("metrics address is required"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage requires STOREFRONT_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}

	switch c.OutboxBroker {
	case BrokerNone:
	case BrokerKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("kafka broker requires STOREFRONT_KAFKA_BROKERS"))
		}
		if c.KafkaTopic == "" {
			errs = append(errs, errors.New("kafka topic is required"))
		}
	case BrokerNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("nats broker requires STOREFRONT_NATS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown outbox broker %q", c.OutboxBroker))
	}
	if c.KafkaStockTopic != "" && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("stock feed requires STOREFRONT_KAFKA_BROKERS"))
	}

	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be positive"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be positive"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox retry delay must not be negative"))
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		errs = append(errs, fmt.Errorf("trace sample rate %v out of [0, 1]", c.TraceSampleRate))
	}
	return errors.Join(errs...)
}

// envReader копит ошибки разбора, чтобы сообщить обо всех сразу.
type envReader struct {
	errs *[]error
}

func (r envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r envReader) fail(key string, err error) {
	*r.errs = append(*r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
}

func (r envReader) setString(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		*dst = v
	}
}

func (r envReader) setList(key string, dst *[]string) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (r envReader) setBool(key string, dst *bool) {
	if v, ok := r.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = b
	}
}

func (r envReader) setInt(key string, dst *int) {
	if v, ok := r.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = n
	}
}

func (r envReader) setFloat(key string, dst *float64) {
	if v, ok := r.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = f
	}
}

func (r envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := r.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = d
	}
}
