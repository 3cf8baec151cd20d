package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/telemetry"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	serviceName     = "storefront"
	shutdownTimeout = 5 * time.Second
	healthSyncEvery = 10 * time.Second
)

// Option настраивает Run.
type Option func(*runOptions)

type runOptions struct {
	onReady    []func(*Services)
	registerer prometheus.Registerer
}

// WithServices вызывает fn, когда прикладной слой собран и outbox relay запущен.
func WithServices(fn func(*Services)) Option {
	return func(o *runOptions) { o.onReady = append(o.onReady, fn) }
}

// WithRegisterer подменяет prometheus.DefaultRegisterer.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(o *runOptions) { o.registerer = registerer }
}

// Run поднимает хранилище, прикладной слой, outbox relay и служебные endpoints
// и работает до отмены ctx.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	options := runOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&options)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := log.WithField("component", "app")

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	registerer := options.registerer
	services := NewServices(backend, registerer, logger)

	relay, err := openRelay(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer relay.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if relay.publisher != nil {
		opts := []outbox.Option{
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(metrics.NewOutboxMetrics(registerer)),
		}
		if relay.dlq != nil {
			opts = append(opts, outbox.WithDLQPublisher(relay.dlq))
		}
		worker := outbox.NewWorker(backend.Outbox, relay.publisher, outbox.Config{
			PollInterval:   cfg.OutboxPollInterval,
			BatchSize:      cfg.OutboxBatchSize,
			MaxAttempts:    cfg.OutboxMaxAttempts,
			RetryBaseDelay: cfg.OutboxRetryDelay,
		}, opts...)

		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(runCtx)
		}()
		logger.WithField("broker", cfg.OutboxBroker).Info("outbox relay started")
	}

	if cfg.KafkaStockTopic != "" {
		feed, err := kafka.NewStockFeed(kafka.StockFeedConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaStockGroupID,
			Topic:   cfg.KafkaStockTopic,
		}, backend.Inventory, relay.producer)
		if err != nil {
			return err
		}
		feed.Start(runCtx)
		defer func() {
			if err := feed.Stop(); err != nil {
				logger.WithError(err).Warn("failed to stop stock feed")
			}
		}()
	}

	healthHandler := health.NewHandler(version.GetVersion())
	for name, check := range backend.checks {
		healthHandler.Register(name, check)
	}
	healthHandler.Register("outbox", health.Outbox(backend.Outbox, cfg.OutboxMaxLag))

	metricsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	metricsSrv := &http.Server{Handler: opsMux(healthHandler), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", metricsLis.Addr())
		if err := metricsSrv.Serve(metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	defer shutdownHTTP(metricsSrv, logger)

	grpcServer, grpcHealth := newGRPCServer(registerer, logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	logger.WithField("storage", cfg.StorageDriver).Info("storefront ready")
	for _, fn := range options.onReady {
		fn(services)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		syncHealth(runCtx, healthHandler, grpcHealth)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки")
		grpcHealth.Shutdown()
		stopGRPC(grpcServer, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// opsMux собирает служебные HTTP endpoints.
func opsMux(healthHandler *health.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	return mux
}

// newGRPCServer поднимает служебный gRPC сервер: grpc.health.v1 и reflection с метриками.
func newGRPCServer(registerer prometheus.Registerer, logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := registerer.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

// syncHealth переносит агрегированный статус HTTP-проверок в grpc.health.v1.
func syncHealth(ctx context.Context, checks *health.Handler, server *grpchealth.Server) {
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if checks.Evaluate(ctx).Status == health.StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		server.SetServingStatus("", status)
		server.SetServingStatus(serviceName, status)
	}

	update()
	ticker := time.NewTicker(healthSyncEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
