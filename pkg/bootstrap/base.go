package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telenotify/internal/broker"
	"telenotify/internal/config"
	"telenotify/internal/constants"
	"telenotify/internal/logger"
	"telenotify/pkg/health"
	"telenotify/pkg/logging"
	"telenotify/pkg/metrics"
	"telenotify/pkg/middleware"
	"telenotify/pkg/ratelimit"
	"telenotify/pkg/tracing"
)

// Base holds what every service binary shares: config, logger, broker clients, tracing
// and the ops HTTP server.
type Base struct {
	Config      *config.Config
	Logger      logger.Logger
	ServiceName string
	Producer    broker.Producer
	Consumer    broker.Consumer
	Health      *health.CheckerRegistry

	tracerProvider *tracing.TracerProvider
	server         *http.Server
	limiter        *ratelimit.Middleware
}

func NewBase(cfg *config.Config, log logger.Logger, serviceName string) *Base {
	if sugared, ok := log.(*logger.SugaredLogger); ok {
		sugared.SetServiceName(serviceName)
	}
	return &Base{
		Config:      cfg,
		Logger:      log,
		ServiceName: serviceName,
		Health:      health.NewCheckerRegistry(),
	}
}

// Context returns ctx tagged with the service name for logging.
func (b *Base) Context(ctx context.Context) context.Context {
	return logging.WithServiceName(ctx, b.ServiceName)
}

func (b *Base) InitBroker() error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
	if err != nil {
		producer.Close()
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	consumer.SetServiceName(b.ServiceName)

	b.Producer = producer
	b.Consumer = consumer
	b.Health.RegisterOptional(health.NewKafkaChecker(b.Config.Broker.Kafka.Brokers))
	return nil
}

// NewConsumer creates an extra consumer, e.g. for the config update topic, that shares the
// service's broker settings.
func (b *Base) NewConsumer() (broker.Consumer, error) {
	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
	if err != nil {
		return nil, err
	}
	consumer.SetServiceName(b.ServiceName)
	return consumer, nil
}

func (b *Base) InitTracing() error {
	tp, err := tracing.Init(b.Config.Tracing, b.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	b.tracerProvider = tp
	return nil
}

// InitHTTPServer exposes /health and /metrics on the configured server port.
func (b *Base) InitHTTPServer() {
	metrics.RegisterHTTPMetrics()
	b.limiter = ratelimit.New(ratelimit.DefaultConfig())

	mux := http.NewServeMux()
	mux.Handle("/health", health.Handler(b.Health))
	mux.Handle("/metrics", promhttp.Handler())

	handler := middleware.Chain(mux,
		middleware.RecoveryMiddleware(b.Logger),
		middleware.RequestIDMiddleware,
		middleware.LoggerMiddleware(b.Logger),
		b.limiter.Handler,
	)

	b.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", b.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  b.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: b.Config.Server.WriteTimeoutSeconds,
	}
}

// ServeHTTP blocks until the ops server stops; cancelling ctx stops it. It is a no-op when
// InitHTTPServer was not called.
func (b *Base) ServeHTTP(ctx context.Context) error {
	if b.server == nil {
		return nil
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
		defer cancel()
		_ = b.server.Shutdown(shutdownCtx)
	}()

	b.Logger.InfowCtx(b.Context(ctx), "HTTP server starting", "port", b.Config.Server.Port)
	if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	ctx = b.Context(ctx)
	b.Logger.InfowCtx(ctx, "Shutting down application")

	var errs []error

	if b.server != nil {
		if err := b.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}

	if b.limiter != nil {
		b.limiter.Close()
	}

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if b.tracerProvider != nil {
		if err := b.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}
