package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"telenotify/internal/broker"
	"telenotify/internal/config"
	"telenotify/internal/config_handler"
	"telenotify/internal/constants"
	"telenotify/internal/deduplication"
	"telenotify/internal/logger"
	"telenotify/internal/suppression"
	"telenotify/pkg/bootstrap"
	"telenotify/pkg/cel"
	"telenotify/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	dbConnector   *bootstrap.DatabaseConnector
	conns         bootstrap.Connections
	service       *deduplication.Service
	suppression   *suppression.Registry
	handler       *deduplication.Handler
	configHandler *config_handler.Handler
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	base := bootstrap.NewBase(cfg, log, constants.ServiceNameDedup)
	return &App{
		Base:        base,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log, base.Health),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(); err != nil {
		return err
	}

	metrics.RegisterDedupMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.conns.Redis = rdb

	if err := a.initService(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	if err := a.initSuppression(); err != nil {
		return fmt.Errorf("failed to initialize suppression: %w", err)
	}

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.handler = deduplication.NewHandler(a.service, a.suppression, a.Producer, a.outputTopic(), a.Logger)
	a.configHandler = config_handler.NewHandler(a.Logger).
		WithPayloadFieldsUpdater(a.service).
		WithWindowReplacer(a.suppression)

	a.InitHTTPServer()
	return nil
}

func (a *App) initService(ctx context.Context) error {
	var repo deduplication.Repository = deduplication.NewRepository(a.conns.Redis)
	if a.Config.CircuitBreaker.Enabled {
		repo = deduplication.NewCircuitBreakerRepository(repo, a.Config.CircuitBreaker)
		a.Logger.InfowCtx(ctx, "Circuit breaker enabled for deduplication repository")
	}

	dc := a.Config.Deduplication
	extractor := deduplication.NewKeyExtractor(dc.HashAlgorithm, dc.PayloadFields)
	a.service = deduplication.NewService(repo, extractor, dc, a.Logger)

	a.Logger.InfowCtx(ctx, "Deduplication configured",
		"interval", dc.Interval,
		"hash_algorithm", dc.HashAlgorithm,
		"on_store_error", dc.OnStoreError,
		"payload_fields", dc.PayloadFields,
	)
	return nil
}

func (a *App) initSuppression() error {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return err
	}
	a.suppression = suppression.NewRegistry(evaluator, a.Logger)
	return a.suppression.ReplaceWindows(a.Config.Suppression.Windows)
}

func (a *App) inputTopic() string {
	if t := a.Config.Broker.Kafka.InputTopic; t != "" {
		return t
	}
	return constants.DefaultAlertTopic
}

func (a *App) outputTopic() string {
	if t := a.Config.Broker.Kafka.OutputTopic; t != "" {
		return t
	}
	return constants.DefaultDeliveryTopic
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ServeHTTP(gCtx)
	})

	a.service.StartLiveKeysUpdater(constants.DedupLiveKeysRefreshSeconds * time.Second)

	if topic := a.Config.Broker.Kafka.ConfigUpdateTopic; topic != "" {
		configConsumer, err := a.NewConsumer()
		if err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to create config event consumer, event-driven reload disabled",
				"error", err,
			)
		} else {
			defer configConsumer.Close()
			g.Go(func() error {
				a.Logger.InfowCtx(gCtx, "Starting config update event consumer", "topic", topic)
				return configConsumer.Consume(gCtx, topic, a.configHandler.HandleConfigUpdateEvent)
			})
		}
	}

	input := a.inputTopic()
	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Consuming alerts",
			"input_topic", input,
			"output_topic", a.outputTopic(),
		)
		return a.Consumer.Consume(gCtx, input, broker.HandlerFunc(a.handler.Handle))
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		if a.service != nil {
			a.service.StopLiveKeysUpdater()
		}
		return a.conns.Close(ctx)
	})
}
