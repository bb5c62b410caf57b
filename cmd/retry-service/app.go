package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"telenotify/internal/config"
	"telenotify/internal/constants"
	"telenotify/internal/logger"
	"telenotify/internal/retryhistory"
	"telenotify/internal/retryprocessor"
	"telenotify/internal/topology"
	"telenotify/pkg/bootstrap"
	"telenotify/pkg/circuitbreaker"
	"telenotify/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	conns       bootstrap.Connections
	processor   *retryprocessor.Processor
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	base := bootstrap.NewBase(cfg, log, constants.ServiceNameRetry)
	return &App{
		Base:        base,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log, base.Health),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(); err != nil {
		return err
	}

	metrics.RegisterRetryMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.conns.Redis = rdb

	repo, err := a.initHistoryStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	var cb *circuitbreaker.Wrapper
	if a.Config.CircuitBreaker.Enabled {
		cb = circuitbreaker.NewWrapper(circuitbreaker.FromSettings("redis-retry", a.Config.CircuitBreaker))
	}

	a.processor, err = retryprocessor.NewProcessor(retryprocessor.ProcessorContext{
		ID:           constants.ServiceNameRetry,
		SourceTopics: []string{a.retryTopic()},
		Ledger:       retryhistory.NewLedger(repo, a.Config.Retry.HistoryStore, a.Logger),
		Cache:        retryhistory.NewRedisCache(rdb, cb),
		Gate:         topology.NewSkipGate(),
		Producer:     a.Producer,
		Config:       a.Config.Retry,
		Logger:       a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize retry processor: %w", err)
	}

	a.InitHTTPServer()
	return nil
}

func (a *App) initHistoryStore(ctx context.Context) (retryhistory.Repository, error) {
	switch a.Config.Retry.HistoryStore {
	case constants.HistoryStorePostgres:
		db, err := a.dbConnector.InitPostgreSQL(ctx)
		if err != nil {
			return nil, err
		}
		a.conns.Postgres = db
		return retryhistory.NewPostgresRepository(db), nil
	default:
		client, db, err := a.dbConnector.InitMongoDB(ctx)
		if err != nil {
			return nil, err
		}
		a.conns.Mongo = client
		return retryhistory.NewMongoRepository(db), nil
	}
}

func (a *App) retryTopic() string {
	if t := a.Config.Retry.Topic; t != "" {
		return t
	}
	return constants.DefaultRetryTopic
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ServeHTTP(gCtx)
	})

	for _, topic := range a.processor.SourceTopics() {
		g.Go(func() error {
			a.Logger.InfowCtx(gCtx, "Consuming retry events",
				"topic", topic,
				"history_store", a.Config.Retry.HistoryStore,
			)
			return a.Consumer.Consume(gCtx, topic, a.processor.Handler())
		})
	}

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		if a.processor != nil {
			a.processor.Close()
		}
		return a.conns.Close(ctx)
	})
}
