package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"telenotify/internal/config"
	"telenotify/internal/constants"
	"telenotify/internal/logger"
	"telenotify/pkg/health"
	"telenotify/pkg/migrations"
)

// Connections are the store clients a service opened. Unused stores stay nil.
type Connections struct {
	Redis    *redis.Client
	Postgres *sql.DB
	Mongo    *mongo.Client
}

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
	Health *health.CheckerRegistry
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger, registry *health.CheckerRegistry) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
		Health: registry,
	}
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	rc := dc.Config.Database.Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", rc.Host, rc.Port),
		Password: rc.Password,
		DB:       rc.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.register(health.NewRedisChecker(rdb))
	dc.Logger.InfowCtx(ctx, "Redis connected", "addr", rdb.Options().Addr)
	return rdb, nil
}

// InitPostgreSQL opens the history database and applies the embedded migrations when
// database.run_migrations is set.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pc := dc.Config.Database.Postgres
	if pc.Host == "" {
		return nil, fmt.Errorf("postgres host is not configured")
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pc.User, pc.Password, pc.Host, pc.Port, pc.DBName, pc.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dc.Config.Database.RunMigrations {
		if err := migrations.MigratePostgres(db); err != nil {
			db.Close()
			return nil, err
		}
		version, dirty, err := migrations.PostgresVersion(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		if dirty {
			db.Close()
			return nil, fmt.Errorf("postgres schema is dirty at migration %d", version)
		}
		dc.Logger.InfowCtx(ctx, "PostgreSQL migrations applied", "schema_version", version)
	}

	dc.register(health.NewPostgreSQLChecker(db))
	dc.Logger.InfowCtx(ctx, "PostgreSQL connected", "host", pc.Host, "database", pc.DBName)
	return db, nil
}

// InitMongoDB connects and returns the configured database. Indexes on alert_history are
// created when database.run_migrations is set.
func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, *mongo.Database, error) {
	mc := dc.Config.Database.MongoDB
	if mc.URI == "" {
		return nil, nil, fmt.Errorf("mongodb uri is not configured")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mc.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	name := mc.Database
	if name == "" {
		name = constants.DefaultMongoDBName
	}
	db := client.Database(name)

	if dc.Config.Database.RunMigrations {
		if err := migrations.EnsureMongoCollection(ctx, db); err != nil {
			client.Disconnect(ctx)
			return nil, nil, err
		}
	}

	dc.register(health.NewMongoDBChecker(client))
	dc.Logger.InfowCtx(ctx, "MongoDB connected", "database", name)
	return client, db, nil
}

func (dc *DatabaseConnector) register(checker health.Checker) {
	if dc.Health != nil {
		dc.Health.Register(checker)
	}
}

// Close releases every open connection.
func (c *Connections) Close(ctx context.Context) []error {
	var errs []error

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if c.Postgres != nil {
		if err := c.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if c.Mongo != nil {
		if err := c.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}

	return errs
}
