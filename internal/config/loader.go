package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"telenotify/internal/constants"
)

// LoadConfig reads a YAML file, overlays environment variables and validates the result.
// A fresh viper instance is used per call so loads never leak state into each other.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", "10s")
	v.SetDefault("server.write_timeout_seconds", "10s")

	v.SetDefault("broker.type", "kafka")
	v.SetDefault("broker.kafka.retry.max_attempts", 3)
	v.SetDefault("broker.kafka.retry.initial_interval", "1s")
	v.SetDefault("broker.kafka.retry.max_interval", "30s")
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("deduplication.interval", constants.DefaultDedupInterval.String())
	v.SetDefault("deduplication.hash_algorithm", "sha256")
	v.SetDefault("deduplication.on_store_error", constants.FallbackDeny)

	v.SetDefault("tracing.sampler.type", "parentbased_always_on")
	v.SetDefault("tracing.sampler.param", 1.0)

	v.SetDefault("retry.topic", constants.DefaultRetryTopic)
	v.SetDefault("retry.scheduler_topic", constants.DefaultSchedulerTopic)
	v.SetDefault("retry.history_store", constants.HistoryStoreMongoDB)
	v.SetDefault("retry.handled_ttl", constants.DefaultHandledTTL.String())
	v.SetDefault("retry.defaults.max_retry_count", constants.DefaultMaxRetryCount)
	v.SetDefault("retry.defaults.retry_interval_ms", constants.DefaultRetryIntervalMs)
}

func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	v.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	v.BindEnv("broker.kafka.input_topic", "BROKER_KAFKA_INPUT_TOPIC")
	v.BindEnv("broker.kafka.output_topic", "BROKER_KAFKA_OUTPUT_TOPIC")
	v.BindEnv("broker.kafka.config_update_topic", "BROKER_KAFKA_CONFIG_UPDATE_TOPIC")
	v.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	v.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	v.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	v.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	v.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	v.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	v.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	v.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	v.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	v.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	v.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	v.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	v.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	v.BindEnv("deduplication.interval", "DEDUPLICATION_INTERVAL")
	v.BindEnv("retry.topic", "RETRY_TOPIC")
	v.BindEnv("retry.scheduler_topic", "RETRY_SCHEDULER_TOPIC")
	v.BindEnv("retry.history_store", "RETRY_HISTORY_STORE")

	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("logging.level", "LOGGING_LEVEL")
	v.BindEnv("logging.format", "LOGGING_FORMAT")

	v.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	v.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
	v.BindEnv("tracing.environment", "TRACING_ENVIRONMENT")
	v.BindEnv("tracing.sampler.type", "TRACING_SAMPLER_TYPE")
	v.BindEnv("tracing.sampler.param", "TRACING_SAMPLER_PARAM")
}

// applyEnvOverrides handles values viper cannot decode from a flat env string.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
