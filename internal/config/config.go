package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Deduplication  DeduplicationConfig
	Retry          RetryConfig
	Suppression    SuppressionConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers           []string           `mapstructure:"brokers"`
	GroupID           string             `mapstructure:"group_id"`
	InputTopic        string             `mapstructure:"input_topic"`
	OutputTopic       string             `mapstructure:"output_topic"`
	ConfigUpdateTopic string             `mapstructure:"config_update_topic"`
	DLQTopic          string             `mapstructure:"dlq_topic"`
	Retry             HandlerRetryConfig `mapstructure:"retry"`
}

// HandlerRetryConfig bounds in-process retries of a message handler before the message
// goes to the DLQ. It is unrelated to the notification retry budget in RetryConfig.
type HandlerRetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DeduplicationConfig configures the alert gate. Interval is a wall-clock duration
// enforced by the key-value store TTL at millisecond precision.
type DeduplicationConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	HashAlgorithm string        `mapstructure:"hash_algorithm"`
	OnStoreError  string        `mapstructure:"on_store_error"`
	PayloadFields []string      `mapstructure:"payload_fields"`
}

type RetryConfig struct {
	Topic          string                 `mapstructure:"topic"`
	SchedulerTopic string                 `mapstructure:"scheduler_topic"`
	ExhaustedTopic string                 `mapstructure:"exhausted_topic"`
	HistoryStore   string                 `mapstructure:"history_store"` // "mongodb" or "postgres"
	HandledTTL     time.Duration          `mapstructure:"handled_ttl"`
	Defaults       RetryPolicy            `mapstructure:"defaults"`
	Exceptions     []ExceptionPolicy      `mapstructure:"exceptions"`
}

type RetryPolicy struct {
	MaxRetryCount   int   `mapstructure:"max_retry_count"`
	RetryIntervalMs int64 `mapstructure:"retry_interval_ms"`
}

// ExceptionPolicy overrides the retry defaults for one exception class. It is a list entry
// rather than a map key because viper lowercases keys and splits them on dots.
type ExceptionPolicy struct {
	Name            string `mapstructure:"name"`
	MaxRetryCount   int    `mapstructure:"max_retry_count"`
	RetryIntervalMs int64  `mapstructure:"retry_interval_ms"`
}

// PolicyFor returns the policy for an exception class name, falling back to Defaults
// for the whole policy or for any unset field. Names are matched exactly.
func (c RetryConfig) PolicyFor(exceptionClassName string) RetryPolicy {
	policy := c.Defaults
	for _, e := range c.Exceptions {
		if e.Name != exceptionClassName {
			continue
		}
		if e.MaxRetryCount > 0 {
			policy.MaxRetryCount = e.MaxRetryCount
		}
		if e.RetryIntervalMs > 0 {
			policy.RetryIntervalMs = e.RetryIntervalMs
		}
		break
	}
	return policy
}

type SuppressionConfig struct {
	Windows []SuppressionWindowConfig `mapstructure:"windows"`
}

type SuppressionWindowConfig struct {
	OriginID  string   `mapstructure:"origin_id" json:"origin_id"`
	Type      string   `mapstructure:"type" json:"type"`
	StartTime string   `mapstructure:"start_time" json:"start_time"`
	EndTime   string   `mapstructure:"end_time" json:"end_time"`
	StartDate string   `mapstructure:"start_date" json:"start_date"`
	EndDate   string   `mapstructure:"end_date" json:"end_date"`
	Weekdays  []string `mapstructure:"weekdays" json:"weekdays,omitempty"`
	Timezone  string   `mapstructure:"timezone" json:"timezone,omitempty"`
	Match     string   `mapstructure:"match" json:"match,omitempty"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled            bool              `mapstructure:"enabled"`
	ServiceName        string            `mapstructure:"service_name"`
	Environment        string            `mapstructure:"environment"`
	ResourceAttributes map[string]string `mapstructure:"resource_attributes"`
	OTLP               OTLPConfig        `mapstructure:"otlp"`
	Sampler            SamplerConfig     `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
