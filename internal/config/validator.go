package config

import (
	"fmt"
	"strings"
	"time"

	"telenotify/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Layouts accepted for suppression windows.
const (
	TimeOfDayLayout = "15:04"
	DateLayout      = "2006-01-02"
)

func ValidateStatic(cfg *Config) error {
	var errs []error

	for _, validate := range []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateBroker(c.Broker) },
		func(c *Config) error { return validateDatabase(c.Database) },
		func(c *Config) error { return validateDeduplication(c.Deduplication) },
		func(c *Config) error { return validateRetry(c.Retry) },
		func(c *Config) error { return ValidateSuppression(c.Suppression.Windows) },
	} {
		if err := validate(cfg); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 || cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read and write timeouts must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %q (supported: kafka)", cfg.Type),
		}
	}

	return validateKafka(cfg.Kafka)
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI is required",
		}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateDeduplication(cfg DeduplicationConfig) error {
	validAlgorithms := map[string]bool{
		"md5": true, "sha256": true, "sha1": true,
	}
	if cfg.HashAlgorithm != "" && !validAlgorithms[strings.ToLower(cfg.HashAlgorithm)] {
		return &ValidationError{
			Field:   "deduplication.hash_algorithm",
			Message: fmt.Sprintf("invalid hash algorithm: %s (valid: md5, sha256, sha1)", cfg.HashAlgorithm),
		}
	}

	// Redis PX granularity is one millisecond; anything shorter would never gate.
	if cfg.Interval < time.Millisecond {
		return &ValidationError{
			Field:   "deduplication.interval",
			Message: fmt.Sprintf("interval must be at least 1ms, got %s", cfg.Interval),
		}
	}

	switch strings.ToLower(cfg.OnStoreError) {
	case "", constants.FallbackAllow, constants.FallbackDeny:
	default:
		return &ValidationError{
			Field:   "deduplication.on_store_error",
			Message: fmt.Sprintf("invalid on_store_error value: %s (valid: allow, deny)", cfg.OnStoreError),
		}
	}

	return nil
}

func validateRetry(cfg RetryConfig) error {
	if cfg.Topic == "" {
		return &ValidationError{Field: "retry.topic", Message: "retry topic is required"}
	}

	if cfg.SchedulerTopic == "" {
		return &ValidationError{Field: "retry.scheduler_topic", Message: "scheduler topic is required"}
	}

	switch cfg.HistoryStore {
	case constants.HistoryStoreMongoDB, constants.HistoryStorePostgres:
	default:
		return &ValidationError{
			Field:   "retry.history_store",
			Message: fmt.Sprintf("unknown history store: %q (valid: mongodb, postgres)", cfg.HistoryStore),
		}
	}

	if cfg.Defaults.MaxRetryCount <= 0 {
		return &ValidationError{
			Field:   "retry.defaults.max_retry_count",
			Message: "max_retry_count must be positive",
		}
	}

	if cfg.Defaults.RetryIntervalMs < 0 {
		return &ValidationError{
			Field:   "retry.defaults.retry_interval_ms",
			Message: "retry_interval_ms must be non-negative",
		}
	}

	seen := make(map[string]bool, len(cfg.Exceptions))
	for i, e := range cfg.Exceptions {
		field := fmt.Sprintf("retry.exceptions[%d]", i)
		if e.Name == "" {
			return &ValidationError{Field: field + ".name", Message: "exception class name is required"}
		}
		if seen[e.Name] {
			return &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate exception %q", e.Name)}
		}
		seen[e.Name] = true
		if e.MaxRetryCount < 0 || e.RetryIntervalMs < 0 {
			return &ValidationError{Field: field, Message: "retry limits must be non-negative"}
		}
	}

	return nil
}

// ValidateSuppression checks the layout of every window so malformed dates and times
// fail at load time rather than on the first alert.
func ValidateSuppression(windows []SuppressionWindowConfig) error {
	for i, w := range windows {
		field := fmt.Sprintf("suppression.windows[%d]", i)

		if w.OriginID == "" {
			return &ValidationError{Field: field + ".origin_id", Message: "origin_id is required"}
		}

		for name, value := range map[string]string{"start_time": w.StartTime, "end_time": w.EndTime} {
			if _, err := time.Parse(TimeOfDayLayout, value); err != nil {
				return &ValidationError{Field: field + "." + name, Message: fmt.Sprintf("expected HH:mm, got %q", value)}
			}
		}

		start, err := time.Parse(DateLayout, w.StartDate)
		if err != nil {
			return &ValidationError{Field: field + ".start_date", Message: fmt.Sprintf("expected YYYY-MM-DD, got %q", w.StartDate)}
		}
		end, err := time.Parse(DateLayout, w.EndDate)
		if err != nil {
			return &ValidationError{Field: field + ".end_date", Message: fmt.Sprintf("expected YYYY-MM-DD, got %q", w.EndDate)}
		}
		if end.Before(start) {
			return &ValidationError{Field: field + ".end_date", Message: "end_date must not be before start_date"}
		}

		if w.Timezone != "" {
			if _, err := time.LoadLocation(w.Timezone); err != nil {
				return &ValidationError{Field: field + ".timezone", Message: fmt.Sprintf("unknown timezone %q", w.Timezone)}
			}
		}

		for _, day := range w.Weekdays {
			if _, ok := ParseWeekday(day); !ok {
				return &ValidationError{Field: field + ".weekdays", Message: fmt.Sprintf("unknown weekday %q", day)}
			}
		}
	}

	return nil
}

// ParseWeekday accepts full or three-letter English day names, case-insensitively.
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return time.Sunday, false
}
