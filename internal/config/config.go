package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config is the full service configuration, read from the environment.
type Config struct {
	Port     int
	LogLevel string
	Env      string

	// InstanceID identifies this service instance on the orders topic.
	InstanceID string

	// Remote authoritative store. An empty host disables it and the
	// service runs local-only.
	DB DBConfig

	// LocalDBPath is the embedded cache database file.
	LocalDBPath string

	// CounterFloor seeds the correlative when no store has a value.
	CounterFloor int64

	// AllocateMaxAttempts bounds the candidate-number retry loop.
	AllocateMaxAttempts int

	Sync  SyncConfig
	Kafka KafkaConfig
}

// DBConfig holds the PostgreSQL connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// SyncConfig tunes the journal replay worker.
type SyncConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

// KafkaConfig holds the event fan-out settings. No brokers means the
// feature is off.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// Enabled reports whether event fan-out is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// RemoteEnabled reports whether a remote authoritative store is
// configured.
func (c *Config) RemoteEnabled() bool {
	return c.DB.Host != ""
}

// getEnv retrieves an environment variable or returns a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, strconv.Itoa(defaultValue))
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	dbPort, err := getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	floor, err := getEnvInt("COUNTER_FLOOR", 726)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := getEnvInt("ALLOCATE_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	pollSeconds, err := getEnvInt("SYNC_POLL_SECONDS", 5)
	if err != nil {
		return nil, err
	}
	batchSize, err := getEnvInt("SYNC_BATCH_SIZE", 20)
	if err != nil {
		return nil, err
	}
	maxRetries, err := getEnvInt("SYNC_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	var brokers []string
	if raw := getEnv("KAFKA_BROKERS", ""); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return &Config{
		Port:       port,
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Env:        getEnv("APP_ENV", "development"),
		InstanceID: getEnv("INSTANCE_ID", uuid.New().String()),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     dbPort,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "workorders"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		LocalDBPath:         getEnv("LOCAL_DB_PATH", "workorders.db"),
		CounterFloor:        int64(floor),
		AllocateMaxAttempts: maxAttempts,
		Sync: SyncConfig{
			PollInterval: time.Duration(pollSeconds) * time.Second,
			BatchSize:    batchSize,
			MaxRetries:   maxRetries,
		},
		Kafka: KafkaConfig{
			Brokers:       brokers,
			Topic:         getEnv("KAFKA_ORDERS_TOPIC", "workorder-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "workorder-api"),
		},
	}, nil
}

// DBConnString returns the PostgreSQL connection string.
func (c *Config) DBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}
