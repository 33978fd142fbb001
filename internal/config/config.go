package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend names for STORE_BACKEND and QUEUE_BACKEND
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	HTTPPort    int
	LogLevel    string
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Rates       RatesConfig
	Validation  ValidationConfig
	Anomaly     AnomalyConfig
	Push        PushConfig
	InfluxDB    InfluxDBConfig
}

// DatabaseConfig holds backend selection and database connection settings
type DatabaseConfig struct {
	StoreBackend string
	QueueBackend string
	URL          string
	MaxConns     int32
	// SeedFile is a YAML list of users and meters loaded into the memory store
	SeedFile string
}

// RabbitMQConfig holds RabbitMQ connection, result ingress and event settings.
// An empty URL disables both.
type RabbitMQConfig struct {
	URL              string
	ResultExchange   string
	ResultQueue      string
	ResultRoutingKey string
	DLQQueue         string
	EventsExchange   string
	PrefetchCount    int
}

// RatesConfig holds the base factors and the optional YAML overlay
type RatesConfig struct {
	PostpayFactor    float64
	PrepayFactor     float64
	File             string
	PrepaySettlement string
}

// ValidationConfig holds validation settings
type ValidationConfig struct {
	MaxMeasure int64
}

// AnomalyConfig holds anomaly detection settings
type AnomalyConfig struct {
	SpikeThreshold            float64
	MinDataPointsForDetection int
	HistoryWindow             int
}

// PushConfig holds the push notification endpoint. An empty URL logs instead of pushing.
type PushConfig struct {
	URL     string
	AppID   string
	APIKey  string
	Timeout time.Duration
}

// InfluxDBConfig holds the consumption time-series sink. An empty URL disables it.
type InfluxDBConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "water-metering-ledger"),
		HTTPPort:    getEnvAsInt("HTTP_PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			StoreBackend: getEnv("STORE_BACKEND", BackendPostgres),
			QueueBackend: getEnv("QUEUE_BACKEND", BackendPostgres),
			URL:          getEnv("DATABASE_URL", ""),
			MaxConns:     int32(getEnvAsInt("DB_MAX_CONNS", 10)),
			SeedFile:     getEnv("SEED_FILE", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              getEnv("RABBITMQ_URL", ""),
			ResultExchange:   getEnv("RABBITMQ_RESULT_EXCHANGE", "water-ledger.ocr.exchange"),
			ResultQueue:      getEnv("RABBITMQ_RESULT_QUEUE", "water-ledger.ocr.results"),
			ResultRoutingKey: getEnv("RABBITMQ_RESULT_ROUTING_KEY", "ocr.result"),
			DLQQueue:         getEnv("RABBITMQ_DLQ_QUEUE", "water-ledger.ocr.results.dlq"),
			EventsExchange:   getEnv("RABBITMQ_EVENTS_EXCHANGE", "water-ledger.events.exchange"),
			PrefetchCount:    getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Rates: RatesConfig{
			PostpayFactor:    getEnvAsFloat("POSTPAY_FACTOR", 12.0),
			PrepayFactor:     getEnvAsFloat("PREPAY_FACTOR", 12.0),
			File:             getEnv("RATES_FILE", ""),
			PrepaySettlement: getEnv("PREPAY_SETTLEMENT", "payment"),
		},
		Validation: ValidationConfig{
			MaxMeasure: int64(getEnvAsInt("MAX_MEASURE", 0)),
		},
		Anomaly: AnomalyConfig{
			SpikeThreshold:            getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", 3.0),
			MinDataPointsForDetection: getEnvAsInt("ANOMALY_MIN_DATA_POINTS", 3),
			HistoryWindow:             getEnvAsInt("ANOMALY_HISTORY_WINDOW", 10),
		},
		Push: PushConfig{
			URL:     getEnv("PUSH_URL", ""),
			AppID:   getEnv("PUSH_APP_ID", ""),
			APIKey:  getEnv("PUSH_API_KEY", ""),
			Timeout: time.Duration(getEnvAsInt("PUSH_TIMEOUT_SECONDS", 5)) * time.Second,
		},
		InfluxDB: InfluxDBConfig{
			URL:    getEnv("INFLUX_URL", ""),
			Token:  getEnv("INFLUX_TOKEN", ""),
			Org:    getEnv("INFLUX_ORG", ""),
			Bucket: getEnv("INFLUX_BUCKET", "water"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for name, backend := range map[string]string{
		"STORE_BACKEND": c.Database.StoreBackend,
		"QUEUE_BACKEND": c.Database.QueueBackend,
	} {
		if backend != BackendPostgres && backend != BackendMemory {
			return fmt.Errorf("%s must be %q or %q, got %q", name, BackendPostgres, BackendMemory, backend)
		}
	}
	if c.UsesPostgres() && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if c.Rates.PostpayFactor <= 0 || c.Rates.PrepayFactor <= 0 {
		return fmt.Errorf("POSTPAY_FACTOR and PREPAY_FACTOR must be positive")
	}
	if c.Push.URL != "" && (c.Push.AppID == "" || c.Push.APIKey == "") {
		return fmt.Errorf("PUSH_APP_ID and PUSH_API_KEY are required when PUSH_URL is set")
	}
	if c.InfluxDB.URL != "" && (c.InfluxDB.Token == "" || c.InfluxDB.Org == "") {
		return fmt.Errorf("INFLUX_TOKEN and INFLUX_ORG are required when INFLUX_URL is set")
	}
	return nil
}

// UsesPostgres reports whether either backend needs a database pool.
func (c *Config) UsesPostgres() bool {
	return c.Database.StoreBackend == BackendPostgres || c.Database.QueueBackend == BackendPostgres
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
