package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	StoreDriver    string
	DatabaseURL    string
	DBMaxOpenConns int

	// RunInterval schedules pipeline runs; zero runs the pipeline once and exits.
	RunInterval  time.Duration
	KeyCacheSize int

	// Staging ingest from Kafka.
	IngestEnabled      bool
	KafkaBrokers       []string
	KafkaSourceTopic   string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration

	// KafkaReportTopic receives run reports when set.
	KafkaReportTopic string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is read first if present;
// variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := parsePositiveDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	flushInterval, err := parsePositiveDuration("BATCH_FLUSH_INTERVAL", "500ms")
	if err != nil {
		return nil, err
	}
	runInterval, err := time.ParseDuration(EnvOrDefault("RUN_INTERVAL", "0s"))
	if err != nil || runInterval < 0 {
		return nil, errors.New("invalid RUN_INTERVAL")
	}

	batchSize, err := parseIntInRange("BATCH_SIZE", 50, 1, 1000)
	if err != nil {
		return nil, err
	}
	maxOpen, err := parseIntInRange("DB_MAX_OPEN_CONNS", 10, 1, 1000)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseIntInRange("KEY_CACHE_SIZE", 10000, 0, 10_000_000)
	if err != nil {
		return nil, err
	}

	ingest, err := strconv.ParseBool(EnvOrDefault("INGEST_ENABLED", "false"))
	if err != nil {
		return nil, errors.New("invalid INGEST_ENABLED")
	}

	cfg := &Config{
		StoreDriver:    EnvOrDefault("STORE_DRIVER", DriverPostgres),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DBMaxOpenConns: maxOpen,

		RunInterval:  runInterval,
		KeyCacheSize: cacheSize,

		IngestEnabled:      ingest,
		KafkaBrokers:       ParseBrokers(EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   EnvOrDefault("KAFKA_SOURCE_TOPIC", "usgs-earthquakes"),
		KafkaGroupID:       EnvOrDefault("KAFKA_GROUP_ID", "quake-warehouse-etl"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		KafkaReportTopic:   os.Getenv("KAFKA_REPORT_TOPIC"),

		HTTPAddr:        EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: must be postgres or memory", c.StoreDriver)
	}

	if c.IngestEnabled {
		if c.RunInterval == 0 {
			return errors.New("INGEST_ENABLED requires RUN_INTERVAL > 0")
		}
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaSourceTopic == "" {
			return errors.New("KAFKA_SOURCE_TOPIC is required")
		}
	}
	if c.KafkaReportTopic != "" && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_REPORT_TOPIC requires KAFKA_BROKERS")
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q: must be json or text", c.LogFormat)
	}
	return nil
}
