// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration read from the environment.
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	BadgerDir   string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	CallEngineURL string
	StorageURL    string
	AnalysisURL   string
	ServiceToken  string

	LogLevel       string
	LogFormat      string
	AnalyticsCache string
	QueuesFile     string
	RunWorkers     bool

	ShutdownTimeout time.Duration
}

// LoadDotEnv reads .env when present. It reports whether a file was loaded.
func LoadDotEnv(files ...string) bool {
	return godotenv.Load(files...) == nil
}

// FromEnv builds a Config from the process environment.
func FromEnv() (Config, error) {
	c := Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		BadgerDir:      getenv("BADGER_DIR", "./data/queues"),
		AMQPURL:        os.Getenv("AMQP_URL"),
		AMQPExchange:   getenv("AMQP_EXCHANGE", "call-engine"),
		AMQPQueue:      getenv("AMQP_QUEUE", "voicereach.call-events"),
		CallEngineURL:  os.Getenv("CALL_ENGINE_URL"),
		StorageURL:     os.Getenv("STORAGE_URL"),
		AnalysisURL:    os.Getenv("ANALYSIS_URL"),
		ServiceToken:   os.Getenv("SERVICE_TOKEN"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogFormat:      getenv("LOG_FORMAT", "console"),
		AnalyticsCache: strings.ToLower(getenv("ANALYTICS_CACHE", "postgres")),
		QueuesFile:     getenv("QUEUES_FILE", "queues.yaml"),
	}

	if c.DatabaseURL == "" {
		c.DatabaseURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"),
			getenv("DB_HOST", "localhost"), getenv("DB_PORT", "5432"), os.Getenv("DB_NAME"),
		)
	}

	var err error
	if c.RunWorkers, err = parseBool("RUN_WORKERS", getenv("RUN_WORKERS", "true")); err != nil {
		return c, err
	}
	if c.ShutdownTimeout, err = ParseDurationOrDefault("SHUTDOWN_TIMEOUT", os.Getenv("SHUTDOWN_TIMEOUT"), 15*time.Second); err != nil {
		return c, err
	}
	switch c.AnalyticsCache {
	case "postgres", "badger":
	default:
		return c, fmt.Errorf("ANALYTICS_CACHE: unsupported backend %q", c.AnalyticsCache)
	}
	return c, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseBool(key, raw string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("%s: invalid bool %q", key, raw)
	}
	return b, nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
