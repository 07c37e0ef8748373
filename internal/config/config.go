package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/credits-report-go/internal/domain"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Database
	DatabaseDSN     string
	AutoMigrate     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Reporting
	IssuanceCategory   string
	CollectionCategory string
	DictionaryCacheTTL time.Duration

	// Plan uploads
	UploadMaxBytes int64
	PlansJWTSecret string // empty leaves POST /plans_insert open

	// Messaging (disabled when AMQPURL is empty)
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseDSN:     getEnv("DB_DSN", ""),
		AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),

		IssuanceCategory:   getEnv("ISSUANCE_CATEGORY", domain.DefaultCategories().Issuance),
		CollectionCategory: getEnv("COLLECTION_CATEGORY", domain.DefaultCategories().Collection),
		DictionaryCacheTTL: getEnvDuration("DICTIONARY_CACHE_TTL", 5*time.Minute),

		UploadMaxBytes: int64(getEnvInt("UPLOAD_MAX_BYTES", 10<<20)),
		PlansJWTSecret: getEnv("PLANS_JWT_SECRET", ""),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "credits"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "plans.ingested"),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// Categories returns the configured plan category names.
func (c *Config) Categories() domain.Categories {
	return domain.Categories{Issuance: c.IssuanceCategory, Collection: c.CollectionCategory}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var problems []string

	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", c.Port))
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		problems = append(problems, "DB_DSN is required")
	}
	if c.MaxOpenConns < 1 {
		problems = append(problems, fmt.Sprintf("invalid DB_MAX_OPEN_CONNS %d: must be at least 1", c.MaxOpenConns))
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		problems = append(problems, fmt.Sprintf("invalid DB_MAX_IDLE_CONNS %d: must be between 0 and DB_MAX_OPEN_CONNS", c.MaxIdleConns))
	}
	if c.IssuanceCategory == "" || c.CollectionCategory == "" {
		problems = append(problems, "category names cannot be empty")
	} else if c.IssuanceCategory == c.CollectionCategory {
		problems = append(problems, fmt.Sprintf("issuance and collection categories must differ (both %q)", c.IssuanceCategory))
	}
	if c.UploadMaxBytes < 1 {
		problems = append(problems, fmt.Sprintf("invalid UPLOAD_MAX_BYTES %d", c.UploadMaxBytes))
	}
	if c.AMQPURL != "" && !strings.HasPrefix(c.AMQPURL, "amqp://") && !strings.HasPrefix(c.AMQPURL, "amqps://") {
		problems = append(problems, "AMQP_URL must use the amqp or amqps scheme")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "false", "0", "no":
			return false
		case "true", "1", "yes":
			return true
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
