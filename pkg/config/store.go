package config

import (
	"fmt"
	"os"
	"time"
)

// StoreConfig holds artifact store and relational index configuration.
type StoreConfig struct {
	// S3 object store for report artifacts.
	S3Bucket      string
	S3Prefix      string
	S3EndpointURL string

	// Postgres metadata index.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// LoadStoreConfig reads store configuration from the environment.
func LoadStoreConfig() (*StoreConfig, error) {
	port, err := getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	maxOpen, err := getEnvInt("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return nil, err
	}

	return &StoreConfig{
		S3Bucket:        getEnvOrDefault("S3_BUCKET", "tarka-reports"),
		S3Prefix:        getEnvOrDefault("S3_PREFIX", "investigations"),
		S3EndpointURL:   os.Getenv("S3_ENDPOINT_URL"),
		DBHost:          getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:          port,
		DBUser:          getEnvOrDefault("DB_USER", "tarka"),
		DBPassword:      os.Getenv("DB_PASSWORD"),
		DBName:          getEnvOrDefault("DB_NAME", "tarka"),
		DBSSLMode:       getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		ConnMaxLifetime: 30 * time.Minute,
	}, nil
}

// DSN returns the Postgres connection string.
func (c *StoreConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// LLMConfig controls the optional post-deterministic enrichment.
type LLMConfig struct {
	Enabled              bool
	Model                string
	APIKey               string
	IncludeLogs          bool
	RedactInfrastructure bool
	RequestTimeout       time.Duration
}

// LoadLLMConfig reads LLM configuration from the environment.
func LoadLLMConfig() *LLMConfig {
	return &LLMConfig{
		Enabled:              getEnvBool("LLM_ENABLED", false),
		Model:                getEnvOrDefault("LLM_MODEL", "claude-sonnet-4-5"),
		APIKey:               os.Getenv("ANTHROPIC_API_KEY"),
		IncludeLogs:          getEnvBool("LLM_INCLUDE_LOGS", false),
		RedactInfrastructure: getEnvBool("LLM_REDACT_INFRASTRUCTURE", true),
		RequestTimeout:       30 * time.Second,
	}
}
