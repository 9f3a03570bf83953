// Package config loads the environment-driven Tarka configuration.
// The Config is built once at process start and threaded explicitly through
// components; there are no hidden singletons.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the umbrella configuration object returned by Load().
type Config struct {
	Pipeline  *PipelineConfig
	Queue     *QueueConfig
	Store     *StoreConfig
	Providers *ProviderConfig
	LLM       *LLMConfig
}

// Load builds the full configuration from the environment.
func Load() (*Config, error) {
	pipeline, err := LoadPipelineConfig()
	if err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	queue, err := LoadQueueConfig()
	if err != nil {
		return nil, fmt.Errorf("queue config: %w", err)
	}
	store, err := LoadStoreConfig()
	if err != nil {
		return nil, fmt.Errorf("store config: %w", err)
	}
	providers, err := LoadProviderConfig()
	if err != nil {
		return nil, fmt.Errorf("provider config: %w", err)
	}
	llm := LoadLLMConfig()

	return &Config{
		Pipeline:  pipeline,
		Queue:     queue,
		Store:     store,
		Providers: providers,
		LLM:       llm,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvSeconds(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

// splitCSV splits a comma-separated value, trimming whitespace and dropping
// empty items.
func splitCSV(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
