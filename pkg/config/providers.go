package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// LogsBackend selects the log store query dialect.
type LogsBackend string

// Logs backend constants.
const (
	LogsBackendAuto         LogsBackend = "auto"
	LogsBackendLoki         LogsBackend = "loki"
	LogsBackendVictoriaLogs LogsBackend = "victorialogs"
)

// ProviderConfig holds the read-only evidence provider configuration.
type ProviderConfig struct {
	PrometheusURL   string
	AlertmanagerURL string

	LogsURL     string
	LogsBackend LogsBackend

	// Kubeconfig path; empty means in-cluster config.
	Kubeconfig string

	AWSEnabled          bool
	CloudTrailLookback  time.Duration
	CloudTrailMaxEvents int
	GitHubEnabled       bool
	GitHubToken         string
	// GitHubRepos are "owner/repo" slugs to correlate changes against.
	GitHubRepos []string
}

// cloudTrailMaxLookback caps the CloudTrail window; LookupEvents only serves
// 90 days of history.
const cloudTrailMaxLookback = 90 * 24 * time.Hour

// LoadProviderConfig reads provider configuration from the environment.
func LoadProviderConfig() (*ProviderConfig, error) {
	lookbackMin, err := getEnvInt("AWS_CLOUDTRAIL_LOOKBACK_MINUTES", 0)
	if err != nil {
		return nil, err
	}
	if lookbackMin == 0 {
		// Legacy double-prefixed spelling, honored with a warning.
		if legacy := os.Getenv("AWS_AWS_CLOUDTRAIL_LOOKBACK_MINUTES"); legacy != "" {
			slog.Warn("AWS_AWS_CLOUDTRAIL_LOOKBACK_MINUTES is deprecated, use AWS_CLOUDTRAIL_LOOKBACK_MINUTES")
			if n, convErr := strconv.Atoi(legacy); convErr == nil {
				lookbackMin = n
			}
		}
	}
	if lookbackMin <= 0 {
		lookbackMin = 60
	}
	lookback := time.Duration(lookbackMin) * time.Minute
	if lookback > cloudTrailMaxLookback {
		lookback = cloudTrailMaxLookback
	}

	maxEvents, err := getEnvInt("AWS_CLOUDTRAIL_MAX_EVENTS", 50)
	if err != nil {
		return nil, err
	}

	return &ProviderConfig{
		PrometheusURL:       getEnvOrDefault("PROMETHEUS_URL", "http://localhost:9090"),
		AlertmanagerURL:     os.Getenv("ALERTMANAGER_URL"),
		LogsURL:             os.Getenv("LOGS_URL"),
		LogsBackend:         LogsBackend(getEnvOrDefault("LOGS_BACKEND", string(LogsBackendAuto))),
		Kubeconfig:          os.Getenv("KUBECONFIG"),
		AWSEnabled:          getEnvBool("AWS_EVIDENCE_ENABLED", false),
		CloudTrailLookback:  lookback,
		CloudTrailMaxEvents: maxEvents,
		GitHubEnabled:       getEnvBool("GITHUB_EVIDENCE_ENABLED", false),
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),
		GitHubRepos:         splitCSV(os.Getenv("GITHUB_REPOS")),
	}, nil
}
