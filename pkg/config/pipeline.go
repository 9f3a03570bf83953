package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// PipelineConfig controls investigation behavior: the evidence window, the
// alertname allowlist, budgets, and scoring thresholds.
type PipelineConfig struct {
	// TimeWindow is the default evidence window ending at alert start.
	TimeWindow time.Duration

	// MaxTimeWindow clamps operator-supplied windows.
	MaxTimeWindow time.Duration

	// Allowlist, when non-empty, drops alerts whose alertname is not an
	// exact (case-sensitive) match.
	Allowlist []string

	// RolloutNoisy alertnames resolve pod identity to the owning workload
	// and pass through the freshness gate.
	RolloutNoisy []string

	// FreshnessWindow is the minimum spacing between runs for rollout-noisy
	// (identity, family) pairs.
	FreshnessWindow time.Duration

	// Budget is the total pipeline wall-clock budget.
	Budget time.Duration

	// ChangeLookback bounds the change-correlation window before alert start.
	ChangeLookback time.Duration

	// ThresholdActionable / ThresholdNoise are the classification cutoffs.
	ThresholdActionable int
	ThresholdNoise      int
}

// LoadPipelineConfig reads pipeline configuration from the environment.
func LoadPipelineConfig() (*PipelineConfig, error) {
	window, err := ParseTimeWindow(getEnvOrDefault("TIME_WINDOW", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_WINDOW: %w", err)
	}
	budget, err := getEnvSeconds("PIPELINE_BUDGET_SECONDS", 120*time.Second)
	if err != nil {
		return nil, err
	}
	actionable, err := getEnvInt("SCORE_THRESHOLD_ACTIONABLE", 60)
	if err != nil {
		return nil, err
	}
	noise, err := getEnvInt("SCORE_THRESHOLD_NOISE", 70)
	if err != nil {
		return nil, err
	}

	rolloutNoisy := models.DefaultRolloutNoisyAlertnames
	if extra := splitCSV(os.Getenv("ROLLOUT_NOISY_ALERTNAMES")); len(extra) > 0 {
		rolloutNoisy = append(append([]string{}, rolloutNoisy...), extra...)
	}

	return &PipelineConfig{
		TimeWindow:          window,
		MaxTimeWindow:       6 * time.Hour,
		Allowlist:           splitCSV(os.Getenv("ALERTNAME_ALLOWLIST")),
		RolloutNoisy:        rolloutNoisy,
		FreshnessWindow:     time.Hour,
		Budget:              budget,
		ChangeLookback:      window,
		ThresholdActionable: actionable,
		ThresholdNoise:      noise,
	}, nil
}

// Allowed reports whether an alertname passes the allowlist. An empty
// allowlist admits everything.
func (c *PipelineConfig) Allowed(alertname string) bool {
	if len(c.Allowlist) == 0 {
		return true
	}
	for _, name := range c.Allowlist {
		if name == alertname {
			return true
		}
	}
	return false
}

// IsRolloutNoisy reports whether an alertname is in the rollout-noisy set.
func (c *PipelineConfig) IsRolloutNoisy(alertname string) bool {
	for _, name := range c.RolloutNoisy {
		if name == alertname {
			return true
		}
	}
	return false
}

// ClampWindow bounds an operator-supplied window to MaxTimeWindow.
func (c *PipelineConfig) ClampWindow(d time.Duration) time.Duration {
	if d > c.MaxTimeWindow {
		slog.Warn("Time window clamped to configured maximum",
			"requested", d, "max", c.MaxTimeWindow)
		return c.MaxTimeWindow
	}
	return d
}

// timeWindowRe matches compound duration forms like 30m, 1h, 2h30m.
var timeWindowRe = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?$`)

// ParseTimeWindow parses an evidence window. Accepted forms: 30m, 1h, 2h30m.
// Zero and negative windows are rejected.
func ParseTimeWindow(s string) (time.Duration, error) {
	m := timeWindowRe.FindStringSubmatch(s)
	if m == nil || (m[1] == "" && m[2] == "") {
		return 0, fmt.Errorf("unsupported time window %q (want e.g. 30m, 1h, 2h30m)", s)
	}
	var d time.Duration
	if m[1] != "" {
		h, _ := strconv.Atoi(m[1])
		d += time.Duration(h) * time.Hour
	}
	if m[2] != "" {
		min, _ := strconv.Atoi(m[2])
		d += time.Duration(min) * time.Minute
	}
	if d <= 0 {
		return 0, fmt.Errorf("time window must be positive, got %q", s)
	}
	return d, nil
}
