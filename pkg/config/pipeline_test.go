package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeWindow(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30m", 30 * time.Minute, false},
		{"1h", time.Hour, false},
		{"2h30m", 2*time.Hour + 30*time.Minute, false},
		{"0m", 0, true},
		{"", 0, true},
		{"-1h", 0, true},
		{"90s", 0, true},
		{"1d", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseTimeWindow(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestPipelineConfig_Allowed(t *testing.T) {
	open := &PipelineConfig{}
	assert.True(t, open.Allowed("Anything"))

	restricted := &PipelineConfig{Allowlist: []string{"CPUThrottlingHigh"}}
	assert.True(t, restricted.Allowed("CPUThrottlingHigh"))
	assert.False(t, restricted.Allowed("Watchdog"))
	assert.False(t, restricted.Allowed("cputhrottlinghigh"), "allowlist match is case-sensitive")
}

func TestPipelineConfig_ClampWindow(t *testing.T) {
	cfg := &PipelineConfig{MaxTimeWindow: 6 * time.Hour}
	assert.Equal(t, time.Hour, cfg.ClampWindow(time.Hour))
	assert.Equal(t, 6*time.Hour, cfg.ClampWindow(12*time.Hour))
}

func TestLoadQueueConfig_Defaults(t *testing.T) {
	cfg, err := LoadQueueConfig()
	require.NoError(t, err)

	assert.Equal(t, "TARKA", cfg.Stream)
	assert.Equal(t, "TARKA.alerts", cfg.Subject)
	assert.Equal(t, "TARKA_DLQ.alerts", cfg.DLQSubject)
	assert.Equal(t, 4, cfg.MaxDeliver)
	assert.Equal(t, []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second}, cfg.Backoff)
	assert.Less(t, len(cfg.Backoff), cfg.MaxDeliver)
}

func TestLoadQueueConfig_BackoffLongerThanMaxDeliver(t *testing.T) {
	t.Setenv("JETSTREAM_MAX_DELIVER", "2")
	_, err := LoadQueueConfig()
	assert.Error(t, err)
}

func TestLoadProviderConfig_LegacyCloudTrailVar(t *testing.T) {
	t.Setenv("AWS_AWS_CLOUDTRAIL_LOOKBACK_MINUTES", "45")
	cfg, err := LoadProviderConfig()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.CloudTrailLookback)

	t.Setenv("AWS_CLOUDTRAIL_LOOKBACK_MINUTES", "30")
	cfg, err = LoadProviderConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.CloudTrailLookback, "canonical spelling wins")
}

func TestLoadProviderConfig_CloudTrailLookbackCap(t *testing.T) {
	t.Setenv("AWS_CLOUDTRAIL_LOOKBACK_MINUTES", "200000") // ~139 days
	cfg, err := LoadProviderConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*24*time.Hour, cfg.CloudTrailLookback)
}
