package diag

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

func int32Ptr(n int32) *int32 { return &n }

func oomEvidence() *models.Evidence {
	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()
	ev.Kube.Pod = &models.PodSnapshot{
		Name:      "web-7d4b9c-xk2p1",
		Namespace: "prod",
		Phase:     "Running",
		Containers: []models.ContainerState{{
			Name:                 "app",
			State:                "waiting",
			Reason:               "CrashLoopBackOff",
			RestartCount:         15,
			LastTerminatedReason: "OOMKilled",
			LastExitCode:         int32Ptr(137),
			MemoryLimitBytes:     512 * 1024 * 1024,
		}},
	}
	return ev
}

func TestRegistry_DeterministicOrder(t *testing.T) {
	mods := Registry()
	require.GreaterOrEqual(t, len(mods), 27, "at least 27 diagnostic modules registered")

	ids := make([]string, len(mods))
	for i, m := range mods {
		ids[i] = m.ID()
	}
	assert.True(t, sort.StringsAreSorted(ids), "registry is sorted by module id")

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate module id %s", id)
		seen[id] = true
	}
}

func TestRunAll_OOMKilled(t *testing.T) {
	findings := RunAll(oomEvidence())

	var oom *models.Finding
	var crashLoop *models.Finding
	for i, f := range findings {
		switch f.ModuleID {
		case "k8s.oom_killed":
			oom = &findings[i]
		case "k8s.crash_loop_backoff":
			crashLoop = &findings[i]
		}
	}
	require.NotNil(t, oom, "OOM module fires on OOMKilled last termination")
	require.NotNil(t, crashLoop)

	assert.Equal(t, models.SeverityCritical, oom.Severity)
	assert.Equal(t, "OOMKilled (exit 137)", oom.Label)
	assert.Contains(t, oom.Next[0], "kubectl logs")
	assert.Contains(t, oom.Next[0], "--previous")
	assert.Contains(t, oom.Next[1], "container_memory_working_set_bytes")
}

func TestRunAll_NoKubeEvidence(t *testing.T) {
	ev := models.NewEvidence()
	findings := RunAll(ev)
	assert.Empty(t, findings, "modules must not fire on unavailable evidence")
}

func TestRunAll_Deterministic(t *testing.T) {
	ev := oomEvidence()
	ev.Logs.Availability = models.AvailOK()
	ev.Logs.Parsed = []models.LogPattern{
		{Kind: models.PatternOOM, Count: 2, Representative: "Out of memory: Killed process 1"},
		{Kind: models.PatternErrorPrefix, Count: 12, Representative: "ERROR x"},
	}
	first := RunAll(ev)
	second := RunAll(ev)
	assert.Equal(t, first, second)
}

func TestImagePullBackOff(t *testing.T) {
	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()
	ev.Kube.Pod = &models.PodSnapshot{
		Name: "web-1", Namespace: "prod", Phase: "Pending",
		Containers: []models.ContainerState{{
			Name: "app", State: "waiting", Reason: "ImagePullBackOff",
			Image: "registry.example.com/app:v2", Message: "pull access denied",
		}},
	}
	findings := RunAll(ev)
	var found bool
	for _, f := range findings {
		if f.ModuleID == "k8s.image_pull_backoff" {
			found = true
			assert.Contains(t, f.Why[0], "registry.example.com/app:v2")
		}
	}
	assert.True(t, found)
}

func TestJobBackoffExceeded(t *testing.T) {
	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()
	ev.Kube.Job = &models.JobSnapshot{
		Name: "nightly", Failed: 4, BackoffLimit: 3,
		FailureReason: "BackoffLimitExceeded: Job has reached the specified backoff limit",
	}
	findings := RunAll(ev)
	require.Len(t, findings, 1)
	assert.Equal(t, "k8s.job_backoff_exceeded", findings[0].ModuleID)
	assert.Equal(t, models.SeverityCritical, findings[0].Severity)
}

func TestMetricsModules(t *testing.T) {
	ev := models.NewEvidence()
	ev.Metrics.Availability = models.AvailOK()
	ev.Metrics.Series = map[string]models.MetricSeries{
		SeriesThrottlePct: {
			Query:  `throttle query`,
			Max:    72.5,
			Latest: 68.0,
			Points: []models.MetricPoint{{Timestamp: time.Now(), Value: 68.0}},
		},
	}
	findings := RunAll(ev)
	require.Len(t, findings, 1)
	assert.Equal(t, "metrics.cpu_throttle_high", findings[0].ModuleID)
	assert.Equal(t, models.SeverityError, findings[0].Severity, "peak over 60% is an error")
}

func TestLogsErrorBurst_Threshold(t *testing.T) {
	ev := models.NewEvidence()
	ev.Logs.Availability = models.AvailOK()
	ev.Logs.Parsed = []models.LogPattern{
		{Kind: models.PatternErrorPrefix, Count: 9, Representative: "ERROR a"},
	}
	assert.Empty(t, RunAll(ev), "below the burst threshold")

	ev.Logs.Parsed[0].Count = 10
	findings := RunAll(ev)
	require.Len(t, findings, 1)
	assert.Equal(t, "logs.error_burst", findings[0].ModuleID)
}

func TestAWSRecentInfraChange_IgnoresReadOnly(t *testing.T) {
	ev := models.NewEvidence()
	ev.AWS = &models.AWSEvidence{
		Availability: models.AvailOK(),
		CloudTrail: []models.CloudTrailEvent{
			{Name: "DescribeInstances", Username: "reader", EventTime: time.Now()},
			{Name: "ModifyDBInstance", Username: "admin", EventTime: time.Now()},
		},
	}
	findings := RunAll(ev)
	require.Len(t, findings, 1)
	assert.Equal(t, "aws.recent_infra_change", findings[0].ModuleID)
	assert.Contains(t, findings[0].Why[0], "ModifyDBInstance")
}
