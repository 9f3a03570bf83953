package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarka/pkg/models"
	"github.com/codeready-toolchain/tarka/pkg/providers"
)

type stubKube struct {
	pod       *models.PodSnapshot
	podAvail  models.Availability
	workload  *models.WorkloadSnapshot
	wlAvail   models.Availability
	job       *models.JobSnapshot
	jobAvail  models.Availability
	events    []models.EventRecord
	ownerKind string
	ownerName string
}

func (s *stubKube) Pod(context.Context, string, string) (*models.PodSnapshot, models.Availability) {
	return s.pod, s.podAvail
}

func (s *stubKube) Workload(context.Context, string, string, string) (*models.WorkloadSnapshot, models.Availability) {
	return s.workload, s.wlAvail
}

func (s *stubKube) Job(context.Context, string, string) (*models.JobSnapshot, models.Availability) {
	return s.job, s.jobAvail
}

func (s *stubKube) Events(context.Context, string, string) ([]models.EventRecord, models.Availability) {
	if len(s.events) == 0 {
		return nil, models.AvailEmpty()
	}
	return s.events, models.AvailOK()
}

func (s *stubKube) ResolveOwner(context.Context, string, string) (string, string, models.Availability) {
	if s.ownerKind == "" {
		return "", "", models.AvailUnavailable(providers.ReasonNotFound)
	}
	return s.ownerKind, s.ownerName, models.AvailOK()
}

func (s *stubKube) PodsForJob(context.Context, string, string) ([]string, models.Availability) {
	return nil, models.AvailEmpty()
}

type stubLogs struct {
	liveEntries []models.LogEntry
	liveAvail   models.Availability
	histEntries []models.LogEntry
	histAvail   models.Availability
	histPrefix  string
}

func (s *stubLogs) Tail(_ context.Context, _, _, _ string, _ models.TimeWindow, _ int) ([]models.LogEntry, models.Availability) {
	return s.liveEntries, s.liveAvail
}

func (s *stubLogs) TailHistorical(_ context.Context, _, podPrefix string, _ models.TimeWindow, _ int) ([]models.LogEntry, models.Availability) {
	s.histPrefix = podPrefix
	return s.histEntries, s.histAvail
}

func (s *stubLogs) Backend() string { return "loki" }

type stubMetrics struct {
	avail models.Availability
}

func (s *stubMetrics) Instant(context.Context, string, time.Time) (model.Vector, models.Availability) {
	return nil, s.avail
}

func (s *stubMetrics) Range(_ context.Context, _ string, _ models.TimeWindow, _ time.Duration) (model.Matrix, models.Availability) {
	if !s.avail.OK() {
		return nil, s.avail
	}
	return model.Matrix{&model.SampleStream{
		Values: []model.SamplePair{{Timestamp: model.TimeFromUnix(1000), Value: 0.5}},
	}}, s.avail
}

func testRequest(scope models.IdentityScope) *Request {
	id := models.Identity{Scope: scope, Namespace: "prod"}
	switch scope {
	case models.ScopePod:
		id.Pod = "web-7d4b9c-xk2p1"
	case models.ScopeWorkload:
		id.Kind, id.Owner = "Deployment", "web"
	case models.ScopeJob:
		id.Job = "nightly"
	}
	return &Request{
		Alert:    &models.AlertInstance{Alertname: "KubernetesPodNotHealthy", Labels: map[string]string{}},
		Identity: id,
		Family:   models.FamilyPodNotHealthy,
		Window:   models.WindowEnding(time.Now(), time.Hour),
	}
}

func TestKubeCollector_PodScope(t *testing.T) {
	kube := &stubKube{
		pod: &models.PodSnapshot{
			Name: "web-7d4b9c-xk2p1", Namespace: "prod",
			OwnerKind: "ReplicaSet", OwnerName: "web-7d4b9c",
		},
		podAvail:  models.AvailOK(),
		workload:  &models.WorkloadSnapshot{Kind: "Deployment", Name: "web"},
		wlAvail:   models.AvailOK(),
		ownerKind: "Deployment",
		ownerName: "web",
		events:    []models.EventRecord{{Reason: "BackOff", Message: "restarting"}},
	}
	ev := models.NewEvidence()
	KubeCollector{}.Collect(context.Background(), &Providers{Kube: kube}, testRequest(models.ScopePod), ev)

	require.True(t, ev.Kube.OK())
	assert.Equal(t, "web-7d4b9c-xk2p1", ev.Kube.Pod.Name)
	require.NotNil(t, ev.Kube.Workload, "owner workload resolved through the ReplicaSet")
	assert.Equal(t, "web", ev.Kube.Workload.Name)
	assert.Len(t, ev.Kube.Events, 1)
}

func TestKubeCollector_NotConfigured(t *testing.T) {
	ev := models.NewEvidence()
	KubeCollector{}.Collect(context.Background(), &Providers{}, testRequest(models.ScopePod), ev)
	assert.Equal(t, models.SlotUnavailable, ev.Kube.Status)
	assert.Equal(t, providers.ReasonNotConfigured, ev.Kube.Reason)
}

func TestKubeCollector_NeverOverwrites(t *testing.T) {
	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()
	ev.Kube.Pod = &models.PodSnapshot{Name: "already-there"}

	kube := &stubKube{pod: &models.PodSnapshot{Name: "other"}, podAvail: models.AvailOK()}
	KubeCollector{}.Collect(context.Background(), &Providers{Kube: kube}, testRequest(models.ScopePod), ev)

	assert.Equal(t, "already-there", ev.Kube.Pod.Name)
}

func TestLogsCollector_LiveTail(t *testing.T) {
	logs := &stubLogs{
		liveEntries: []models.LogEntry{{Line: "ERROR boom"}},
		liveAvail:   models.AvailOK(),
	}
	ev := models.NewEvidence()
	LogsCollector{}.Collect(context.Background(), &Providers{Logs: logs}, testRequest(models.ScopePod), ev)

	require.True(t, ev.Logs.OK())
	assert.False(t, ev.Logs.Historical)
	assert.Equal(t, "loki", ev.Logs.Backend)
	require.Len(t, ev.Logs.Parsed, 1)
	assert.Equal(t, models.PatternErrorPrefix, ev.Logs.Parsed[0].Kind)
}

func TestLogsCollector_HistoricalFallbackOnDeletedPod(t *testing.T) {
	logs := &stubLogs{
		liveAvail:   models.AvailUnavailable(providers.ReasonNotFound),
		histEntries: []models.LogEntry{{Line: "FATAL out of retries"}},
		histAvail:   models.AvailOK(),
	}
	ev := models.NewEvidence()
	LogsCollector{}.Collect(context.Background(), &Providers{Logs: logs}, testRequest(models.ScopePod), ev)

	require.True(t, ev.Logs.OK())
	assert.True(t, ev.Logs.Historical)
	assert.Equal(t, "web-7d4b9c-", logs.histPrefix, "prefix strips the random pod suffix")
}

func TestLogsCollector_JobScopeUsesJobPrefix(t *testing.T) {
	logs := &stubLogs{histAvail: models.AvailEmpty()}
	ev := models.NewEvidence()
	LogsCollector{}.Collect(context.Background(), &Providers{Logs: logs}, testRequest(models.ScopeJob), ev)

	assert.Equal(t, "nightly-", logs.histPrefix)
	assert.Equal(t, models.SlotEmpty, ev.Logs.Status)
}

func TestLogsCollector_UnavailableIsNotEmpty(t *testing.T) {
	logs := &stubLogs{liveAvail: models.AvailUnavailable("http_error:503")}
	ev := models.NewEvidence()
	LogsCollector{}.Collect(context.Background(), &Providers{Logs: logs}, testRequest(models.ScopePod), ev)

	assert.Equal(t, models.SlotUnavailable, ev.Logs.Status)
	assert.Equal(t, "http_error:503", ev.Logs.Reason)
	assert.Empty(t, ev.Logs.Parsed)
}

func TestMetricsCollector_RecordsSeries(t *testing.T) {
	c := MetricsCollector{Queries: map[string]Query{
		"cpu_usage_ratio": {PromQL: `sum(rate(x[5m]))`, Unit: "ratio"},
	}}
	ev := models.NewEvidence()
	c.Collect(context.Background(), &Providers{Metrics: &stubMetrics{avail: models.AvailOK()}}, testRequest(models.ScopePod), ev)

	require.True(t, ev.Metrics.OK())
	series, ok := ev.Metrics.Series["cpu_usage_ratio"]
	require.True(t, ok)
	assert.Equal(t, 0.5, series.Latest)
}

func TestMetricsCollector_FailurePropagatesReason(t *testing.T) {
	c := MetricsCollector{Queries: map[string]Query{
		"up": {PromQL: "up"},
	}}
	ev := models.NewEvidence()
	c.Collect(context.Background(), &Providers{Metrics: &stubMetrics{avail: models.AvailUnavailable("timeout")}}, testRequest(models.ScopePod), ev)

	assert.Equal(t, models.SlotUnavailable, ev.Metrics.Status)
	assert.Equal(t, "timeout", ev.Metrics.Reason)
}

type perQueryMetrics struct {
	reasons map[string]string // PromQL -> failure reason
}

func (p *perQueryMetrics) Instant(context.Context, string, time.Time) (model.Vector, models.Availability) {
	return nil, models.AvailEmpty()
}

func (p *perQueryMetrics) Range(_ context.Context, promql string, _ models.TimeWindow, _ time.Duration) (model.Matrix, models.Availability) {
	return nil, models.AvailUnavailable(p.reasons[promql])
}

func TestMetricsCollector_FailureReasonIsDeterministic(t *testing.T) {
	c := MetricsCollector{Queries: map[string]Query{
		"restarts_total":     {PromQL: "restarts"},
		"cpu_usage_ratio":    {PromQL: "cpu"},
		"memory_working_set": {PromQL: "memory"},
	}}
	metrics := &perQueryMetrics{reasons: map[string]string{
		"restarts": "http_error:500",
		"cpu":      "timeout",
		"memory":   "http_error:502",
	}}

	// All queries fail with distinct reasons; the recorded one must not
	// depend on map iteration order.
	for i := 0; i < 10; i++ {
		ev := models.NewEvidence()
		c.Collect(context.Background(), &Providers{Metrics: metrics}, testRequest(models.ScopePod), ev)

		require.Equal(t, models.SlotUnavailable, ev.Metrics.Status)
		assert.Equal(t, "timeout", ev.Metrics.Reason,
			"reason comes from the first query in sorted name order")
	}
}

func TestMetricsCollector_NoQueriesIsEmpty(t *testing.T) {
	ev := models.NewEvidence()
	MetricsCollector{}.Collect(context.Background(), &Providers{Metrics: &stubMetrics{avail: models.AvailOK()}}, testRequest(models.ScopePod), ev)
	assert.Equal(t, models.SlotEmpty, ev.Metrics.Status)
}

func TestChangeCollector_FromKubeEvents(t *testing.T) {
	req := testRequest(models.ScopePod)
	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()
	ev.Kube.Events = []models.EventRecord{
		{Reason: "ScalingReplicaSet", Message: "Scaled up replica set web-7d4b9c", LastSeen: req.Window.End.Add(-10 * time.Minute)},
		{Reason: "BackOff", Message: "restarting failed container", LastSeen: req.Window.End.Add(-5 * time.Minute)},
	}

	ChangeCollector{}.Collect(context.Background(), &Providers{}, req, ev)

	require.True(t, ev.Change.OK())
	require.Len(t, ev.Change.Signals, 1, "only rollout-shaped events count as change signals")
	assert.Equal(t, "k8s_event", ev.Change.Source)
	assert.Contains(t, ev.Change.Summary, "ScalingReplicaSet")
}

func TestChangeCollector_NoSignals(t *testing.T) {
	req := testRequest(models.ScopePod)
	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()

	ChangeCollector{}.Collect(context.Background(), &Providers{}, req, ev)

	assert.Equal(t, models.SlotEmpty, ev.Change.Status)
	assert.Equal(t, "no recent changes detected in the correlation window", ev.Change.Summary)
}

func TestChangeCollector_PicksLatestAcrossSources(t *testing.T) {
	req := testRequest(models.ScopePod)
	now := req.Window.End
	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()
	ev.Kube.Events = []models.EventRecord{
		{Reason: "Pulled", Message: "image pulled", LastSeen: now.Add(-30 * time.Minute)},
	}
	ev.AWS = &models.AWSEvidence{
		Availability: models.AvailOK(),
		CloudTrail: []models.CloudTrailEvent{
			{Name: "ModifyDBInstance", Username: "admin", EventTime: now.Add(-2 * time.Minute)},
		},
	}

	ChangeCollector{}.Collect(context.Background(), &Providers{}, req, ev)

	require.True(t, ev.Change.OK())
	assert.Equal(t, "cloudtrail", ev.Change.Source)
	assert.Contains(t, ev.Change.Summary, "ModifyDBInstance")
}
