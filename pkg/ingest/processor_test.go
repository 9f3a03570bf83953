package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/alertmanager/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

type memoryPublisher struct {
	published []*models.InvestigationJob
	failAfter int // publish this many, then fail; -1 never fails
}

func (m *memoryPublisher) Publish(_ context.Context, job *models.InvestigationJob) error {
	if m.failAfter >= 0 && len(m.published) >= m.failAfter {
		return fmt.Errorf("nats: no responders")
	}
	m.published = append(m.published, job)
	return nil
}

type memoryIndex struct {
	lastRuns map[string]time.Time
	err      error
}

func (m *memoryIndex) LastRunTime(_ context.Context, caseID string) (time.Time, bool, error) {
	if m.err != nil {
		return time.Time{}, false, m.err
	}
	t, ok := m.lastRuns[caseID]
	return t, ok, nil
}

type fakeResolver struct {
	kind  string
	name  string
	avail models.Availability
}

func (f *fakeResolver) ResolveOwner(context.Context, string, string) (string, string, models.Availability) {
	return f.kind, f.name, f.avail
}

func ingestConfig(allowlist ...string) *config.PipelineConfig {
	return &config.PipelineConfig{
		TimeWindow:      time.Hour,
		MaxTimeWindow:   6 * time.Hour,
		Allowlist:       allowlist,
		RolloutNoisy:    models.DefaultRolloutNoisyAlertnames,
		FreshnessWindow: time.Hour,
	}
}

func firingAlert(alertname string, extra map[string]string) template.Alert {
	labels := template.KV{"alertname": alertname, "namespace": "prod", "severity": "warning"}
	for k, v := range extra {
		labels[k] = v
	}
	return template.Alert{
		Status:      "firing",
		Labels:      labels,
		Annotations: template.KV{"summary": "something is up"},
		StartsAt:    time.Now().Add(-10 * time.Minute),
		Fingerprint: "fp-" + alertname,
	}
}

func TestProcess_EnqueuesFiringAlerts(t *testing.T) {
	pub := &memoryPublisher{failAfter: -1}
	p := NewProcessor(ingestConfig(), pub, nil, nil)

	payload := &template.Data{Alerts: template.Alerts{
		firingAlert("KubeContainerOOMKilled", map[string]string{"pod": "web-1"}),
		firingAlert("HighCPUThrottling", map[string]string{"pod": "api-2"}),
	}}

	stats, err := p.Process(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Received)
	assert.Equal(t, 2, stats.Enqueued)
	require.Len(t, pub.published, 2)

	job := pub.published[0]
	assert.Equal(t, "KubeContainerOOMKilled", job.Alert.Alertname)
	assert.Equal(t, models.ScopePod, job.Identity.Scope)
	assert.Equal(t, "prod", job.Identity.Namespace)
	assert.Equal(t, time.Hour, job.Window.Duration())
	assert.NotZero(t, job.DedupBucket)
}

func TestProcess_SkipsResolved(t *testing.T) {
	resolved := firingAlert("KubeContainerOOMKilled", nil)
	resolved.Status = "resolved"
	resolved.EndsAt = time.Now()

	pub := &memoryPublisher{failAfter: -1}
	p := NewProcessor(ingestConfig(), pub, nil, nil)

	stats, err := p.Process(context.Background(), &template.Data{Alerts: template.Alerts{resolved}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Received)
	assert.Equal(t, 1, stats.SkippedResolved)
	assert.Zero(t, stats.Enqueued)
	assert.Empty(t, pub.published)
}

func TestProcess_AllowlistIsCaseSensitive(t *testing.T) {
	pub := &memoryPublisher{failAfter: -1}
	p := NewProcessor(ingestConfig("KubeContainerOOMKilled"), pub, nil, nil)

	payload := &template.Data{Alerts: template.Alerts{
		firingAlert("KubeContainerOOMKilled", nil),
		firingAlert("kubecontaineroomkilled", nil),
		firingAlert("SomethingElse", nil),
	}}

	stats, err := p.Process(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Enqueued)
	assert.Equal(t, 2, stats.SkippedAllowlist)
}

func TestProcess_FreshnessGateSkipsRecentRolloutNoisy(t *testing.T) {
	alert := firingAlert("KubernetesPodNotHealthy", map[string]string{"pod": "web-7d4b9c-xk2p1"})
	inst := toAlertInstance(&alert)
	caseID := models.CaseIDFor(models.DeriveIdentity(inst), models.DeriveFamily(inst))

	idx := &memoryIndex{lastRuns: map[string]time.Time{
		caseID: time.Now().Add(-20 * time.Minute),
	}}
	pub := &memoryPublisher{failAfter: -1}
	p := NewProcessor(ingestConfig(), pub, idx, nil)

	stats, err := p.Process(context.Background(), &template.Data{Alerts: template.Alerts{alert}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SkippedFreshness)
	assert.Zero(t, stats.Enqueued)
}

func TestProcess_FreshnessGateChecksWorkloadCase(t *testing.T) {
	// Two replicas of the same deployment crash-loop. The first delivery ran
	// 20 minutes ago and was persisted under the workload case; the second
	// replica's alert must hit the gate even though its pod name differs.
	alert := firingAlert("KubernetesPodNotHealthy", map[string]string{"pod": "web-7d4b9c-zz9q4"})
	inst := toAlertInstance(&alert)
	workload := models.DeriveIdentity(inst).WithOwner("Deployment", "web")
	caseID := models.CaseIDFor(workload, models.DeriveFamily(inst))

	idx := &memoryIndex{lastRuns: map[string]time.Time{
		caseID: time.Now().Add(-20 * time.Minute),
	}}
	pub := &memoryPublisher{failAfter: -1}
	resolver := &fakeResolver{kind: "Deployment", name: "web", avail: models.AvailOK()}
	p := NewProcessor(ingestConfig(), pub, idx, resolver)

	stats, err := p.Process(context.Background(), &template.Data{Alerts: template.Alerts{alert}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SkippedFreshness)
	assert.Zero(t, stats.Enqueued)
}

func TestProcess_RolloutNoisyJobCarriesWorkloadIdentity(t *testing.T) {
	pub := &memoryPublisher{failAfter: -1}
	resolver := &fakeResolver{kind: "Deployment", name: "web", avail: models.AvailOK()}
	p := NewProcessor(ingestConfig(), pub, nil, resolver)

	alert := firingAlert("KubernetesPodNotHealthy", map[string]string{"pod": "web-7d4b9c-xk2p1"})
	stats, err := p.Process(context.Background(), &template.Data{Alerts: template.Alerts{alert}})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Enqueued)

	job := pub.published[0]
	assert.Equal(t, models.ScopeWorkload, job.Identity.Scope)
	assert.Equal(t, "Deployment", job.Identity.Kind)
	assert.Equal(t, "web", job.Identity.Owner)
}

func TestProcess_OwnerResolutionFailureKeepsPodIdentity(t *testing.T) {
	pub := &memoryPublisher{failAfter: -1}
	resolver := &fakeResolver{avail: models.AvailUnavailable("api_error")}
	p := NewProcessor(ingestConfig(), pub, nil, resolver)

	alert := firingAlert("KubernetesPodNotHealthy", map[string]string{"pod": "web-7d4b9c-xk2p1"})
	stats, err := p.Process(context.Background(), &template.Data{Alerts: template.Alerts{alert}})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Enqueued)
	assert.Equal(t, models.ScopePod, pub.published[0].Identity.Scope)
}

func TestProcess_FreshnessGateEnqueuesStaleCase(t *testing.T) {
	alert := firingAlert("KubernetesPodNotHealthy", map[string]string{"pod": "web-7d4b9c-xk2p1"})
	inst := toAlertInstance(&alert)
	caseID := models.CaseIDFor(models.DeriveIdentity(inst), models.DeriveFamily(inst))

	idx := &memoryIndex{lastRuns: map[string]time.Time{
		caseID: time.Now().Add(-3 * time.Hour),
	}}
	pub := &memoryPublisher{failAfter: -1}
	p := NewProcessor(ingestConfig(), pub, idx, nil)

	stats, err := p.Process(context.Background(), &template.Data{Alerts: template.Alerts{alert}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Enqueued)
	assert.Zero(t, stats.SkippedFreshness)
}

func TestProcess_FreshnessGateIgnoresNonNoisyAlertnames(t *testing.T) {
	alert := firingAlert("KubeContainerOOMKilled", map[string]string{"pod": "web-1"})
	inst := toAlertInstance(&alert)
	caseID := models.CaseIDFor(models.DeriveIdentity(inst), models.DeriveFamily(inst))

	idx := &memoryIndex{lastRuns: map[string]time.Time{
		caseID: time.Now().Add(-5 * time.Minute),
	}}
	pub := &memoryPublisher{failAfter: -1}
	p := NewProcessor(ingestConfig(), pub, idx, nil)

	stats, err := p.Process(context.Background(), &template.Data{Alerts: template.Alerts{alert}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enqueued)
}

func TestProcess_FreshnessLookupFailureFallsOpen(t *testing.T) {
	idx := &memoryIndex{err: fmt.Errorf("connection refused")}
	pub := &memoryPublisher{failAfter: -1}
	p := NewProcessor(ingestConfig(), pub, idx, nil)

	alert := firingAlert("KubernetesPodNotHealthy", map[string]string{"pod": "web-1"})
	stats, err := p.Process(context.Background(), &template.Data{Alerts: template.Alerts{alert}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enqueued)
}

func TestProcess_PublishFailureAbortsBatch(t *testing.T) {
	pub := &memoryPublisher{failAfter: 1}
	p := NewProcessor(ingestConfig(), pub, nil, nil)

	payload := &template.Data{Alerts: template.Alerts{
		firingAlert("KubeContainerOOMKilled", map[string]string{"pod": "a"}),
		firingAlert("HighCPUThrottling", map[string]string{"pod": "b"}),
		firingAlert("TargetDown", nil),
	}}

	stats, err := p.Process(context.Background(), payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HighCPUThrottling")
	assert.Equal(t, 1, stats.Enqueued, "stats reflect work done before the failure")
}

func TestToAlertInstance(t *testing.T) {
	ends := time.Now()
	a := template.Alert{
		Status:      "resolved",
		Labels:      template.KV{"alertname": "TargetDown", "severity": "critical"},
		Annotations: template.KV{"description": "scrape target gone"},
		StartsAt:    ends.Add(-time.Hour),
		EndsAt:      ends,
		Fingerprint: "abc123",
	}

	inst := toAlertInstance(&a)
	assert.Equal(t, "TargetDown", inst.Alertname)
	assert.Equal(t, "abc123", inst.Fingerprint)
	assert.Equal(t, models.AlertResolved, inst.Status)
	require.NotNil(t, inst.EndsAt)
	assert.Equal(t, ends, *inst.EndsAt)
	assert.Equal(t, "critical", inst.Severity())
}
