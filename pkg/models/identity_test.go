package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAlert(name string, labels map[string]string) *AlertInstance {
	return &AlertInstance{
		Fingerprint: "fp-1",
		Alertname:   name,
		Labels:      labels,
		StartsAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:      AlertFiring,
	}
}

func TestDeriveIdentity_PodScoped(t *testing.T) {
	id := DeriveIdentity(newAlert("CPUThrottlingHigh", map[string]string{
		"cluster":   "prod-1",
		"namespace": "payments",
		"pod":       "api-7f9c-xk2",
	}))

	assert.Equal(t, ScopePod, id.Scope)
	assert.Equal(t, "pod/prod-1/payments/api-7f9c-xk2", id.Key())
	assert.True(t, id.Known())
}

func TestDeriveIdentity_JobScoped(t *testing.T) {
	id := DeriveIdentity(newAlert("KubeJobFailed", map[string]string{
		"namespace": "batch",
		"job_name":  "nightly-export",
	}))

	assert.Equal(t, ScopeJob, id.Scope)
	assert.Equal(t, "nightly-export", id.Job)
}

func TestDeriveIdentity_JobLabelOnlyForBatchAlerts(t *testing.T) {
	// "job" on a non-batch alert is a scrape job, not a K8s Job.
	id := DeriveIdentity(newAlert("TargetDown", map[string]string{
		"job": "node-exporter",
	}))
	assert.NotEqual(t, ScopeJob, id.Scope)
}

func TestDeriveIdentity_NonPodStripsEphemeralLabels(t *testing.T) {
	id := DeriveIdentity(newAlert("TargetDown", map[string]string{
		"alertname": "TargetDown",
		"job":       "node-exporter",
		"instance":  "10.0.0.5:9100",
		"endpoint":  "metrics",
	}))

	assert.Equal(t, ScopeNonPod, id.Scope)
	assert.NotContains(t, id.Labels, "instance")
	assert.NotContains(t, id.Labels, "endpoint")
	assert.Contains(t, id.Labels, "job")
}

func TestDeriveIdentity_Unknown(t *testing.T) {
	id := DeriveIdentity(newAlert("Mystery", map[string]string{}))
	assert.Equal(t, ScopeUnknown, id.Scope)
	assert.False(t, id.Known())
}

func TestDeriveIdentity_DescriptiveLabelsOnlyIsUnknown(t *testing.T) {
	// alertname/severity describe the alert, not a target; an alert carrying
	// nothing else must not masquerade as a non-pod identity.
	id := DeriveIdentity(newAlert("SomethingWentWrong", map[string]string{
		"alertname": "SomethingWentWrong",
		"severity":  "warning",
	}))

	assert.Equal(t, ScopeUnknown, id.Scope)
	assert.False(t, id.Known())
}

func TestDeriveIdentity_NonPodKeepsTargetLabels(t *testing.T) {
	id := DeriveIdentity(newAlert("TargetDown", map[string]string{
		"alertname": "TargetDown",
		"severity":  "critical",
		"job":       "node-exporter",
		"namespace": "monitoring",
	}))

	assert.Equal(t, ScopeNonPod, id.Scope)
	assert.NotContains(t, id.Labels, "alertname")
	assert.NotContains(t, id.Labels, "severity")
	assert.Contains(t, id.Labels, "job")
	assert.Contains(t, id.Labels, "namespace")
}

func TestIdentity_KeyIsDeterministicAcrossLabelOrder(t *testing.T) {
	a := Identity{Scope: ScopeNonPod, Cluster: "c", Labels: map[string]string{"a": "1", "b": "2", "z": "3"}}
	b := Identity{Scope: ScopeNonPod, Cluster: "c", Labels: map[string]string{"z": "3", "b": "2", "a": "1"}}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestIdentity_WithOwner(t *testing.T) {
	pod := Identity{Scope: ScopePod, Cluster: "prod-1", Namespace: "payments", Pod: "api-7f9c-xk2"}
	wl := pod.WithOwner("Deployment", "api")

	assert.Equal(t, ScopeWorkload, wl.Scope)
	assert.Equal(t, "workload/prod-1/payments/Deployment/api", wl.Key())
}

func TestDeriveFamily(t *testing.T) {
	cases := []struct {
		alertname string
		want      Family
	}{
		{"CPUThrottlingHigh", FamilyCPUThrottling},
		{"KubernetesContainerOomKiller", FamilyOOMKilled},
		{"KubernetesPodNotHealthy", FamilyPodNotHealthy},
		{"KubeJobFailed", FamilyJobFailed},
		{"TargetDown", FamilyTargetDown},
		{"Watchdog", FamilyMeta},
		{"AppHttp5xxRateHigh", FamilyHTTP5xx},
		{"NodeMemoryHighUtilization", FamilyMemoryPressure},
		{"SomethingNobodyKnows", FamilyGeneric},
	}
	for _, tc := range cases {
		got := DeriveFamily(newAlert(tc.alertname, nil))
		assert.Equal(t, tc.want, got, "alertname %s", tc.alertname)
	}
}

func TestDedupBucket(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	b0 := DedupBucket(base)
	assert.Equal(t, b0, DedupBucket(base.Add(3*time.Hour+59*time.Minute)))
	assert.Equal(t, b0+1, DedupBucket(base.Add(4*time.Hour)))
}

func TestInvestigationJob_Roundtrip(t *testing.T) {
	alert := newAlert("KubeJobFailed", map[string]string{"namespace": "batch", "job_name": "nightly-export"})
	job := &InvestigationJob{
		Identity:    DeriveIdentity(alert),
		Family:      FamilyJobFailed,
		Alert:       alert,
		Window:      WindowEnding(alert.StartsAt, time.Hour),
		DedupBucket: DedupBucket(alert.StartsAt),
		EnqueuedAt:  alert.StartsAt,
	}

	data, err := job.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalJob(data)
	require.NoError(t, err)
	assert.Equal(t, job.DedupKey(), got.DedupKey())
	assert.Equal(t, job.CaseID(), got.CaseID())
	assert.Equal(t, job.Window, got.Window)
}

func TestUnmarshalJob_MissingAlert(t *testing.T) {
	_, err := UnmarshalJob([]byte(`{"family":"generic"}`))
	assert.Error(t, err)
}
