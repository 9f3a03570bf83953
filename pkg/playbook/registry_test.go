package playbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarka/pkg/diag"
	"github.com/codeready-toolchain/tarka/pkg/evidence"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

func podRequest(alertname string) *evidence.Request {
	alert := &models.AlertInstance{
		Alertname: alertname,
		Labels: map[string]string{
			"alertname": alertname,
			"namespace": "prod",
			"pod":       "web-7d4b9c-xk2p1",
			"job":       "web",
		},
	}
	return &evidence.Request{
		Alert: alert,
		Identity: models.Identity{
			Scope:     models.ScopePod,
			Namespace: "prod",
			Pod:       "web-7d4b9c-xk2p1",
		},
		Family: models.DeriveFamily(alert),
	}
}

func TestForFamily_KnownFamilies(t *testing.T) {
	tests := []struct {
		family models.Family
		name   string
	}{
		{models.FamilyCPUThrottling, "cpu_throttling"},
		{models.FamilyOOMKilled, "oom_killed"},
		{models.FamilyPodNotHealthy, "pod_not_healthy"},
		{models.FamilyHTTP5xx, "http_5xx"},
		{models.FamilyJobFailed, "job_failed"},
		{models.FamilyTargetDown, "target_down"},
		{models.FamilyMeta, "meta"},
	}
	for _, tc := range tests {
		pb := ForFamily(tc.family, models.Identity{Scope: models.ScopePod})
		require.NotNil(t, pb, "family %s", tc.family)
		assert.Equal(t, tc.name, pb.Name)
	}
}

func TestForFamily_Fallbacks(t *testing.T) {
	pb := ForFamily(models.Family("something_new"), models.Identity{Scope: models.ScopePod})
	assert.Equal(t, "baseline_pod", pb.Name)

	pb = ForFamily(models.Family("something_new"), models.Identity{Scope: models.ScopeWorkload})
	assert.Equal(t, "baseline_pod", pb.Name)

	pb = ForFamily(models.Family("something_new"), models.Identity{Scope: models.ScopeUnknown})
	assert.Equal(t, "baseline_nonpod", pb.Name)
}

func TestThrottleQueries(t *testing.T) {
	req := podRequest("KubernetesContainerCpuThrottlingHigh")
	queries := throttleQueries(req)

	require.Contains(t, queries, diag.SeriesThrottlePct)
	assert.Contains(t, queries[diag.SeriesThrottlePct].PromQL, "container_cpu_cfs_throttled_periods_total")
	assert.Contains(t, queries[diag.SeriesThrottlePct].PromQL, `pod="web-7d4b9c-xk2p1"`)

	// base set rides along
	assert.Contains(t, queries, diag.SeriesCPURatio)
	assert.Contains(t, queries, diag.SeriesMemoryRatio)
	assert.Contains(t, queries, diag.SeriesRestarts)
}

func TestBaseQueries_WorkloadScopeUsesPrefix(t *testing.T) {
	req := &evidence.Request{
		Alert: &models.AlertInstance{Alertname: "KubernetesPodNotHealthy"},
		Identity: models.Identity{
			Scope:     models.ScopeWorkload,
			Namespace: "prod",
			Owner:     "web",
			Kind:      "Deployment",
		},
	}
	queries := baseQueries(req)
	require.NotNil(t, queries)
	assert.Contains(t, queries[diag.SeriesCPURatio].PromQL, `pod=~"web-.*"`)
}

func TestTargetDownQueries_NoLabels(t *testing.T) {
	req := &evidence.Request{Alert: &models.AlertInstance{Alertname: "TargetDown"}}
	assert.Nil(t, targetDownQueries(req))
}

func TestInterpret_OOM(t *testing.T) {
	req := podRequest("KubernetesContainerOomKiller")
	pb := ForFamily(models.FamilyOOMKilled, req.Identity)

	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()
	ev.Metrics.Availability = models.AvailOK()
	ev.Metrics.Series = map[string]models.MetricSeries{
		diag.SeriesMemoryRatio: {Max: 0.97, Latest: 0.95},
	}
	findings := []models.Finding{{
		ModuleID: "k8s.oom_killed",
		Severity: models.SeverityCritical,
		Label:    "OOMKilled (exit 137)",
		Why:      []string{"container app was OOM killed"},
		Next:     []string{"kubectl logs web-7d4b9c-xk2p1 --previous"},
	}}

	enrichment, hypotheses := pb.Interpret(req, ev, findings)

	assert.Equal(t, "OOMKilled (exit 137)", enrichment.Label)
	require.Len(t, hypotheses, 1)
	assert.Equal(t, "memory-limit-exceeded", hypotheses[0].HypothesisID)
	assert.InDelta(t, 0.95, hypotheses[0].Confidence, 0.001,
		"memory near limit raises confidence")
	assert.Empty(t, hypotheses[0].Unknowns)
}

func TestInterpret_OOM_WithoutMemorySeries(t *testing.T) {
	req := podRequest("KubernetesContainerOomKiller")
	pb := ForFamily(models.FamilyOOMKilled, req.Identity)

	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()
	findings := []models.Finding{{
		ModuleID: "k8s.oom_killed",
		Severity: models.SeverityCritical,
		Label:    "OOMKilled (exit 137)",
	}}

	_, hypotheses := pb.Interpret(req, ev, findings)
	require.Len(t, hypotheses, 1)
	assert.NotEmpty(t, hypotheses[0].Unknowns, "missing metrics must surface as an unknown")
}

func TestInterpret_PreservesEvidenceGaps(t *testing.T) {
	req := podRequest("KubernetesPodNotHealthy")
	pb := ForFamily(models.FamilyPodNotHealthy, req.Identity)

	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()
	ev.Metrics.Availability = models.AvailUnavailable("timeout")
	ev.Logs.Availability = models.AvailUnavailable("forbidden")

	enrichment, _ := pb.Interpret(req, ev, nil)

	joined := ""
	for _, why := range enrichment.Why {
		joined += why + "\n"
	}
	assert.Contains(t, joined, "timeout")
	assert.Contains(t, joined, "forbidden")
}

func TestInterpret_Meta(t *testing.T) {
	req := podRequest("Watchdog")
	pb := ForFamily(models.FamilyMeta, req.Identity)

	assert.Nil(t, pb.Queries(req), "meta alerts collect no metrics")

	enrichment, hypotheses := pb.Interpret(req, models.NewEvidence(), nil)
	assert.Contains(t, enrichment.Label, "Watchdog")
	assert.Empty(t, hypotheses)
}

func TestInterpret_Deterministic(t *testing.T) {
	req := podRequest("KubernetesContainerOomKiller")
	pb := ForFamily(models.FamilyOOMKilled, req.Identity)

	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()
	findings := []models.Finding{
		{ModuleID: "k8s.oom_killed", Severity: models.SeverityCritical, Label: "OOMKilled (exit 137)",
			Why: []string{"a"}, Next: []string{"n1", "n2"}},
		{ModuleID: "k8s.restart_churn", Severity: models.SeverityWarn, Label: "restart churn",
			Why: []string{"b"}, Next: []string{"n2", "n3"}},
	}

	e1, h1 := pb.Interpret(req, ev, findings)
	e2, h2 := pb.Interpret(req, ev, findings)
	assert.Equal(t, e1, e2)
	assert.Equal(t, h1, h2)
	assert.Equal(t, []string{"n1", "n2", "n3"}, e1.Next, "next steps dedup preserves order")
}
