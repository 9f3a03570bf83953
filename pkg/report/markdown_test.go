package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

func int32Ptr(n int32) *int32 { return &n }

func oomInvestigation() *models.Investigation {
	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()
	ev.Kube.Pod = &models.PodSnapshot{
		Name: "web-7d4b9c-xk2p1", Namespace: "prod", Phase: "Running",
		Containers: []models.ContainerState{{
			Name: "app", State: "waiting", Reason: "CrashLoopBackOff",
			RestartCount: 15, LastTerminatedReason: "OOMKilled", LastExitCode: int32Ptr(137),
		}},
	}
	ev.Metrics.Availability = models.AvailOK()
	ev.Metrics.Series = map[string]models.MetricSeries{
		"memory_usage_ratio": {Latest: 0.957, Max: 0.971, Unit: "ratio"},
		"cpu_usage_ratio":    {Latest: 0.31, Max: 0.44, Unit: "ratio"},
	}
	ev.Logs.Availability = models.AvailEmpty()
	ev.Change.Availability = models.AvailEmpty()

	return &models.Investigation{
		CaseID: "3f2a9c0d1e4b5a67",
		RunID:  "8d9e0f1a-2b3c-4d5e-6f70-819203a4b5c6",
		Alert: &models.AlertInstance{
			Alertname:   "KubernetesContainerOomKiller",
			Fingerprint: "fp-123",
			Labels:      map[string]string{"severity": "critical", "namespace": "prod", "pod": "web-7d4b9c-xk2p1"},
		},
		Identity: models.Identity{Scope: models.ScopePod, Namespace: "prod", Pod: "web-7d4b9c-xk2p1"},
		Family:   models.FamilyOOMKilled,
		Evidence: ev,
		Analysis: &models.Analysis{
			Decision: models.Decision{
				Label: "OOMKilled (exit 137)",
				Why:   []string{"container app was OOM killed 15 times in the last hour"},
				Next: []string{
					"kubectl logs -n prod web-7d4b9c-xk2p1 -c app --previous",
					`max(container_memory_working_set_bytes{namespace="prod", pod="web-7d4b9c-xk2p1"})`,
					"raise the memory limit or fix the leak",
				},
			},
			Findings: []models.Finding{{
				ModuleID: "k8s.oom_killed", Severity: models.SeverityCritical,
				Label: "OOMKilled (exit 137)", Why: []string{"last termination reason OOMKilled"},
			}},
			Hypotheses: []models.Hypothesis{{
				HypothesisID: "memory-limit-exceeded", RootCause: "memory limit exceeded",
				Confidence: 0.95, Evidence: []string{"usage peaked at 97% of limit"},
				Unknowns: []string{"leak vs load spike"},
			}},
			Scores: models.Scores{Impact: 85, Confidence: 90, Noise: 10, Classification: models.ClassActionable},
		},
		CreatedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestMarkdown_SectionOrder(t *testing.T) {
	md := Markdown(oomInvestigation())

	headings := []string{
		"# KubernetesContainerOomKiller",
		headingSummary, headingDecision, headingEvidence,
		headingFindings, headingHypotheses, headingScores,
		headingNextSteps, headingAppendix,
	}
	last := -1
	for _, h := range headings {
		idx := strings.Index(md, h)
		require.GreaterOrEqual(t, idx, 0, "heading %q present", h)
		assert.Greater(t, idx, last, "heading %q in order", h)
		last = idx
	}
}

func TestMarkdown_ByteDeterministic(t *testing.T) {
	inv := oomInvestigation()
	first := Markdown(inv)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Markdown(inv))
	}
}

func TestMarkdown_CommandsFenced(t *testing.T) {
	md := Markdown(oomInvestigation())

	assert.Contains(t, md, "```sh\nkubectl logs -n prod web-7d4b9c-xk2p1 -c app --previous\n```")
	assert.Contains(t, md, "```promql\nmax(container_memory_working_set_bytes")
	assert.Contains(t, md, "- raise the memory limit or fix the leak")
}

func TestMarkdown_SlotLines(t *testing.T) {
	inv := oomInvestigation()
	inv.Evidence.Logs.Availability = models.AvailUnavailable("http_error:503")
	md := Markdown(inv)

	assert.Contains(t, md, "logs=unavailable (http_error:503)")
	assert.Contains(t, md, "k8s=ok")
	assert.Contains(t, md, "metrics=ok")

	inv.Evidence.Logs.Availability = models.AvailEmpty()
	md = Markdown(inv)
	assert.Contains(t, md, "logs=empty")
}

func TestMarkdown_BlockedLabeled(t *testing.T) {
	inv := oomInvestigation()
	inv.Analysis.Blocked = []models.BlockedScenario{models.BlockedMetricsUnavailable}
	md := Markdown(inv)
	assert.Contains(t, md, "**blocked**: metrics_unavailable")
}

func TestMarkdown_FixedDecimals(t *testing.T) {
	md := Markdown(oomInvestigation())
	assert.Contains(t, md, "latest=0.96, max=0.97 ratio", "series values render with two decimals")
	assert.Contains(t, md, "confidence 0.95")
}

func TestMarkdown_MetricsSorted(t *testing.T) {
	md := Markdown(oomInvestigation())
	cpu := strings.Index(md, "`cpu_usage_ratio`")
	mem := strings.Index(md, "`memory_usage_ratio`")
	require.Greater(t, cpu, 0)
	require.Greater(t, mem, 0)
	assert.Less(t, cpu, mem, "series render in sorted name order")
}

func TestLooksLikePromQL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`sum(rate(http_requests_total{job="web"}[5m]))`, true},
		{`up{job="web"}`, true},
		{`count(up{job="web"} == 1)`, true},
		{"check the dashboard for anomalies", false},
		{"restart the pod (if safe)", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, looksLikePromQL(tc.in), tc.in)
	}
}

func TestJSON_Deterministic(t *testing.T) {
	inv := oomInvestigation()
	first, err := JSON(inv)
	require.NoError(t, err)
	second, err := JSON(inv)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Contains(t, string(first), `"case_id": "3f2a9c0d1e4b5a67"`)
}
