package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

func floatPtr(f float64) *float64 { return &f }

func podIdentity() models.Identity {
	return models.Identity{Scope: models.ScopePod, Namespace: "prod", Pod: "web-1"}
}

func fullEvidence() *models.Evidence {
	ev := models.NewEvidence()
	ev.Kube.Availability = models.AvailOK()
	ev.Metrics.Availability = models.AvailOK()
	ev.Logs.Availability = models.AvailOK()
	ev.Change.Availability = models.AvailEmpty()
	return ev
}

func TestDetectBlocked(t *testing.T) {
	tests := []struct {
		name     string
		identity models.Identity
		mutate   func(*models.Evidence)
		want     []models.BlockedScenario
	}{
		{
			name:     "all available",
			identity: podIdentity(),
			mutate:   func(*models.Evidence) {},
			want:     nil,
		},
		{
			name:     "identity missing",
			identity: models.Identity{Scope: models.ScopeUnknown},
			mutate:   func(*models.Evidence) {},
			want:     []models.BlockedScenario{models.BlockedIdentityMissing},
		},
		{
			name:     "k8s down",
			identity: podIdentity(),
			mutate: func(ev *models.Evidence) {
				ev.Kube.Availability = models.AvailUnavailable("timeout")
			},
			want: []models.BlockedScenario{models.BlockedK8sUnavailable},
		},
		{
			name:     "logs empty is not blocked",
			identity: podIdentity(),
			mutate: func(ev *models.Evidence) {
				ev.Logs.Availability = models.AvailEmpty()
			},
			want: nil,
		},
		{
			name:     "metrics unavailable",
			identity: podIdentity(),
			mutate: func(ev *models.Evidence) {
				ev.Metrics.Availability = models.AvailUnavailable("http_error:503")
			},
			want: []models.BlockedScenario{models.BlockedMetricsUnavailable},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := fullEvidence()
			tc.mutate(ev)
			assert.Equal(t, tc.want, DetectBlocked(tc.identity, ev))
		})
	}
}

func TestScore_OOMCritical(t *testing.T) {
	alert := &models.AlertInstance{
		Alertname: "KubernetesContainerOomKiller",
		Labels:    map[string]string{"severity": "critical"},
	}
	in := Input{
		Alert:    alert,
		Identity: podIdentity(),
		Evidence: fullEvidence(),
		Findings: []models.Finding{{
			ModuleID: "k8s.oom_killed",
			Severity: models.SeverityCritical,
			Label:    "OOMKilled (exit 137)",
		}},
		Hypotheses: []models.Hypothesis{{
			HypothesisID: "memory-limit-exceeded",
			Confidence:   0.95,
		}},
		Features: models.Features{
			RestartsLastHour: 15,
			MemoryUsageRatio: floatPtr(0.96),
		},
	}

	scores := Score(in)

	assert.GreaterOrEqual(t, scores.Impact, 70)
	assert.GreaterOrEqual(t, scores.Confidence, 80)
	assert.Less(t, scores.Noise, ThresholdNoise)
	assert.Equal(t, models.ClassActionable, scores.Classification)
}

func TestScore_IdentityMissingIsArtifact(t *testing.T) {
	ev := models.NewEvidence()
	in := Input{
		Alert:    &models.AlertInstance{Alertname: "SomethingOdd", Labels: map[string]string{"severity": "critical"}},
		Identity: models.Identity{Scope: models.ScopeUnknown},
		Evidence: ev,
		Blocked:  DetectBlocked(models.Identity{Scope: models.ScopeUnknown}, ev),
	}

	scores := Score(in)

	assert.Equal(t, models.ClassArtifact, scores.Classification)
	assert.LessOrEqual(t, scores.Impact, 25, "unknown target caps impact")
	assert.LessOrEqual(t, scores.Confidence, 25)
}

func TestScore_BlockedWithSignalStaysInformational(t *testing.T) {
	ev := fullEvidence()
	ev.Metrics.Availability = models.AvailUnavailable("timeout")
	in := Input{
		Alert:    &models.AlertInstance{Alertname: "KubePodCrashLooping", Labels: map[string]string{"severity": "critical"}},
		Identity: podIdentity(),
		Evidence: ev,
		Findings: []models.Finding{{
			ModuleID: "k8s.crash_loop_backoff",
			Severity: models.SeverityCritical,
			Label:    "CrashLoopBackOff",
		}},
		Blocked: []models.BlockedScenario{models.BlockedMetricsUnavailable},
	}

	scores := Score(in)

	require.NotEqual(t, models.ClassArtifact, scores.Classification,
		"a surviving k8s finding is recoverable signal")
	assert.Equal(t, models.ClassInformational, scores.Classification,
		"blocked runs never claim actionable")
}

func TestScore_RecurrenceDrivesNoisy(t *testing.T) {
	in := Input{
		Alert:    &models.AlertInstance{Alertname: "CPUThrottlingHigh", Labels: map[string]string{"severity": "info"}},
		Identity: podIdentity(),
		Evidence: fullEvidence(),
		Features: models.Features{Recurrence24h: 14},
	}

	scores := Score(in)

	assert.GreaterOrEqual(t, scores.Noise, ThresholdNoise)
	assert.Equal(t, models.ClassNoisy, scores.Classification)
}

func TestScore_Bounds(t *testing.T) {
	in := Input{
		Alert:    &models.AlertInstance{Alertname: "X", Labels: map[string]string{"severity": "critical"}},
		Identity: models.Identity{Scope: models.ScopeWorkload, Namespace: "prod", Kind: "Deployment", Owner: "web"},
		Evidence: fullEvidence(),
		Findings: []models.Finding{{Severity: models.SeverityCritical}},
		Features: models.Features{
			RestartsLastHour:  50,
			HTTP5xxRate:       floatPtr(12.0),
			ReplicaAvailRatio: floatPtr(0.1),
			Recurrence24h:     100,
		},
	}

	scores := Score(in)
	for name, v := range map[string]int{"impact": scores.Impact, "confidence": scores.Confidence, "noise": scores.Noise} {
		assert.GreaterOrEqual(t, v, 0, name)
		assert.LessOrEqual(t, v, 100, name)
	}
}

func TestScore_Deterministic(t *testing.T) {
	in := Input{
		Alert:    &models.AlertInstance{Alertname: "KubePodNotReady", Labels: map[string]string{"severity": "warning"}},
		Identity: podIdentity(),
		Evidence: fullEvidence(),
		Findings: []models.Finding{{ModuleID: "k8s.restart_churn", Severity: models.SeverityWarn}},
	}
	assert.Equal(t, Score(in), Score(in))
}
