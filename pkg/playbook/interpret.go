package playbook

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/tarka/pkg/diag"
	"github.com/codeready-toolchain/tarka/pkg/evidence"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

// findingByModule indexes findings for interpreter lookups.
func findingByModule(findings []models.Finding, moduleID string) *models.Finding {
	for i := range findings {
		if findings[i].ModuleID == moduleID {
			return &findings[i]
		}
	}
	return nil
}

// rootCausePriority breaks severity ties: modules that name a root cause
// outrank modules that name a symptom (a CrashLoopBackOff caused by OOM
// kills should be labeled by the OOM, not the loop).
var rootCausePriority = map[string]int{
	"k8s.oom_killed":                1,
	"logs.oom_signature":            2,
	"k8s.image_pull_backoff":        3,
	"k8s.container_config_error":    4,
	"k8s.volume_mount_failure":      5,
	"k8s.service_account_forbidden": 6,
	"k8s.pod_evicted":               7,
	"k8s.job_backoff_exceeded":      8,
	"k8s.job_deadline_exceeded":     9,
}

// worstFinding returns the highest-severity finding; ties go to the most
// root-cause-specific module, then registry order. Nil when there are none.
func worstFinding(findings []models.Finding) *models.Finding {
	rank := map[models.Severity]int{
		models.SeverityCritical: 3,
		models.SeverityError:    2,
		models.SeverityWarn:     1,
		models.SeverityInfo:     0,
	}
	specificity := func(f *models.Finding) int {
		if p, ok := rootCausePriority[f.ModuleID]; ok {
			return p
		}
		return 100
	}
	var worst *models.Finding
	for i := range findings {
		f := &findings[i]
		if worst == nil ||
			rank[f.Severity] > rank[worst.Severity] ||
			(rank[f.Severity] == rank[worst.Severity] && specificity(f) < specificity(worst)) {
			worst = f
		}
	}
	return worst
}

// evidenceGaps lists slots that could not be consulted, so the enrichment
// states what it does not know instead of papering over it.
func evidenceGaps(ev *models.Evidence) []string {
	var gaps []string
	if !ev.Kube.OK() {
		gaps = append(gaps, "k8s evidence "+string(ev.Kube.Status)+gapReason(ev.Kube.Availability))
	}
	if !ev.Metrics.OK() {
		gaps = append(gaps, "metrics "+string(ev.Metrics.Status)+gapReason(ev.Metrics.Availability))
	}
	if !ev.Logs.OK() {
		gaps = append(gaps, "logs "+string(ev.Logs.Status)+gapReason(ev.Logs.Availability))
	}
	return gaps
}

func gapReason(a models.Availability) string {
	if a.Reason == "" {
		return ""
	}
	return " (" + a.Reason + ")"
}

// interpretFromFindings is the shared deterministic interpretation: the
// worst finding becomes the label, whys and nexts aggregate in finding
// order, and evidence gaps are appended verbatim.
func interpretFromFindings(defaultLabel string, ev *models.Evidence, findings []models.Finding) models.Enrichment {
	enrichment := models.Enrichment{Label: defaultLabel}
	if worst := worstFinding(findings); worst != nil {
		enrichment.Label = worst.Label
	}
	for _, f := range findings {
		enrichment.Why = append(enrichment.Why, f.Why...)
	}
	for _, gap := range evidenceGaps(ev) {
		enrichment.Why = append(enrichment.Why, gap)
	}
	seen := map[string]bool{}
	for _, f := range findings {
		for _, next := range f.Next {
			if seen[next] {
				continue
			}
			seen[next] = true
			enrichment.Next = append(enrichment.Next, next)
		}
	}
	return enrichment
}

// hypothesisFromFinding lifts a high-severity finding into a hypothesis.
func hypothesisFromFinding(id string, f *models.Finding, confidence float64, unknowns []string) models.Hypothesis {
	return models.Hypothesis{
		HypothesisID: id,
		RootCause:    f.Label,
		Confidence:   confidence,
		Evidence:     f.Why,
		Remediation:  f.Next,
		Unknowns:     unknowns,
	}
}

var cpuThrottlingPlaybook = &Playbook{
	Name:    string(models.FamilyCPUThrottling),
	Queries: throttleQueries,
	Interpret: func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis) {
		enrichment := interpretFromFindings("CPU throttling alert", ev, findings)
		var hypotheses []models.Hypothesis
		if f := findingByModule(findings, "metrics.cpu_throttle_high"); f != nil {
			confidence := 0.7
			var unknowns []string
			if s, ok := ev.Metrics.Series[diag.SeriesCPURatio]; !ok || len(s.Points) == 0 {
				unknowns = append(unknowns, "CPU usage vs limit not measured")
				confidence = 0.5
			}
			hypotheses = append(hypotheses, hypothesisFromFinding("cpu-limit-too-low", f, confidence, unknowns))
		}
		return enrichment, hypotheses
	},
}

var oomKilledPlaybook = &Playbook{
	Name:    string(models.FamilyOOMKilled),
	Queries: baseQueries,
	Interpret: func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis) {
		enrichment := interpretFromFindings("container OOM kill", ev, findings)
		var hypotheses []models.Hypothesis
		oom := findingByModule(findings, "k8s.oom_killed")
		if oom == nil {
			oom = findingByModule(findings, "logs.oom_signature")
		}
		if oom != nil {
			confidence := 0.85
			var unknowns []string
			if s, ok := ev.Metrics.Series[diag.SeriesMemoryRatio]; ok && s.Max >= 0.9 {
				confidence = 0.95
			} else {
				unknowns = append(unknowns, "whether usage grew steadily (leak) or spiked (load)")
			}
			hypotheses = append(hypotheses, hypothesisFromFinding("memory-limit-exceeded", oom, confidence, unknowns))
		}
		return enrichment, hypotheses
	},
}

var podNotHealthyPlaybook = &Playbook{
	Name:    string(models.FamilyPodNotHealthy),
	Queries: baseQueries,
	Interpret: func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis) {
		enrichment := interpretFromFindings("pod not healthy", ev, findings)
		var hypotheses []models.Hypothesis
		for _, moduleID := range []string{
			"k8s.oom_killed", "k8s.crash_loop_backoff", "k8s.image_pull_backoff",
			"k8s.pod_pending_unschedulable", "k8s.volume_mount_failure",
		} {
			if f := findingByModule(findings, moduleID); f != nil {
				hypotheses = append(hypotheses, hypothesisFromFinding(
					strings.TrimPrefix(moduleID, "k8s."), f, 0.8, nil))
				break
			}
		}
		return enrichment, hypotheses
	},
}

var http5xxPlaybook = &Playbook{
	Name:    string(models.FamilyHTTP5xx),
	Queries: http5xxQueries,
	Interpret: func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis) {
		enrichment := interpretFromFindings("elevated 5xx responses", ev, findings)
		var hypotheses []models.Hypothesis
		if ev.Change.OK() && ev.Change.Summary != "" {
			hypotheses = append(hypotheses, models.Hypothesis{
				HypothesisID: "recent-change-regression",
				RootCause:    "regression from a recent change: " + ev.Change.Summary,
				Confidence:   0.5,
				Evidence:     []string{"change signal: " + ev.Change.Summary},
				Remediation:  []string{"compare error onset with the change time; roll back if they align"},
				Unknowns:     []string{"whether the 5xx source is this service or a dependency"},
			})
		}
		if f := findingByModule(findings, "logs.connection_failures"); f != nil {
			hypotheses = append(hypotheses, hypothesisFromFinding("dependency-unreachable", f, 0.6,
				[]string{"which downstream dependency is failing"}))
		}
		return enrichment, hypotheses
	},
}

var memoryPressurePlaybook = &Playbook{
	Name:    string(models.FamilyMemoryPressure),
	Queries: baseQueries,
	Interpret: func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis) {
		enrichment := interpretFromFindings("memory pressure", ev, findings)
		var hypotheses []models.Hypothesis
		if f := findingByModule(findings, "metrics.memory_near_limit"); f != nil {
			hypotheses = append(hypotheses, hypothesisFromFinding("memory-headroom-exhausted", f, 0.7,
				[]string{"whether the growth is a leak or expected working-set size"}))
		}
		return enrichment, hypotheses
	},
}

var jobFailedPlaybook = &Playbook{
	Name:    string(models.FamilyJobFailed),
	Queries: baseQueries,
	Interpret: func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis) {
		enrichment := interpretFromFindings("job failed", ev, findings)
		if ev.Logs.Historical {
			enrichment.Why = append(enrichment.Why,
				"job pod was already deleted; logs recovered via pod-name-prefix search across retention")
		}
		var hypotheses []models.Hypothesis
		if f := findingByModule(findings, "k8s.job_backoff_exceeded"); f != nil {
			unknowns := []string{}
			if !ev.Logs.OK() {
				unknowns = append(unknowns, "the failing command's output ("+string(ev.Logs.Status)+")")
			}
			hypotheses = append(hypotheses, hypothesisFromFinding("job-retries-exhausted", f, 0.8, unknowns))
		}
		return enrichment, hypotheses
	},
}

var targetDownPlaybook = &Playbook{
	Name:    string(models.FamilyTargetDown),
	Queries: targetDownQueries,
	Interpret: func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis) {
		enrichment := interpretFromFindings("scrape target down", ev, findings)
		if job := req.Alert.Label(models.LabelJob); job != "" {
			enrichment.Next = append(enrichment.Next,
				fmt.Sprintf(`count(up{job="%s"} == 1)`, job))
		}
		return enrichment, nil
	},
}

var rolloutPlaybook = &Playbook{
	Name:    string(models.FamilyK8sRollout),
	Queries: baseQueries,
	Interpret: func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis) {
		enrichment := interpretFromFindings("rollout not progressing", ev, findings)
		var hypotheses []models.Hypothesis
		for _, moduleID := range []string{"k8s.image_pull_backoff", "k8s.crash_loop_backoff", "k8s.failed_create"} {
			if f := findingByModule(findings, moduleID); f != nil {
				hypotheses = append(hypotheses, hypothesisFromFinding("new-revision-unstartable", f, 0.75,
					[]string{"whether the previous revision is still serving"}))
				break
			}
		}
		return enrichment, hypotheses
	},
}

var observabilityPlaybook = &Playbook{
	Name:    string(models.FamilyObservability),
	Queries: targetDownQueries,
	Interpret: func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis) {
		enrichment := interpretFromFindings("observability pipeline issue", ev, findings)
		enrichment.Why = append(enrichment.Why,
			"this alert is about the monitoring stack itself; application impact is indirect")
		return enrichment, nil
	},
}

var metaPlaybook = &Playbook{
	Name:    string(models.FamilyMeta),
	Queries: func(req *evidence.Request) map[string]evidence.Query { return nil },
	Interpret: func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis) {
		return models.Enrichment{
			Label: "meta alert (" + req.Alert.Alertname + ")",
			Why:   []string{"meta alerts verify the alerting pipeline; they do not indicate a failure"},
			Next:  []string{"no action needed unless this alert stops firing"},
		}, nil
	},
}

var baselinePodPlaybook = &Playbook{
	Name:    "baseline_pod",
	Queries: baseQueries,
	Interpret: func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis) {
		enrichment := interpretFromFindings("unrecognized pod-scoped alert ("+req.Alert.Alertname+")", ev, findings)
		var hypotheses []models.Hypothesis
		if worst := worstFinding(findings); worst != nil && worst.Severity != models.SeverityInfo {
			hypotheses = append(hypotheses, hypothesisFromFinding("baseline-"+worst.ModuleID, worst, 0.5,
				[]string{"no family-specific playbook exists for " + req.Alert.Alertname}))
		}
		return enrichment, hypotheses
	},
}

var baselineNonPodPlaybook = &Playbook{
	Name:    "baseline_nonpod",
	Queries: targetDownQueries,
	Interpret: func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis) {
		enrichment := interpretFromFindings("unrecognized alert ("+req.Alert.Alertname+")", ev, findings)
		if len(enrichment.Why) == 0 {
			enrichment.Why = []string{"no pod-scoped target; evidence limited to alert labels and metrics"}
		}
		return enrichment, nil
	},
}
