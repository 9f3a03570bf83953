package models

import "strings"

// Family is the categorical alert grouping used to select a playbook.
type Family string

// Family constants.
const (
	FamilyCPUThrottling  Family = "cpu_throttling"
	FamilyOOMKilled      Family = "oom_killed"
	FamilyPodNotHealthy  Family = "pod_not_healthy"
	FamilyHTTP5xx        Family = "http_5xx"
	FamilyMemoryPressure Family = "memory_pressure"
	FamilyJobFailed      Family = "job_failed"
	FamilyTargetDown     Family = "target_down"
	FamilyK8sRollout     Family = "k8s_rollout"
	FamilyObservability  Family = "observability_pipeline"
	FamilyMeta           Family = "meta"
	FamilyGeneric        Family = "generic"
)

// exactFamilies maps well-known alertnames to families.
var exactFamilies = map[string]Family{
	"CPUThrottlingHigh":             FamilyCPUThrottling,
	"KubernetesContainerOomKiller":  FamilyOOMKilled,
	"KubeContainerOOMKilled":        FamilyOOMKilled,
	"KubernetesPodNotHealthy":       FamilyPodNotHealthy,
	"KubePodNotReady":               FamilyPodNotHealthy,
	"KubePodCrashLooping":           FamilyPodNotHealthy,
	"KubernetesMemoryPressure":      FamilyMemoryPressure,
	"KubeMemoryOvercommit":          FamilyMemoryPressure,
	"KubeJobFailed":                 FamilyJobFailed,
	"KubernetesJobFailed":           FamilyJobFailed,
	"KubeJobNotCompleted":           FamilyJobFailed,
	"TargetDown":                    FamilyTargetDown,
	"KubeDeploymentRolloutStuck":    FamilyK8sRollout,
	"KubeStatefulSetUpdateNotRolledOut": FamilyK8sRollout,
	"PrometheusRuleFailures":        FamilyObservability,
	"PrometheusNotIngestingSamples": FamilyObservability,
	"AlertmanagerFailedToSendAlerts": FamilyObservability,
	"Watchdog":                      FamilyMeta,
	"InfoInhibitor":                 FamilyMeta,
}

// DeriveFamily infers the family from alertname and labels.
func DeriveFamily(a *AlertInstance) Family {
	if f, ok := exactFamilies[a.Alertname]; ok {
		return f
	}
	name := strings.ToLower(a.Alertname)
	switch {
	case strings.Contains(name, "throttl") && strings.Contains(name, "cpu"):
		return FamilyCPUThrottling
	case strings.Contains(name, "oom"):
		return FamilyOOMKilled
	case strings.Contains(name, "5xx") || strings.Contains(name, "errorrate"):
		return FamilyHTTP5xx
	case strings.Contains(name, "memory"):
		return FamilyMemoryPressure
	case strings.Contains(name, "jobfailed") || strings.Contains(name, "jobnotcompleted"):
		return FamilyJobFailed
	case strings.Contains(name, "rollout"):
		return FamilyK8sRollout
	case strings.Contains(name, "prometheus") || strings.Contains(name, "alertmanager") || strings.Contains(name, "loki"):
		return FamilyObservability
	case strings.Contains(name, "notready") || strings.Contains(name, "nothealthy") || strings.Contains(name, "crashloop"):
		return FamilyPodNotHealthy
	default:
		return FamilyGeneric
	}
}

// DefaultRolloutNoisyAlertnames are alertnames that churn during normal
// rollouts. They get workload identity plus the 1h freshness gate.
var DefaultRolloutNoisyAlertnames = []string{
	"KubernetesPodNotHealthy",
	"KubernetesContainerOomKiller",
}
