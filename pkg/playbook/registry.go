// Package playbook maps alert families to their investigation strategy: the
// metric query set to collect and the interpreter that turns evidence plus
// findings into an enrichment and hypotheses.
//
// Interpreters are pure: no provider calls, no clock reads. Unknowns are
// preserved verbatim — an interpreter never invents identity, scope, or
// impact that the evidence does not show.
package playbook

import (
	"github.com/codeready-toolchain/tarka/pkg/evidence"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Playbook is the family-specific composition of collectors and interpreter.
type Playbook struct {
	// Name is the playbook identifier recorded on the analysis
	// (family name, or baseline_pod/baseline_nonpod for the fallbacks).
	Name string

	// Queries builds the family-scoped PromQL set for the metrics
	// collector.
	Queries func(req *evidence.Request) map[string]evidence.Query

	// Interpret consumes collected evidence and diagnostic findings and
	// produces the enrichment triple plus candidate hypotheses.
	Interpret func(req *evidence.Request, ev *models.Evidence, findings []models.Finding) (models.Enrichment, []models.Hypothesis)
}

// registry is the static family → playbook map. Adding a family is a new
// entry here, not a conditional chain.
var registry = map[models.Family]*Playbook{
	models.FamilyCPUThrottling:  cpuThrottlingPlaybook,
	models.FamilyOOMKilled:      oomKilledPlaybook,
	models.FamilyPodNotHealthy:  podNotHealthyPlaybook,
	models.FamilyHTTP5xx:        http5xxPlaybook,
	models.FamilyMemoryPressure: memoryPressurePlaybook,
	models.FamilyJobFailed:      jobFailedPlaybook,
	models.FamilyTargetDown:     targetDownPlaybook,
	models.FamilyK8sRollout:     rolloutPlaybook,
	models.FamilyObservability:  observabilityPlaybook,
	models.FamilyMeta:           metaPlaybook,
}

// ForFamily returns the playbook for a family. Unrecognized families route
// to baseline_pod for pod-scoped identities and baseline_nonpod otherwise.
func ForFamily(family models.Family, id models.Identity) *Playbook {
	if pb, ok := registry[family]; ok {
		return pb
	}
	switch id.Scope {
	case models.ScopePod, models.ScopeWorkload, models.ScopeJob:
		return baselinePodPlaybook
	default:
		return baselineNonPodPlaybook
	}
}
