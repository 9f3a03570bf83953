package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// IdentityScope describes which canonical tuple an Identity was derived from.
type IdentityScope string

// Identity scope constants.
const (
	ScopePod      IdentityScope = "pod"
	ScopeWorkload IdentityScope = "workload"
	ScopeJob      IdentityScope = "job"
	ScopeNonPod   IdentityScope = "nonpod"
	ScopeUnknown  IdentityScope = "unknown"
)

// Ephemeral label keys stripped when building non-pod identities. These churn
// per scrape or per replica and would fragment dedup keys.
var ephemeralLabels = map[string]bool{
	"pod":                     true,
	"instance":                true,
	"endpoint":                true,
	"pod_ip":                  true,
	"uid":                     true,
	"container_id":            true,
	"prometheus_replica":      true,
	"replicaset":              true,
	"controller_revision_hash": true,
}

// Descriptive label keys stripped alongside the ephemeral ones. They describe
// the alert, not the target, so an alert carrying only these has no identity.
var descriptiveLabels = map[string]bool{
	LabelAlertname: true,
	LabelSeverity:  true,
	LabelTeam:      true,
	"alertstate":   true,
	"prometheus":   true,
}

// Identity is the canonical target tuple an investigation is about.
// Exactly one of the scope-specific shapes is populated, per Scope.
type Identity struct {
	Scope     IdentityScope `json:"scope"`
	Cluster   string        `json:"cluster,omitempty"`
	Namespace string        `json:"namespace,omitempty"`
	Pod       string        `json:"pod,omitempty"`
	// Workload identity (Scope == workload): owning controller.
	Kind  string `json:"kind,omitempty"`
	Owner string `json:"owner,omitempty"`
	// Job identity (Scope == job).
	Job string `json:"job,omitempty"`
	// Non-pod identity: labels minus ephemeral keys.
	Labels map[string]string `json:"labels,omitempty"`
}

// DeriveIdentity builds the identity for an alert from its labels alone.
// Rollout-noisy alerts are re-homed to the owning workload by the caller
// (ingest processor, or the pipeline's resolve stage as a fallback).
func DeriveIdentity(a *AlertInstance) Identity {
	cluster := a.Label(LabelCluster)
	ns := a.Label(LabelNamespace)

	if job := firstNonEmpty(a.Label(LabelJobName), jobLabelIfBatch(a)); job != "" && ns != "" {
		return Identity{Scope: ScopeJob, Cluster: cluster, Namespace: ns, Job: job}
	}
	if pod := a.Label(LabelPod); pod != "" && ns != "" {
		return Identity{Scope: ScopePod, Cluster: cluster, Namespace: ns, Pod: pod}
	}
	if wl := a.Label(LabelWorkload); wl != "" && ns != "" {
		return Identity{Scope: ScopeWorkload, Cluster: cluster, Namespace: ns, Owner: wl}
	}

	labels := make(map[string]string, len(a.Labels))
	for k, v := range a.Labels {
		if ephemeralLabels[k] || descriptiveLabels[k] {
			continue
		}
		labels[k] = v
	}
	if len(labels) == 0 {
		return Identity{Scope: ScopeUnknown, Cluster: cluster}
	}
	return Identity{Scope: ScopeNonPod, Cluster: cluster, Namespace: ns, Labels: labels}
}

// jobLabelIfBatch returns the job label only for batch-job alerts. The plain
// "job" label is a Prometheus scrape-job name on most alerts, not a K8s Job.
func jobLabelIfBatch(a *AlertInstance) string {
	if strings.HasPrefix(a.Alertname, "KubeJob") || strings.HasPrefix(a.Alertname, "KubernetesJob") {
		return a.Label(LabelJob)
	}
	return ""
}

// WithOwner returns a workload-scoped copy of a pod identity, used after
// ownerReferences resolution for rollout-noisy alerts.
func (id Identity) WithOwner(kind, owner string) Identity {
	return Identity{
		Scope:     ScopeWorkload,
		Cluster:   id.Cluster,
		Namespace: id.Namespace,
		Kind:      kind,
		Owner:     owner,
	}
}

// Known reports whether the identity names a concrete target.
func (id Identity) Known() bool {
	return id.Scope != ScopeUnknown
}

// Key returns the stable string form used in queue dedup keys and hashes.
// Label maps are serialized in sorted key order so the key is deterministic.
func (id Identity) Key() string {
	switch id.Scope {
	case ScopePod:
		return fmt.Sprintf("pod/%s/%s/%s", id.Cluster, id.Namespace, id.Pod)
	case ScopeWorkload:
		return fmt.Sprintf("workload/%s/%s/%s/%s", id.Cluster, id.Namespace, id.Kind, id.Owner)
	case ScopeJob:
		return fmt.Sprintf("job/%s/%s/%s", id.Cluster, id.Namespace, id.Job)
	case ScopeNonPod:
		keys := make([]string, 0, len(id.Labels))
		for k := range id.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("nonpod/" + id.Cluster)
		for _, k := range keys {
			b.WriteString("/" + k + "=" + id.Labels[k])
		}
		return b.String()
	default:
		return "unknown/" + id.Cluster
	}
}

// Hash returns a short stable hex digest of the identity key, used in object
// store keys and case IDs.
func (id Identity) Hash() string {
	sum := sha256.Sum256([]byte(id.Key()))
	return hex.EncodeToString(sum[:8])
}

// String implements fmt.Stringer with a human-readable form.
func (id Identity) String() string {
	switch id.Scope {
	case ScopePod:
		return id.Namespace + "/" + id.Pod
	case ScopeWorkload:
		return id.Namespace + "/" + strings.ToLower(id.Kind) + "/" + id.Owner
	case ScopeJob:
		return id.Namespace + "/job/" + id.Job
	case ScopeNonPod:
		return id.Key()
	default:
		return "unknown"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
