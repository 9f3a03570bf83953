// Package ingest turns Alertmanager webhook payloads into queued
// investigation jobs.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/alertmanager/template"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Publisher enqueues investigation jobs on the durable queue.
type Publisher interface {
	Publish(ctx context.Context, job *models.InvestigationJob) error
}

// Index is the case-history lookup used by the freshness gate.
type Index interface {
	// LastRunTime returns the created_at of the newest run for the case,
	// and false if the case has never run.
	LastRunTime(ctx context.Context, caseID string) (time.Time, bool, error)
}

// OwnerResolver resolves a pod to its owning controller. Rollout-noisy
// alerts are re-homed to the workload before the freshness gate so the gate
// keys on the same case the pipeline persists under.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, namespace, pod string) (kind, name string, avail models.Availability)
}

// Stats summarizes one webhook delivery. Returned to the caller and logged;
// the webhook response includes it so Alertmanager operators can see drops.
type Stats struct {
	Received         int `json:"received"`
	Enqueued         int `json:"enqueued"`
	SkippedResolved  int `json:"skipped_resolved"`
	SkippedAllowlist int `json:"skipped_allowlist"`
	SkippedFreshness int `json:"skipped_freshness"`
}

// Processor converts webhook alerts into jobs and publishes them.
type Processor struct {
	cfg       *config.PipelineConfig
	publisher Publisher
	index     Index
	resolver  OwnerResolver

	// now is replaceable in tests.
	now func() time.Time
}

// NewProcessor builds a webhook processor. index may be nil; the freshness
// gate then always enqueues. resolver may be nil; rollout-noisy pod alerts
// then keep their pod identity until the pipeline resolves the owner.
func NewProcessor(cfg *config.PipelineConfig, publisher Publisher, index Index, resolver OwnerResolver) *Processor {
	return &Processor{
		cfg:       cfg,
		publisher: publisher,
		index:     index,
		resolver:  resolver,
		now:       time.Now,
	}
}

// Process handles one Alertmanager v4 payload. Each firing alert is filtered,
// converted, and published independently; a publish failure aborts the batch
// so the caller can retry the whole delivery (publish-time dedup makes the
// replay harmless).
func (p *Processor) Process(ctx context.Context, payload *template.Data) (*Stats, error) {
	stats := &Stats{}
	now := p.now()

	for i := range payload.Alerts {
		alert := toAlertInstance(&payload.Alerts[i])
		stats.Received++

		// 1. Resolved alerts carry no work.
		if !alert.Firing() {
			stats.SkippedResolved++
			continue
		}

		// 2. Allowlist filter (exact, case-sensitive).
		if !p.cfg.Allowed(alert.Alertname) {
			stats.SkippedAllowlist++
			slog.Debug("Alert dropped by allowlist", "alertname", alert.Alertname)
			continue
		}

		// 3. Identity and family. Rollout-noisy pod alerts are re-homed to
		// the owning workload here, before the freshness gate, so the gate
		// checks the case the pipeline will persist under.
		identity := models.DeriveIdentity(alert)
		family := models.DeriveFamily(alert)
		rolloutNoisy := p.cfg.IsRolloutNoisy(alert.Alertname)
		if rolloutNoisy {
			identity = p.resolveOwner(ctx, identity)
		}

		// 4. Freshness gate for rollout-noisy alertnames.
		if rolloutNoisy && p.fresh(ctx, identity, family, now) {
			stats.SkippedFreshness++
			slog.Debug("Alert suppressed by freshness gate",
				"alertname", alert.Alertname,
				"case_id", models.CaseIDFor(identity, family))
			continue
		}

		// 5. Publish with the dedup key; the stream's duplicate window
		// guarantees at most one in-flight job per (identity, family, bucket).
		job := &models.InvestigationJob{
			Identity:    identity,
			Family:      family,
			Alert:       alert,
			Window:      models.WindowEnding(now, p.cfg.TimeWindow),
			DedupBucket: models.DedupBucket(now),
			EnqueuedAt:  now,
		}
		if err := p.publisher.Publish(ctx, job); err != nil {
			return stats, fmt.Errorf("publishing job for %q: %w", alert.Alertname, err)
		}
		stats.Enqueued++
		slog.Info("Alert enqueued",
			"alertname", alert.Alertname,
			"case_id", job.CaseID(),
			"family", family,
			"dedup_bucket", job.DedupBucket)
	}

	slog.Info("Webhook processed",
		"received", stats.Received,
		"enqueued", stats.Enqueued,
		"skipped_resolved", stats.SkippedResolved,
		"skipped_allowlist", stats.SkippedAllowlist,
		"skipped_freshness", stats.SkippedFreshness)
	return stats, nil
}

// resolveOwner re-homes a pod identity to its owning workload. Resolution
// failures fall open to the pod identity; the pipeline retries resolution.
func (p *Processor) resolveOwner(ctx context.Context, identity models.Identity) models.Identity {
	if p.resolver == nil || identity.Scope != models.ScopePod {
		return identity
	}
	kind, name, avail := p.resolver.ResolveOwner(ctx, identity.Namespace, identity.Pod)
	if !avail.OK() {
		slog.Debug("Owner resolution failed at ingest, keeping pod identity",
			"namespace", identity.Namespace,
			"pod", identity.Pod,
			"reason", avail.Reason)
		return identity
	}
	return identity.WithOwner(kind, name)
}

// fresh reports whether the case ran inside the freshness window. Lookup
// failures fall open: a duplicate run is cheaper than a missed incident.
func (p *Processor) fresh(ctx context.Context, identity models.Identity, family models.Family, now time.Time) bool {
	if p.index == nil {
		return false
	}
	caseID := models.CaseIDFor(identity, family)
	last, ok, err := p.index.LastRunTime(ctx, caseID)
	if err != nil {
		slog.Warn("Freshness lookup failed, enqueueing anyway", "case_id", caseID, "error", err)
		return false
	}
	if !ok {
		return false
	}
	return now.Sub(last) < p.cfg.FreshnessWindow
}

// toAlertInstance converts a webhook alert into the immutable domain snapshot.
func toAlertInstance(a *template.Alert) *models.AlertInstance {
	inst := &models.AlertInstance{
		Fingerprint: a.Fingerprint,
		Alertname:   a.Labels[models.LabelAlertname],
		Labels:      map[string]string(a.Labels),
		Annotations: map[string]string(a.Annotations),
		StartsAt:    a.StartsAt,
		Status:      models.AlertStatus(a.Status),
	}
	if !a.EndsAt.IsZero() {
		ends := a.EndsAt
		inst.EndsAt = &ends
	}
	return inst
}
