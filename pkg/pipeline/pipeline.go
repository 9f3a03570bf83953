// Package pipeline runs one investigation end to end: an 11-stage state
// machine from alert normalization through evidence collection, diagnostics,
// playbook interpretation, scoring, rendering, and persistence.
//
// Stage contract: stages execute in strict order; every stage has a bounded
// timeout; a failure or timeout in a non-critical stage marks its outputs
// unavailable and the run continues. Only Persist failures fail the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/diag"
	"github.com/codeready-toolchain/tarka/pkg/evidence"
	"github.com/codeready-toolchain/tarka/pkg/llm"
	"github.com/codeready-toolchain/tarka/pkg/models"
	"github.com/codeready-toolchain/tarka/pkg/playbook"
	"github.com/codeready-toolchain/tarka/pkg/report"
	"github.com/codeready-toolchain/tarka/pkg/scoring"
)

// Sink persists a completed investigation: artifact write plus index upsert.
type Sink interface {
	Persist(ctx context.Context, inv *models.Investigation, dedupBucket int64) error
}

// Index supplies historical recurrence for noise scoring. Optional.
type Index interface {
	RecurrenceCount(ctx context.Context, caseID string, since time.Time) (int, error)
}

// Per-stage budgets. Collection stages get generous slices; pure stages get a
// guard value they should never approach.
var stageBudgets = map[string]time.Duration{
	"resolve":     10 * time.Second,
	"k8s":         15 * time.Second,
	"metrics":     20 * time.Second,
	"logs":        20 * time.Second,
	"change":      25 * time.Second,
	"diagnostics": 5 * time.Second,
	"playbook":    5 * time.Second,
	"score":       5 * time.Second,
	"llm":         35 * time.Second,
	"render":      5 * time.Second,
	"persist":     30 * time.Second,
}

const (
	persistAttempts = 3
	persistBackoff  = time.Second
)

// Pipeline executes investigations. Safe for concurrent use; all run state
// lives on the stack of Run.
type Pipeline struct {
	cfg       *config.PipelineConfig
	providers *evidence.Providers
	sink      Sink
	index     Index
	enricher  *llm.Enricher

	// GitHubRepos to correlate changes against; empty disables the slot.
	GitHubRepos []string
}

// New builds a pipeline. index and enricher may be nil.
func New(cfg *config.PipelineConfig, p *evidence.Providers, sink Sink, index Index, enricher *llm.Enricher) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		providers: p,
		sink:      sink,
		index:     index,
		enricher:  enricher,
	}
}

// run carries the mutable state of one investigation through the stages.
type run struct {
	job        *models.InvestigationJob
	req        *evidence.Request
	inv        *models.Investigation
	findings   []models.Finding
	enrichment models.Enrichment
	hypotheses []models.Hypothesis
	playbook   *playbook.Playbook
}

// Run executes all stages for one job and returns the persisted
// investigation. The returned error is non-nil only when Persist ultimately
// failed; the caller naks the job for redelivery in that case.
func (pl *Pipeline) Run(ctx context.Context, job *models.InvestigationJob) (*models.Investigation, error) {
	ctx, cancel := context.WithTimeout(ctx, pl.cfg.Budget)
	defer cancel()

	started := time.Now().UTC()
	r := &run{job: job}

	// 1. Normalize: identity, family, and window are computed at ingestion;
	// re-derive anything missing so CLI-built jobs work too.
	pl.normalize(r, started)

	slog.Info("Investigation started",
		"run_id", r.inv.RunID,
		"case_id", r.inv.CaseID,
		"alertname", job.Alert.Alertname,
		"identity", r.req.Identity.String(),
		"family", r.req.Family)

	// 2. Resolve target: rollout-noisy pod alerts re-home to the owning
	// workload so churned pods share one case.
	pl.stage(ctx, r, "resolve", pl.resolveTarget)

	// 3-5. Evidence collection.
	pl.stage(ctx, r, "k8s", func(ctx context.Context, r *run) error {
		evidence.KubeCollector{}.Collect(ctx, pl.providers, r.req, r.inv.Evidence)
		return nil
	})
	pl.stage(ctx, r, "metrics", func(ctx context.Context, r *run) error {
		evidence.MetricsCollector{Queries: r.playbook.Queries(r.req)}.Collect(ctx, pl.providers, r.req, r.inv.Evidence)
		return nil
	})
	pl.stage(ctx, r, "logs", func(ctx context.Context, r *run) error {
		evidence.LogsCollector{}.Collect(ctx, pl.providers, r.req, r.inv.Evidence)
		return nil
	})

	// 6. Change correlation: optional AWS and GitHub slots, then the pure
	// cross-source correlator.
	pl.stage(ctx, r, "change", func(ctx context.Context, r *run) error {
		evidence.AWSCollector{}.Collect(ctx, pl.providers, r.req, r.inv.Evidence)
		evidence.GitHubCollector{}.Collect(ctx, pl.providers, r.req, r.inv.Evidence)
		evidence.ChangeCollector{}.Collect(ctx, pl.providers, r.req, r.inv.Evidence)
		return nil
	})

	// 7. Diagnostics.
	pl.stage(ctx, r, "diagnostics", func(_ context.Context, r *run) error {
		r.findings = diag.RunAll(r.inv.Evidence)
		return nil
	})

	// 8. Playbook interpretation.
	pl.stage(ctx, r, "playbook", func(_ context.Context, r *run) error {
		r.enrichment, r.hypotheses = r.playbook.Interpret(r.req, r.inv.Evidence, r.findings)
		return nil
	})

	// 9. Score and classify.
	pl.stage(ctx, r, "score", func(ctx context.Context, r *run) error {
		pl.score(ctx, r)
		return nil
	})

	// Optional LLM enrichment; runs on a redacted evidence copy and cannot
	// touch deterministic fields.
	pl.stage(ctx, r, "llm", func(ctx context.Context, r *run) error {
		r.inv.Analysis.LLM = pl.enricher.Enrich(ctx, r.inv)
		return nil
	})

	// 10. Render.
	pl.stage(ctx, r, "render", func(_ context.Context, r *run) error {
		r.inv.ReportMarkdown = report.Markdown(r.inv)
		return nil
	})

	// 11. Persist, with bounded retry; the HEAD-before-PUT guard in the sink
	// makes redelivered jobs idempotent.
	if err := pl.persist(ctx, r); err != nil {
		return r.inv, fmt.Errorf("persisting run %s: %w", r.inv.RunID, err)
	}

	slog.Info("Investigation completed",
		"run_id", r.inv.RunID,
		"classification", r.inv.Analysis.Scores.Classification,
		"impact", r.inv.Analysis.Scores.Impact,
		"duration", time.Since(started).Round(time.Millisecond))
	return r.inv, nil
}

// stage runs fn under the stage budget with panic containment. A panic or
// error becomes a stage_error on the analysis; the pipeline continues.
func (pl *Pipeline) stage(ctx context.Context, r *run, name string, fn func(context.Context, *run) error) {
	if ctx.Err() != nil {
		r.inv.Analysis.StageErrors = append(r.inv.Analysis.StageErrors,
			models.StageError{Stage: name, Reason: "pipeline budget exhausted"})
		return
	}

	budget, ok := stageBudgets[name]
	if !ok {
		budget = 10 * time.Second
	}
	stageCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return fn(stageCtx, r)
	}()
	if err != nil {
		slog.Error("Pipeline stage failed", "stage", name, "run_id", r.inv.RunID, "error", err)
		r.inv.Analysis.StageErrors = append(r.inv.Analysis.StageErrors,
			models.StageError{Stage: name, Reason: err.Error()})
	}
}

// normalize fills run state from the job (stage 1, infallible).
func (pl *Pipeline) normalize(r *run, now time.Time) {
	job := r.job
	if job.Window.End.IsZero() {
		end := job.Alert.StartsAt
		if end.IsZero() {
			end = now
		}
		job.Window = models.WindowEnding(end, pl.cfg.TimeWindow)
	}
	if job.Identity.Scope == "" {
		job.Identity = models.DeriveIdentity(job.Alert)
	}
	if job.Family == "" {
		job.Family = models.DeriveFamily(job.Alert)
	}
	if job.DedupBucket == 0 {
		job.DedupBucket = models.DedupBucket(now)
	}

	r.req = &evidence.Request{
		Alert:       job.Alert,
		Identity:    job.Identity,
		Family:      job.Family,
		Window:      job.Window,
		GitHubRepos: pl.GitHubRepos,
	}
	r.playbook = playbook.ForFamily(job.Family, job.Identity)
	r.inv = &models.Investigation{
		CaseID:    job.CaseID(),
		RunID:     uuid.NewString(),
		Alert:     job.Alert,
		Identity:  job.Identity,
		Family:    job.Family,
		Evidence:  models.NewEvidence(),
		Analysis:  &models.Analysis{},
		CreatedAt: now,
	}
}

// resolveTarget is stage 2: owner-chain resolution for rollout-noisy alerts.
func (pl *Pipeline) resolveTarget(ctx context.Context, r *run) error {
	id := r.req.Identity
	if id.Scope != models.ScopePod || !pl.cfg.IsRolloutNoisy(r.job.Alert.Alertname) {
		return nil
	}
	if pl.providers == nil || pl.providers.Kube == nil {
		return nil
	}
	kind, name, avail := pl.providers.Kube.ResolveOwner(ctx, id.Namespace, id.Pod)
	if !avail.OK() {
		reason := avail.Reason
		if reason == "" {
			reason = "no controller ownerReferences"
		}
		return fmt.Errorf("owner resolution for %s/%s: %s", id.Namespace, id.Pod, reason)
	}

	resolved := id.WithOwner(kind, name)
	r.req.Identity = resolved
	r.inv.Identity = resolved
	// The case follows the workload so churned pods dedup together.
	r.inv.CaseID = models.CaseIDFor(resolved, r.req.Family)
	r.playbook = playbook.ForFamily(r.req.Family, resolved)
	return nil
}

// score is stage 9: features, blocked scenarios, the triple, and the
// decision assembly.
func (pl *Pipeline) score(ctx context.Context, r *run) {
	features := extractFeatures(r.inv.Evidence, r.findings)
	if pl.index != nil {
		since := r.inv.CreatedAt.Add(-24 * time.Hour)
		if n, err := pl.index.RecurrenceCount(ctx, r.inv.CaseID, since); err == nil {
			features.Recurrence24h = n
		} else {
			slog.Warn("Recurrence lookup failed, scoring without it",
				"case_id", r.inv.CaseID, "error", err)
		}
	}

	blocked := scoring.DetectBlocked(r.req.Identity, r.inv.Evidence)
	scores := scoring.Score(scoring.Input{
		Alert:      r.job.Alert,
		Identity:   r.req.Identity,
		Evidence:   r.inv.Evidence,
		Findings:   r.findings,
		Hypotheses: r.hypotheses,
		Features:   features,
		Blocked:    blocked,
	})

	a := r.inv.Analysis
	a.Features = features
	a.Blocked = blocked
	a.Scores = scores
	a.Findings = r.findings
	a.Hypotheses = r.hypotheses
	a.Enrichment = &r.enrichment
	a.Decision = pl.buildDecision(r, blocked)
	a.Verdict = a.Decision.Label
	a.RCA = topRootCause(r.hypotheses)
	change := r.inv.Evidence.Change
	a.Change = &change
}

// buildDecision assembles the always-present decision triple, folding in the
// honesty-contract lines for each blocked scenario.
func (pl *Pipeline) buildDecision(r *run, blocked []models.BlockedScenario) models.Decision {
	d := models.Decision{
		Label: r.enrichment.Label,
		Why:   append([]string{}, r.enrichment.Why...),
		Next:  append([]string{}, r.enrichment.Next...),
	}

	for _, scenario := range blocked {
		switch scenario {
		case models.BlockedIdentityMissing:
			d.Label = "target identity unknown (" + r.job.Alert.Alertname + ")"
			d.Why = append(d.Why, "alert labels name no namespace/pod/workload target")
			d.Next = append(d.Next, locatePodCommand(r.job.Alert))
		case models.BlockedK8sUnavailable:
			d.Why = append(d.Why, "kubernetes evidence unavailable ("+r.inv.Evidence.Kube.Reason+"); metrics and logs below are still valid")
			d.Next = append(d.Next, "kubectl get pods -n "+nsOrAll(r.req.Identity)+" -o wide")
		case models.BlockedLogsIndeterminate:
			d.Why = append(d.Why, "logs unavailable ("+r.inv.Evidence.Logs.Reason+"), which is different from the pod logging nothing")
			d.Next = append(d.Next, "kubectl logs -n "+nsOrAll(r.req.Identity)+" "+podOrPrefix(r.req.Identity)+" --tail=200")
		case models.BlockedMetricsUnavailable:
			d.Why = append(d.Why, "metrics unavailable ("+r.inv.Evidence.Metrics.Reason+"); blast radius is unknown")
			d.Next = append(d.Next, `count(up) by (job)`)
		}
	}

	if d.Label == "" {
		d.Label = r.job.Alert.Alertname
	}
	return d
}

// persist is stage 11 with retry. Each attempt gets the stage budget; backoff
// doubles between attempts.
func (pl *Pipeline) persist(ctx context.Context, r *run) error {
	var lastErr error
	backoff := persistBackoff
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, stageBudgets["persist"])
		lastErr = pl.sink.Persist(attemptCtx, r.inv, r.job.DedupBucket)
		cancel()
		if lastErr == nil {
			return nil
		}
		slog.Warn("Persist attempt failed",
			"run_id", r.inv.RunID, "attempt", attempt, "error", lastErr)
		if attempt == persistAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%w (last persist error: %v)", ctx.Err(), lastErr)
		}
		backoff *= 2
	}
	return lastErr
}

// extractFeatures derives the scalar facts the scorer and renderer consume.
func extractFeatures(ev *models.Evidence, findings []models.Finding) models.Features {
	f := models.Features{
		DiagnosticFindings: len(findings),
	}

	for _, p := range ev.Logs.Parsed {
		if p.Kind != models.PatternStackFrame {
			f.ErrorLogPatterns += p.Count
		}
	}

	if ev.Kube.Pod != nil {
		for _, c := range ev.Kube.Pod.Containers {
			f.RestartsLastHour += int(c.RestartCount)
		}
	}
	if wl := ev.Kube.Workload; wl != nil && wl.Replicas > 0 {
		ratio := float64(wl.AvailableReplicas) / float64(wl.Replicas)
		f.ReplicaAvailRatio = &ratio
	}
	if job := ev.Kube.Job; job != nil {
		f.JobMetrics = &models.JobMetrics{
			Attempts:     job.Failed + job.Succeeded,
			BackoffLimit: job.BackoffLimit,
			ExitReason:   job.FailureReason,
			ErrorCount:   f.ErrorLogPatterns,
		}
	}

	if s, ok := ev.Metrics.Series[diag.SeriesRestarts]; ok && s.Max >= 1 {
		f.RestartsLastHour = int(s.Max)
	}
	if s, ok := ev.Metrics.Series[diag.SeriesHTTP5xxRate]; ok && len(s.Points) > 0 {
		v := s.Latest
		f.HTTP5xxRate = &v
	}
	if s, ok := ev.Metrics.Series[diag.SeriesMemoryRatio]; ok && len(s.Points) > 0 {
		v := s.Max
		f.MemoryUsageRatio = &v
	}
	if s, ok := ev.Metrics.Series[diag.SeriesThrottlePct]; ok && len(s.Points) > 0 {
		v := s.Max
		f.ThrottlePct = &v
	}
	return f
}

func topRootCause(hs []models.Hypothesis) string {
	best := ""
	bestConf := 0.0
	for _, h := range hs {
		if h.Confidence > bestConf {
			best, bestConf = h.RootCause, h.Confidence
		}
	}
	return best
}

// locatePodCommand builds a concrete command to find the target when the
// alert labels name none.
func locatePodCommand(a *models.AlertInstance) string {
	for _, key := range []string{"app", "service", "deployment", models.LabelJob} {
		if v := a.Label(key); v != "" {
			return fmt.Sprintf("kubectl get pods --all-namespaces -o wide | grep %s", v)
		}
	}
	return fmt.Sprintf("kubectl get pods --all-namespaces -o wide | grep -i %s",
		strings.ToLower(a.Alertname))
}

func nsOrAll(id models.Identity) string {
	if id.Namespace != "" {
		return id.Namespace
	}
	return "default"
}

func podOrPrefix(id models.Identity) string {
	switch id.Scope {
	case models.ScopePod:
		return id.Pod
	case models.ScopeWorkload:
		return "deployment/" + id.Owner
	case models.ScopeJob:
		return "job/" + id.Job
	default:
		return "<pod>"
	}
}
