// Package evidence populates the typed evidence slots of an investigation.
//
// Collectors are deterministic, idempotent strategy objects: given an alert
// target and a time window they fill their slot best-effort via the provider
// adapters, always recording the provider's availability status. A populated
// slot is never overwritten.
package evidence

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/codeready-toolchain/tarka/pkg/logparse"
	"github.com/codeready-toolchain/tarka/pkg/models"
	"github.com/codeready-toolchain/tarka/pkg/providers"
)

// Providers bundles the capability adapters a collector may use. Nil entries
// mean the capability is not configured.
type Providers struct {
	Metrics providers.Metrics
	Kube    providers.Kube
	Logs    providers.Logs
	AWS     providers.AWS
	GitHub  providers.GitHub
}

// Request describes what to collect evidence about.
type Request struct {
	Alert    *models.AlertInstance
	Identity models.Identity
	Family   models.Family
	Window   models.TimeWindow

	// GitHubRepos are the repos to correlate changes against.
	GitHubRepos []string
}

// Collector fills one evidence slot.
type Collector interface {
	Name() string
	Collect(ctx context.Context, p *Providers, req *Request, ev *models.Evidence)
}

// Query is one named PromQL query a playbook asks the metrics collector to
// run.
type Query struct {
	PromQL string
	Unit   string
}

// logTailLimit bounds how many lines one investigation pulls from the log
// store.
const logTailLimit = 500

// KubeCollector fills the k8s slot: target pod or workload or job snapshot,
// plus events.
type KubeCollector struct{}

// Name implements Collector.
func (KubeCollector) Name() string { return "k8s" }

// Collect implements Collector.
func (KubeCollector) Collect(ctx context.Context, p *Providers, req *Request, ev *models.Evidence) {
	if ev.Kube.OK() {
		return
	}
	if p == nil || p.Kube == nil {
		ev.Kube.Availability = models.AvailUnavailable(providers.ReasonNotConfigured)
		return
	}
	kube := p.Kube

	id := req.Identity
	switch id.Scope {
	case models.ScopePod:
		pod, avail := kube.Pod(ctx, id.Namespace, id.Pod)
		ev.Kube.Availability = avail
		ev.Kube.Pod = pod
		if pod != nil && pod.OwnerKind != "" {
			if wl, wlAvail := kube.Workload(ctx, id.Namespace, ownerWorkloadKind(pod.OwnerKind), ownerWorkloadName(ctx, kube, id.Namespace, pod)); wlAvail.OK() {
				ev.Kube.Workload = wl
			}
		}
		if events, evAvail := kube.Events(ctx, id.Namespace, id.Pod); evAvail.OK() {
			ev.Kube.Events = events
		}
	case models.ScopeWorkload:
		wl, avail := kube.Workload(ctx, id.Namespace, id.Kind, id.Owner)
		ev.Kube.Availability = avail
		ev.Kube.Workload = wl
		if events, evAvail := kube.Events(ctx, id.Namespace, id.Owner); evAvail.OK() {
			ev.Kube.Events = events
		}
	case models.ScopeJob:
		job, avail := kube.Job(ctx, id.Namespace, id.Job)
		ev.Kube.Availability = avail
		ev.Kube.Job = job
		if events, evAvail := kube.Events(ctx, id.Namespace, id.Job); evAvail.OK() {
			ev.Kube.Events = events
		}
	default:
		ev.Kube.Availability = models.AvailUnavailable("no k8s target for identity scope " + string(id.Scope))
	}
}

// ownerWorkloadKind maps a pod's controller kind to the workload kind worth
// snapshotting; a ReplicaSet owner is looked at as its Deployment.
func ownerWorkloadKind(kind string) string {
	if kind == "ReplicaSet" {
		return "Deployment"
	}
	return kind
}

func ownerWorkloadName(ctx context.Context, kube providers.Kube, namespace string, pod *models.PodSnapshot) string {
	if pod.OwnerKind != "ReplicaSet" {
		return pod.OwnerName
	}
	if kind, name, avail := kube.ResolveOwner(ctx, namespace, pod.Name); avail.OK() && kind == "Deployment" {
		return name
	}
	// Fall back to trimming the ReplicaSet hash suffix.
	if i := strings.LastIndex(pod.OwnerName, "-"); i > 0 {
		return pod.OwnerName[:i]
	}
	return pod.OwnerName
}

// MetricsCollector runs the family-scoped query set chosen by the playbook.
type MetricsCollector struct {
	Queries map[string]Query
	Step    time.Duration
}

// Name implements Collector.
func (MetricsCollector) Name() string { return "metrics" }

// Collect implements Collector.
func (c MetricsCollector) Collect(ctx context.Context, p *Providers, req *Request, ev *models.Evidence) {
	if ev.Metrics.OK() {
		return
	}
	if p == nil || p.Metrics == nil {
		ev.Metrics.Availability = models.AvailUnavailable(providers.ReasonNotConfigured)
		return
	}
	if len(c.Queries) == 0 {
		ev.Metrics.Availability = models.AvailEmpty()
		return
	}
	step := c.Step
	if step <= 0 {
		step = time.Minute
	}

	// Queries run in sorted name order so the recorded failure reason is
	// stable across deliveries of the same job.
	names := make([]string, 0, len(c.Queries))
	for name := range c.Queries {
		names = append(names, name)
	}
	sort.Strings(names)

	series := make(map[string]models.MetricSeries, len(c.Queries))
	var firstFailure models.Availability
	okCount := 0
	for _, name := range names {
		q := c.Queries[name]
		mat, avail := p.Metrics.Range(ctx, q.PromQL, req.Window, step)
		switch avail.Status {
		case models.SlotOK:
			series[name] = providers.SeriesFromMatrix(q.PromQL, q.Unit, mat)
			okCount++
		case models.SlotEmpty:
			series[name] = models.MetricSeries{Query: q.PromQL, Unit: q.Unit}
		default:
			if firstFailure.Reason == "" {
				firstFailure = avail
			}
		}
	}
	switch {
	case okCount > 0:
		ev.Metrics.Availability = models.AvailOK()
		ev.Metrics.Series = series
	case firstFailure.Reason != "":
		ev.Metrics.Availability = firstFailure
	default:
		ev.Metrics.Availability = models.AvailEmpty()
		ev.Metrics.Series = series
	}
}

// LogsCollector tails the target pod's logs, falling back to the historical
// pod-name-prefix query when the live pod is gone, then runs the
// deterministic parser.
type LogsCollector struct {
	// HistoricalPrefix overrides the derived pod-name prefix for the
	// fallback query (set for TTL-deleted job pods).
	HistoricalPrefix string
}

// Name implements Collector.
func (LogsCollector) Name() string { return "logs" }

// Collect implements Collector.
func (c LogsCollector) Collect(ctx context.Context, p *Providers, req *Request, ev *models.Evidence) {
	if ev.Logs.OK() {
		return
	}
	if p == nil || p.Logs == nil {
		ev.Logs.Availability = models.AvailUnavailable(providers.ReasonNotConfigured)
		return
	}
	logs := p.Logs
	ev.Logs.Backend = logs.Backend()

	id := req.Identity
	container := req.Alert.Label(models.LabelContainer)

	if id.Scope == models.ScopePod {
		entries, avail := logs.Tail(ctx, id.Namespace, id.Pod, container, req.Window, logTailLimit)
		ev.Logs.Query = "pod=" + id.Pod
		if avail.Status != models.SlotUnavailable || avail.Reason != providers.ReasonNotFound {
			c.record(ev, entries, avail, false)
			return
		}
		// Live pod is gone; fall through to the historical query.
	}

	prefix := c.historicalPrefix(req)
	if prefix == "" {
		ev.Logs.Availability = models.AvailUnavailable("no pod target for logs")
		return
	}
	entries, avail := logs.TailHistorical(ctx, id.Namespace, prefix, req.Window, logTailLimit)
	ev.Logs.Query = "pod_prefix=" + prefix
	c.record(ev, entries, avail, true)
}

func (c LogsCollector) record(ev *models.Evidence, entries []models.LogEntry, avail models.Availability, historical bool) {
	ev.Logs.Availability = avail
	ev.Logs.Entries = entries
	ev.Logs.Historical = historical
	if avail.OK() {
		ev.Logs.Parsed = logparse.Parse(entries)
	}
}

// historicalPrefix derives the pod-name prefix for the retention-wide query.
func (c LogsCollector) historicalPrefix(req *Request) string {
	if c.HistoricalPrefix != "" {
		return c.HistoricalPrefix
	}
	switch req.Identity.Scope {
	case models.ScopeJob:
		return req.Identity.Job + "-"
	case models.ScopeWorkload:
		return req.Identity.Owner + "-"
	case models.ScopePod:
		// Strip the trailing random suffix: web-7d4b9c-xk2p1 → web-7d4b9c-.
		pod := req.Identity.Pod
		if i := strings.LastIndex(pod, "-"); i > 0 {
			return pod[:i+1]
		}
		return pod
	default:
		return ""
	}
}

// AWSCollector fills the optional AWS slot.
type AWSCollector struct{}

// Name implements Collector.
func (AWSCollector) Name() string { return "aws" }

// Collect implements Collector.
func (AWSCollector) Collect(ctx context.Context, p *Providers, req *Request, ev *models.Evidence) {
	if ev.AWS != nil && ev.AWS.OK() {
		return
	}
	if p == nil || p.AWS == nil {
		return // optional slot stays nil when the capability is off
	}
	snapshot, _ := p.AWS.Snapshot(ctx)
	ev.AWS = snapshot
}

// GitHubCollector fills the optional GitHub slot with recent commits and
// workflow runs inside the change-correlation window.
type GitHubCollector struct{}

// Name implements Collector.
func (GitHubCollector) Name() string { return "github" }

// Collect implements Collector.
func (GitHubCollector) Collect(ctx context.Context, p *Providers, req *Request, ev *models.Evidence) {
	if ev.GitHub != nil && ev.GitHub.OK() {
		return
	}
	if p == nil || p.GitHub == nil || len(req.GitHubRepos) == 0 {
		return
	}
	gh := p.GitHub
	out := &models.GitHubEvidence{}
	anyOK := false
	var failure models.Availability
	for _, repo := range req.GitHubRepos {
		commits, avail := gh.Commits(ctx, repo, req.Window.Start)
		switch avail.Status {
		case models.SlotOK:
			anyOK = true
			out.Repo = repo
			out.Commits = append(out.Commits, commits...)
		case models.SlotUnavailable:
			failure = avail
		}
		runs, avail := gh.WorkflowRuns(ctx, repo, req.Window.Start)
		if avail.OK() {
			anyOK = true
			out.Repo = repo
			out.WorkflowRuns = append(out.WorkflowRuns, runs...)
		}
	}
	switch {
	case anyOK:
		out.Availability = models.AvailOK()
	case failure.Reason != "":
		out.Availability = failure
	default:
		out.Availability = models.AvailEmpty()
	}
	ev.GitHub = out
}

// ChangeCollector derives recent-change signals from already-collected
// evidence: k8s events that indicate a rollout, CloudTrail writes, and
// GitHub commits/workflow runs. It issues no provider calls of its own and
// must run after the other collectors.
type ChangeCollector struct{}

// Name implements Collector.
func (ChangeCollector) Name() string { return "change" }

// rolloutEventReasons are event reasons that indicate a deploy-time change
// rather than a steady-state failure.
var rolloutEventReasons = map[string]bool{
	"ScalingReplicaSet":   true,
	"SuccessfulCreate":    true,
	"SuccessfulDelete":    true,
	"Pulled":              true,
	"Killing":             true,
	"SuccessfulRescale":   true,
	"DeploymentRollback":  true,
	"NewReplicaSetScaled": true,
}

// Collect implements Collector.
func (ChangeCollector) Collect(ctx context.Context, p *Providers, req *Request, ev *models.Evidence) {
	if ev.Change.OK() {
		return
	}
	var signals []models.ChangeSignal

	for _, record := range ev.Kube.Events {
		if !rolloutEventReasons[record.Reason] {
			continue
		}
		if record.LastSeen.Before(req.Window.Start) || record.LastSeen.After(req.Window.End) {
			continue
		}
		signals = append(signals, models.ChangeSignal{
			Source:      "k8s_event",
			Description: record.Reason + ": " + record.Message,
			At:          record.LastSeen,
		})
	}
	if ev.AWS != nil {
		for _, ct := range ev.AWS.CloudTrail {
			if ct.EventTime.Before(req.Window.Start) || ct.EventTime.After(req.Window.End) {
				continue
			}
			signals = append(signals, models.ChangeSignal{
				Source:      "cloudtrail",
				Description: ct.Name + " by " + ct.Username,
				At:          ct.EventTime,
			})
		}
	}
	if ev.GitHub != nil {
		for _, commit := range ev.GitHub.Commits {
			signals = append(signals, models.ChangeSignal{
				Source:      "github",
				Description: "commit " + shortSHA(commit.SHA) + ": " + commit.Message,
				At:          commit.When,
			})
		}
		for _, run := range ev.GitHub.WorkflowRuns {
			signals = append(signals, models.ChangeSignal{
				Source:      "github",
				Description: "workflow " + run.Name + " " + run.Status + "/" + run.Conclusion,
				At:          run.When,
			})
		}
	}

	if len(signals) == 0 {
		ev.Change.Availability = models.AvailEmpty()
		ev.Change.Summary = "no recent changes detected in the correlation window"
		return
	}
	latest := signals[0]
	for _, s := range signals[1:] {
		if s.At.After(latest.At) {
			latest = s
		}
	}
	t := latest.At
	ev.Change.Availability = models.AvailOK()
	ev.Change.Signals = signals
	ev.Change.Summary = latest.Description
	ev.Change.LastChangeTime = &t
	ev.Change.Source = latest.Source
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
