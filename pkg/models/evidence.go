package models

import "time"

// SlotStatus is the availability marker every evidence slot carries.
// Absence must never look like presence: a slot is either populated (ok),
// queried-but-empty (empty), or unavailable with a reason.
type SlotStatus string

// Slot status constants.
const (
	SlotOK          SlotStatus = "ok"
	SlotEmpty       SlotStatus = "empty"
	SlotUnavailable SlotStatus = "unavailable"
)

// Availability is embedded in every evidence slot.
type Availability struct {
	Status SlotStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// AvailOK marks a slot populated.
func AvailOK() Availability { return Availability{Status: SlotOK} }

// AvailEmpty marks a slot queried successfully but with no data.
func AvailEmpty() Availability { return Availability{Status: SlotEmpty} }

// AvailUnavailable marks a slot unavailable with a surface reason
// (timeout, forbidden, not_found, http_error:<code>, ...).
func AvailUnavailable(reason string) Availability {
	if reason == "" {
		reason = "unknown"
	}
	return Availability{Status: SlotUnavailable, Reason: reason}
}

// OK reports whether the slot holds usable data.
func (a Availability) OK() bool { return a.Status == SlotOK }

// ContainerState summarizes one container of the target pod.
type ContainerState struct {
	Name                 string `json:"name"`
	Image                string `json:"image,omitempty"`
	Ready                bool   `json:"ready"`
	RestartCount         int32  `json:"restart_count"`
	State                string `json:"state"`            // running | waiting | terminated
	Reason               string `json:"reason,omitempty"` // waiting/terminated reason
	Message              string `json:"message,omitempty"`
	ExitCode             *int32 `json:"exit_code,omitempty"`
	LastTerminatedReason string `json:"last_terminated_reason,omitempty"`
	LastExitCode         *int32 `json:"last_exit_code,omitempty"`
	MemoryLimitBytes     int64  `json:"memory_limit_bytes,omitempty"`
	MemoryRequestBytes   int64  `json:"memory_request_bytes,omitempty"`
	CPULimitMilli        int64  `json:"cpu_limit_milli,omitempty"`
	CPURequestMilli      int64  `json:"cpu_request_milli,omitempty"`
}

// PodCondition is one pod status condition.
type PodCondition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// PodSnapshot is the observed state of the target pod.
type PodSnapshot struct {
	Name       string           `json:"name"`
	Namespace  string           `json:"namespace"`
	NodeName   string           `json:"node_name,omitempty"`
	Phase      string           `json:"phase"`
	CreatedAt  time.Time        `json:"created_at"`
	OwnerKind  string           `json:"owner_kind,omitempty"`
	OwnerName  string           `json:"owner_name,omitempty"`
	Conditions []PodCondition   `json:"conditions,omitempty"`
	Containers []ContainerState `json:"containers,omitempty"`
	QOSClass   string           `json:"qos_class,omitempty"`
}

// WorkloadSnapshot is the observed state of the owning workload.
type WorkloadSnapshot struct {
	Kind              string     `json:"kind"`
	Name              string     `json:"name"`
	Replicas          int32      `json:"replicas"`
	ReadyReplicas     int32      `json:"ready_replicas"`
	UpdatedReplicas   int32      `json:"updated_replicas"`
	AvailableReplicas int32      `json:"available_replicas"`
	LastRolloutAt     *time.Time `json:"last_rollout_at,omitempty"`
}

// JobSnapshot is the observed state of a K8s Job target.
type JobSnapshot struct {
	Name           string     `json:"name"`
	Active         int32      `json:"active"`
	Succeeded      int32      `json:"succeeded"`
	Failed         int32      `json:"failed"`
	BackoffLimit   int32      `json:"backoff_limit"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

// EventRecord is one K8s event relevant to the target.
type EventRecord struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason"`
	Message  string    `json:"message"`
	Object   string    `json:"object"`
	Count    int32     `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// KubeEvidence is the k8s evidence slot.
type KubeEvidence struct {
	Availability
	Pod      *PodSnapshot      `json:"pod,omitempty"`
	Workload *WorkloadSnapshot `json:"workload,omitempty"`
	Job      *JobSnapshot      `json:"job,omitempty"`
	Events   []EventRecord     `json:"events,omitempty"`
}

// MetricPoint is one sample of a metric series.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSeries is one named PromQL result.
type MetricSeries struct {
	Query  string        `json:"query"`
	Unit   string        `json:"unit,omitempty"`
	Points []MetricPoint `json:"points,omitempty"`
	Latest float64       `json:"latest"`
	Max    float64       `json:"max"`
}

// MetricsEvidence is the metrics evidence slot; Series is keyed by a stable
// series name chosen by the collecting playbook (e.g. "throttle_pct").
type MetricsEvidence struct {
	Availability
	Series map[string]MetricSeries `json:"series,omitempty"`
}

// LogEntry is one raw log line with its timestamp.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
}

// PatternKind classifies a parsed log pattern.
type PatternKind string

// Pattern kinds emitted by the deterministic log parser.
const (
	PatternErrorPrefix PatternKind = "error_prefix"
	PatternFatalPrefix PatternKind = "fatal_prefix"
	PatternException   PatternKind = "exception"
	PatternStackFrame  PatternKind = "stack_frame"
	PatternOOM         PatternKind = "oom"
	PatternConnection  PatternKind = "connection"
	PatternTimeout     PatternKind = "timeout"
	PatternHTTP5xx     PatternKind = "http_status_5xx"
)

// LogPattern is one deduplicated parsed pattern.
type LogPattern struct {
	Kind           PatternKind `json:"pattern_kind"`
	Count          int         `json:"count"`
	FirstSeen      time.Time   `json:"first_seen"`
	LastSeen       time.Time   `json:"last_seen"`
	Representative string      `json:"representative_line"`
}

// LogsEvidence is the logs evidence slot. Historical marks entries recovered
// via the pod-name-prefix fallback query after the live pod was deleted.
type LogsEvidence struct {
	Availability
	Backend    string       `json:"backend,omitempty"`
	Query      string       `json:"query,omitempty"`
	Entries    []LogEntry   `json:"entries,omitempty"`
	Parsed     []LogPattern `json:"parsed_patterns,omitempty"`
	Historical bool         `json:"historical,omitempty"`
}

// EC2Instance is a reduced EC2 instance snapshot.
type EC2Instance struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Type  string `json:"type"`
	AZ    string `json:"az,omitempty"`
}

// LoadBalancerSnapshot is a reduced ELB snapshot.
type LoadBalancerSnapshot struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Type  string `json:"type,omitempty"`
}

// DBInstanceSnapshot is a reduced RDS instance snapshot.
type DBInstanceSnapshot struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Engine string `json:"engine,omitempty"`
}

// CloudTrailEvent is one recent management event.
type CloudTrailEvent struct {
	Name      string    `json:"name"`
	Username  string    `json:"username,omitempty"`
	Source    string    `json:"source,omitempty"`
	EventTime time.Time `json:"event_time"`
}

// AWSEvidence is the optional AWS evidence slot. Errors records per-subsystem
// failures so a partial snapshot still says what is missing.
type AWSEvidence struct {
	Availability
	Instances     []EC2Instance          `json:"instances,omitempty"`
	LoadBalancers []LoadBalancerSnapshot `json:"load_balancers,omitempty"`
	DBInstances   []DBInstanceSnapshot   `json:"db_instances,omitempty"`
	Repositories  []string               `json:"repositories,omitempty"`
	CloudTrail    []CloudTrailEvent      `json:"cloudtrail,omitempty"`
	Errors        map[string]string      `json:"errors,omitempty"`
}

// CommitRecord is one recent commit.
type CommitRecord struct {
	SHA     string    `json:"sha"`
	Author  string    `json:"author,omitempty"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

// WorkflowRunRecord is one recent workflow run.
type WorkflowRunRecord struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion,omitempty"`
	When       time.Time `json:"when"`
}

// GitHubEvidence is the optional GitHub evidence slot.
type GitHubEvidence struct {
	Availability
	Repo         string              `json:"repo,omitempty"`
	Commits      []CommitRecord      `json:"commits,omitempty"`
	WorkflowRuns []WorkflowRunRecord `json:"workflow_runs,omitempty"`
}

// ChangeSignal is one recent-change observation from any source.
type ChangeSignal struct {
	Source      string    `json:"source"` // k8s_event | cloudtrail | github
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

// ChangeEvidence is the change-correlation slot.
type ChangeEvidence struct {
	Availability
	Summary        string         `json:"summary,omitempty"`
	LastChangeTime *time.Time     `json:"last_change_time,omitempty"`
	Source         string         `json:"source,omitempty"`
	Signals        []ChangeSignal `json:"signals,omitempty"`
}

// Evidence is the fully-shaped record the pipeline populates. Slots start
// unavailable and are filled best-effort by collectors; once the pipeline
// completes the record is frozen.
type Evidence struct {
	Kube    KubeEvidence    `json:"k8s"`
	Metrics MetricsEvidence `json:"metrics"`
	Logs    LogsEvidence    `json:"logs"`
	AWS     *AWSEvidence    `json:"aws,omitempty"`
	GitHub  *GitHubEvidence `json:"github,omitempty"`
	Change  ChangeEvidence  `json:"change"`
}

// NewEvidence returns an Evidence record with every mandatory slot marked
// unavailable (not yet collected). Optional slots stay nil until enabled.
func NewEvidence() *Evidence {
	notCollected := AvailUnavailable("not_collected")
	return &Evidence{
		Kube:    KubeEvidence{Availability: notCollected},
		Metrics: MetricsEvidence{Availability: notCollected},
		Logs:    LogsEvidence{Availability: notCollected},
		Change:  ChangeEvidence{Availability: notCollected},
	}
}
