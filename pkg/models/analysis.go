package models

import "time"

// Severity grades a diagnostic finding.
type Severity string

// Finding severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Finding is the deterministic output of one diagnostic module.
type Finding struct {
	ModuleID     string   `json:"module_id"`
	Severity     Severity `json:"severity"`
	Label        string   `json:"label"`
	Why          []string `json:"why"`
	Next         []string `json:"next"`
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
}

// Hypothesis is a candidate root cause, emitted by a playbook interpreter or
// the LLM enrichment.
type Hypothesis struct {
	HypothesisID    string   `json:"hypothesis_id"`
	RootCause       string   `json:"root_cause"`
	Confidence      float64  `json:"confidence_0_1"`
	Evidence        []string `json:"evidence"`
	Remediation     []string `json:"remediation"`
	Unknowns        []string `json:"unknowns"`
	ProposedActions []string `json:"proposed_actions"`
}

// Decision is the triage verdict triple. It is always present on an Analysis,
// even under blocked scenarios.
type Decision struct {
	Label string   `json:"label"`
	Why   []string `json:"why"`
	Next  []string `json:"next"`
}

// Enrichment is the playbook interpreter output.
type Enrichment struct {
	Label string   `json:"label"`
	Why   []string `json:"why"`
	Next  []string `json:"next"`
}

// Classification buckets an investigation by operational value.
type Classification string

// Classification constants.
const (
	ClassActionable    Classification = "actionable"
	ClassInformational Classification = "informational"
	ClassNoisy         Classification = "noisy"
	ClassArtifact      Classification = "artifact"
)

// Scores are the three 0..100 integers plus the derived classification.
type Scores struct {
	Impact         int            `json:"impact"`
	Confidence     int            `json:"confidence"`
	Noise          int            `json:"noise"`
	Classification Classification `json:"classification"`
}

// BlockedScenario identifies a missing-evidence condition of the honesty
// contract.
type BlockedScenario string

// Blocked scenarios A-D.
const (
	BlockedIdentityMissing    BlockedScenario = "target_identity_missing" // A
	BlockedK8sUnavailable     BlockedScenario = "k8s_unavailable"         // B
	BlockedLogsIndeterminate  BlockedScenario = "logs_indeterminate"      // C
	BlockedMetricsUnavailable BlockedScenario = "metrics_unavailable"     // D
)

// LLMStatus records the outcome of the optional enrichment call.
type LLMStatus string

// LLM statuses.
const (
	LLMDisabled LLMStatus = "disabled"
	LLMOK       LLMStatus = "ok"
	LLMFailed   LLMStatus = "failed"
)

// LLMEnrichment is the optional post-deterministic summary. It never
// overrides deterministic fields.
type LLMEnrichment struct {
	Status          LLMStatus `json:"status"`
	Error           string    `json:"error,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	LikelyRootCause string    `json:"likely_root_cause,omitempty"`
	Confidence      float64   `json:"confidence,omitempty"`
	NextSteps       []string  `json:"next_steps,omitempty"`
}

// JobMetrics are the job-failure features surfaced for KubeJobFailed cases.
type JobMetrics struct {
	Attempts     int32  `json:"attempts"`
	BackoffLimit int32  `json:"backoff_limit"`
	ExitReason   string `json:"exit_reason"`
	ErrorCount   int    `json:"error_count"`
}

// Features are derived scalar facts the scorer and renderer consume.
type Features struct {
	RestartsLastHour   int         `json:"restarts_last_hour,omitempty"`
	ReplicaAvailRatio  *float64    `json:"replica_avail_ratio,omitempty"`
	HTTP5xxRate        *float64    `json:"http_5xx_rate,omitempty"`
	MemoryUsageRatio   *float64    `json:"memory_usage_ratio,omitempty"`
	ThrottlePct        *float64    `json:"throttle_pct,omitempty"`
	JobMetrics         *JobMetrics `json:"job_metrics,omitempty"`
	Recurrence24h      int         `json:"recurrence_24h,omitempty"`
	ErrorLogPatterns   int         `json:"error_log_patterns,omitempty"`
	DiagnosticFindings int         `json:"diagnostic_findings,omitempty"`
}

// StageError records a caught failure in a non-critical pipeline stage.
type StageError struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Analysis is the composite result of one pipeline run. Fields are always
// present; slots with nothing to say are explicitly null or zero-valued.
type Analysis struct {
	Decision    Decision          `json:"decision"`
	Enrichment  *Enrichment       `json:"enrichment"`
	Features    Features          `json:"features"`
	Verdict     string            `json:"verdict"`
	Findings    []Finding         `json:"findings"`
	Hypotheses  []Hypothesis      `json:"hypotheses"`
	RCA         string            `json:"rca"`
	Scores      Scores            `json:"scores"`
	Change      *ChangeEvidence   `json:"change"`
	LLM         *LLMEnrichment    `json:"llm"`
	Blocked     []BlockedScenario `json:"blocked,omitempty"`
	StageErrors []StageError      `json:"stage_errors,omitempty"`
}

// Investigation is the canonical output of one run.
type Investigation struct {
	CaseID         string         `json:"case_id"`
	RunID          string         `json:"run_id"`
	Alert          *AlertInstance `json:"alert"`
	Identity       Identity       `json:"identity"`
	Family         Family         `json:"family"`
	Evidence       *Evidence      `json:"evidence"`
	Analysis       *Analysis      `json:"analysis"`
	ReportMarkdown string         `json:"report_markdown"`
	CreatedAt      time.Time      `json:"created_at"`
}

// OneLiner returns the short display line for the index.
func (inv *Investigation) OneLiner() string {
	if inv.Analysis == nil {
		return ""
	}
	return inv.Analysis.Decision.Label
}
