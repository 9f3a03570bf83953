// Package models defines the Tarka domain types shared across ingestion,
// the investigation pipeline, and persistence.
package models

import "time"

// AlertStatus is the Alertmanager status of an alert instance.
type AlertStatus string

// Alert status constants.
const (
	AlertFiring   AlertStatus = "firing"
	AlertResolved AlertStatus = "resolved"
)

// Well-known label keys used for identity and family derivation.
const (
	LabelAlertname = "alertname"
	LabelNamespace = "namespace"
	LabelPod       = "pod"
	LabelContainer = "container"
	LabelCluster   = "cluster"
	LabelSeverity  = "severity"
	LabelTeam      = "team"
	LabelJobName   = "job_name"
	LabelJob       = "job"
	LabelWorkload  = "workload"
)

// AlertInstance is an immutable snapshot of one firing alert, created on
// ingestion from the Alertmanager webhook payload.
type AlertInstance struct {
	Fingerprint string            `json:"fingerprint"`
	Alertname   string            `json:"alertname"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"starts_at"`
	EndsAt      *time.Time        `json:"ends_at,omitempty"`
	Status      AlertStatus       `json:"status"`
}

// Label returns the value for key, or "" if absent.
func (a *AlertInstance) Label(key string) string {
	return a.Labels[key]
}

// Severity returns the severity label, defaulting to "none".
func (a *AlertInstance) Severity() string {
	if s := a.Labels[LabelSeverity]; s != "" {
		return s
	}
	return "none"
}

// Firing reports whether the alert is in firing state.
func (a *AlertInstance) Firing() bool {
	return a.Status == AlertFiring
}
