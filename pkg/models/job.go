package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// DedupBucketWindow is the wall-clock bucketing used for queue dedup keys and
// artifact keys. Reports are stable within one bucket.
const DedupBucketWindow = 4 * time.Hour

// DedupBucket returns floor(now / 4h) on the Unix epoch.
func DedupBucket(now time.Time) int64 {
	return now.Unix() / int64(DedupBucketWindow/time.Second)
}

// TimeWindow is the half-open interval an investigation looks at.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WindowEnding builds a window of the given duration ending at end.
func WindowEnding(end time.Time, d time.Duration) TimeWindow {
	return TimeWindow{Start: end.Add(-d), End: end}
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration { return w.End.Sub(w.Start) }

// InvestigationJob is the durable queue message: one logical incident to
// investigate. Delivery is at-least-once; idempotency comes from the dedup
// bucket plus HEAD-before-PUT at the artifact store.
type InvestigationJob struct {
	Identity    Identity       `json:"identity"`
	Family      Family         `json:"family"`
	Alert       *AlertInstance `json:"alert"`
	Window      TimeWindow     `json:"time_window"`
	DedupBucket int64          `json:"dedup_bucket"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
}

// DedupKey is the queue publish-time dedup key: at most one in-flight job per
// (identity, family, bucket).
func (j *InvestigationJob) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d", j.Identity.Key(), j.Family, j.DedupBucket)
}

// CaseID derives the stable case identifier for this logical incident.
// Runs of the same (identity, family) share a case.
func (j *InvestigationJob) CaseID() string {
	return CaseIDFor(j.Identity, j.Family)
}

// CaseIDFor derives the stable case id for an (identity, family) pair.
func CaseIDFor(id Identity, family Family) string {
	sum := sha256.Sum256([]byte(id.Key() + "|" + string(family)))
	return "case-" + hex.EncodeToString(sum[:12])
}

// Marshal serializes the job for queue publication.
func (j *InvestigationJob) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// UnmarshalJob deserializes a queue message payload.
func UnmarshalJob(data []byte) (*InvestigationJob, error) {
	var j InvestigationJob
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decoding investigation job: %w", err)
	}
	if j.Alert == nil {
		return nil, fmt.Errorf("investigation job missing alert")
	}
	return &j, nil
}
