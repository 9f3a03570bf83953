// Package queue provides the durable investigation queue on NATS JetStream:
// publish-time dedup, a durable pull consumer, retry backoff, and a DLQ.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoMessages indicates a fetch returned without any messages.
	ErrNoMessages = errors.New("no messages available")

	// ErrPermanent marks a job failure that must not be retried; the
	// worker DLQs the message immediately. Wrap with fmt.Errorf("...: %w").
	ErrPermanent = errors.New("permanent job failure")
)

// Executor processes one investigation job end to end.
//
// The executor owns the pipeline run: evidence collection, scoring,
// rendering, and persistence all happen inside Execute. The worker only
// handles decoding, ack/nak, and DLQ routing.
type Executor interface {
	Execute(ctx context.Context, job *models.InvestigationJob) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job *models.InvestigationJob) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, job *models.InvestigationJob) error {
	return f(ctx, job)
}

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy      bool           `json:"is_healthy"`
	QueueReachable bool           `json:"queue_reachable"`
	QueueError     string         `json:"queue_error,omitempty"`
	PodID          string         `json:"pod_id"`
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	QueueDepth     int            `json:"queue_depth"`
	JobsProcessed  int            `json:"jobs_processed"`
	JobsFailed     int            `json:"jobs_failed"`
	JobsDeadLetter int            `json:"jobs_dead_letter"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentCaseID string    `json:"current_case_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
