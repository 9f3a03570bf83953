package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

// DeadLetterer publishes a message that will never be retried to the DLQ.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, msg jetstream.Msg, reason string) error
}

// poolStats aggregates settle outcomes across the pool's workers.
type poolStats struct {
	mu           sync.Mutex
	processed    int
	failed       int
	deadLettered int
}

func (s *poolStats) record(o outcome) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	switch o {
	case outcomeRetried:
		s.failed++
	case outcomeDeadLettered:
		s.deadLettered++
	}
}

func (s *poolStats) snapshot() (processed, failed, deadLettered int) {
	if s == nil {
		return 0, 0, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed, s.failed, s.deadLettered
}

// Worker consumes fetched messages and runs the pipeline executor on them.
type Worker struct {
	id       string
	podID    string
	config   *config.QueueConfig
	executor Executor
	dlq      DeadLetterer
	jobs     <-chan jetstream.Msg
	stats    *poolStats
	wg       sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentCaseID string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a queue worker reading from the shared jobs channel.
// stats may be nil (standalone worker, used in tests).
func NewWorker(id, podID string, cfg *config.QueueConfig, executor Executor, dlq DeadLetterer, jobs <-chan jetstream.Msg, stats *poolStats) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		config:       cfg,
		executor:     executor,
		dlq:          dlq,
		jobs:         jobs,
		stats:        stats,
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Wait blocks until the worker loop has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentCaseID: w.currentCaseID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

// run drains the jobs channel until it closes or the context is cancelled.
// In-flight jobs finish; unfetched messages stay on the stream and are
// redelivered after ack-wait.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		case msg, ok := <-w.jobs:
			if !ok {
				log.Info("Worker shutting down")
				return
			}
			w.process(ctx, msg)
		}
	}
}

// outcome is how a message was settled.
type outcome int

const (
	outcomeAcked outcome = iota
	outcomeRetried
	outcomeDeadLettered
)

// process executes one queue message through the pipeline and settles it.
func (w *Worker) process(ctx context.Context, msg jetstream.Msg) outcome {
	log := slog.With("worker_id", w.id)

	deliveries := 1
	if meta, err := msg.Metadata(); err == nil {
		deliveries = int(meta.NumDelivered)
	}

	// 1. Decode. A malformed job can never succeed; DLQ it immediately.
	job, err := models.UnmarshalJob(msg.Data())
	if err != nil {
		log.Error("Dead-lettering malformed job", "error", err)
		w.sendToDLQ(ctx, msg, "malformed job: "+err.Error())
		w.finish(outcomeDeadLettered)
		return outcomeDeadLettered
	}

	caseID := job.CaseID()
	log = log.With("case_id", caseID, "alertname", job.Alert.Alertname, "delivery", deliveries)
	log.Info("Job claimed")

	w.setStatus(WorkerStatusWorking, caseID)
	defer w.setStatus(WorkerStatusIdle, "")

	// 2. Execute the pipeline. The executor owns its own wall-clock budget.
	execErr := w.executor.Execute(ctx, job)

	// 3. Settle.
	if execErr == nil {
		if err := msg.Ack(); err != nil {
			log.Warn("Ack failed, message will be redelivered", "error", err)
		}
		log.Info("Job complete")
		w.finish(outcomeAcked)
		return outcomeAcked
	}

	// 4. Permanent failures and exhausted retries go to the DLQ.
	if errors.Is(execErr, ErrPermanent) || deliveries >= w.config.MaxDeliver {
		log.Error("Dead-lettering job", "error", execErr, "deliveries", deliveries)
		w.sendToDLQ(ctx, msg, execErr.Error())
		w.finish(outcomeDeadLettered)
		return outcomeDeadLettered
	}

	// 5. Transient failure: nak and let the consumer backoff schedule
	// drive the next delivery.
	log.Warn("Job failed, scheduling retry", "error", execErr, "deliveries", deliveries)
	if err := msg.Nak(); err != nil {
		log.Warn("Nak failed, redelivery waits for ack-wait", "error", err)
	}
	w.finish(outcomeRetried)
	return outcomeRetried
}

// sendToDLQ forwards the message to the DLQ and terminates it on the work
// stream. If the DLQ publish fails the message is nak'd instead, so it is
// not lost.
func (w *Worker) sendToDLQ(ctx context.Context, msg jetstream.Msg, reason string) {
	if err := w.dlq.DeadLetter(ctx, msg, reason); err != nil {
		slog.Error("DLQ publish failed, nak'ing message", "worker_id", w.id, "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Term(); err != nil {
		slog.Warn("Term failed after DLQ publish", "worker_id", w.id, "error", err)
	}
}

// finish updates the worker and pool counters.
func (w *Worker) finish(o outcome) {
	w.mu.Lock()
	w.jobsProcessed++
	w.lastActivity = time.Now()
	w.mu.Unlock()
	w.stats.record(o)
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, caseID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentCaseID = caseID
	w.lastActivity = time.Now()
}
