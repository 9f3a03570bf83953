package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codeready-toolchain/tarka/pkg/config"
)

// fetchMaxWait bounds a single pull so shutdown is responsive.
const fetchMaxWait = 2 * time.Second

// WorkerPool fetches from the durable consumer and fans messages out to a
// fixed set of workers.
type WorkerPool struct {
	podID    string
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   *config.QueueConfig
	executor Executor
	workers  []*Worker
	jobs     chan jetstream.Msg
	stats    *poolStats
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewWorkerPool creates a worker pool over an existing durable consumer.
func NewWorkerPool(podID string, js jetstream.JetStream, consumer jetstream.Consumer, cfg *config.QueueConfig, executor Executor) *WorkerPool {
	return &WorkerPool{
		podID:    podID,
		js:       js,
		consumer: consumer,
		config:   cfg,
		executor: executor,
		workers:  make([]*Worker, 0, cfg.Concurrency),
		jobs:     make(chan jetstream.Msg),
		stats:    &poolStats{},
		stopCh:   make(chan struct{}),
	}
}

// Start spawns the fetch loop and worker goroutines.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool",
		"pod_id", p.podID,
		"concurrency", p.config.Concurrency,
		"fetch_batch", p.config.FetchBatch,
		"durable", p.config.Durable)

	for i := 0; i < p.config.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.config, p.executor, p, p.jobs, p.stats)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runFetchLoop(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop drains gracefully: the fetch loop exits, the jobs channel closes, and
// workers finish their in-flight investigations. Unacked messages are
// redelivered after ack-wait. Waits at most GracefulShutdownTimeout.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully", "pod_id", p.podID)

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	done := make(chan struct{})
	go func() {
		for _, worker := range p.workers {
			worker.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(p.config.GracefulShutdownTimeout):
		slog.Warn("Graceful shutdown timeout elapsed, abandoning in-flight jobs",
			"timeout", p.config.GracefulShutdownTimeout)
	}
}

// runFetchLoop pulls message batches and forwards them to the workers.
// Closing the jobs channel is the worker shutdown signal.
func (p *WorkerPool) runFetchLoop(ctx context.Context) {
	defer close(p.jobs)

	log := slog.With("pod_id", p.podID)
	log.Info("Fetch loop started", "subject", p.config.Subject)

	for {
		select {
		case <-p.stopCh:
			log.Info("Fetch loop shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, fetch loop shutting down")
			return
		default:
		}

		batch, err := p.consumer.Fetch(p.config.FetchBatch, jetstream.FetchMaxWait(fetchMaxWait))
		if err != nil {
			log.Error("Fetch failed", "error", err)
			p.sleep(time.Second)
			continue
		}

		for msg := range batch.Messages() {
			select {
			case p.jobs <- msg:
			case <-p.stopCh:
				// Unforwarded messages stay unacked; the server
				// redelivers them after ack-wait.
				return
			}
		}
		if err := batch.Error(); err != nil {
			log.Warn("Fetch batch ended with error", "error", err)
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (p *WorkerPool) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}

// DeadLetter implements DeadLetterer: the original payload is republished on
// the DLQ subject with the failure reason and provenance headers.
func (p *WorkerPool) DeadLetter(ctx context.Context, msg jetstream.Msg, reason string) error {
	deliveries := 0
	if meta, err := msg.Metadata(); err == nil {
		deliveries = int(meta.NumDelivered)
	}

	dlqMsg := &nats.Msg{
		Subject: p.config.DLQSubject,
		Data:    msg.Data(),
		Header: nats.Header{
			"Tarka-Failure-Reason":   []string{reason},
			"Tarka-Original-Subject": []string{msg.Subject()},
			"Tarka-Deliveries":       []string{fmt.Sprintf("%d", deliveries)},
		},
	}
	if _, err := p.js.PublishMsg(ctx, dlqMsg); err != nil {
		return fmt.Errorf("publishing to DLQ %s: %w", p.config.DLQSubject, err)
	}
	return nil
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	queueDepth := 0
	var queueErr string
	queueReachable := true
	if info, err := p.consumer.Info(ctx); err != nil {
		queueReachable = false
		queueErr = fmt.Sprintf("consumer info query failed: %v", err)
		slog.Error("Failed to query consumer info for health check",
			"pod_id", p.podID, "error", err)
	} else {
		queueDepth = int(info.NumPending)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	processed, failed, deadLettered := p.stats.snapshot()

	return &PoolHealth{
		IsHealthy:      len(p.workers) > 0 && queueReachable,
		QueueReachable: queueReachable,
		QueueError:     queueErr,
		PodID:          p.podID,
		ActiveWorkers:  activeWorkers,
		TotalWorkers:   len(p.workers),
		QueueDepth:     queueDepth,
		JobsProcessed:  processed,
		JobsFailed:     failed,
		JobsDeadLetter: deadLettered,
		WorkerStats:    workerStats,
	}
}
