package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Publisher enqueues investigation jobs with publish-time dedup. The job's
// dedup key becomes the Nats-Msg-Id; the stream drops repeats inside the
// duplicate window, so at most one job per (identity, family, bucket) is in
// flight.
type Publisher struct {
	js      jetstream.JetStream
	subject string
}

// NewPublisher builds a publisher for the configured work subject.
func NewPublisher(js jetstream.JetStream, cfg *config.QueueConfig) *Publisher {
	return &Publisher{js: js, subject: cfg.Subject}
}

// Publish enqueues one job. A duplicate drop is success: the incident is
// already queued or recently ran.
func (p *Publisher) Publish(ctx context.Context, job *models.InvestigationJob) error {
	data, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("encoding investigation job: %w", err)
	}

	ack, err := p.js.Publish(ctx, p.subject, data, jetstream.WithMsgID(job.DedupKey()))
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}

	if ack.Duplicate {
		slog.Info("Job deduplicated by stream",
			"case_id", job.CaseID(),
			"dedup_key", job.DedupKey())
		return nil
	}

	slog.Debug("Job published",
		"case_id", job.CaseID(),
		"stream", ack.Stream,
		"seq", ack.Sequence)
	return nil
}
