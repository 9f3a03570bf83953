package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codeready-toolchain/tarka/pkg/config"
)

// Connect dials NATS and returns a JetStream handle. The connection
// reconnects indefinitely; a worker outliving a NATS restart is normal.
func Connect(cfg *config.QueueConfig, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the work stream and its DLQ. Called at
// startup by both the webhook server and the worker so either can come up
// first.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg *config.QueueConfig) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: cfg.DuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("ensuring stream %q: %w", cfg.Stream, err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.DLQStream,
		Subjects: []string{cfg.DLQSubject},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensuring DLQ stream %q: %w", cfg.DLQStream, err)
	}

	slog.Info("JetStream streams ready",
		"stream", cfg.Stream,
		"subject", cfg.Subject,
		"dlq", cfg.DLQStream,
		"duplicate_window", cfg.DuplicateWindow)
	return nil
}

// EnsureConsumer creates or updates the durable pull consumer workers share.
func EnsureConsumer(ctx context.Context, js jetstream.JetStream, cfg *config.QueueConfig) (jetstream.Consumer, error) {
	cons, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		BackOff:       cfg.Backoff,
		MaxAckPending: cfg.Concurrency * cfg.FetchBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %q on stream %q: %w", cfg.Durable, cfg.Stream, err)
	}
	return cons, nil
}
