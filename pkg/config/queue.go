package config

import (
	"fmt"
	"strconv"
	"time"
)

// QueueConfig contains JetStream and worker pool configuration.
type QueueConfig struct {
	// URL is the NATS server URL.
	URL string

	// Stream is the JetStream stream name; alerts are published on
	// "<Stream>.alerts" unless Subject overrides it.
	Stream  string
	Subject string

	// Durable is the pull consumer's durable name.
	Durable string

	// DuplicateWindow is the server-side publish dedup window; publishes
	// with a repeated MsgId inside the window are dropped by the stream.
	DuplicateWindow time.Duration

	// AckWait is how long the server waits for an ack before redelivery.
	AckWait time.Duration

	// MaxDeliver is the delivery attempt cap; afterwards the message goes
	// to the DLQ.
	MaxDeliver int

	// Backoff is the redelivery backoff schedule. Its length must not
	// exceed MaxDeliver.
	Backoff []time.Duration

	// DLQStream / DLQSubject receive messages that exhausted MaxDeliver.
	DLQStream  string
	DLQSubject string

	// Concurrency is the number of concurrent pipeline executions per
	// worker process; FetchBatch is the pull batch size.
	Concurrency int
	FetchBatch  int

	// GracefulShutdownTimeout caps the drain of in-flight investigations.
	GracefulShutdownTimeout time.Duration
}

// LoadQueueConfig reads queue configuration from the environment.
func LoadQueueConfig() (*QueueConfig, error) {
	stream := getEnvOrDefault("JETSTREAM_STREAM", "TARKA")
	ackWait, err := getEnvSeconds("JETSTREAM_ACK_WAIT_SECONDS", 300*time.Second)
	if err != nil {
		return nil, err
	}
	maxDeliver, err := getEnvInt("JETSTREAM_MAX_DELIVER", 4)
	if err != nil {
		return nil, err
	}
	dupWindow, err := getEnvSeconds("JETSTREAM_DUPLICATE_WINDOW_SECONDS", 600*time.Second)
	if err != nil {
		return nil, err
	}
	backoff, err := parseBackoffCSV(getEnvOrDefault("JETSTREAM_BACKOFF_SECONDS", "5,30,120"))
	if err != nil {
		return nil, err
	}
	if len(backoff) >= maxDeliver {
		return nil, fmt.Errorf("JETSTREAM_BACKOFF_SECONDS has %d entries but JETSTREAM_MAX_DELIVER is %d (need backoff < max_deliver)",
			len(backoff), maxDeliver)
	}
	concurrency, err := getEnvInt("WORKER_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", concurrency)
	}
	fetchBatch, err := getEnvInt("WORKER_FETCH_BATCH", 4)
	if err != nil {
		return nil, err
	}
	shutdown, err := getEnvSeconds("WORKER_GRACEFUL_SHUTDOWN_SECONDS", 180*time.Second)
	if err != nil {
		return nil, err
	}

	return &QueueConfig{
		URL:                     getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		Stream:                  stream,
		Subject:                 getEnvOrDefault("JETSTREAM_SUBJECT", stream+".alerts"),
		Durable:                 getEnvOrDefault("JETSTREAM_DURABLE", "tarka-workers"),
		DuplicateWindow:         dupWindow,
		AckWait:                 ackWait,
		MaxDeliver:              maxDeliver,
		Backoff:                 backoff,
		DLQStream:               getEnvOrDefault("JETSTREAM_DLQ_STREAM", stream+"_DLQ"),
		DLQSubject:              getEnvOrDefault("JETSTREAM_DLQ_SUBJECT", stream+"_DLQ.alerts"),
		Concurrency:             concurrency,
		FetchBatch:              fetchBatch,
		GracefulShutdownTimeout: shutdown,
	}, nil
}

// parseBackoffCSV parses "5,30,120" into a backoff schedule.
func parseBackoffCSV(val string) ([]time.Duration, error) {
	if val == "" {
		return nil, nil
	}
	var out []time.Duration
	for _, part := range splitCSV(val) {
		secs, err := strconv.Atoi(part)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid backoff entry %q in JETSTREAM_BACKOFF_SECONDS", part)
		}
		out = append(out, time.Duration(secs)*time.Second)
	}
	return out, nil
}
