package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/tarka/pkg/api"
	"github.com/codeready-toolchain/tarka/pkg/chat"
	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/ingest"
	"github.com/codeready-toolchain/tarka/pkg/providers"
	"github.com/codeready-toolchain/tarka/pkg/queue"
	"github.com/codeready-toolchain/tarka/pkg/store"
	"github.com/codeready-toolchain/tarka/pkg/version"
)

func newServeWebhookCmd() *cobra.Command {
	var httpPort string

	cmd := &cobra.Command{
		Use:   "serve-webhook",
		Short: "Run the webhook receiver and case-browsing API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWebhook(cmd.Context(), httpPort)
		},
	}
	cmd.Flags().StringVar(&httpPort, "http-port", getEnv("HTTP_PORT", "8080"), "HTTP listen port")
	return cmd
}

func runServeWebhook(ctx context.Context, httpPort string) error {
	podID := resolvePodID()
	slog.Info("Starting Tarka webhook server",
		"version", version.Full(), "http_port", httpPort, "pod_id", podID)

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// 2. Connect to the store: artifact bucket plus index (runs migrations)
	st, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Index.Close()
	slog.Info("Connected to store", "bucket", cfg.Store.S3Bucket, "db", cfg.Store.DBName)

	// 3. Connect to JetStream and ensure the work stream exists
	nc, js, err := queue.Connect(cfg.Queue, "tarka-webhook-"+podID)
	if err != nil {
		return fmt.Errorf("connecting to queue: %w", err)
	}
	defer nc.Close()
	if err := queue.EnsureStream(ctx, js, cfg.Queue); err != nil {
		return fmt.Errorf("ensuring stream: %w", err)
	}
	publisher := queue.NewPublisher(js, cfg.Queue)
	slog.Info("Connected to queue", "stream", cfg.Queue.Stream, "subject", cfg.Queue.Subject)

	// 4. Ingestion processor: webhook deliveries become queue jobs. The kube
	// resolver re-homes rollout-noisy pod alerts to their workload so the
	// freshness gate keys on the persisted case.
	kube, err := providers.NewKubeProvider(cfg.Providers.Kubeconfig)
	if err != nil {
		return fmt.Errorf("kubernetes provider: %w", err)
	}
	processor := ingest.NewProcessor(cfg.Pipeline, publisher, st, kube)

	// 5. Chat service over the stored reports (answering needs the enricher)
	enricher, err := buildEnricher(cfg.LLM)
	if err != nil {
		return err
	}
	chatService := chat.NewService(st.Index, st.Artifacts, enricher)

	// 6. HTTP server with per-dependency health checks
	checks := map[string]api.ComponentCheck{
		"index": st.Index.Ping,
		"queue": func(context.Context) error {
			if status := nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats connection %s", status)
			}
			return nil
		},
	}
	server := api.NewServer(processor, st.Index, st.Artifacts, chatService, checks)
	httpServer := server.HTTPServer(":" + httpPort)

	// 7. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Tarka webhook server started", "pod_id", podID)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop accepting requests, then release the store
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

// interface checks: the store satisfies every wiring seam it is plugged into.
var (
	_ api.CaseIndex    = (*store.Index)(nil)
	_ api.ReportReader = (*store.ArtifactStore)(nil)
	_ ingest.Index     = (*store.Store)(nil)

	_ ingest.OwnerResolver = (*providers.KubeProvider)(nil)
)
