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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/models"
	"github.com/codeready-toolchain/tarka/pkg/pipeline"
	"github.com/codeready-toolchain/tarka/pkg/queue"
	"github.com/codeready-toolchain/tarka/pkg/version"
)

func newRunWorkerCmd() *cobra.Command {
	var healthPort string

	cmd := &cobra.Command{
		Use:   "run-worker",
		Short: "Run the investigation worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), healthPort)
		},
	}
	cmd.Flags().StringVar(&healthPort, "health-port", getEnv("WORKER_HEALTH_PORT", "8081"), "Health endpoint listen port")
	return cmd
}

func runWorker(ctx context.Context, healthPort string) error {
	podID := resolvePodID()
	slog.Info("Starting Tarka worker", "version", version.Full(), "pod_id", podID)

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// 2. Connect to the store: the pipeline persists through it and the
	// scoring stage reads recurrence from it
	st, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Index.Close()
	slog.Info("Connected to store", "bucket", cfg.Store.S3Bucket, "db", cfg.Store.DBName)

	// 3. Build the evidence providers
	provs, err := buildProviders(ctx, cfg.Providers)
	if err != nil {
		return err
	}

	// 4. Optional LLM enrichment
	enricher, err := buildEnricher(cfg.LLM)
	if err != nil {
		return err
	}

	// 5. Assemble the pipeline
	pl := pipeline.New(cfg.Pipeline, provs, st, st, enricher)
	pl.GitHubRepos = cfg.Providers.GitHubRepos

	// 6. Connect to JetStream; ensure stream and durable consumer
	nc, js, err := queue.Connect(cfg.Queue, "tarka-worker-"+podID)
	if err != nil {
		return fmt.Errorf("connecting to queue: %w", err)
	}
	defer nc.Close()
	if err := queue.EnsureStream(ctx, js, cfg.Queue); err != nil {
		return fmt.Errorf("ensuring stream: %w", err)
	}
	consumer, err := queue.EnsureConsumer(ctx, js, cfg.Queue)
	if err != nil {
		return fmt.Errorf("ensuring consumer: %w", err)
	}
	slog.Info("Connected to queue",
		"stream", cfg.Queue.Stream,
		"durable", cfg.Queue.Durable,
		"concurrency", cfg.Queue.Concurrency)

	// 7. Start the worker pool
	executor := queue.ExecutorFunc(func(ctx context.Context, job *models.InvestigationJob) error {
		_, err := pl.Run(ctx, job)
		return err
	})
	pool := queue.NewWorkerPool(podID, js, consumer, cfg.Queue, executor)
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	// 8. Health endpoint: pool and queue state for liveness probes
	healthServer := workerHealthServer(":"+healthPort, pool)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Health server error", "error", err)
		}
	}()

	slog.Info("Tarka worker started",
		"pod_id", podID,
		"workers", cfg.Queue.Concurrency,
		"health_port", healthPort)

	// 9. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)

	// 10. Drain in-flight investigations; unfinished jobs are redelivered
	// after ack-wait
	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Health server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

// workerHealthServer exposes pool health on a worker-only deployment.
func workerHealthServer(addr string, pool *queue.WorkerPool) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		h := pool.Health(c.Request.Context())
		status := "ok"
		if !h.IsHealthy {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "pool": h})
	})
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
