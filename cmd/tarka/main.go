// Tarka — deterministic alert triage. Consumes Alertmanager webhooks,
// investigates each alert through a staged evidence pipeline, and persists
// scored reports.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitUsage               = 2
	exitProviderUnavailable = 3
	exitPipelineFatal       = 4
)

// Sentinel errors commands wrap to select an exit code.
var (
	errProviderUnavailable = errors.New("provider unavailable")
	errPipelineFatal       = errors.New("pipeline fatal")
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		switch {
		case errors.Is(err, errProviderUnavailable):
			os.Exit(exitProviderUnavailable)
		case errors.Is(err, errPipelineFatal):
			os.Exit(exitPipelineFatal)
		default:
			os.Exit(exitUsage)
		}
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "tarka",
		Short:         "Deterministic alert triage for Kubernetes and Prometheus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if err := godotenv.Load(envFile); err != nil {
				slog.Debug("No .env file loaded, using existing environment",
					"path", envFile, "error", err)
			} else {
				slog.Info("Loaded environment", "path", envFile)
			}
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file")

	root.AddCommand(
		newServeWebhookCmd(),
		newRunWorkerCmd(),
		newInvestigateCmd(),
		newListAlertsCmd(),
	)
	return root
}

// resolvePodID determines the instance identifier for multi-replica
// coordination. Priority: POD_ID env > HOSTNAME env > "local".
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
