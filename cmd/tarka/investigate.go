package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/models"
	"github.com/codeready-toolchain/tarka/pkg/pipeline"
	"github.com/codeready-toolchain/tarka/pkg/providers"
	"github.com/codeready-toolchain/tarka/pkg/report"
)

func newListAlertsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-alerts",
		Short: "List currently firing alerts from Alertmanager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runListAlerts(cmd.Context())
		},
	}
}

func runListAlerts(ctx context.Context) error {
	cfg, err := config.LoadProviderConfig()
	if err != nil {
		return err
	}

	alerts, err := fetchActiveAlerts(ctx, cfg.AlertmanagerURL)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Println("No active alerts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tALERTNAME\tNAMESPACE\tPOD\tSINCE\tFINGERPRINT")
	for i, a := range alerts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			a.Alertname,
			a.Label(models.LabelNamespace),
			a.Label(models.LabelPod),
			a.StartsAt.UTC().Format(time.RFC3339),
			a.Fingerprint)
	}
	return w.Flush()
}

func newInvestigateCmd() *cobra.Command {
	var (
		alertNum    int
		fingerprint string
		timeWindow  string
		forceLLM    bool
		dumpJSON    string
	)

	cmd := &cobra.Command{
		Use:   "investigate",
		Short: "Investigate one firing alert and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (alertNum == 0) == (fingerprint == "") {
				return fmt.Errorf("exactly one of --alert or --fingerprint is required")
			}
			return runInvestigate(cmd.Context(), alertNum, fingerprint, timeWindow, forceLLM, dumpJSON)
		},
	}
	cmd.Flags().IntVar(&alertNum, "alert", 0, "Alert number from list-alerts output")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "Alertmanager fingerprint of the alert")
	cmd.Flags().StringVar(&timeWindow, "time-window", "", "Evidence window (e.g. 30m, 1h, 2h30m)")
	cmd.Flags().BoolVar(&forceLLM, "llm", false, "Enable LLM enrichment for this run")
	cmd.Flags().StringVar(&dumpJSON, "dump-json", "", "Also write the analysis JSON to this path")
	return cmd
}

func runInvestigate(ctx context.Context, alertNum int, fingerprint, timeWindow string, forceLLM bool, dumpJSON string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if timeWindow != "" {
		d, err := config.ParseTimeWindow(timeWindow)
		if err != nil {
			return err
		}
		cfg.Pipeline.TimeWindow = cfg.Pipeline.ClampWindow(d)
		cfg.Pipeline.ChangeLookback = cfg.Pipeline.TimeWindow
	}
	if forceLLM {
		cfg.LLM.Enabled = true
	}

	// 1. Pick the target alert from Alertmanager
	alerts, err := fetchActiveAlerts(ctx, cfg.Providers.AlertmanagerURL)
	if err != nil {
		return err
	}
	alert, err := selectAlert(alerts, alertNum, fingerprint)
	if err != nil {
		return err
	}

	// 2. Wire providers and the optional enricher
	provs, err := buildProviders(ctx, cfg.Providers)
	if err != nil {
		return fmt.Errorf("%w: %v", errProviderUnavailable, err)
	}
	enricher, err := buildEnricher(cfg.LLM)
	if err != nil {
		return err
	}

	// 3. Run the pipeline against a local sink; no queue, no index
	sink := &localSink{jsonPath: dumpJSON}
	pl := pipeline.New(cfg.Pipeline, provs, sink, nil, enricher)
	pl.GitHubRepos = cfg.Providers.GitHubRepos

	job := &models.InvestigationJob{Alert: alert, EnqueuedAt: time.Now().UTC()}
	if _, err := pl.Run(ctx, job); err != nil {
		return fmt.Errorf("%w: %v", errPipelineFatal, err)
	}
	return nil
}

// fetchActiveAlerts lists firing alerts, mapping unavailability to the
// provider-unavailable exit code.
func fetchActiveAlerts(ctx context.Context, alertmanagerURL string) ([]*models.AlertInstance, error) {
	if alertmanagerURL == "" {
		return nil, fmt.Errorf("%w: ALERTMANAGER_URL is not set", errProviderUnavailable)
	}
	am := providers.NewAlertmanagerProvider(alertmanagerURL)
	alerts, avail := am.ActiveAlerts(ctx)
	if avail.Status == models.SlotUnavailable {
		return nil, fmt.Errorf("%w: alertmanager: %s", errProviderUnavailable, avail.Reason)
	}
	return alerts, nil
}

// selectAlert resolves --alert / --fingerprint against the active list.
func selectAlert(alerts []*models.AlertInstance, alertNum int, fingerprint string) (*models.AlertInstance, error) {
	if fingerprint != "" {
		for _, a := range alerts {
			if a.Fingerprint == fingerprint {
				return a, nil
			}
		}
		return nil, fmt.Errorf("no active alert with fingerprint %s", fingerprint)
	}
	if alertNum < 1 || alertNum > len(alerts) {
		return nil, fmt.Errorf("alert number %d out of range (1..%d)", alertNum, len(alerts))
	}
	return alerts[alertNum-1], nil
}

// localSink prints the rendered report to stdout instead of persisting it.
type localSink struct {
	jsonPath string
}

func (s *localSink) Persist(_ context.Context, inv *models.Investigation, _ int64) error {
	fmt.Println(inv.ReportMarkdown)
	if s.jsonPath == "" {
		return nil
	}
	body, err := report.JSON(inv)
	if err != nil {
		return fmt.Errorf("encoding analysis JSON: %w", err)
	}
	if err := os.WriteFile(s.jsonPath, body, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", s.jsonPath, err)
	}
	return nil
}
