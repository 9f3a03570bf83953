package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/evidence"
	"github.com/codeready-toolchain/tarka/pkg/llm"
	"github.com/codeready-toolchain/tarka/pkg/providers"
	"github.com/codeready-toolchain/tarka/pkg/store"
)

// responseCacheSize bounds the shared LRU for logs and GitHub responses.
const responseCacheSize = 256

// buildProviders wires the evidence adapters from configuration. Optional
// sources (logs, AWS, GitHub) stay nil when not configured; collectors record
// them as unavailable.
func buildProviders(ctx context.Context, cfg *config.ProviderConfig) (*evidence.Providers, error) {
	metrics, err := providers.NewPrometheusProvider(cfg.PrometheusURL)
	if err != nil {
		return nil, fmt.Errorf("prometheus provider: %w", err)
	}

	kube, err := providers.NewKubeProvider(cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("kubernetes provider: %w", err)
	}

	cache, err := providers.NewResponseCache(responseCacheSize)
	if err != nil {
		return nil, fmt.Errorf("response cache: %w", err)
	}

	p := &evidence.Providers{
		Metrics: metrics,
		Kube:    kube,
	}

	if cfg.LogsURL != "" {
		p.Logs = providers.NewLogsProvider(cfg.LogsURL, cfg.LogsBackend, cache)
		slog.Info("Logs provider enabled", "url", cfg.LogsURL, "backend", cfg.LogsBackend)
	}
	if cfg.AWSEnabled {
		aws, err := providers.NewAWSProvider(ctx, cfg.CloudTrailLookback, cfg.CloudTrailMaxEvents)
		if err != nil {
			return nil, fmt.Errorf("aws provider: %w", err)
		}
		p.AWS = aws
		slog.Info("AWS change evidence enabled", "lookback", cfg.CloudTrailLookback)
	}
	if cfg.GitHubEnabled {
		p.GitHub = providers.NewGitHubProvider(cfg.GitHubToken, cache)
		slog.Info("GitHub change evidence enabled", "repos", len(cfg.GitHubRepos))
	}

	return p, nil
}

// buildStore wires the artifact store and the relational index, running
// migrations on the way up.
func buildStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	artifacts, err := store.NewArtifactStore(ctx, cfg.Store, cfg.Pipeline.FreshnessWindow)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	index, err := store.NewIndex(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}

	return store.New(artifacts, index), nil
}

// buildEnricher wires the optional LLM enrichment; returns nil when disabled.
func buildEnricher(cfg *config.LLMConfig) (*llm.Enricher, error) {
	enricher, err := llm.NewEnricher(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm enricher: %w", err)
	}
	if enricher != nil {
		slog.Info("LLM enrichment enabled", "model", cfg.Model)
	}
	return enricher, nil
}
