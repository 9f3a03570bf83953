// Package llm is the optional post-deterministic enrichment. It summarizes a
// finished investigation through the Anthropic API and attaches the result to
// the analysis. It runs after scoring on a redacted copy of the evidence and
// can never modify deterministic fields; any failure is recorded on
// analysis.llm and the pipeline continues.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/models"
	"github.com/codeready-toolchain/tarka/pkg/redact"
)

const maxResponseTokens = 1024

const systemPrompt = `You are an SRE assistant summarizing an automated alert investigation.
You receive redacted evidence, diagnostic findings, and a deterministic decision.
Respond with a single JSON object: {"summary": string, "likely_root_cause": string,
"confidence": number between 0 and 1, "next_steps": [string]}.
Base every statement on the provided evidence. If the evidence is inconclusive, say so.
Do not invent resource names, metrics, or impact.`

// Enricher calls the Anthropic API for investigation summaries and chat.
type Enricher struct {
	client   anthropic.Client
	model    anthropic.Model
	cfg      *config.LLMConfig
	redactor *redact.Redactor
}

// NewEnricher builds an enricher from config. Returns nil when enrichment is
// disabled; callers treat a nil enricher as status "disabled".
func NewEnricher(cfg *config.LLMConfig) (*Enricher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM_ENABLED is set but ANTHROPIC_API_KEY is empty")
	}
	return &Enricher{
		client:   anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:    anthropic.Model(cfg.Model),
		cfg:      cfg,
		redactor: redact.New(cfg.RedactInfrastructure),
	}, nil
}

// enrichmentResponse is the JSON shape the model is asked to produce.
type enrichmentResponse struct {
	Summary         string   `json:"summary"`
	LikelyRootCause string   `json:"likely_root_cause"`
	Confidence      float64  `json:"confidence"`
	NextSteps       []string `json:"next_steps"`
}

// Enrich produces the LLM enrichment for a completed investigation. The
// returned record always has a status; errors are carried on it, never
// returned, because enrichment failure must not fail the pipeline.
func (e *Enricher) Enrich(ctx context.Context, inv *models.Investigation) *models.LLMEnrichment {
	if e == nil {
		return &models.LLMEnrichment{Status: models.LLMDisabled}
	}

	prompt, err := e.buildPrompt(inv)
	if err != nil {
		slog.Error("LLM prompt assembly failed", "run_id", inv.RunID, "error", err)
		return &models.LLMEnrichment{Status: models.LLMFailed, Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: maxResponseTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		slog.Warn("LLM enrichment call failed", "run_id", inv.RunID, "error", err)
		return &models.LLMEnrichment{Status: models.LLMFailed, Error: err.Error()}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	parsed, err := parseResponse(text.String())
	if err != nil {
		slog.Warn("LLM enrichment response unparseable", "run_id", inv.RunID, "error", err)
		return &models.LLMEnrichment{Status: models.LLMFailed, Error: err.Error()}
	}

	return &models.LLMEnrichment{
		Status:          models.LLMOK,
		Summary:         parsed.Summary,
		LikelyRootCause: parsed.LikelyRootCause,
		Confidence:      clampConfidence(parsed.Confidence),
		NextSteps:       parsed.NextSteps,
	}
}

// Answer responds to one operator chat question about a stored investigation.
// Context is the redacted evidence plus the report; no provider calls happen
// here.
func (e *Enricher) Answer(ctx context.Context, inv *models.Investigation, history []ChatTurn, question string) (string, error) {
	if e == nil {
		return "", fmt.Errorf("LLM enrichment is disabled")
	}

	prompt, err := e.buildPrompt(inv)
	if err != nil {
		return "", err
	}

	msgs := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(
			"Investigation context:\n" + prompt)),
		anthropic.NewAssistantMessage(anthropic.NewTextBlock(
			"Understood. I will answer questions about this investigation using only its evidence.")),
	}
	for _, turn := range history {
		if turn.Role == ChatRoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(e.redactor.Redact(turn.Content))))
		}
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(e.redactor.Redact(question))))

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: maxResponseTokens,
		System: []anthropic.TextBlockParam{{
			Text: "You answer operator questions about one completed alert investigation. Use only the supplied evidence; say when something is unknown.",
		}},
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// ChatRole identifies the author of a chat turn.
type ChatRole string

// Chat roles.
const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatTurn is one prior message in a chat thread.
type ChatTurn struct {
	Role    ChatRole
	Content string
}

// buildPrompt serializes the redacted investigation context. Raw log lines
// are included only when LLM_INCLUDE_LOGS is set; parsed patterns always are.
func (e *Enricher) buildPrompt(inv *models.Investigation) (string, error) {
	redacted, err := e.redactor.Evidence(inv.Evidence)
	if err != nil {
		return "", fmt.Errorf("redacting evidence: %w", err)
	}
	if !e.cfg.IncludeLogs {
		redacted.Logs.Entries = nil
	}

	payload := map[string]any{
		"alert":    inv.Alert.Alertname,
		"identity": inv.Identity.String(),
		"family":   inv.Family,
		"evidence": redacted,
		"decision": inv.Analysis.Decision,
		"findings": inv.Analysis.Findings,
		"scores":   inv.Analysis.Scores,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding prompt payload: %w", err)
	}
	return string(raw), nil
}

// parseResponse extracts the JSON object from the model reply, tolerating
// fenced code blocks around it.
func parseResponse(text string) (*enrichmentResponse, error) {
	trimmed := strings.TrimSpace(text)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	var resp enrichmentResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return nil, fmt.Errorf("decoding enrichment JSON: %w", err)
	}
	if resp.Summary == "" {
		return nil, fmt.Errorf("enrichment JSON has no summary")
	}
	return &resp, nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
