// Package redact masks sensitive material before evidence leaves the process
// boundary (LLM enrichment, chat replies). Redaction is tiered: the secrets
// tier is always on; the infrastructure tier (IPs, internal hostnames, AWS
// account IDs) is opt-in.
//
// Redaction is idempotent: applying the redactor to already-redacted text is
// a no-op, so evidence can safely pass through it more than once.
package redact

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Tier identifies a group of patterns.
type Tier string

// Redaction tiers.
const (
	TierSecrets        Tier = "secrets"
	TierInfrastructure Tier = "infrastructure"
)

type pattern struct {
	name        string
	tier        Tier
	regex       *regexp.Regexp
	replacement string
}

// Patterns are compiled once at package init. Replacements are chosen so they
// never re-match their own pattern.
var patterns = []pattern{
	{
		name:        "private_key_block",
		tier:        TierSecrets,
		regex:       regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
		replacement: "[REDACTED_PRIVATE_KEY]",
	},
	{
		name:        "bearer_token",
		tier:        TierSecrets,
		regex:       regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{8,}=*`),
		replacement: "Bearer [REDACTED_TOKEN]",
	},
	{
		name:        "aws_access_key",
		tier:        TierSecrets,
		regex:       regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`),
		replacement: "[REDACTED_AWS_KEY]",
	},
	{
		name:        "api_key",
		tier:        TierSecrets,
		regex:       regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{16,}\b`),
		replacement: "[REDACTED_API_KEY]",
	},
	{
		name:        "key_value_secret",
		tier:        TierSecrets,
		regex:       regexp.MustCompile(`(?i)([\w-]*(?:api[_-]?key|access[_-]?key|secret|token|password|passwd))(["']?\s*[:=]\s*["']?)[^\s"',}\[\]]+`),
		replacement: "$1$2[REDACTED]",
	},
	{
		name:        "url_basic_auth",
		tier:        TierSecrets,
		regex:       regexp.MustCompile(`://[^/\s:@"']+:[^/\s@"']+@`),
		replacement: "://[REDACTED]@",
	},
	{
		name:        "ipv4",
		tier:        TierInfrastructure,
		regex:       regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		replacement: "[REDACTED_IP]",
	},
	{
		name:        "aws_account_arn",
		tier:        TierInfrastructure,
		regex:       regexp.MustCompile(`\barn:aws:([a-z0-9\-]+):([a-z0-9\-]*):\d{12}:`),
		replacement: "arn:aws:$1:$2:[REDACTED_ACCOUNT]:",
	},
	{
		name:        "internal_hostname",
		tier:        TierInfrastructure,
		regex:       regexp.MustCompile(`\b[a-z0-9][a-z0-9\-.]*\.(?:internal|corp|local)\b`),
		replacement: "[REDACTED_HOST]",
	},
}

// Redactor applies the selected tiers plus the structural Secret-manifest
// masker. Stateless and safe for concurrent use.
type Redactor struct {
	active []pattern
}

// New builds a redactor. The secrets tier is always included;
// redactInfrastructure adds the infrastructure tier.
func New(redactInfrastructure bool) *Redactor {
	var active []pattern
	for _, p := range patterns {
		if p.tier == TierSecrets || (redactInfrastructure && p.tier == TierInfrastructure) {
			active = append(active, p)
		}
	}
	return &Redactor{active: active}
}

// Redact masks sensitive material in a string. The structural Secret-manifest
// masker runs first so regex replacements cannot corrupt the document before
// it is parsed.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	masked := maskSecretManifests(s)
	for _, p := range r.active {
		masked = p.regex.ReplaceAllString(masked, p.replacement)
	}
	return masked
}

// Evidence returns a redacted deep copy; the original is never mutated.
// Redaction runs over the JSON encoding so every nested string field is
// covered without per-type walkers. A copy that no longer parses is a
// redaction bug and fails closed.
func (r *Redactor) Evidence(ev *models.Evidence) (*models.Evidence, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding evidence for redaction: %w", err)
	}
	masked := r.Redact(string(raw))
	var out models.Evidence
	if err := json.Unmarshal([]byte(masked), &out); err != nil {
		return nil, fmt.Errorf("redacted evidence no longer parses: %w", err)
	}
	return &out, nil
}
