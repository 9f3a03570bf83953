package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{
			name: "plain json",
			in:   `{"summary":"OOM loop","likely_root_cause":"memory limit too low","confidence":0.9,"next_steps":["raise limit"]}`,
		},
		{
			name: "fenced json",
			in:   "```json\n{\"summary\":\"OOM loop\",\"likely_root_cause\":\"x\",\"confidence\":0.5,\"next_steps\":[]}\n```",
		},
		{
			name: "prose around json",
			in:   `Here is the analysis: {"summary":"s","likely_root_cause":"r","confidence":0.7,"next_steps":[]} hope it helps`,
		},
		{
			name:    "no json",
			in:      "the pod is probably fine",
			wantErr: true,
		},
		{
			name:    "missing summary",
			in:      `{"likely_root_cause":"r","confidence":0.7}`,
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := parseResponse(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, resp.Summary)
		})
	}
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, clampConfidence(-0.5))
	assert.Equal(t, 1.0, clampConfidence(3.2))
	assert.Equal(t, 0.42, clampConfidence(0.42))
}

func TestNilEnricherIsDisabled(t *testing.T) {
	var e *Enricher
	result := e.Enrich(context.Background(), &models.Investigation{})
	assert.Equal(t, models.LLMDisabled, result.Status)

	_, err := e.Answer(context.Background(), &models.Investigation{}, nil, "what happened?")
	assert.Error(t, err)
}

func TestNewEnricher(t *testing.T) {
	e, err := NewEnricher(&config.LLMConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, e, "disabled config yields nil enricher")

	_, err = NewEnricher(&config.LLMConfig{Enabled: true})
	assert.Error(t, err, "enabled without API key is a config error")
}
