package logparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

func entry(ts time.Time, line string) models.LogEntry {
	return models.LogEntry{Timestamp: ts, Line: line}
}

func TestParse_Empty(t *testing.T) {
	assert.Nil(t, Parse(nil))
	assert.Nil(t, Parse([]models.LogEntry{}))
}

func TestParse_SingleEntry(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got := Parse([]models.LogEntry{entry(ts, "ERROR failed to open database")})
	require.Len(t, got, 1)
	assert.Equal(t, models.PatternErrorPrefix, got[0].Kind)
	assert.Equal(t, 1, got[0].Count)
	assert.Equal(t, ts, got[0].FirstSeen)
	assert.Equal(t, ts, got[0].LastSeen)
}

func TestParse_Classification(t *testing.T) {
	cases := []struct {
		line string
		kind models.PatternKind
	}{
		{"ERROR: connection pool exhausted", models.PatternErrorPrefix},
		{"level=error msg=\"sync failed\"", models.PatternErrorPrefix},
		{"FATAL: could not bind port 8080", models.PatternFatalPrefix},
		{"java.lang.NullPointerException: null", models.PatternException},
		{"    at com.example.Main.run(Main.java:42)", models.PatternStackFrame},
		{"Out of memory: Killed process 1234", models.PatternOOM},
		{"oom-kill triggered for container app", models.PatternOOM},
		{"connection refused to 10.0.0.4:5432", models.PatternConnection},
		{"request timed out after 30s", models.PatternTimeout},
		{"context deadline exceeded while calling upstream", models.PatternTimeout},
		{`10.0.0.1 - - "GET /api HTTP/1.1" 503 42`, models.PatternHTTP5xx},
	}
	ts := time.Now()
	for _, tc := range cases {
		got := Parse([]models.LogEntry{entry(ts, tc.line)})
		require.Len(t, got, 1, "line %q", tc.line)
		assert.Equal(t, tc.kind, got[0].Kind, "line %q", tc.line)
	}
}

func TestParse_IgnoresNonErrorLines(t *testing.T) {
	ts := time.Now()
	got := Parse([]models.LogEntry{
		entry(ts, "INFO server started on :8080"),
		entry(ts, "listening for requests"),
		entry(ts, ""),
	})
	assert.Empty(t, got)
}

func TestParse_CollapsesDuplicates(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(5 * time.Minute)
	t2 := t0.Add(10 * time.Minute)

	// Same message behind different timestamps must collapse to one pattern.
	got := Parse([]models.LogEntry{
		entry(t1, "2026-03-01T10:05:00Z ERROR: upstream unreachable"),
		entry(t0, "2026-03-01T10:00:00Z ERROR: upstream unreachable"),
		entry(t2, "2026-03-01T10:10:00Z ERROR: upstream unreachable"),
	})
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Count)
	assert.Equal(t, t0, got[0].FirstSeen)
	assert.Equal(t, t2, got[0].LastSeen)
	assert.Equal(t, "ERROR: upstream unreachable", got[0].Representative)
}

func TestParse_Deterministic(t *testing.T) {
	ts := time.Now()
	entries := []models.LogEntry{
		entry(ts, "ERROR: a"),
		entry(ts, "FATAL: b"),
		entry(ts, "ERROR: a"),
		entry(ts, "connection reset by peer"),
	}
	first := Parse(entries)
	second := Parse(entries)
	assert.Equal(t, first, second)
	// First-seen ordering is preserved.
	require.Len(t, first, 3)
	assert.Equal(t, "ERROR: a", first[0].Representative)
	assert.Equal(t, "FATAL: b", first[1].Representative)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ERROR boom",
		Normalize("\x1b[31mERROR boom\x1b[0m"))
	assert.Equal(t, "ERROR boom",
		Normalize("2026-03-01T10:00:00.123Z ERROR boom"))
	assert.Equal(t, "ERROR boom",
		Normalize("E0301 10:00:00.123456 1 ERROR boom"))
}

func TestErrorCount(t *testing.T) {
	patterns := []models.LogPattern{
		{Kind: models.PatternErrorPrefix, Count: 3},
		{Kind: models.PatternStackFrame, Count: 10},
		{Kind: models.PatternOOM, Count: 1},
	}
	assert.Equal(t, 4, ErrorCount(patterns))
}
