// Package logparse extracts error patterns from raw log lines.
//
// The parser is deterministic and side-effect free: identical input yields
// identical output, lines are scanned once (O(n)), and identical
// representative lines collapse into a single pattern with a count.
package logparse

import (
	"regexp"
	"strings"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// matcher pairs a pattern kind with its compiled regex. Matchers are tried
// in order; the first match classifies the line.
type matcher struct {
	kind  models.PatternKind
	regex *regexp.Regexp
}

// matchers is the fixed classification table. Order matters: more specific
// kinds (oom, exception) are tried before the generic error prefix.
var matchers = []matcher{
	{models.PatternOOM, regexp.MustCompile(`(?i)\b(out of memory|oom[- ]?kill(ed|er)?|cannot allocate memory)\b`)},
	{models.PatternFatalPrefix, regexp.MustCompile(`(?i)^\s*(fatal|panic)[:\s\]]`)},
	{models.PatternException, regexp.MustCompile(`\b\w+(Exception|Error)\b:|\bpanic:\s|^Traceback \(most recent call last\)`)},
	{models.PatternStackFrame, regexp.MustCompile(`^\s+at\s+\S+\(.*\)|^\s+File "[^"]+", line \d+|^\s*\S+\.go:\d+`)},
	{models.PatternHTTP5xx, regexp.MustCompile(`\b(HTTP/\d\.\d"?\s+5\d\d|status[= ]"?5\d\d|" 5\d\d )`)},
	{models.PatternTimeout, regexp.MustCompile(`(?i)\b(timed? ?out|deadline exceeded|context canceled)\b`)},
	{models.PatternConnection, regexp.MustCompile(`(?i)\b(connection (refused|reset|closed)|no route to host|broken pipe|dial tcp|EOF from server)\b`)},
	{models.PatternErrorPrefix, regexp.MustCompile(`(?i)^\s*(error|err|e!|\[error\])[:\s\]]|level=error|"level":"error"|\bERROR\b`)},
}

var (
	ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

	// leadingTimestampRe strips RFC3339-ish and klog-style prefixes so the
	// representative line is stable across occurrences.
	leadingTimestampRe = regexp.MustCompile(`^\s*(\d{4}[-/]\d{2}[-/]\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?\s*|[IWEF]\d{4} \d{2}:\d{2}:\d{2}(\.\d+)?\s+\d+\s|\d{2}:\d{2}:\d{2}(\.\d+)?\s+)`)
)

const maxRepresentativeLen = 400

// Normalize strips ANSI escapes and leading timestamps from a log line.
func Normalize(line string) string {
	line = ansiRe.ReplaceAllString(line, "")
	line = leadingTimestampRe.ReplaceAllString(line, "")
	return strings.TrimRight(line, " \t\r")
}

// Parse classifies entries into ordered, deduplicated patterns. Patterns are
// returned in first-seen order; entries with identical normalized lines merge
// into one pattern with an incremented count.
func Parse(entries []models.LogEntry) []models.LogPattern {
	if len(entries) == 0 {
		return nil
	}

	byLine := make(map[string]int)
	var patterns []models.LogPattern

	for _, e := range entries {
		line := Normalize(e.Line)
		if line == "" {
			continue
		}
		kind, ok := classify(line)
		if !ok {
			continue
		}
		rep := line
		if len(rep) > maxRepresentativeLen {
			rep = rep[:maxRepresentativeLen]
		}
		if idx, seen := byLine[rep]; seen {
			p := &patterns[idx]
			p.Count++
			if e.Timestamp.Before(p.FirstSeen) {
				p.FirstSeen = e.Timestamp
			}
			if e.Timestamp.After(p.LastSeen) {
				p.LastSeen = e.Timestamp
			}
			continue
		}
		byLine[rep] = len(patterns)
		patterns = append(patterns, models.LogPattern{
			Kind:           kind,
			Count:          1,
			FirstSeen:      e.Timestamp,
			LastSeen:       e.Timestamp,
			Representative: rep,
		})
	}
	return patterns
}

// ErrorCount returns the total occurrences across error-grade patterns
// (everything except stack frames, which accompany another pattern).
func ErrorCount(patterns []models.LogPattern) int {
	total := 0
	for _, p := range patterns {
		if p.Kind == models.PatternStackFrame {
			continue
		}
		total += p.Count
	}
	return total
}

func classify(line string) (models.PatternKind, bool) {
	for _, m := range matchers {
		if m.regex.MatchString(line) {
			return m.kind, true
		}
	}
	return "", false
}
