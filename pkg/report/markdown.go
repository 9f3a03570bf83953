// Package report renders an investigation into Markdown and structured JSON.
// Rendering is pure and byte-deterministic: identical investigations produce
// identical bytes, independent of map iteration or wall-clock.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Section headings are a compatibility contract: the UI locates sections by
// heading text. Do not reorder or rename.
const (
	headingSummary    = "## Summary"
	headingDecision   = "## Decision"
	headingEvidence   = "## Evidence"
	headingFindings   = "## Findings"
	headingHypotheses = "## Hypotheses"
	headingScores     = "## Scores"
	headingNextSteps  = "## Next steps"
	headingAppendix   = "## Appendix"
)

// Markdown renders the full report.
func Markdown(inv *models.Investigation) string {
	var b strings.Builder

	writeTitle(&b, inv)
	writeSummary(&b, inv)
	writeDecision(&b, inv)
	writeEvidence(&b, inv)
	writeFindings(&b, inv)
	writeHypotheses(&b, inv)
	writeScores(&b, inv)
	writeNextSteps(&b, inv)
	writeAppendix(&b, inv)

	return b.String()
}

func writeTitle(b *strings.Builder, inv *models.Investigation) {
	fmt.Fprintf(b, "# %s — %s\n\n", inv.Alert.Alertname, inv.Identity.String())
}

func writeSummary(b *strings.Builder, inv *models.Investigation) {
	b.WriteString(headingSummary + "\n\n")
	a := inv.Analysis
	fmt.Fprintf(b, "%s\n\n", a.Decision.Label)
	fmt.Fprintf(b, "- family: `%s`\n", inv.Family)
	fmt.Fprintf(b, "- severity: `%s`\n", inv.Alert.Severity())
	fmt.Fprintf(b, "- classification: `%s`\n", a.Scores.Classification)
	if len(a.Blocked) > 0 {
		names := make([]string, len(a.Blocked))
		for i, s := range a.Blocked {
			names[i] = string(s)
		}
		fmt.Fprintf(b, "- **blocked**: %s\n", strings.Join(names, ", "))
	}
	if a.LLM != nil && a.LLM.Status == models.LLMOK && a.LLM.Summary != "" {
		fmt.Fprintf(b, "\n%s\n", a.LLM.Summary)
	}
	b.WriteString("\n")
}

func writeDecision(b *strings.Builder, inv *models.Investigation) {
	b.WriteString(headingDecision + "\n\n")
	d := inv.Analysis.Decision
	fmt.Fprintf(b, "**%s**\n\n", d.Label)
	for _, why := range d.Why {
		fmt.Fprintf(b, "- %s\n", why)
	}
	b.WriteString("\n")
}

func writeEvidence(b *strings.Builder, inv *models.Investigation) {
	b.WriteString(headingEvidence + "\n\n")
	ev := inv.Evidence

	fmt.Fprintf(b, "- %s\n", slotLine("k8s", ev.Kube.Availability))
	fmt.Fprintf(b, "- %s\n", slotLine("metrics", ev.Metrics.Availability))
	fmt.Fprintf(b, "- %s\n", slotLine("logs", ev.Logs.Availability))
	if ev.AWS != nil {
		fmt.Fprintf(b, "- %s\n", slotLine("aws", ev.AWS.Availability))
	}
	if ev.GitHub != nil {
		fmt.Fprintf(b, "- %s\n", slotLine("github", ev.GitHub.Availability))
	}
	fmt.Fprintf(b, "- %s\n", slotLine("change", ev.Change.Availability))
	b.WriteString("\n")

	if pod := ev.Kube.Pod; pod != nil {
		fmt.Fprintf(b, "### Pod %s/%s\n\n", pod.Namespace, pod.Name)
		fmt.Fprintf(b, "- phase: %s\n", pod.Phase)
		for _, c := range pod.Containers {
			line := fmt.Sprintf("- container `%s`: %s", c.Name, c.State)
			if c.Reason != "" {
				line += " (" + c.Reason + ")"
			}
			line += fmt.Sprintf(", restarts=%d", c.RestartCount)
			if c.LastTerminatedReason != "" {
				line += ", last termination: " + c.LastTerminatedReason
				if c.LastExitCode != nil {
					line += fmt.Sprintf(" (exit %d)", *c.LastExitCode)
				}
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	if ev.Metrics.OK() && len(ev.Metrics.Series) > 0 {
		b.WriteString("### Metrics\n\n")
		names := make([]string, 0, len(ev.Metrics.Series))
		for name := range ev.Metrics.Series {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := ev.Metrics.Series[name]
			fmt.Fprintf(b, "- `%s`: latest=%s, max=%s%s\n",
				name, fixed(s.Latest), fixed(s.Max), unitSuffix(s.Unit))
		}
		b.WriteString("\n")
	}

	if ev.Logs.OK() && len(ev.Logs.Parsed) > 0 {
		b.WriteString("### Log patterns\n\n")
		if ev.Logs.Historical {
			b.WriteString("recovered from retention after pod deletion\n\n")
		}
		for _, p := range ev.Logs.Parsed {
			fmt.Fprintf(b, "- `%s` ×%d: %s\n", p.Kind, p.Count, p.Representative)
		}
		b.WriteString("\n")
	}

	if ev.Change.Summary != "" {
		b.WriteString("### Recent changes\n\n")
		fmt.Fprintf(b, "%s\n\n", ev.Change.Summary)
	}
}

func writeFindings(b *strings.Builder, inv *models.Investigation) {
	b.WriteString(headingFindings + "\n\n")
	if len(inv.Analysis.Findings) == 0 {
		b.WriteString("none\n\n")
		return
	}
	for _, f := range inv.Analysis.Findings {
		fmt.Fprintf(b, "- **[%s]** %s (`%s`)\n", f.Severity, f.Label, f.ModuleID)
		for _, why := range f.Why {
			fmt.Fprintf(b, "  - %s\n", why)
		}
	}
	b.WriteString("\n")
}

func writeHypotheses(b *strings.Builder, inv *models.Investigation) {
	b.WriteString(headingHypotheses + "\n\n")
	if len(inv.Analysis.Hypotheses) == 0 {
		b.WriteString("none\n\n")
		return
	}
	for _, h := range inv.Analysis.Hypotheses {
		fmt.Fprintf(b, "- **%s** (confidence %s)\n", h.RootCause, fixed(h.Confidence))
		for _, e := range h.Evidence {
			fmt.Fprintf(b, "  - evidence: %s\n", e)
		}
		for _, u := range h.Unknowns {
			fmt.Fprintf(b, "  - unknown: %s\n", u)
		}
	}
	b.WriteString("\n")
}

func writeScores(b *strings.Builder, inv *models.Investigation) {
	b.WriteString(headingScores + "\n\n")
	s := inv.Analysis.Scores
	fmt.Fprintf(b, "| impact | confidence | noise | classification |\n")
	fmt.Fprintf(b, "|--------|------------|-------|----------------|\n")
	fmt.Fprintf(b, "| %d | %d | %d | %s |\n\n", s.Impact, s.Confidence, s.Noise, s.Classification)
}

func writeNextSteps(b *strings.Builder, inv *models.Investigation) {
	b.WriteString(headingNextSteps + "\n\n")
	next := inv.Analysis.Decision.Next
	if len(next) == 0 {
		b.WriteString("none\n\n")
		return
	}
	for _, step := range next {
		if lang, ok := commandLang(step); ok {
			fmt.Fprintf(b, "```%s\n%s\n```\n", lang, step)
		} else {
			fmt.Fprintf(b, "- %s\n", step)
		}
	}
	b.WriteString("\n")
}

func writeAppendix(b *strings.Builder, inv *models.Investigation) {
	b.WriteString(headingAppendix + "\n\n")
	fmt.Fprintf(b, "- case: `%s`\n", inv.CaseID)
	fmt.Fprintf(b, "- run: `%s`\n", inv.RunID)
	fmt.Fprintf(b, "- fingerprint: `%s`\n", inv.Alert.Fingerprint)
	fmt.Fprintf(b, "- generated: %s\n", inv.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	for _, se := range inv.Analysis.StageErrors {
		fmt.Fprintf(b, "- stage error: %s (%s)\n", se.Stage, se.Reason)
	}
	if llm := inv.Analysis.LLM; llm != nil {
		fmt.Fprintf(b, "- llm: %s", llm.Status)
		if llm.Error != "" {
			fmt.Fprintf(b, " (%s)", llm.Error)
		}
		b.WriteString("\n")
	}
}

// slotLine renders one availability line, e.g. "logs=unavailable (http_error:503)".
func slotLine(name string, a models.Availability) string {
	if a.Status == models.SlotUnavailable {
		return fmt.Sprintf("%s=%s (%s)", name, a.Status, a.Reason)
	}
	return fmt.Sprintf("%s=%s", name, a.Status)
}

// commandLang reports whether a next-step line is a recognized command and
// which fence language tag it gets.
func commandLang(step string) (string, bool) {
	switch {
	case strings.HasPrefix(step, "kubectl "):
		return "sh", true
	case strings.HasPrefix(step, "aws "):
		return "sh", true
	case strings.HasPrefix(step, "curl "):
		return "sh", true
	case strings.HasPrefix(step, "gh "):
		return "sh", true
	case looksLikePromQL(step):
		return "promql", true
	}
	return "", false
}

// looksLikePromQL is a conservative sniff: a metric selector with braces or a
// known aggregate call, and no spaces before the first paren or brace.
func looksLikePromQL(step string) bool {
	if !strings.ContainsAny(step, "{(") {
		return false
	}
	for _, prefix := range []string{"sum(", "rate(", "max(", "min(", "avg(", "count(", "increase(", "histogram_quantile(", "up{", "up ", "100 *"} {
		if strings.HasPrefix(step, prefix) {
			return true
		}
	}
	head := step
	if i := strings.IndexAny(step, "{("); i >= 0 {
		head = step[:i]
	}
	return head != "" && !strings.Contains(head, " ")
}

// fixed formats a float with exactly two decimals. Scores and confidences
// must not vary their width between runs.
func fixed(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}
