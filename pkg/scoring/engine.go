// Package scoring computes the impact/confidence/noise triple and the derived
// classification for an investigation. Scores are deterministic functions of
// the evidence, findings, and recurrence features; the same input always
// produces the same triple.
package scoring

import (
	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Classification thresholds.
const (
	ThresholdActionable = 60
	ThresholdNoise      = 70
)

// Input is everything the scorer consumes. No provider handles: scoring is
// pure and runs after all collection stages.
type Input struct {
	Alert      *models.AlertInstance
	Identity   models.Identity
	Evidence   *models.Evidence
	Findings   []models.Finding
	Hypotheses []models.Hypothesis
	Features   models.Features
	Blocked    []models.BlockedScenario
}

// DetectBlocked evaluates the missing-evidence scenarios against the
// identity and collected evidence.
func DetectBlocked(id models.Identity, ev *models.Evidence) []models.BlockedScenario {
	var blocked []models.BlockedScenario
	if !id.Known() {
		blocked = append(blocked, models.BlockedIdentityMissing)
	}
	if ev.Kube.Status == models.SlotUnavailable {
		blocked = append(blocked, models.BlockedK8sUnavailable)
	}
	if ev.Logs.Status == models.SlotUnavailable {
		blocked = append(blocked, models.BlockedLogsIndeterminate)
	}
	if ev.Metrics.Status == models.SlotUnavailable {
		blocked = append(blocked, models.BlockedMetricsUnavailable)
	}
	return blocked
}

// Score computes the triple and classification.
func Score(in Input) models.Scores {
	impact := impactScore(in)
	confidence := confidenceScore(in)
	noise := noiseScore(in, impact)

	return models.Scores{
		Impact:         impact,
		Confidence:     confidence,
		Noise:          noise,
		Classification: classify(impact, noise, in),
	}
}

// impactScore starts from the severity label and the blast-radius scope,
// then adjusts on impact proxies the evidence actually shows.
func impactScore(in Input) int {
	score := severityBase(in.Alert)

	switch in.Identity.Scope {
	case models.ScopeWorkload:
		score += 10
	case models.ScopeNonPod:
		score += 5
	case models.ScopeUnknown:
		// Unknown target: impact cannot be argued above a floor.
		return clamp(min(score, 25))
	}

	worst := worstSeverity(in.Findings)
	switch worst {
	case models.SeverityCritical:
		score += 30
	case models.SeverityError:
		score += 15
	case models.SeverityWarn:
		score += 5
	}

	if r := in.Features.HTTP5xxRate; r != nil && *r > 0 {
		score += 15
	}
	if r := in.Features.ReplicaAvailRatio; r != nil && *r < 0.5 {
		score += 15
	}
	if in.Features.RestartsLastHour >= 10 {
		score += 10
	}

	// Blast radius unknown without metrics: do not overstate.
	if in.Evidence.Metrics.Status == models.SlotUnavailable && worst != models.SeverityCritical {
		score -= 10
	}

	return clamp(score)
}

func severityBase(a *models.AlertInstance) int {
	switch a.Severity() {
	case "critical":
		return 55
	case "warning":
		return 35
	case "info":
		return 15
	default:
		return 25
	}
}

// confidenceScore is evidence completeness plus diagnostic coverage plus
// hypothesis consensus.
func confidenceScore(in Input) int {
	if !in.Identity.Known() {
		// Nothing collected can be attributed to a target.
		return clamp(min(10+len(in.Findings)*5, 25))
	}

	score := 0
	if in.Evidence.Kube.OK() {
		score += 30
	}
	if in.Evidence.Metrics.OK() {
		score += 20
	} else if in.Evidence.Metrics.Status == models.SlotEmpty {
		score += 10
	}
	if in.Evidence.Logs.OK() {
		score += 20
	} else if in.Evidence.Logs.Status == models.SlotEmpty {
		score += 10
	}

	if len(in.Findings) > 0 {
		score += 10
	}
	if worstSeverity(in.Findings) == models.SeverityCritical {
		score += 10
	}

	score += consensusBonus(in.Hypotheses)

	return clamp(score)
}

// consensusBonus rewards a single clear hypothesis over a spread of weak ones.
func consensusBonus(hs []models.Hypothesis) int {
	if len(hs) == 0 {
		return 0
	}
	best, second := 0.0, 0.0
	for _, h := range hs {
		if h.Confidence > best {
			second = best
			best = h.Confidence
		} else if h.Confidence > second {
			second = h.Confidence
		}
	}
	if best >= 0.8 && best-second >= 0.2 {
		return 10
	}
	if best >= 0.6 {
		return 5
	}
	return 0
}

// noiseScore grows with recurrence and with absence of any impact proxy.
func noiseScore(in Input, impact int) int {
	score := 0

	switch {
	case in.Features.Recurrence24h >= 12:
		score += 60
	case in.Features.Recurrence24h >= 6:
		score += 40
	case in.Features.Recurrence24h >= 3:
		score += 20
	}

	hasProxy := in.Features.HTTP5xxRate != nil ||
		in.Features.ReplicaAvailRatio != nil ||
		in.Features.MemoryUsageRatio != nil ||
		in.Features.ThrottlePct != nil
	if !hasProxy && in.Evidence.Metrics.OK() {
		score += 20
	}

	if impact < 30 {
		score += 15
	}
	if len(in.Findings) == 0 && in.Evidence.Kube.OK() {
		score += 15
	}

	return clamp(score)
}

// classify maps the triple to a classification. Blocked scenarios with no
// surviving signal are artifacts; with signal they cap at informational so a
// half-blind run never claims to be actionable.
func classify(impact, noise int, in Input) models.Classification {
	if len(in.Blocked) > 0 {
		if len(in.Findings) == 0 {
			return models.ClassArtifact
		}
		if noise >= ThresholdNoise {
			return models.ClassNoisy
		}
		return models.ClassInformational
	}
	if noise >= ThresholdNoise {
		return models.ClassNoisy
	}
	if impact >= ThresholdActionable {
		return models.ClassActionable
	}
	return models.ClassInformational
}

func worstSeverity(findings []models.Finding) models.Severity {
	rank := map[models.Severity]int{
		models.SeverityInfo:     0,
		models.SeverityWarn:     1,
		models.SeverityError:    2,
		models.SeverityCritical: 3,
	}
	worst := models.Severity("")
	worstRank := -1
	for _, f := range findings {
		if r := rank[f.Severity]; r > worstRank {
			worst, worstRank = f.Severity, r
		}
	}
	return worst
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
