package diag

import (
	"fmt"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

func patternsOfKind(ev *models.Evidence, kind models.PatternKind) (int, string) {
	count := 0
	representative := ""
	for _, p := range ev.Logs.Parsed {
		if p.Kind != kind {
			continue
		}
		count += p.Count
		if representative == "" {
			representative = p.Representative
		}
	}
	return count, representative
}

var logModules = []Module{
	module{
		id:      "logs.oom_signature",
		applies: logsOK,
		run: func(ev *models.Evidence) *models.Finding {
			count, rep := patternsOfKind(ev, models.PatternOOM)
			if count == 0 {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityCritical,
				Label:        "OOM signature in logs",
				Why:          []string{fmt.Sprintf("%d out-of-memory lines, e.g. %q", count, rep)},
				Next:         []string{"compare working-set usage against the memory limit"},
				EvidenceRefs: []string{"logs.parsed_patterns"},
			}
		},
	},
	module{
		id:      "logs.fatal",
		applies: logsOK,
		run: func(ev *models.Evidence) *models.Finding {
			count, rep := patternsOfKind(ev, models.PatternFatalPrefix)
			if count == 0 {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityCritical,
				Label:        "fatal errors in logs",
				Why:          []string{fmt.Sprintf("%d fatal lines, e.g. %q", count, rep)},
				Next:         []string{"the process is exiting at startup — read the first fatal line closely"},
				EvidenceRefs: []string{"logs.parsed_patterns"},
			}
		},
	},
	module{
		id:      "logs.error_burst",
		applies: logsOK,
		run: func(ev *models.Evidence) *models.Finding {
			count, rep := patternsOfKind(ev, models.PatternErrorPrefix)
			if count < 10 {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityWarn,
				Label:        "error burst in logs",
				Why:          []string{fmt.Sprintf("%d error lines in the window, e.g. %q", count, rep)},
				Next:         []string{"group the errors by message to find the dominant failure"},
				EvidenceRefs: []string{"logs.parsed_patterns"},
			}
		},
	},
	module{
		id:      "logs.exceptions",
		applies: logsOK,
		run: func(ev *models.Evidence) *models.Finding {
			count, rep := patternsOfKind(ev, models.PatternException)
			if count == 0 {
				return nil
			}
			frames, _ := patternsOfKind(ev, models.PatternStackFrame)
			why := []string{fmt.Sprintf("%d exception lines, e.g. %q", count, rep)}
			if frames > 0 {
				why = append(why, fmt.Sprintf("%d stack frames follow the exceptions", frames))
			}
			return &models.Finding{
				Severity:     models.SeverityError,
				Label:        "unhandled exceptions in logs",
				Why:          why,
				Next:         []string{"map the top stack frame to the owning code path"},
				EvidenceRefs: []string{"logs.parsed_patterns"},
			}
		},
	},
	module{
		id:      "logs.connection_failures",
		applies: logsOK,
		run: func(ev *models.Evidence) *models.Finding {
			count, rep := patternsOfKind(ev, models.PatternConnection)
			if count == 0 {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityError,
				Label:        "connection failures in logs",
				Why:          []string{fmt.Sprintf("%d connection errors, e.g. %q", count, rep)},
				Next:         []string{"check the downstream service and any NetworkPolicy between them"},
				EvidenceRefs: []string{"logs.parsed_patterns"},
			}
		},
	},
	module{
		id:      "logs.timeouts",
		applies: logsOK,
		run: func(ev *models.Evidence) *models.Finding {
			count, rep := patternsOfKind(ev, models.PatternTimeout)
			if count == 0 {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityWarn,
				Label:        "timeouts in logs",
				Why:          []string{fmt.Sprintf("%d timeout lines, e.g. %q", count, rep)},
				Next:         []string{"check downstream latency; a saturated dependency shows up here first"},
				EvidenceRefs: []string{"logs.parsed_patterns"},
			}
		},
	},
	module{
		id:      "logs.http_5xx",
		applies: logsOK,
		run: func(ev *models.Evidence) *models.Finding {
			count, rep := patternsOfKind(ev, models.PatternHTTP5xx)
			if count == 0 {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityWarn,
				Label:        "5xx responses in logs",
				Why:          []string{fmt.Sprintf("%d 5xx access-log lines, e.g. %q", count, rep)},
				Next:         []string{"correlate with the 5xx-rate metric for blast radius"},
				EvidenceRefs: []string{"logs.parsed_patterns"},
			}
		},
	},
}
