package diag

import (
	"fmt"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Series name conventions shared with the playbooks' query sets.
const (
	SeriesThrottlePct   = "throttle_pct"
	SeriesMemoryRatio   = "memory_usage_ratio"
	SeriesCPURatio      = "cpu_usage_ratio"
	SeriesHTTP5xxRate   = "http_5xx_rate"
	SeriesHTTPTotalRate = "http_total_rate"
	SeriesUp            = "up"
	SeriesRestarts      = "restarts"
)

func series(ev *models.Evidence, name string) (models.MetricSeries, bool) {
	s, ok := ev.Metrics.Series[name]
	return s, ok && len(s.Points) > 0
}

var metricsModules = []Module{
	module{
		id:      "metrics.cpu_throttle_high",
		applies: metricsOK,
		run: func(ev *models.Evidence) *models.Finding {
			s, ok := series(ev, SeriesThrottlePct)
			if !ok || s.Max < 25 {
				return nil
			}
			sev := models.SeverityWarn
			if s.Max >= 60 {
				sev = models.SeverityError
			}
			return &models.Finding{
				Severity: sev,
				Label:    "CPU throttling",
				Why:      []string{fmt.Sprintf("throttled share peaked at %.1f%% in the window (latest %.1f%%)", s.Max, s.Latest)},
				Next: []string{
					s.Query,
					"raise the CPU limit or remove it if the workload is latency-sensitive",
				},
				EvidenceRefs: []string{"metrics." + SeriesThrottlePct},
			}
		},
	},
	module{
		id:      "metrics.memory_near_limit",
		applies: metricsOK,
		run: func(ev *models.Evidence) *models.Finding {
			s, ok := series(ev, SeriesMemoryRatio)
			if !ok || s.Max < 0.9 {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityError,
				Label:        "memory near limit",
				Why:          []string{fmt.Sprintf("working set reached %.0f%% of the memory limit", s.Max*100)},
				Next:         []string{s.Query, "expect OOM kills if the trend continues"},
				EvidenceRefs: []string{"metrics." + SeriesMemoryRatio},
			}
		},
	},
	module{
		id:      "metrics.cpu_saturated",
		applies: metricsOK,
		run: func(ev *models.Evidence) *models.Finding {
			s, ok := series(ev, SeriesCPURatio)
			if !ok || s.Max < 0.95 {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityWarn,
				Label:        "CPU at limit",
				Why:          []string{fmt.Sprintf("CPU usage reached %.0f%% of the limit", s.Max*100)},
				Next:         []string{s.Query},
				EvidenceRefs: []string{"metrics." + SeriesCPURatio},
			}
		},
	},
	module{
		id:      "metrics.http_5xx_elevated",
		applies: metricsOK,
		run: func(ev *models.Evidence) *models.Finding {
			s, ok := series(ev, SeriesHTTP5xxRate)
			if !ok || s.Max <= 0 {
				return nil
			}
			sev := models.SeverityWarn
			if s.Latest > 1 {
				sev = models.SeverityError
			}
			return &models.Finding{
				Severity:     sev,
				Label:        "elevated 5xx rate",
				Why:          []string{fmt.Sprintf("5xx rate peaked at %.2f req/s (latest %.2f req/s)", s.Max, s.Latest)},
				Next:         []string{s.Query, "correlate with upstream dependency health and recent deploys"},
				EvidenceRefs: []string{"metrics." + SeriesHTTP5xxRate},
			}
		},
	},
	module{
		id:      "metrics.target_absent",
		applies: metricsOK,
		run: func(ev *models.Evidence) *models.Finding {
			s, ok := series(ev, SeriesUp)
			if !ok || s.Latest != 0 {
				return nil
			}
			return &models.Finding{
				Severity:     models.SeverityError,
				Label:        "scrape target down",
				Why:          []string{"the target's up series is 0 — Prometheus cannot scrape it"},
				Next:         []string{s.Query, "curl the metrics endpoint from inside the cluster"},
				EvidenceRefs: []string{"metrics." + SeriesUp},
			}
		},
	},
}
