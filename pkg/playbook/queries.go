package playbook

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/tarka/pkg/diag"
	"github.com/codeready-toolchain/tarka/pkg/evidence"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

// podSelector renders the PromQL label matcher for the target. Workload and
// job identities match their pods by name prefix, which survives pod churn.
func podSelector(req *evidence.Request) string {
	id := req.Identity
	switch id.Scope {
	case models.ScopePod:
		return fmt.Sprintf(`namespace="%s", pod="%s"`, id.Namespace, id.Pod)
	case models.ScopeWorkload:
		return fmt.Sprintf(`namespace="%s", pod=~"%s-.*"`, id.Namespace, id.Owner)
	case models.ScopeJob:
		return fmt.Sprintf(`namespace="%s", pod=~"%s-.*"`, id.Namespace, id.Job)
	default:
		if ns := id.Namespace; ns != "" {
			return fmt.Sprintf(`namespace="%s"`, ns)
		}
		return ""
	}
}

// baseQueries is the minimum metric set every pod-scoped investigation
// collects: CPU/memory against limits plus restart counts.
func baseQueries(req *evidence.Request) map[string]evidence.Query {
	sel := podSelector(req)
	if sel == "" {
		return nil
	}
	return map[string]evidence.Query{
		diag.SeriesCPURatio: {
			PromQL: fmt.Sprintf(`sum(rate(container_cpu_usage_seconds_total{%s}[5m])) / sum(kube_pod_container_resource_limits{%s, resource="cpu"})`, sel, sel),
			Unit:   "ratio",
		},
		diag.SeriesMemoryRatio: {
			PromQL: fmt.Sprintf(`max(container_memory_working_set_bytes{%s}) / max(kube_pod_container_resource_limits{%s, resource="memory"})`, sel, sel),
			Unit:   "ratio",
		},
		diag.SeriesRestarts: {
			PromQL: fmt.Sprintf(`sum(increase(kube_pod_container_status_restarts_total{%s}[1h]))`, sel),
			Unit:   "restarts",
		},
	}
}

func withBase(req *evidence.Request, extra map[string]evidence.Query) map[string]evidence.Query {
	queries := baseQueries(req)
	if queries == nil {
		queries = map[string]evidence.Query{}
	}
	for name, q := range extra {
		queries[name] = q
	}
	return queries
}

func throttleQueries(req *evidence.Request) map[string]evidence.Query {
	sel := podSelector(req)
	return withBase(req, map[string]evidence.Query{
		diag.SeriesThrottlePct: {
			PromQL: fmt.Sprintf(`100 * sum(rate(container_cpu_cfs_throttled_periods_total{%s}[5m])) / sum(rate(container_cpu_cfs_periods_total{%s}[5m]))`, sel, sel),
			Unit:   "percent",
		},
	})
}

func http5xxQueries(req *evidence.Request) map[string]evidence.Query {
	// 5xx metrics are keyed by the scrape job, not the pod.
	job := req.Alert.Label(models.LabelJob)
	if job == "" {
		job = req.Alert.Label("service")
	}
	sel := fmt.Sprintf(`job="%s"`, job)
	if ns := req.Identity.Namespace; ns != "" {
		sel = fmt.Sprintf(`namespace="%s", job="%s"`, ns, job)
	}
	return withBase(req, map[string]evidence.Query{
		diag.SeriesHTTP5xxRate: {
			PromQL: fmt.Sprintf(`sum(rate(http_requests_total{%s, code=~"5.."}[5m]))`, sel),
			Unit:   "req/s",
		},
		diag.SeriesHTTPTotalRate: {
			PromQL: fmt.Sprintf(`sum(rate(http_requests_total{%s}[5m]))`, sel),
			Unit:   "req/s",
		},
	})
}

func targetDownQueries(req *evidence.Request) map[string]evidence.Query {
	var matchers []string
	for _, key := range []string{"job", "instance"} {
		if v := req.Alert.Label(key); v != "" {
			matchers = append(matchers, fmt.Sprintf(`%s="%s"`, key, v))
		}
	}
	if len(matchers) == 0 {
		return nil
	}
	return map[string]evidence.Query{
		diag.SeriesUp: {
			PromQL: fmt.Sprintf(`up{%s}`, strings.Join(matchers, ", ")),
			Unit:   "bool",
		},
	}
}
