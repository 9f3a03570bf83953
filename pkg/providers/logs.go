package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Logs is the log-store capability. Tail fetches lines for a live pod;
// TailHistorical regex-matches by pod-name prefix across retention, for pods
// that have already been garbage-collected.
type Logs interface {
	Tail(ctx context.Context, namespace, pod, container string, w models.TimeWindow, limit int) ([]models.LogEntry, models.Availability)
	TailHistorical(ctx context.Context, namespace, podPrefix string, w models.TimeWindow, limit int) ([]models.LogEntry, models.Availability)

	// Backend reports the resolved backend name for evidence records.
	Backend() string
}

// LogsProvider queries Loki or VictoriaLogs over HTTP. The backend is chosen
// by configuration, or sniffed from the URL when set to auto.
type LogsProvider struct {
	baseURL string
	backend config.LogsBackend
	client  *http.Client
	cache   *ResponseCache
}

// NewLogsProvider builds a provider for the configured log store. cache may
// be nil.
func NewLogsProvider(baseURL string, backend config.LogsBackend, cache *ResponseCache) *LogsProvider {
	return &LogsProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		backend: detectBackend(baseURL, backend),
		client:  &http.Client{Timeout: 30 * time.Second},
		cache:   cache,
	}
}

// detectBackend resolves auto to a concrete backend from URL hints.
// VictoriaLogs serves on :9428 under /select/logsql; Loki URLs usually carry
// "loki" in the host or path.
func detectBackend(baseURL string, backend config.LogsBackend) config.LogsBackend {
	if backend != config.LogsBackendAuto && backend != "" {
		return backend
	}
	lower := strings.ToLower(baseURL)
	switch {
	case strings.Contains(lower, "victoria") || strings.Contains(lower, ":9428"):
		return config.LogsBackendVictoriaLogs
	default:
		return config.LogsBackendLoki
	}
}

// Backend implements Logs.
func (p *LogsProvider) Backend() string { return string(p.backend) }

// Tail implements Logs.
func (p *LogsProvider) Tail(ctx context.Context, namespace, pod, container string, w models.TimeWindow, limit int) ([]models.LogEntry, models.Availability) {
	if p.baseURL == "" {
		return nil, models.AvailUnavailable(ReasonNotConfigured)
	}
	if p.backend == config.LogsBackendVictoriaLogs {
		q := fmt.Sprintf("kubernetes.pod_namespace:=%q AND kubernetes.pod_name:=%q", namespace, pod)
		if container != "" {
			q += fmt.Sprintf(" AND kubernetes.container_name:=%q", container)
		}
		return p.queryVictoriaLogs(ctx, q, w, limit)
	}
	sel := fmt.Sprintf(`{namespace=%q, pod=%q}`, namespace, pod)
	if container != "" {
		sel = fmt.Sprintf(`{namespace=%q, pod=%q, container=%q}`, namespace, pod, container)
	}
	return p.queryLoki(ctx, sel, w, limit)
}

// TailHistorical implements Logs. The prefix match covers replacement pods of
// the same workload/job: "mypod-" matches mypod-abc12 and mypod-def34.
func (p *LogsProvider) TailHistorical(ctx context.Context, namespace, podPrefix string, w models.TimeWindow, limit int) ([]models.LogEntry, models.Availability) {
	if p.baseURL == "" {
		return nil, models.AvailUnavailable(ReasonNotConfigured)
	}
	if p.backend == config.LogsBackendVictoriaLogs {
		q := fmt.Sprintf("kubernetes.pod_namespace:=%q AND kubernetes.pod_name:%s*", namespace, podPrefix)
		return p.queryVictoriaLogs(ctx, q, w, limit)
	}
	sel := fmt.Sprintf(`{namespace=%q, pod=~"%s.*"}`, namespace, podPrefix)
	return p.queryLoki(ctx, sel, w, limit)
}

// lokiResponse is the query_range result envelope.
type lokiResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// queryLoki runs a query_range call. Loki encodes times as epoch nanoseconds.
func (p *LogsProvider) queryLoki(ctx context.Context, selector string, w models.TimeWindow, limit int) ([]models.LogEntry, models.Availability) {
	params := url.Values{}
	params.Set("query", selector)
	params.Set("start", strconv.FormatInt(w.Start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(w.End.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("direction", "backward")
	reqURL := p.baseURL + "/loki/api/v1/query_range?" + params.Encode()

	body, avail := p.get(ctx, reqURL)
	if !avail.OK() {
		return nil, avail
	}
	var resp lokiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, models.AvailUnavailable(fmt.Sprintf("decoding loki response: %v", err))
	}
	var entries []models.LogEntry
	for _, stream := range resp.Data.Result {
		for _, v := range stream.Values {
			nanos, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			entries = append(entries, models.LogEntry{
				Timestamp: time.Unix(0, nanos).UTC(),
				Line:      v[1],
			})
		}
	}
	return finishEntries(entries, limit)
}

// queryVictoriaLogs runs a LogsQL query. VictoriaLogs takes RFC3339 times and
// streams NDJSON rows with _time and _msg fields.
func (p *LogsProvider) queryVictoriaLogs(ctx context.Context, query string, w models.TimeWindow, limit int) ([]models.LogEntry, models.Availability) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", w.Start.UTC().Format(time.RFC3339))
	params.Set("end", w.End.UTC().Format(time.RFC3339))
	params.Set("limit", strconv.Itoa(limit))
	reqURL := p.baseURL + "/select/logsql/query?" + params.Encode()

	body, avail := p.get(ctx, reqURL)
	if !avail.OK() {
		return nil, avail
	}
	var entries []models.LogEntry
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var row struct {
			Time time.Time `json:"_time"`
			Msg  string    `json:"_msg"`
		}
		if err := json.Unmarshal(line, &row); err != nil {
			continue
		}
		entries = append(entries, models.LogEntry{Timestamp: row.Time.UTC(), Line: row.Msg})
	}
	return finishEntries(entries, limit)
}

// finishEntries sorts ascending by time, truncates to limit, and maps the
// empty result to the empty status.
func finishEntries(entries []models.LogEntry, limit int) ([]models.LogEntry, models.Availability) {
	if len(entries) == 0 {
		return nil, models.AvailEmpty()
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, models.AvailOK()
}

// get issues a GET through the response cache.
func (p *LogsProvider) get(ctx context.Context, reqURL string) ([]byte, models.Availability) {
	if body, ok := p.cache.Get(reqURL); ok {
		return body, models.AvailOK()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, models.AvailUnavailable(err.Error())
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, classifyError(err)
	}
	p.cache.Put(reqURL, body)
	return body, models.AvailOK()
}
