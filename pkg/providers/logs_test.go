package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

func TestDetectBackend(t *testing.T) {
	cases := []struct {
		url     string
		backend config.LogsBackend
		want    config.LogsBackend
	}{
		{"http://loki.monitoring:3100", config.LogsBackendAuto, config.LogsBackendLoki},
		{"http://victorialogs.monitoring:9428", config.LogsBackendAuto, config.LogsBackendVictoriaLogs},
		{"http://logs.internal:9428", config.LogsBackendAuto, config.LogsBackendVictoriaLogs},
		{"http://logs.internal:3100", config.LogsBackendAuto, config.LogsBackendLoki},
		{"http://anything", config.LogsBackendVictoriaLogs, config.LogsBackendVictoriaLogs},
		{"http://victoria:9428", config.LogsBackendLoki, config.LogsBackendLoki},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, detectBackend(tc.url, tc.backend), "url %s", tc.url)
	}
}

func testWindow() models.TimeWindow {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.WindowEnding(end, time.Hour)
}

func TestLogsProvider_TailLoki(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/loki/api/v1/query_range", r.URL.Path)
		gotQuery = r.URL.Query().Get("query")
		// Loki times are epoch nanoseconds.
		assert.Regexp(t, `^\d{19}$`, r.URL.Query().Get("start"))
		w.Write([]byte(`{"status":"success","data":{"resultType":"streams","result":[
			{"stream":{"pod":"web-1"},"values":[
				["1772366400000000000","ERROR boom"],
				["1772366340000000000","INFO ok"]
			]}
		]}}`))
	}))
	defer srv.Close()

	p := NewLogsProvider(srv.URL, config.LogsBackendLoki, nil)
	entries, avail := p.Tail(context.Background(), "prod", "web-1", "app", testWindow(), 100)
	require.True(t, avail.OK(), "reason: %s", avail.Reason)
	assert.Equal(t, `{namespace="prod", pod="web-1", container="app"}`, gotQuery)
	require.Len(t, entries, 2)
	// Ascending by timestamp.
	assert.Equal(t, "INFO ok", entries[0].Line)
	assert.Equal(t, "ERROR boom", entries[1].Line)
}

func TestLogsProvider_TailVictoriaLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/select/logsql/query", r.URL.Path)
		// VictoriaLogs times are RFC3339.
		assert.Contains(t, r.URL.Query().Get("start"), "T")
		w.Write([]byte(`{"_time":"2026-03-01T11:30:00Z","_msg":"ERROR first"}
{"_time":"2026-03-01T11:45:00Z","_msg":"ERROR second"}
`))
	}))
	defer srv.Close()

	p := NewLogsProvider(srv.URL, config.LogsBackendVictoriaLogs, nil)
	entries, avail := p.Tail(context.Background(), "prod", "web-1", "", testWindow(), 100)
	require.True(t, avail.OK())
	require.Len(t, entries, 2)
	assert.Equal(t, "ERROR first", entries[0].Line)
}

func TestLogsProvider_EmptyVsUnavailable(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"resultType":"streams","result":[]}}`))
	}))
	defer empty.Close()

	p := NewLogsProvider(empty.URL, config.LogsBackendLoki, nil)
	entries, avail := p.Tail(context.Background(), "prod", "web-1", "", testWindow(), 100)
	assert.Nil(t, entries)
	assert.Equal(t, models.SlotEmpty, avail.Status)

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	p = NewLogsProvider(down.URL, config.LogsBackendLoki, nil)
	_, avail = p.Tail(context.Background(), "prod", "web-1", "", testWindow(), 100)
	assert.Equal(t, models.SlotUnavailable, avail.Status)
	assert.Equal(t, "http_error:503", avail.Reason)
}

func TestLogsProvider_HistoricalPrefixQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		w.Write([]byte(`{"status":"success","data":{"result":[{"stream":{},"values":[["1772366400000000000","ERROR from dead pod"]]}]}}`))
	}))
	defer srv.Close()

	p := NewLogsProvider(srv.URL, config.LogsBackendLoki, nil)
	entries, avail := p.TailHistorical(context.Background(), "batch", "nightly-job-", testWindow(), 50)
	require.True(t, avail.OK())
	assert.Equal(t, `{namespace="batch", pod=~"nightly-job-.*"}`, gotQuery)
	require.Len(t, entries, 1)
}

func TestLogsProvider_NotConfigured(t *testing.T) {
	p := NewLogsProvider("", config.LogsBackendAuto, nil)
	_, avail := p.Tail(context.Background(), "ns", "pod", "", testWindow(), 10)
	assert.Equal(t, models.SlotUnavailable, avail.Status)
	assert.Equal(t, ReasonNotConfigured, avail.Reason)
}

func TestClassifyHTTPStatus(t *testing.T) {
	assert.Equal(t, ReasonForbidden, classifyHTTPStatus(403).Reason)
	assert.Equal(t, ReasonNotFound, classifyHTTPStatus(404).Reason)
	assert.Equal(t, ReasonThrottled, classifyHTTPStatus(429).Reason)
	assert.Equal(t, "http_error:500", classifyHTTPStatus(500).Reason)
}

func TestResponseCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"status":"success","data":{"result":[{"stream":{},"values":[["1772366400000000000","ERROR x"]]}]}}`))
	}))
	defer srv.Close()

	cache, err := NewResponseCache(8)
	require.NoError(t, err)
	p := NewLogsProvider(srv.URL, config.LogsBackendLoki, cache)

	for i := 0; i < 3; i++ {
		_, avail := p.Tail(context.Background(), "prod", "web-1", "", testWindow(), 10)
		require.True(t, avail.OK())
	}
	assert.Equal(t, 1, calls, "identical query URLs should be served from the cache")
}
