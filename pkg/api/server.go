// Package api serves the ingestion webhook and the case-browsing surface.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/alertmanager/template"

	"github.com/codeready-toolchain/tarka/pkg/ingest"
	"github.com/codeready-toolchain/tarka/pkg/store"
)

// WebhookProcessor handles Alertmanager deliveries.
type WebhookProcessor interface {
	Process(ctx context.Context, payload *template.Data) (*ingest.Stats, error)
}

// CaseIndex is the read/write index surface the API exposes.
type CaseIndex interface {
	ListCases(ctx context.Context, f store.CaseFilter) ([]store.CaseRecord, error)
	GetCase(ctx context.Context, caseID string) (*store.CaseRecord, error)
	ListRuns(ctx context.Context, caseID string, limit int) ([]store.RunRecord, error)
	GetRun(ctx context.Context, runID string) (*store.RunRecord, error)
	AddAction(ctx context.Context, caseID, action, actor, note string) (*store.CaseAction, error)
	ListActions(ctx context.Context, caseID string) ([]store.CaseAction, error)
	Resolve(ctx context.Context, caseID, category, summary, postmortemLink string) error
}

// ReportReader fetches stored report artifacts.
type ReportReader interface {
	ReadReport(ctx context.Context, key string) ([]byte, error)
}

// ChatAPI is the chat surface the API exposes.
type ChatAPI interface {
	StartThread(ctx context.Context, caseID, title string) (*store.ChatThread, error)
	Threads(ctx context.Context, caseID string) ([]store.ChatThread, error)
	Messages(ctx context.Context, threadID string) ([]store.ChatMessage, error)
	Ask(ctx context.Context, threadID, question string) (*store.ChatMessage, error)
}

// ComponentCheck probes one dependency for the health endpoint.
type ComponentCheck func(ctx context.Context) error

// Server wires the HTTP handlers.
type Server struct {
	processor WebhookProcessor
	index     CaseIndex
	reports   ReportReader
	chat      ChatAPI
	checks    map[string]ComponentCheck
}

// NewServer builds the API server. processor may be nil on a worker-only
// deployment (the webhook then 503s); chat may be nil when the index is
// read-only.
func NewServer(processor WebhookProcessor, index CaseIndex, reports ReportReader, chat ChatAPI, checks map[string]ComponentCheck) *Server {
	return &Server{
		processor: processor,
		index:     index,
		reports:   reports,
		chat:      chat,
		checks:    checks,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.POST("/alerts", s.handleWebhook)
	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/cases", s.handleListCases)
		v1.GET("/cases/:id", s.handleGetCase)
		v1.GET("/cases/:id/runs", s.handleListRuns)
		v1.GET("/cases/:id/actions", s.handleListActions)
		v1.POST("/cases/:id/actions", s.handleAddAction)
		v1.POST("/cases/:id/resolve", s.handleResolve)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/runs/:id/report", s.handleGetReport)

		v1.GET("/cases/:id/chat", s.handleListThreads)
		v1.POST("/cases/:id/chat", s.handleStartThread)
		v1.GET("/cases/:id/chat/:thread", s.handleThreadMessages)
		v1.POST("/cases/:id/chat/:thread/messages", s.handleAsk)
	}

	return r
}

// HTTPServer wraps the router with production timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
}
