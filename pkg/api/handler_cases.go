package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tarka/pkg/store"
)

// handleListCases serves GET /api/v1/cases with optional status, family,
// team, classification, limit, and offset query filters.
func (s *Server) handleListCases(c *gin.Context) {
	f := store.CaseFilter{
		Status:         c.Query("status"),
		Family:         c.Query("family"),
		Team:           c.Query("team"),
		Classification: c.Query("classification"),
		Limit:          intQuery(c, "limit"),
		Offset:         intQuery(c, "offset"),
	}

	cases, err := s.index.ListCases(c.Request.Context(), f)
	if err != nil {
		serverError(c, err)
		return
	}
	if cases == nil {
		cases = []store.CaseRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases})
}

// handleGetCase serves GET /api/v1/cases/:id.
func (s *Server) handleGetCase(c *gin.Context) {
	record, err := s.index.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		indexError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleListRuns serves GET /api/v1/cases/:id/runs.
func (s *Server) handleListRuns(c *gin.Context) {
	caseID := c.Param("id")
	if _, err := s.index.GetCase(c.Request.Context(), caseID); err != nil {
		indexError(c, err)
		return
	}
	runs, err := s.index.ListRuns(c.Request.Context(), caseID, intQuery(c, "limit"))
	if err != nil {
		serverError(c, err)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// handleGetRun serves GET /api/v1/runs/:id.
func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.index.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		indexError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleGetReport serves GET /api/v1/runs/:id/report: the stored markdown
// twin, rendered exactly as persisted.
func (s *Server) handleGetReport(c *gin.Context) {
	run, err := s.index.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		indexError(c, err)
		return
	}
	body, err := s.reports.ReadReport(c.Request.Context(), run.ReportKey)
	if err != nil {
		serverError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", body)
}

type actionRequest struct {
	Action string `json:"action" binding:"required"`
	Actor  string `json:"actor"`
	Note   string `json:"note"`
}

// handleAddAction serves POST /api/v1/cases/:id/actions.
func (s *Server) handleAddAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action request: " + err.Error()})
		return
	}
	switch req.Action {
	case "ack", "resolve", "note":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be one of ack, resolve, note"})
		return
	}

	caseID := c.Param("id")
	if _, err := s.index.GetCase(c.Request.Context(), caseID); err != nil {
		indexError(c, err)
		return
	}

	action, err := s.index.AddAction(c.Request.Context(), caseID, req.Action, req.Actor, strings.TrimSpace(req.Note))
	if err != nil {
		serverError(c, err)
		return
	}
	c.JSON(http.StatusCreated, action)
}

// handleListActions serves GET /api/v1/cases/:id/actions.
func (s *Server) handleListActions(c *gin.Context) {
	caseID := c.Param("id")
	if _, err := s.index.GetCase(c.Request.Context(), caseID); err != nil {
		indexError(c, err)
		return
	}
	actions, err := s.index.ListActions(c.Request.Context(), caseID)
	if err != nil {
		serverError(c, err)
		return
	}
	if actions == nil {
		actions = []store.CaseAction{}
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

type resolveRequest struct {
	Category       string `json:"category" binding:"required"`
	Summary        string `json:"summary"`
	PostmortemLink string `json:"postmortem_link"`
}

// handleResolve serves POST /api/v1/cases/:id/resolve.
func (s *Server) handleResolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resolve request: " + err.Error()})
		return
	}

	err := s.index.Resolve(c.Request.Context(), c.Param("id"), req.Category, req.Summary, req.PostmortemLink)
	if err != nil {
		indexError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// intQuery parses an integer query parameter, defaulting to 0.
func intQuery(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return n
}

// indexError maps store lookup failures onto HTTP statuses.
func indexError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	serverError(c, err)
}

func serverError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
