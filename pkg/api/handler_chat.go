package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tarka/pkg/store"
)

type startThreadRequest struct {
	Title    string `json:"title"`
	Question string `json:"question"`
}

// handleStartThread serves POST /api/v1/cases/:id/chat. A question in the
// request body is answered immediately on the new thread.
func (s *Server) handleStartThread(c *gin.Context) {
	if s.chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat is not enabled on this instance"})
		return
	}

	var req startThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat request: " + err.Error()})
		return
	}

	thread, err := s.chat.StartThread(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		indexError(c, err)
		return
	}

	var answer *store.ChatMessage
	if q := strings.TrimSpace(req.Question); q != "" {
		answer, err = s.chat.Ask(c.Request.Context(), thread.ThreadID, q)
		if err != nil {
			serverError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{"thread": thread, "answer": answer})
}

// handleListThreads serves GET /api/v1/cases/:id/chat.
func (s *Server) handleListThreads(c *gin.Context) {
	if s.chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat is not enabled on this instance"})
		return
	}

	threads, err := s.chat.Threads(c.Request.Context(), c.Param("id"))
	if err != nil {
		indexError(c, err)
		return
	}
	if threads == nil {
		threads = []store.ChatThread{}
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

// handleThreadMessages serves GET /api/v1/cases/:id/chat/:thread.
func (s *Server) handleThreadMessages(c *gin.Context) {
	if s.chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat is not enabled on this instance"})
		return
	}

	messages, err := s.chat.Messages(c.Request.Context(), c.Param("thread"))
	if err != nil {
		indexError(c, err)
		return
	}
	if messages == nil {
		messages = []store.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
}

// handleAsk serves POST /api/v1/cases/:id/chat/:thread/messages.
func (s *Server) handleAsk(c *gin.Context) {
	if s.chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat is not enabled on this instance"})
		return
	}

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid question: " + err.Error()})
		return
	}

	answer, err := s.chat.Ask(c.Request.Context(), c.Param("thread"), strings.TrimSpace(req.Question))
	if err != nil {
		indexError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}
