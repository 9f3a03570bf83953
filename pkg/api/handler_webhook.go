package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/alertmanager/template"
)

// handleWebhook accepts an Alertmanager v4 delivery. 202 means every firing
// alert that passed the filters is on the queue; a queue failure returns 502
// so Alertmanager retries the whole delivery.
func (s *Server) handleWebhook(c *gin.Context) {
	if s.processor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion is not enabled on this instance"})
		return
	}

	var payload template.Data
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed webhook payload: " + err.Error()})
		return
	}

	stats, err := s.processor.Process(c.Request.Context(), &payload)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "queue publish failed: " + err.Error(),
			"stats": stats,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"stats": stats})
}
