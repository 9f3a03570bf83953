package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
)

// healthCheckTimeout bounds each component probe.
const healthCheckTimeout = 5 * time.Second

// handleHealth reports overall status plus per-component results. Any failed
// component degrades the instance; the endpoint itself still returns 200 so
// orchestrators don't restart a pod over a dependency outage.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := healthOK
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = healthDegraded
			components[name] = err.Error()
			continue
		}
		components[name] = healthOK
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"components": components,
	})
}
