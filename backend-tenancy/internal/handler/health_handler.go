package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/restaurant-ops/pkg/response"
)

// Pinger checks a backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service liveness and master store readiness
type HealthHandler struct {
	master  Pinger
	timeout time.Duration
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(master Pinger) *HealthHandler {
	return &HealthHandler{master: master, timeout: 2 * time.Second}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.master.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, response.ServiceUnavailable("Master database unreachable"))
		return
	}

	c.JSON(http.StatusOK, response.Success(gin.H{"status": "healthy"}))
}
