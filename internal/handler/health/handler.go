// Package health exposes the subsystem health registry over HTTP.
package health

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/varsling/notification-platform/pkg/health"
)

type Handler struct {
	registry *health.Registry
}

func NewHandler(registry *health.Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	hg := rg.Group("/health")
	hg.GET("/live", h.Liveness)
	hg.GET("/ready", h.Readiness)
	hg.GET("/status", h.Status)
}

func (h *Handler) Liveness(c *gin.Context) {
	if !h.registry.Alive() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) Readiness(c *gin.Context) {
	if !h.registry.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Status reports the per-subsystem flags for operators.
func (h *Handler) Status(c *gin.Context) {
	alive, ready := h.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{"alive": alive, "ready": ready})
}
