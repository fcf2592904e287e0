package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthSource reports engine liveness details.
type HealthSource interface {
	Degraded() bool
	ConnectionCount() int
}

type HealthHandler struct {
	source HealthSource
}

func NewHealthHandler(source HealthSource) *HealthHandler {
	return &HealthHandler{source: source}
}

// Health always answers 200 while the process serves requests. A degraded
// presence store is reported, not treated as down.
func (h *HealthHandler) Health(c *gin.Context) {
	status := "ok"
	degraded := h.source.Degraded()
	if degraded {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"degraded":    degraded,
		"connections": h.source.ConnectionCount(),
	})
}
