package handler

import (
	"net/http"
	"time"

	"schools-in/internal/version"

	"github.com/gin-gonic/gin"
)

// CommonHandler handles common, non-grouped requests.
type CommonHandler struct{}

// NewCommonHandler creates a new CommonHandler.
func NewCommonHandler() *CommonHandler {
	return &CommonHandler{}
}

// Health handles GET (and HEAD) /health. It doubles as the latency probe
// target for peers running their own network monitors.
func (h *CommonHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   version.Version,
		"timestamp": time.Now().UnixMilli(),
	})
}
