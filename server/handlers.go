package server

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/richinsley/promptrelay/client"
	"github.com/richinsley/promptrelay/relay"
)

type handlers struct {
	generator Generator
	probe     EngineProbe
	logger    *slog.Logger
}

// isJSON accepts application/json and application/*+json
func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || (strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"))
}

// generate handles POST /generate
func (h *handlers) generate(c *gin.Context) {
	if !isJSON(c.GetHeader("Content-Type")) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request must be JSON"})
		return
	}

	var req relay.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("rejecting request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	item, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		var verr *relay.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
		case errors.Is(err, client.ErrTimeout):
			h.logger.Error("engine timed out", "error", err)
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "generation engine timed out"})
		default:
			h.logger.Error("failed to submit workflow", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit workflow"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "generation task submitted",
		"task":    item.Raw,
	})
}

// healthz handles GET /healthz
func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readyz handles GET /readyz
func (h *handlers) readyz(c *gin.Context) {
	if _, err := h.probe.GetSystemStats(c.Request.Context()); err != nil {
		h.logger.Warn("engine not ready", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "generation engine unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
