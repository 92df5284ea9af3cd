package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sammy/pagelift/internal/pipeline"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	extractor pipeline.Extractor
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(extractor pipeline.Extractor) *HealthHandler {
	return &HealthHandler{extractor: extractor}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	loaded := h.extractor != nil && h.extractor.Ready()
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"model_loaded": loaded,
	})
}
