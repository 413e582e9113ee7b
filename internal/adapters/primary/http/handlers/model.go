package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"langsam-server/internal/adapters/primary/http/dto"
)

func (h *Handler) GetModel(c *gin.Context) {
	c.JSON(http.StatusOK, dto.ToModelStatusResponse(h.modelHandle.Status()))
}

// Health reports ready only when the model is built and the runtime answers.
func (h *Handler) Health(c *gin.Context) {
	variant := h.modelHandle.Variant()

	if err := h.modelHandle.Health(c.Request.Context()); err != nil {
		log.WithError(err).Warn("health check failed")
		c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{
			Status:  "unavailable",
			SamType: variant,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:  "ok",
		SamType: variant,
	})
}
