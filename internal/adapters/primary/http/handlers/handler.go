package handlers

import (
	"langsam-server/internal/core/services"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	predictSvc     *services.PredictionService
	modelHandle    *services.ModelHandle
	maxUploadBytes int64
}

// New wires the HTTP layer. maxUploadBytes caps the /predict body; 0 disables
// the cap.
func New(predictSvc *services.PredictionService, modelHandle *services.ModelHandle, maxUploadBytes int64) *Handler {
	return &Handler{
		predictSvc:     predictSvc,
		modelHandle:    modelHandle,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRouter, predictMiddleware ...gin.HandlerFunc) {
	// Inference
	r.POST("/predict", append(predictMiddleware, h.Predict)...)

	// Model status
	r.GET("/healthz", h.Health)
	r.GET("/model", h.GetModel)
}
