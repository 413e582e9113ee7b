package handlers

import (
	"errors"
	"net/http"

	"langsam-server/internal/core/domain"

	"github.com/gin-gonic/gin"
)

func mapDomainError(c *gin.Context, err error) {
	switch {
	// Bad request / validation errors
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidImage),
		errors.Is(err, domain.ErrUnknownVariant):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, domain.ErrPayloadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})

	// Conflict errors
	case errors.Is(err, domain.ErrVariantSwitchDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	// Service unavailable errors
	case errors.Is(err, domain.ErrModelUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

	// Model errors
	case errors.Is(err, domain.ErrModelBuild),
		errors.Is(err, domain.ErrUnexpectedBoxes),
		errors.Is(err, domain.ErrEncoding):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
