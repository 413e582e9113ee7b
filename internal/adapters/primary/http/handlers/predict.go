package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"langsam-server/internal/codec/npy"
	"langsam-server/internal/core/domain"
)

const contentTypeNPY = "application/octet-stream"

// Predict accepts one image plus prompt and returns the detected boxes as an
// (N, 4) float32 .npy array.
func (h *Handler) Predict(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	req, err := decodeRequest(c)
	if err != nil {
		requestLogger(c).WithError(err).Warn("rejected predict request")
		mapDomainError(c, err)
		return
	}

	result, err := h.predictSvc.Predict(c.Request.Context(), *req)
	if err != nil {
		requestLogger(c).WithError(err).Error("prediction failed")
		mapDomainError(c, err)
		return
	}

	body, err := encodeResponse(result)
	if err != nil {
		requestLogger(c).WithError(err).Error("encode prediction failed")
		mapDomainError(c, err)
		return
	}

	c.Data(http.StatusOK, contentTypeNPY, body)
}

func requestLogger(c *gin.Context) *log.Entry {
	return log.WithField("request_id", c.GetString("request_id"))
}

// decodeRequest pulls the prediction fields out of a multipart form. Missing
// thresholds take their defaults; present but malformed ones are rejected.
func decodeRequest(c *gin.Context) (*domain.PredictionRequest, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, fmt.Errorf("%w: request body exceeds %d bytes", domain.ErrPayloadTooLarge, tooLarge.Limit)
		case errors.Is(err, http.ErrMissingFile):
			return nil, fmt.Errorf("%w: no image file provided in the request", domain.ErrInvalidInput)
		default:
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
	}

	boxThreshold, err := formFloat(c, "box_threshold", domain.DefaultBoxThreshold)
	if err != nil {
		return nil, err
	}
	textThreshold, err := formFloat(c, "text_threshold", domain.DefaultTextThreshold)
	if err != nil {
		return nil, err
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open image: %w", domain.ErrInvalidInput, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %w", domain.ErrInvalidInput, err)
	}

	return &domain.PredictionRequest{
		ModelType:     c.PostForm("sam_type"),
		BoxThreshold:  boxThreshold,
		TextThreshold: textThreshold,
		TextPrompt:    c.DefaultPostForm("text_prompt", ""),
		Image:         data,
	}, nil
}

func formFloat(c *gin.Context, key string, fallback float64) (float64, error) {
	raw, ok := c.GetPostForm(key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", domain.ErrInvalidInput, key, raw)
	}
	return v, nil
}

func encodeResponse(result *domain.PredictionResult) ([]byte, error) {
	arr, err := npy.NewFloat32([]int{result.Boxes.Len(), 4}, result.Boxes.Flatten())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEncoding, err)
	}

	var buf bytes.Buffer
	if _, err := arr.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEncoding, err)
	}
	return buf.Bytes(), nil
}
