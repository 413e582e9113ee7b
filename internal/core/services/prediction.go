package services

import (
	"context"
	"fmt"
	"image"
	"time"

	log "github.com/sirupsen/logrus"

	"langsam-server/internal/core/domain"
	output "langsam-server/internal/core/ports/output"
)

type PredictionService struct {
	handle         *ModelHandle
	maxImagePixels int64
}

// NewPredictionService rejects uploads whose decoded size exceeds
// maxImagePixels; 0 disables the limit.
func NewPredictionService(handle *ModelHandle, maxImagePixels int64) *PredictionService {
	return &PredictionService{
		handle:         handle,
		maxImagePixels: maxImagePixels,
	}
}

// Predict runs one image and prompt through the model, switching variants
// first if the request names a different one.
func (s *PredictionService) Predict(ctx context.Context, req domain.PredictionRequest) (*domain.PredictionResult, error) {
	logger := log.WithFields(log.Fields{
		"sam_type":       req.ModelType,
		"box_threshold":  req.BoxThreshold,
		"text_threshold": req.TextThreshold,
		"text_prompt":    req.TextPrompt,
	})
	logger.Info("starting prediction")

	// Decoding first keeps a bad upload from triggering a rebuild.
	img, format, err := decodeRGB(req.Image, s.maxImagePixels)
	if err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debug("decoded image")

	var result domain.SegmentResult
	start := time.Now()
	err = s.handle.Run(ctx, req.ModelType, func(ctx context.Context, model output.Segmenter) error {
		results, err := model.Predict(ctx, []image.Image{img}, []string{req.TextPrompt}, req.BoxThreshold, req.TextThreshold)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return fmt.Errorf("model returned no results for a batch of 1")
		}
		result = results[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	boxes, err := result.Boxes.ToFloatArray()
	if err != nil {
		return nil, err
	}

	logger = logger.WithFields(log.Fields{
		"boxes":      boxes.Len(),
		"masks":      result.MaskCount,
		"latency_ms": time.Since(start).Milliseconds(),
	})
	if result.MaskCount == 0 {
		logger.Info("no masks detected, returning empty boxes")
	} else {
		logger.Info("prediction completed")
	}

	return &domain.PredictionResult{Boxes: boxes}, nil
}
