package ports

import (
	"context"
	"image"

	"langsam-server/internal/core/domain"
)

// Segmenter defines the contract for the text-prompted segmentation model.
// The model itself (weights, forward pass, device placement) lives outside
// this service.
type Segmenter interface {
	// Build constructs or rebuilds the model for a SAM variant
	Build(ctx context.Context, variant string) error

	// Predict runs detection and segmentation on a batch, returning one
	// result per image in input order
	Predict(ctx context.Context, images []image.Image, prompts []string, boxThreshold, textThreshold float64) ([]domain.SegmentResult, error)

	// Health reports whether the model runtime is reachable and ready
	Health(ctx context.Context) error
}
