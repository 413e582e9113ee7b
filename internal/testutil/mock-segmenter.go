package testutil

import (
	"context"
	"image"

	"github.com/stretchr/testify/mock"

	"langsam-server/internal/core/domain"
)

// MockSegmenter is a mock of Segmenter.
type MockSegmenter struct {
	mock.Mock
}

func (m *MockSegmenter) Build(ctx context.Context, variant string) error {
	args := m.Called(ctx, variant)
	return args.Error(0)
}

func (m *MockSegmenter) Predict(ctx context.Context, images []image.Image, prompts []string, boxThreshold, textThreshold float64) ([]domain.SegmentResult, error) {
	args := m.Called(ctx, images, prompts, boxThreshold, textThreshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SegmentResult), args.Error(1)
}

func (m *MockSegmenter) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
