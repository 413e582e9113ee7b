package services

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"langsam-server/internal/core/domain"
	output "langsam-server/internal/core/ports/output"
	"langsam-server/internal/testutil"
)

func newTestHandle(t *testing.T, model *testutil.MockSegmenter, policy HandlePolicy) *ModelHandle {
	t.Helper()
	if policy.DefaultVariant == "" {
		policy.DefaultVariant = domain.VariantHieraSmall
	}
	model.On("Build", mock.Anything, policy.DefaultVariant).Return(nil).Once()
	h := NewModelHandle(model, policy)
	require.NoError(t, h.Init(context.Background()))
	return h
}

func noop(context.Context, output.Segmenter) error { return nil }

// ============================================================================
// Init Tests
// ============================================================================

func TestModelHandle_Init_Success(t *testing.T) {
	model := new(testutil.MockSegmenter)
	h := newTestHandle(t, model, HandlePolicy{AllowSwitch: true})

	status := h.Status()
	assert.Equal(t, domain.VariantHieraSmall, status.Variant)
	assert.True(t, status.Healthy)
	model.AssertExpectations(t)
}

func TestModelHandle_Init_DefaultsVariant(t *testing.T) {
	model := new(testutil.MockSegmenter)
	model.On("Build", mock.Anything, domain.DefaultVariant).Return(nil).Once()

	h := NewModelHandle(model, HandlePolicy{})
	require.NoError(t, h.Init(context.Background()))
	assert.Equal(t, domain.DefaultVariant, h.Variant())
}

func TestModelHandle_Init_BuildFails(t *testing.T) {
	model := new(testutil.MockSegmenter)
	model.On("Build", mock.Anything, domain.VariantHieraSmall).Return(errors.New("out of memory"))

	h := NewModelHandle(model, HandlePolicy{DefaultVariant: domain.VariantHieraSmall})
	err := h.Init(context.Background())

	assert.ErrorIs(t, err, domain.ErrModelBuild)
	assert.False(t, h.Status().Healthy)
	assert.Empty(t, h.Variant())
}

// ============================================================================
// Run Tests
// ============================================================================

func TestModelHandle_Run_SameVariantDoesNotRebuild(t *testing.T) {
	model := new(testutil.MockSegmenter)
	h := newTestHandle(t, model, HandlePolicy{AllowSwitch: true})

	require.NoError(t, h.Run(context.Background(), domain.VariantHieraSmall, noop))
	require.NoError(t, h.Run(context.Background(), domain.VariantHieraSmall, noop))

	model.AssertNumberOfCalls(t, "Build", 1)
}

func TestModelHandle_Run_EmptyVariantKeepsCurrent(t *testing.T) {
	model := new(testutil.MockSegmenter)
	h := newTestHandle(t, model, HandlePolicy{AllowSwitch: true})

	model.On("Build", mock.Anything, domain.VariantHieraLarge).Return(nil).Once()
	require.NoError(t, h.Run(context.Background(), domain.VariantHieraLarge, noop))

	require.NoError(t, h.Run(context.Background(), "", noop))

	assert.Equal(t, domain.VariantHieraLarge, h.Variant())
	model.AssertNumberOfCalls(t, "Build", 2)
}

func TestModelHandle_Run_SwitchBuildsOnce(t *testing.T) {
	model := new(testutil.MockSegmenter)
	h := newTestHandle(t, model, HandlePolicy{AllowSwitch: true})

	model.On("Build", mock.Anything, domain.VariantHieraTiny).Return(nil).Once()

	var seen string
	err := h.Run(context.Background(), domain.VariantHieraTiny, func(ctx context.Context, m output.Segmenter) error {
		seen = h.variant
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h.Run(context.Background(), domain.VariantHieraTiny, noop))

	assert.Equal(t, domain.VariantHieraTiny, seen)
	assert.Equal(t, domain.VariantHieraTiny, h.Variant())
	model.AssertExpectations(t)
	model.AssertNumberOfCalls(t, "Build", 2)
}

func TestModelHandle_Run_UnknownVariant(t *testing.T) {
	model := new(testutil.MockSegmenter)
	h := newTestHandle(t, model, HandlePolicy{
		AllowSwitch:     true,
		AllowedVariants: domain.KnownVariants,
	})

	called := false
	err := h.Run(context.Background(), "sam3_giant", func(context.Context, output.Segmenter) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, domain.ErrUnknownVariant)
	assert.False(t, called)
	model.AssertNumberOfCalls(t, "Build", 1)
}

func TestModelHandle_Run_SwitchDisabled(t *testing.T) {
	model := new(testutil.MockSegmenter)
	h := newTestHandle(t, model, HandlePolicy{AllowSwitch: false})

	err := h.Run(context.Background(), domain.VariantHieraLarge, noop)
	assert.ErrorIs(t, err, domain.ErrVariantSwitchDisabled)

	// The pinned variant still serves.
	assert.NoError(t, h.Run(context.Background(), domain.VariantHieraSmall, noop))
	assert.NoError(t, h.Run(context.Background(), "", noop))
	model.AssertNumberOfCalls(t, "Build", 1)
}

func TestModelHandle_Run_FailedSwitchRestoresPrevious(t *testing.T) {
	model := new(testutil.MockSegmenter)
	h := newTestHandle(t, model, HandlePolicy{AllowSwitch: true})

	model.On("Build", mock.Anything, domain.VariantHieraLarge).Return(errors.New("checkpoint missing")).Once()
	model.On("Build", mock.Anything, domain.VariantHieraSmall).Return(nil).Once()

	called := false
	err := h.Run(context.Background(), domain.VariantHieraLarge, func(context.Context, output.Segmenter) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, domain.ErrModelBuild)
	assert.False(t, called)

	status := h.Status()
	assert.Equal(t, domain.VariantHieraSmall, status.Variant)
	assert.True(t, status.Healthy)
	model.AssertExpectations(t)
}

func TestModelHandle_Run_FailedRestoreMarksUnhealthy(t *testing.T) {
	model := new(testutil.MockSegmenter)
	h := newTestHandle(t, model, HandlePolicy{AllowSwitch: true})

	model.On("Build", mock.Anything, domain.VariantHieraLarge).Return(errors.New("checkpoint missing")).Once()
	model.On("Build", mock.Anything, domain.VariantHieraSmall).Return(errors.New("runtime crashed")).Once()

	err := h.Run(context.Background(), domain.VariantHieraLarge, noop)
	assert.ErrorIs(t, err, domain.ErrModelBuild)
	assert.False(t, h.Status().Healthy)

	err = h.Health(context.Background())
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)

	// The next request rebuilds before predicting.
	model.On("Build", mock.Anything, domain.VariantHieraSmall).Return(nil).Once()
	require.NoError(t, h.Run(context.Background(), "", noop))
	assert.True(t, h.Status().Healthy)
	model.AssertExpectations(t)
}

func TestModelHandle_Run_PropagatesPredictError(t *testing.T) {
	model := new(testutil.MockSegmenter)
	h := newTestHandle(t, model, HandlePolicy{AllowSwitch: true})

	boom := errors.New("boom")
	err := h.Run(context.Background(), "", func(context.Context, output.Segmenter) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.True(t, h.Status().Healthy)
}

func TestModelHandle_Run_BuildIgnoresCanceledRequest(t *testing.T) {
	model := new(testutil.MockSegmenter)
	h := newTestHandle(t, model, HandlePolicy{AllowSwitch: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model.On("Build", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), domain.VariantHieraTiny).Return(nil).Once()

	require.NoError(t, h.Run(ctx, domain.VariantHieraTiny, noop))
	model.AssertExpectations(t)
}

// countingSegmenter records how many builds and predictions overlap.
type countingSegmenter struct {
	builds     atomic.Int32
	active     atomic.Int32
	overlapped atomic.Bool
}

func (s *countingSegmenter) Build(context.Context, string) error {
	if s.active.Load() != 0 {
		s.overlapped.Store(true)
	}
	s.builds.Add(1)
	return nil
}

func (s *countingSegmenter) Predict(context.Context, []image.Image, []string, float64, float64) ([]domain.SegmentResult, error) {
	return nil, nil
}

func (s *countingSegmenter) Health(context.Context) error { return nil }

func TestModelHandle_Run_ConcurrentSameVariantSingleBuild(t *testing.T) {
	model := &countingSegmenter{}
	h := NewModelHandle(model, HandlePolicy{DefaultVariant: domain.VariantHieraSmall, AllowSwitch: true})
	require.NoError(t, h.Init(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.Run(context.Background(), domain.VariantHieraLarge, noop)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), model.builds.Load())
	assert.Equal(t, domain.VariantHieraLarge, h.Variant())
}

func TestModelHandle_Run_NoPredictionDuringBuild(t *testing.T) {
	model := &countingSegmenter{}
	h := NewModelHandle(model, HandlePolicy{DefaultVariant: domain.VariantHieraSmall, AllowSwitch: true})
	require.NoError(t, h.Init(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		variant := domain.KnownVariants[i%len(domain.KnownVariants)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.Run(context.Background(), variant, func(context.Context, output.Segmenter) error {
				model.active.Add(1)
				defer model.active.Add(-1)
				if h.variant != variant {
					t.Errorf("predicted with %s loaded, wanted %s", h.variant, variant)
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, model.overlapped.Load())
}
