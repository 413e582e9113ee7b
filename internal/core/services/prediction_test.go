package services

import (
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"langsam-server/internal/core/domain"
	"langsam-server/internal/testutil"
)

func newTestPredictionService(t *testing.T) (*PredictionService, *testutil.MockSegmenter) {
	t.Helper()
	model := new(testutil.MockSegmenter)
	h := newTestHandle(t, model, HandlePolicy{
		AllowSwitch:     true,
		AllowedVariants: domain.KnownVariants,
	})
	return NewPredictionService(h, domain.DefaultMaxImagePixels), model
}

func dogRequest(t *testing.T) domain.PredictionRequest {
	return domain.PredictionRequest{
		BoxThreshold:  domain.DefaultBoxThreshold,
		TextThreshold: domain.DefaultTextThreshold,
		TextPrompt:    "dog",
		Image:         testutil.PNG(t, 64, 48, color.White),
	}
}

func float32Tensor(shape []int, values ...float32) *domain.Tensor {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return &domain.Tensor{DType: "float32", Shape: shape, Device: "cpu", Data: data}
}

// ============================================================================
// Predict Tests
// ============================================================================

func TestPredictionService_Predict_Success(t *testing.T) {
	svc, model := newTestPredictionService(t)

	model.On("Predict", mock.Anything,
		mock.MatchedBy(func(imgs []image.Image) bool {
			return len(imgs) == 1 && imgs[0].Bounds().Dx() == 64 && imgs[0].Bounds().Dy() == 48
		}),
		[]string{"dog"}, 0.3, 0.25,
	).Return([]domain.SegmentResult{{
		Boxes:     domain.ArrayBoxes([][]float64{{1, 2, 30, 40}}),
		MaskCount: 1,
		Scores:    []float64{0.9},
		Labels:    []string{"dog"},
	}}, nil).Once()

	result, err := svc.Predict(context.Background(), dogRequest(t))

	require.NoError(t, err)
	assert.Equal(t, domain.BoxArray{{1, 2, 30, 40}}, result.Boxes)
	model.AssertExpectations(t)
}

func TestPredictionService_Predict_TensorMatchesArray(t *testing.T) {
	rows := [][]float64{{10.5, 20, 110, 220}, {0, 0, 5, 5}}
	tensor := float32Tensor([]int{2, 4}, 10.5, 20, 110, 220, 0, 0, 5, 5)

	var got []domain.BoxArray
	for _, boxes := range []domain.BoxesValue{domain.ArrayBoxes(rows), domain.TensorBoxes(tensor)} {
		svc, model := newTestPredictionService(t)
		model.On("Predict", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return([]domain.SegmentResult{{Boxes: boxes, MaskCount: 2}}, nil).Once()

		result, err := svc.Predict(context.Background(), dogRequest(t))
		require.NoError(t, err)
		got = append(got, result.Boxes)
	}

	assert.Equal(t, got[0], got[1])
	assert.Equal(t, 2, got[0].Len())
}

func TestPredictionService_Predict_NoDetections(t *testing.T) {
	tests := []struct {
		name  string
		boxes domain.BoxesValue
	}{
		{name: "empty tensor", boxes: domain.TensorBoxes(float32Tensor([]int{0, 4}))},
		{name: "flat empty tensor", boxes: domain.TensorBoxes(float32Tensor([]int{0}))},
		{name: "empty array", boxes: domain.ArrayBoxes(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, model := newTestPredictionService(t)
			model.On("Predict", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return([]domain.SegmentResult{{Boxes: tt.boxes}}, nil).Once()

			req := dogRequest(t)
			req.TextPrompt = ""
			result, err := svc.Predict(context.Background(), req)

			require.NoError(t, err)
			assert.NotNil(t, result.Boxes)
			assert.Equal(t, 0, result.Boxes.Len())
		})
	}
}

func TestPredictionService_Predict_InvalidImage(t *testing.T) {
	svc, model := newTestPredictionService(t)

	req := dogRequest(t)
	req.ModelType = domain.VariantHieraLarge
	req.Image = []byte("definitely not an image")

	_, err := svc.Predict(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrInvalidImage)
	model.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	model.AssertNumberOfCalls(t, "Build", 1)
}

func TestPredictionService_Predict_OversizedImage(t *testing.T) {
	svc, model := newTestPredictionService(t)

	req := dogRequest(t)
	req.ModelType = domain.VariantHieraLarge
	req.Image = testutil.PNGHeader(40000, 40000)

	_, err := svc.Predict(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrInvalidImage)
	model.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	model.AssertNumberOfCalls(t, "Build", 1)
}

func TestPredictionService_Predict_SwitchesVariant(t *testing.T) {
	svc, model := newTestPredictionService(t)

	model.On("Build", mock.Anything, domain.VariantHieraLarge).Return(nil).Once()
	model.On("Predict", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.SegmentResult{{Boxes: domain.ArrayBoxes(nil)}}, nil).Twice()

	req := dogRequest(t)
	req.ModelType = domain.VariantHieraLarge
	_, err := svc.Predict(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Predict(context.Background(), req)
	require.NoError(t, err)

	model.AssertExpectations(t)
	model.AssertNumberOfCalls(t, "Build", 2)
}

func TestPredictionService_Predict_UnknownVariant(t *testing.T) {
	svc, model := newTestPredictionService(t)

	req := dogRequest(t)
	req.ModelType = "sam1_vit_h"
	_, err := svc.Predict(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrUnknownVariant)
	model.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPredictionService_Predict_UnexpectedBoxes(t *testing.T) {
	svc, model := newTestPredictionService(t)
	model.On("Predict", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.SegmentResult{{Boxes: domain.UnknownBoxes("string")}}, nil).Once()

	_, err := svc.Predict(context.Background(), dogRequest(t))

	assert.ErrorIs(t, err, domain.ErrUnexpectedBoxes)
}

func TestPredictionService_Predict_EmptyBatch(t *testing.T) {
	svc, model := newTestPredictionService(t)
	model.On("Predict", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]domain.SegmentResult{}, nil).Once()

	_, err := svc.Predict(context.Background(), dogRequest(t))

	assert.Error(t, err)
}

func TestPredictionService_Predict_ModelUnavailable(t *testing.T) {
	svc, model := newTestPredictionService(t)
	model.On("Predict", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.Join(domain.ErrModelUnavailable, errors.New("connection refused"))).Once()

	_, err := svc.Predict(context.Background(), dogRequest(t))

	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}
