package langsam

import (
	"bytes"
	"encoding/base64"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"langsam-server/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Runtime API request/response structures
type buildRequest struct {
	SamType string `json:"sam_type"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

type predictResponse struct {
	Results []wireResult `json:"results"`
}

type wireResult struct {
	Boxes  jsoniter.RawMessage `json:"boxes"`
	Masks  jsoniter.RawMessage `json:"masks"`
	Scores []float64           `json:"scores"`
	Labels []string            `json:"labels"`
}

// wireTensor is how the runtime ships a torch tensor or numpy array that it
// did not convert to nested lists.
type wireTensor struct {
	Tensor bool   `json:"__tensor__"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Device string `json:"device"`
	Data   string `json:"data"`
}

func (r wireResult) toDomain() (domain.SegmentResult, error) {
	masks, err := countMasks(r.Masks)
	if err != nil {
		return domain.SegmentResult{}, err
	}
	return domain.SegmentResult{
		Boxes:     decodeBoxes(r.Boxes),
		MaskCount: masks,
		Scores:    r.Scores,
		Labels:    r.Labels,
	}, nil
}

// decodeBoxes never fails; anything that is neither a list nor a tensor
// becomes BoxesUnknown and is rejected during normalization.
func decodeBoxes(raw jsoniter.RawMessage) domain.BoxesValue {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return domain.UnknownBoxes("nothing")
	}

	switch raw[0] {
	case '[':
		var rows [][]float64
		if err := json.Unmarshal(raw, &rows); err != nil {
			return domain.UnknownBoxes(fmt.Sprintf("non-numeric array: %v", err))
		}
		return domain.ArrayBoxes(rows)
	case '{':
		var t wireTensor
		if err := json.Unmarshal(raw, &t); err != nil || !t.Tensor {
			return domain.UnknownBoxes("object")
		}
		data, err := base64.StdEncoding.DecodeString(t.Data)
		if err != nil {
			return domain.UnknownBoxes("tensor with undecodable data")
		}
		return domain.TensorBoxes(&domain.Tensor{
			DType:  t.DType,
			Shape:  t.Shape,
			Device: t.Device,
			Data:   data,
		})
	case 'n':
		return domain.UnknownBoxes("null")
	case '"':
		return domain.UnknownBoxes("string")
	default:
		return domain.UnknownBoxes(fmt.Sprintf("%.32s", raw))
	}
}

// countMasks returns the length of the first axis of the masks payload.
func countMasks(raw jsoniter.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	switch raw[0] {
	case '[':
		var masks []jsoniter.RawMessage
		if err := json.Unmarshal(raw, &masks); err != nil {
			return 0, fmt.Errorf("decode masks: %w", err)
		}
		return len(masks), nil
	case '{':
		var t wireTensor
		if err := json.Unmarshal(raw, &t); err != nil {
			return 0, fmt.Errorf("decode masks: %w", err)
		}
		if len(t.Shape) == 0 {
			return 0, nil
		}
		return t.Shape[0], nil
	default:
		return 0, fmt.Errorf("decode masks: unexpected payload %.32s", raw)
	}
}
