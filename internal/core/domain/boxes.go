package domain

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BoxArray is a plain (N,4) array of x1, y1, x2, y2 pixel coordinates.
type BoxArray [][4]float32

// Len returns N.
func (b BoxArray) Len() int {
	return len(b)
}

// Flatten returns the boxes in row-major order.
func (b BoxArray) Flatten() []float32 {
	out := make([]float32, 0, len(b)*4)
	for _, box := range b {
		out = append(out, box[:]...)
	}
	return out
}

// FloatArrayer is anything that can be normalized into a BoxArray.
type FloatArrayer interface {
	ToFloatArray() (BoxArray, error)
}

// ============================================================================
// Boxes Variants
// ============================================================================

// BoxesKind tags which representation a BoxesValue carries.
type BoxesKind int

const (
	BoxesUnknown BoxesKind = iota
	BoxesArray
	BoxesTensor
)

// BoxesValue is the boxes field of a model result. Exactly one of Array or
// Tensor is set, according to Kind.
type BoxesValue struct {
	Kind   BoxesKind
	Array  *NumericArray
	Tensor *Tensor
	// Got describes the payload when Kind is BoxesUnknown.
	Got string
}

func ArrayBoxes(rows [][]float64) BoxesValue {
	return BoxesValue{Kind: BoxesArray, Array: &NumericArray{Rows: rows}}
}

func TensorBoxes(t *Tensor) BoxesValue {
	return BoxesValue{Kind: BoxesTensor, Tensor: t}
}

func UnknownBoxes(got string) BoxesValue {
	return BoxesValue{Kind: BoxesUnknown, Got: got}
}

func (v BoxesValue) ToFloatArray() (BoxArray, error) {
	switch v.Kind {
	case BoxesArray:
		if v.Array == nil {
			return nil, fmt.Errorf("%w: array boxes without payload", ErrUnexpectedBoxes)
		}
		return v.Array.ToFloatArray()
	case BoxesTensor:
		if v.Tensor == nil {
			return nil, fmt.Errorf("%w: tensor boxes without payload", ErrUnexpectedBoxes)
		}
		return v.Tensor.ToFloatArray()
	default:
		got := v.Got
		if got == "" {
			got = "nothing"
		}
		return nil, fmt.Errorf("%w: got %s", ErrUnexpectedBoxes, got)
	}
}

// NumericArray is a nested numeric array, one row per box.
type NumericArray struct {
	Rows [][]float64
}

func (a *NumericArray) ToFloatArray() (BoxArray, error) {
	out := make(BoxArray, 0, len(a.Rows))
	for i, row := range a.Rows {
		if len(row) != 4 {
			return nil, fmt.Errorf("%w: row %d has %d coordinates", ErrUnexpectedBoxes, i, len(row))
		}
		out = append(out, [4]float32{float32(row[0]), float32(row[1]), float32(row[2]), float32(row[3])})
	}
	return out, nil
}

// Tensor is a dense tensor as shipped by the model runtime: little-endian
// element bytes plus dtype and shape. Device is informational only.
type Tensor struct {
	DType  string
	Shape  []int
	Device string
	Data   []byte
}

// NumElements returns the product of the shape, or 1 for a scalar. Negative
// dimensions and products that overflow int are rejected.
func (t *Tensor) NumElements() (int, error) {
	n := 1
	for _, d := range t.Shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in tensor shape %v", ErrUnexpectedBoxes, t.Shape)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: tensor shape %v overflows", ErrUnexpectedBoxes, t.Shape)
		}
		n *= d
	}
	return n, nil
}

func (t *Tensor) ToFloatArray() (BoxArray, error) {
	size, err := dtypeSize(t.DType)
	if err != nil {
		return nil, err
	}

	n, err := t.NumElements()
	if err != nil {
		return nil, err
	}
	if n > math.MaxInt/size {
		return nil, fmt.Errorf("%w: tensor shape %v overflows", ErrUnexpectedBoxes, t.Shape)
	}
	if len(t.Data) != n*size {
		return nil, fmt.Errorf("%w: tensor %v of %s needs %d bytes, got %d",
			ErrUnexpectedBoxes, t.Shape, t.DType, n*size, len(t.Data))
	}

	// Empty detections come back as (0,4) or as a flat (0,) tensor.
	if n == 0 {
		return BoxArray{}, nil
	}

	if len(t.Shape) != 2 || t.Shape[1] != 4 {
		return nil, fmt.Errorf("%w: tensor shape %v, expected (N, 4)", ErrUnexpectedBoxes, t.Shape)
	}

	out := make(BoxArray, t.Shape[0])
	for i := range out {
		for j := 0; j < 4; j++ {
			off := (i*4 + j) * size
			out[i][j] = readFloat(t.Data[off:off+size], size)
		}
	}
	return out, nil
}

func dtypeSize(dtype string) (int, error) {
	switch dtype {
	case "float32", "<f4":
		return 4, nil
	case "float64", "<f8":
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: unsupported tensor dtype %q", ErrUnexpectedBoxes, dtype)
	}
}

func readFloat(b []byte, size int) float32 {
	if size == 8 {
		return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
