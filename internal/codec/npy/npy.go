// Package npy reads and writes the NumPy .npy array container.
//
// Writing produces the same bytes numpy.save does for a C-ordered array,
// including the 64-byte header alignment and the trailing spare space numpy
// reserves for in-place growth of the first axis.
package npy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	magic = "\x93NUMPY"

	// numpy.lib.format.ARRAY_ALIGN
	arrayAlign = 64
	// numpy.lib.format.GROWTH_AXIS_MAX_DIGITS
	growthAxisMaxDigits = 21

	DescrFloat32 = "<f4"
	DescrFloat64 = "<f8"
)

var ErrFormat = errors.New("npy: invalid format")

// Array is a decoded or to-be-encoded .npy payload. Data holds the raw
// element bytes in the byte order named by Descr.
type Array struct {
	Descr        string
	FortranOrder bool
	Shape        []int
	Data         []byte
}

// NewFloat32 packs values into a little-endian float32 array of the given shape.
func NewFloat32(shape []int, values []float32) (*Array, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("npy: negative dimension in shape %v", shape)
		}
		n *= d
	}
	if n != len(values) {
		return nil, fmt.Errorf("npy: shape %v needs %d values, got %d", shape, n, len(values))
	}

	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	return &Array{
		Descr: DescrFloat32,
		Shape: append([]int(nil), shape...),
		Data:  data,
	}, nil
}

// Float32s decodes Data as little-endian float32 values.
func (a *Array) Float32s() ([]float32, error) {
	if a.Descr != DescrFloat32 {
		return nil, fmt.Errorf("npy: descr %q is not %s", a.Descr, DescrFloat32)
	}
	if len(a.Data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d data bytes is not a multiple of 4", ErrFormat, len(a.Data))
	}
	out := make([]float32, len(a.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(a.Data[i*4:]))
	}
	return out, nil
}

// Header renders the version 1.0 header, magic string included.
func (a *Array) Header() ([]byte, error) {
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': %s, 'shape': %s, }",
		a.Descr, pyBool(a.FortranOrder), pyTuple(a.Shape))

	if len(a.Shape) > 0 {
		axis := a.Shape[0]
		if a.FortranOrder {
			axis = a.Shape[len(a.Shape)-1]
		}
		dict += strings.Repeat(" ", growthAxisMaxDigits-len(strconv.Itoa(axis)))
	}

	hlen := len(dict) + 1
	padlen := arrayAlign - (len(magic)+2+2+hlen)%arrayAlign
	total := hlen + padlen
	if total > math.MaxUint16 {
		return nil, fmt.Errorf("npy: header length %d too big for version 1.0", total)
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(total))
	buf.WriteString(dict)
	buf.WriteString(strings.Repeat(" ", padlen))
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// WriteTo writes the header followed by the raw data.
func (a *Array) WriteTo(w io.Writer) (int64, error) {
	header, err := a.Header()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(header)
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(a.Data)
	return int64(n + m), err
}

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// Read parses a .npy stream. Versions 1.x, 2.x and 3.x are accepted.
func Read(r io.Reader) (*Array, error) {
	prefix := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, fmt.Errorf("%w: read magic: %w", ErrFormat, err)
	}
	if string(prefix[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, prefix[:len(magic)])
	}

	var hlen int
	switch major := prefix[len(magic)]; major {
	case 1:
		var l uint16
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, fmt.Errorf("%w: read header length: %w", ErrFormat, err)
		}
		hlen = int(l)
	case 2, 3:
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, fmt.Errorf("%w: read header length: %w", ErrFormat, err)
		}
		hlen = int(l)
	default:
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, major)
	}

	header := make([]byte, hlen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrFormat, err)
	}

	arr, err := parseHeader(string(header))
	if err != nil {
		return nil, err
	}

	arr.Data, err = io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("npy: read data: %w", err)
	}
	return arr, nil
}

func parseHeader(h string) (*Array, error) {
	descr := descrRe.FindStringSubmatch(h)
	fortran := fortranRe.FindStringSubmatch(h)
	shape := shapeRe.FindStringSubmatch(h)
	if descr == nil || fortran == nil || shape == nil {
		return nil, fmt.Errorf("%w: header %q", ErrFormat, strings.TrimSpace(h))
	}

	arr := &Array{
		Descr:        descr[1],
		FortranOrder: fortran[1] == "True",
		Shape:        []int{},
	}
	for _, part := range strings.Split(shape[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: shape %q", ErrFormat, shape[1])
		}
		arr.Shape = append(arr.Shape, d)
	}
	return arr, nil
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// pyTuple formats a shape the way Python's repr does: (), (5,), (2, 4).
func pyTuple(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
