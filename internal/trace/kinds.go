// Package trace provides recording and loading of pipeline execution traces.
// A trace is an ordered sequence of self-describing steps persisted in a
// directory, one subdirectory per step, with a trace.json index that is
// rewritten after every append so partial runs remain loadable.
package trace

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FormatVersion is the trace.json format understood by this package.
// Readers must reject any other version.
const FormatVersion = 1

// Kind identifies the payload type of a recorded step.
type Kind string

const (
	KindImage  Kind = "image"
	KindTensor Kind = "tensor"
	KindBoxes  Kind = "boxes"
	KindParams Kind = "params"
)

// ParseKind validates a wire-format kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindImage, KindTensor, KindBoxes, KindParams:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown step kind %q", s)
}

// DType identifies the element type of a raw tensor payload.
// Raw bytes are always little-endian, row-major.
type DType string

const (
	Float32 DType = "float32"
	Float64 DType = "float64"
	Int32   DType = "int32"
	Uint8   DType = "uint8"
)

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float64:
		return 8
	case Uint8:
		return 1
	}
	return 0
}

// ParseDType validates a wire-format dtype string.
func ParseDType(s string) (DType, error) {
	switch DType(s) {
	case Float32, Float64, Int32, Uint8:
		return DType(s), nil
	}
	return "", fmt.Errorf("unknown dtype %q", s)
}

// DecodeElements interprets raw little-endian bytes as float64 elements.
// Used for summary stats and numeric diffing; the widening to float64 is
// lossless for every supported dtype.
func DecodeElements(raw []byte, d DType) ([]float64, error) {
	sz := d.Size()
	if sz == 0 {
		return nil, fmt.Errorf("unknown dtype %q", d)
	}
	if len(raw)%sz != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of %s element size %d", len(raw), d, sz)
	}
	n := len(raw) / sz
	out := make([]float64, n)
	switch d {
	case Uint8:
		for i, b := range raw {
			out[i] = float64(b)
		}
	case Float32:
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	case Float64:
		for i := 0; i < n; i++ {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case Int32:
		for i := 0; i < n; i++ {
			out[i] = float64(int32(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	}
	return out, nil
}

// StepSummary is one entry in the trace index.
type StepSummary struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	Dir   string `json:"dir"`
}

// Index is the top-level trace.json document.
type Index struct {
	FormatVersion int            `json:"formatVersion"`
	CreatedAt     string         `json:"createdAt"`
	RunID         string         `json:"runID"`
	RunMeta       map[string]any `json:"runMeta"`
	Steps         []StepSummary  `json:"steps"`
}

// Stats summarises a payload for human inspection without decoding it.
// Always computed in float64 regardless of the source dtype.
type Stats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// PayloadMeta is the kind-specific sidecar (raw.meta.json, tensor.meta.json,
// boxes.meta.json) describing how to reinterpret the raw payload bytes.
type PayloadMeta struct {
	DType      DType  `json:"dtype"`
	Shape      []int  `json:"shape"`
	Layout     string `json:"layout,omitempty"`
	ColorSpace string `json:"colorSpace,omitempty"`
	Hash       string `json:"sha256_raw"`
}

// StepMeta is the general per-step meta.json. Caller-supplied extra metadata
// is merged into the same document at write time; only the fields the
// comparator needs are decoded here.
type StepMeta struct {
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	DType DType  `json:"dtype,omitempty"`
	Shape []int  `json:"shape,omitempty"`
	Count int    `json:"count,omitempty"`
	Hash  string `json:"sha256_raw"`
	Stats Stats  `json:"stats"`
}

// Image is a canonical 3-channel 8-bit RGB raster in row-major HWC order.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// Validate checks that the pixel buffer matches the declared dimensions.
func (im Image) Validate() error {
	if im.Width <= 0 || im.Height <= 0 || im.Channels <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%dx%d", im.Height, im.Width, im.Channels)
	}
	if want := im.Width * im.Height * im.Channels; len(im.Pix) != want {
		return fmt.Errorf("image buffer is %d bytes, want %d for %dx%dx%d", len(im.Pix), want, im.Height, im.Width, im.Channels)
	}
	return nil
}

// normalizeRGB converts an image to the canonical [H,W,3] uint8 layout:
// single-channel input is broadcast to three identical channels, channels
// beyond the third are dropped. Two-channel input has no sensible RGB
// interpretation and is rejected.
func (im Image) normalizeRGB() (Image, error) {
	if err := im.Validate(); err != nil {
		return Image{}, err
	}
	switch {
	case im.Channels == 3:
		return im, nil
	case im.Channels == 1:
		out := make([]byte, im.Width*im.Height*3)
		for i, v := range im.Pix {
			out[i*3] = v
			out[i*3+1] = v
			out[i*3+2] = v
		}
		return Image{Width: im.Width, Height: im.Height, Channels: 3, Pix: out}, nil
	case im.Channels > 3:
		out := make([]byte, im.Width*im.Height*3)
		for p := 0; p < im.Width*im.Height; p++ {
			src := p * im.Channels
			copy(out[p*3:p*3+3], im.Pix[src:src+3])
		}
		return Image{Width: im.Width, Height: im.Height, Channels: 3, Pix: out}, nil
	default:
		return Image{}, fmt.Errorf("cannot normalize %d-channel image to RGB", im.Channels)
	}
}

// Tensor is a raw numeric payload with explicit shape and dtype. Layout is
// advisory metadata only ("HWC", "NCHW", "HW"); nothing infers it from shape.
type Tensor struct {
	DType  DType
	Shape  []int
	Layout string
	Raw    []byte
}

// NumElements returns the element count implied by the shape.
func (t Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate checks that the raw buffer matches shape times element size.
func (t Tensor) Validate() error {
	sz := t.DType.Size()
	if sz == 0 {
		return fmt.Errorf("unknown dtype %q", t.DType)
	}
	for _, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("negative dimension in shape %v", t.Shape)
		}
	}
	if want := t.NumElements() * sz; len(t.Raw) != want {
		return fmt.Errorf("tensor buffer is %d bytes, want %d for shape %v dtype %s", len(t.Raw), want, t.Shape, t.DType)
	}
	return nil
}

// Box is one detected quadrilateral: four (x, y) corner points in a
// consistent winding.
type Box [4][2]float32

// encodeBoxes serialises boxes as little-endian float32 [N,4,2].
func encodeBoxes(boxes []Box) []byte {
	out := make([]byte, 0, len(boxes)*4*2*4)
	var buf [4]byte
	for _, b := range boxes {
		for _, pt := range b {
			for _, c := range pt {
				binary.LittleEndian.PutUint32(buf[:], math.Float32bits(c))
				out = append(out, buf[:]...)
			}
		}
	}
	return out
}

// decodeBoxes is the inverse of encodeBoxes.
func decodeBoxes(raw []byte) ([]Box, error) {
	if len(raw)%(4*2*4) != 0 {
		return nil, fmt.Errorf("boxes payload length %d is not a multiple of 32", len(raw))
	}
	n := len(raw) / 32
	boxes := make([]Box, n)
	for i := 0; i < n; i++ {
		for p := 0; p < 4; p++ {
			for c := 0; c < 2; c++ {
				off := i*32 + p*8 + c*4
				boxes[i][p][c] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
			}
		}
	}
	return boxes, nil
}
