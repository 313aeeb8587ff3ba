package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrUnsupportedVersion marks a trace.json whose formatVersion this package
// does not understand.
var ErrUnsupportedVersion = errors.New("unsupported trace format version")

// LoadError is a structural failure: the trace (or one of its files) is
// missing, unreadable, or malformed. Distinct from any divergence finding.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadIndex reads and validates trace.json from a trace directory.
func LoadIndex(dir string) (*Index, error) {
	path := filepath.Join(dir, "trace.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	var ix Index
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if ix.FormatVersion != FormatVersion {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: %d", ErrUnsupportedVersion, ix.FormatVersion)}
	}
	for i, s := range ix.Steps {
		if s.Index != i {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("non-contiguous step index %d at position %d", s.Index, i)}
		}
	}
	return &ix, nil
}

// StepDir resolves a step's directory under the trace root. The index entry
// is authoritative; directory names are never parsed for ordering.
func StepDir(root string, s StepSummary) string {
	return filepath.Join(root, filepath.FromSlash(s.Dir))
}

// LoadStepMeta reads the general meta.json of one step.
func LoadStepMeta(stepDir string) (*StepMeta, error) {
	path := filepath.Join(stepDir, "meta.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	var m StepMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return &m, nil
}

func loadPayloadMeta(stepDir, name string) (*PayloadMeta, error) {
	path := filepath.Join(stepDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	var m PayloadMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return &m, nil
}

func loadRaw(stepDir, name string) ([]byte, error) {
	path := filepath.Join(stepDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return data, nil
}

// LoadImage reads an Image step payload back into its canonical form.
func LoadImage(stepDir string) (Image, *PayloadMeta, error) {
	meta, err := loadPayloadMeta(stepDir, "raw.meta.json")
	if err != nil {
		return Image{}, nil, err
	}
	if len(meta.Shape) != 3 {
		return Image{}, nil, &LoadError{Path: stepDir, Err: fmt.Errorf("image shape %v is not [H,W,C]", meta.Shape)}
	}
	raw, err := loadRaw(stepDir, "raw.bin")
	if err != nil {
		return Image{}, nil, err
	}
	img := Image{Height: meta.Shape[0], Width: meta.Shape[1], Channels: meta.Shape[2], Pix: raw}
	if err := img.Validate(); err != nil {
		return Image{}, nil, &LoadError{Path: stepDir, Err: err}
	}
	return img, meta, nil
}

// LoadTensor reads a Tensor step payload back, validating that the raw size
// matches shape times dtype size.
func LoadTensor(stepDir string) (Tensor, *PayloadMeta, error) {
	meta, err := loadPayloadMeta(stepDir, "tensor.meta.json")
	if err != nil {
		return Tensor{}, nil, err
	}
	dt, err := ParseDType(string(meta.DType))
	if err != nil {
		return Tensor{}, nil, &LoadError{Path: stepDir, Err: err}
	}
	raw, err := loadRaw(stepDir, "tensor.bin")
	if err != nil {
		return Tensor{}, nil, err
	}
	t := Tensor{DType: dt, Shape: meta.Shape, Layout: meta.Layout, Raw: raw}
	if err := t.Validate(); err != nil {
		return Tensor{}, nil, &LoadError{Path: stepDir, Err: err}
	}
	return t, meta, nil
}

// LoadBoxes reads a Boxes step payload from the raw binary form.
func LoadBoxes(stepDir string) ([]Box, *PayloadMeta, error) {
	meta, err := loadPayloadMeta(stepDir, "boxes.meta.json")
	if err != nil {
		return nil, nil, err
	}
	raw, err := loadRaw(stepDir, "boxes.bin")
	if err != nil {
		return nil, nil, err
	}
	boxes, err := decodeBoxes(raw)
	if err != nil {
		return nil, nil, &LoadError{Path: stepDir, Err: err}
	}
	if len(meta.Shape) == 3 && meta.Shape[0] != len(boxes) {
		return nil, nil, &LoadError{Path: stepDir, Err: fmt.Errorf("boxes.bin holds %d boxes, meta declares %d", len(boxes), meta.Shape[0])}
	}
	return boxes, meta, nil
}

// LoadParams reads a Params step payload.
func LoadParams(stepDir string) (Value, error) {
	path := filepath.Join(stepDir, "params.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Value{}, &LoadError{Path: path, Err: err}
	}
	v, err := ParseValue(data)
	if err != nil {
		return Value{}, &LoadError{Path: path, Err: err}
	}
	return v, nil
}
