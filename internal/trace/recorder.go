package trace

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder appends steps to a trace directory. Every Record call writes the
// payload, its metadata, and a fresh copy of trace.json before returning, so
// the directory is loadable and consistent up to the last completed step even
// if the instrumented run dies afterwards. A trace directory is owned by
// exactly one Recorder for its whole lifetime.
//
// Recorder failures are not recoverable mid-write; callers should treat any
// returned error as fatal to the run, since a partially written step makes
// the trace untrustworthy.
type Recorder struct {
	dir string

	mu    sync.Mutex
	index Index
}

// NewRecorder creates the trace directory (and steps/ beneath it) and writes
// an empty index. runMeta identifies the implementation under trace: name,
// version, environment, pipeline configuration snapshot.
func NewRecorder(dir string, runMeta map[string]any) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Join(dir, "steps"), 0755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	if runMeta == nil {
		runMeta = map[string]any{}
	}
	r := &Recorder{
		dir: dir,
		index: Index{
			FormatVersion: FormatVersion,
			CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
			RunID:         uuid.New().String(),
			RunMeta:       runMeta,
			Steps:         []StepSummary{},
		},
	}
	if err := r.flushIndex(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the trace root directory.
func (r *Recorder) Dir() string { return r.dir }

// StepCount returns the number of steps appended so far.
func (r *Recorder) StepCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.index.Steps)
}

// RecordImage appends an Image step. Input is normalised to the canonical
// [H,W,3] uint8 layout before hashing and storage: grayscale is broadcast to
// three channels, alpha and extra channels are dropped.
func (r *Recorder) RecordImage(name string, img Image, extra map[string]any) error {
	rgb, err := img.normalizeRGB()
	if err != nil {
		return fmt.Errorf("record image %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, stepDir, rel, err := r.newStepDir(name)
	if err != nil {
		return err
	}

	sha := hashBytes(rgb.Pix)
	payloadMeta := PayloadMeta{
		DType:      Uint8,
		Shape:      []int{rgb.Height, rgb.Width, 3},
		Layout:     "HWC",
		ColorSpace: "RGB",
		Hash:       sha,
	}
	if err := os.WriteFile(filepath.Join(stepDir, "raw.bin"), rgb.Pix, 0644); err != nil {
		return fmt.Errorf("write raw.bin for step %d: %w", idx, err)
	}
	if err := writeJSONFile(filepath.Join(stepDir, "raw.meta.json"), payloadMeta); err != nil {
		return err
	}
	if err := WritePNG(filepath.Join(stepDir, "image.png"), rgb); err != nil {
		return fmt.Errorf("write image.png for step %d: %w", idx, err)
	}

	elems, _ := DecodeElements(rgb.Pix, Uint8)
	meta := map[string]any{
		"name":       name,
		"kind":       KindImage,
		"dtype":      Uint8,
		"layout":     "HWC",
		"colorSpace": "RGB",
		"shape":      []int{rgb.Height, rgb.Width, 3},
		"sha256_raw": sha,
		"stats":      computeStats(elems),
	}
	mergeExtra(meta, extra)
	if err := writeJSONFile(filepath.Join(stepDir, "meta.json"), meta); err != nil {
		return err
	}

	return r.appendStep(StepSummary{Index: idx, Name: name, Kind: KindImage, Dir: rel})
}

// RecordTensor appends a Tensor step. The raw buffer must match the declared
// shape and dtype exactly. If the tensor looks like a plausible 2-D or
// 3-channel float raster, a min-max normalised preview.png is written
// alongside for human inspection.
func (r *Recorder) RecordTensor(name string, t Tensor, extra map[string]any) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("record tensor %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, stepDir, rel, err := r.newStepDir(name)
	if err != nil {
		return err
	}

	sha := hashBytes(t.Raw)
	payloadMeta := PayloadMeta{
		DType:  t.DType,
		Shape:  t.Shape,
		Layout: t.Layout,
		Hash:   sha,
	}
	if err := os.WriteFile(filepath.Join(stepDir, "tensor.bin"), t.Raw, 0644); err != nil {
		return fmt.Errorf("write tensor.bin for step %d: %w", idx, err)
	}
	if err := writeJSONFile(filepath.Join(stepDir, "tensor.meta.json"), payloadMeta); err != nil {
		return err
	}

	elems, err := DecodeElements(t.Raw, t.DType)
	if err != nil {
		return fmt.Errorf("record tensor %q: %w", name, err)
	}
	meta := map[string]any{
		"name":       name,
		"kind":       KindTensor,
		"dtype":      t.DType,
		"shape":      t.Shape,
		"layout":     t.Layout,
		"sha256_raw": sha,
		"stats":      computeStats(elems),
	}
	mergeExtra(meta, extra)
	if err := writeJSONFile(filepath.Join(stepDir, "meta.json"), meta); err != nil {
		return err
	}

	if preview, ok := renderTensorPreview(t, elems); ok {
		if err := WritePNG(filepath.Join(stepDir, "preview.png"), preview); err != nil {
			return fmt.Errorf("write preview.png for step %d: %w", idx, err)
		}
	}

	return r.appendStep(StepSummary{Index: idx, Name: name, Kind: KindTensor, Dir: rel})
}

// RecordBoxes appends a Boxes step: the quadrilaterals are stored both as a
// raw little-endian float32 [N,4,2] payload (the hashed form) and as a
// human-readable boxes.json.
func (r *Recorder) RecordBoxes(name string, boxes []Box, extra map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, stepDir, rel, err := r.newStepDir(name)
	if err != nil {
		return err
	}

	raw := encodeBoxes(boxes)
	sha := hashBytes(raw)
	payloadMeta := PayloadMeta{
		DType: Float32,
		Shape: []int{len(boxes), 4, 2},
		Hash:  sha,
	}
	if err := os.WriteFile(filepath.Join(stepDir, "boxes.bin"), raw, 0644); err != nil {
		return fmt.Errorf("write boxes.bin for step %d: %w", idx, err)
	}
	if err := writeJSONFile(filepath.Join(stepDir, "boxes.meta.json"), payloadMeta); err != nil {
		return err
	}
	if err := writeJSONFile(filepath.Join(stepDir, "boxes.json"), boxesToNested(boxes)); err != nil {
		return err
	}

	elems, _ := DecodeElements(raw, Float32)
	meta := map[string]any{
		"name":       name,
		"kind":       KindBoxes,
		"count":      len(boxes),
		"sha256_raw": sha,
		"stats":      computeStats(elems),
	}
	mergeExtra(meta, extra)
	if err := writeJSONFile(filepath.Join(stepDir, "meta.json"), meta); err != nil {
		return err
	}

	return r.appendStep(StepSummary{Index: idx, Name: name, Kind: KindBoxes, Dir: rel})
}

// RecordParams appends a Params step. The value is stored verbatim as
// params.json; the content hash covers the canonical encoding (sorted keys,
// compact separators) so construction order never affects the hash.
func (r *Recorder) RecordParams(name string, v Value, extra map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, stepDir, rel, err := r.newStepDir(name)
	if err != nil {
		return err
	}

	sha := hashBytes(v.Canonical())
	if err := writeJSONFile(filepath.Join(stepDir, "params.json"), v); err != nil {
		return err
	}
	meta := map[string]any{
		"name":       name,
		"kind":       KindParams,
		"sha256_raw": sha,
	}
	mergeExtra(meta, extra)
	if err := writeJSONFile(filepath.Join(stepDir, "meta.json"), meta); err != nil {
		return err
	}

	return r.appendStep(StepSummary{Index: idx, Name: name, Kind: KindParams, Dir: rel})
}

// newStepDir allocates the next sequential index and creates its directory.
// Must be called with r.mu held.
func (r *Recorder) newStepDir(name string) (idx int, stepDir, rel string, err error) {
	idx = len(r.index.Steps)
	dirName := fmt.Sprintf("%03d_%s", idx, SanitizeStepName(name))
	stepDir = filepath.Join(r.dir, "steps", dirName)
	if err = os.MkdirAll(stepDir, 0755); err != nil {
		return 0, "", "", fmt.Errorf("create step directory %s: %w", dirName, err)
	}
	// Index entries always use forward slashes so traces written on any
	// platform load on any other.
	rel = path.Join("steps", dirName)
	return idx, stepDir, rel, nil
}

// appendStep records the summary and rewrites the whole index. Must be
// called with r.mu held.
func (r *Recorder) appendStep(s StepSummary) error {
	r.index.Steps = append(r.index.Steps, s)
	return r.flushIndex()
}

func (r *Recorder) flushIndex() error {
	return writeJSONFile(filepath.Join(r.dir, "trace.json"), r.index)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// mergeExtra folds caller-supplied metadata into the step document. Extra
// keys override the defaults.
func mergeExtra(meta map[string]any, extra map[string]any) {
	for k, v := range extra {
		meta[k] = v
	}
}

// boxCoord marshals non-finite coordinates as null. boxes.json is the
// human-readable rendering; boxes.bin keeps the exact bits.
type boxCoord float32

func (c boxCoord) MarshalJSON() ([]byte, error) {
	f := float64(c)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func boxesToNested(boxes []Box) [][][]boxCoord {
	out := make([][][]boxCoord, len(boxes))
	for i, b := range boxes {
		quad := make([][]boxCoord, 4)
		for p, pt := range b {
			quad[p] = []boxCoord{boxCoord(pt[0]), boxCoord(pt[1])}
		}
		out[i] = quad
	}
	return out
}
