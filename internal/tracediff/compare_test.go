package tracediff

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/drift.report/internal/trace"
)

// fixture holds the inputs for one small but representative trace: params,
// an image, a float tensor, and a boxes step. Tests copy and tweak a default
// fixture to introduce controlled drift.
type fixture struct {
	params trace.Value
	img    trace.Image
	tensor trace.Tensor
	boxes  []trace.Box
}

func defaultFixture() fixture {
	pix := make([]byte, 4*4*3)
	for i := range pix {
		pix[i] = byte(i * 5)
	}
	raw := make([]byte, 8*4)
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(float32(i)*0.5))
	}
	return fixture{
		params: trace.Object(map[string]trace.Value{"align": trace.Number(32)}),
		img:    trace.Image{Width: 4, Height: 4, Channels: 3, Pix: pix},
		tensor: trace.Tensor{DType: trace.Float32, Shape: []int{2, 4}, Layout: "HW", Raw: raw},
		boxes: []trace.Box{
			{{0, 0}, {4, 0}, {4, 2}, {0, 2}},
			{{1, 5}, {6, 5}, {6, 9}, {1, 9}},
		},
	}
}

func recordFixture(t *testing.T, f fixture) string {
	t.Helper()
	dir := t.TempDir()
	rec, err := trace.NewRecorder(dir, map[string]any{"impl": "test"})
	require.NoError(t, err)
	require.NoError(t, rec.RecordParams("ocr_options", f.params, nil))
	require.NoError(t, rec.RecordImage("load_image", f.img, nil))
	require.NoError(t, rec.RecordTensor("normalize_mean_variance", f.tensor, nil))
	require.NoError(t, rec.RecordBoxes("detector_boxes_ordered", f.boxes, nil))
	return dir
}

func TestCompare_IdenticalTraces(t *testing.T) {
	a := recordFixture(t, defaultFixture())
	b := recordFixture(t, defaultFixture())

	rep, err := Compare(a, b, Options{})
	require.NoError(t, err)

	assert.True(t, rep.OK)
	assert.False(t, rep.AlignmentWarning)
	assert.Equal(t, 4, rep.StepsCompared)
	assert.Equal(t, 4, rep.StepsMatched)
	assert.Empty(t, rep.Findings)
	assert.Nil(t, rep.FirstDivergence())
	for _, s := range rep.Steps {
		assert.True(t, s.HashMatch, "step %d should match on hash alone", s.Index)
	}
}

func TestCompare_PixelDrift(t *testing.T) {
	f := defaultFixture()
	a := recordFixture(t, f)

	f2 := defaultFixture()
	f2.img.Pix = append([]byte(nil), f2.img.Pix...)
	f2.img.Pix[0] += 3
	b := recordFixture(t, f2)

	rep, err := Compare(a, b, Options{})
	require.NoError(t, err)

	assert.False(t, rep.OK)
	first := rep.FirstDivergence()
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, "load_image", first.Name)
	assert.Equal(t, FindingNumericDivergence, first.Type)
	require.NotNil(t, first.Diff)
	assert.Equal(t, 3.0, first.Diff.MaxAbs)
	// Default mode stops at the first divergence.
	assert.Equal(t, 2, rep.StepsCompared)
}

func TestCompare_ContinueOnDivergence(t *testing.T) {
	f := defaultFixture()
	a := recordFixture(t, f)

	f2 := defaultFixture()
	f2.img.Pix = append([]byte(nil), f2.img.Pix...)
	f2.img.Pix[0] += 1
	f2.boxes = append([]trace.Box(nil), f2.boxes...)
	f2.boxes[0][0][0] += 0.5
	b := recordFixture(t, f2)

	rep, err := Compare(a, b, Options{ContinueOnDivergence: true})
	require.NoError(t, err)

	assert.False(t, rep.OK)
	assert.Equal(t, 4, rep.StepsCompared)
	require.Len(t, rep.Findings, 2)
	assert.Equal(t, 1, rep.Findings[0].Index)
	assert.Equal(t, 3, rep.Findings[1].Index)
}

func TestCompare_BoxOrderIsHarmless(t *testing.T) {
	f := defaultFixture()
	a := recordFixture(t, f)

	f2 := defaultFixture()
	f2.boxes = []trace.Box{f2.boxes[1], f2.boxes[0]}
	b := recordFixture(t, f2)

	rep, err := Compare(a, b, Options{})
	require.NoError(t, err)

	// Raw bytes differ so the hash fast path misses, but canonicalisation
	// makes the payloads equal.
	assert.True(t, rep.OK)
	assert.Equal(t, 4, rep.StepsMatched)
	boxStep := rep.Steps[3]
	assert.False(t, boxStep.HashMatch)
	assert.True(t, boxStep.Matched)
}

func TestCompare_BoxCountMismatch(t *testing.T) {
	f := defaultFixture()
	a := recordFixture(t, f)

	f2 := defaultFixture()
	f2.boxes = f2.boxes[:1]
	b := recordFixture(t, f2)

	rep, err := Compare(a, b, Options{})
	require.NoError(t, err)

	assert.False(t, rep.OK)
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, FindingCountMismatch, rep.Findings[0].Type)
	// The shared prefix matches, so count is the only finding.
	assert.Contains(t, rep.Findings[0].Detail, "comparing first 1")
}

func TestCompare_TensorShapeMismatch(t *testing.T) {
	f := defaultFixture()
	a := recordFixture(t, f)

	f2 := defaultFixture()
	f2.tensor.Shape = []int{4, 2}
	b := recordFixture(t, f2)

	rep, err := Compare(a, b, Options{})
	require.NoError(t, err)

	assert.False(t, rep.OK)
	first := rep.FirstDivergence()
	require.NotNil(t, first)
	assert.Equal(t, FindingShapeDTypeMismatch, first.Type)
	assert.Nil(t, first.Diff, "no numeric diff on structural mismatch")
}

func TestCompare_ParamsDivergence(t *testing.T) {
	f := defaultFixture()
	a := recordFixture(t, f)

	f2 := defaultFixture()
	f2.params = trace.Object(map[string]trace.Value{"align": trace.Number(64)})
	b := recordFixture(t, f2)

	rep, err := Compare(a, b, Options{})
	require.NoError(t, err)

	assert.False(t, rep.OK)
	first := rep.FirstDivergence()
	require.NotNil(t, first)
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, FindingContentDivergence, first.Type)
}

func TestCompare_StepIdentityMismatch(t *testing.T) {
	a := recordFixture(t, defaultFixture())

	dir := t.TempDir()
	rec, err := trace.NewRecorder(dir, nil)
	require.NoError(t, err)
	f := defaultFixture()
	require.NoError(t, rec.RecordImage("load_image", f.img, nil))

	rep, err := Compare(a, dir, Options{})
	require.NoError(t, err)

	assert.False(t, rep.OK)
	assert.True(t, rep.AlignmentWarning)
	first := rep.FirstDivergence()
	require.NotNil(t, first)
	assert.Equal(t, FindingStepIdentityMismatch, first.Type)
}

func TestCompare_TrailingExtraStepsWarnButPass(t *testing.T) {
	f := defaultFixture()
	a := recordFixture(t, f)

	// Same fixture plus one extra diagnostic step at the end.
	dir := t.TempDir()
	rec, err := trace.NewRecorder(dir, nil)
	require.NoError(t, err)
	require.NoError(t, rec.RecordParams("ocr_options", f.params, nil))
	require.NoError(t, rec.RecordImage("load_image", f.img, nil))
	require.NoError(t, rec.RecordTensor("normalize_mean_variance", f.tensor, nil))
	require.NoError(t, rec.RecordBoxes("detector_boxes_ordered", f.boxes, nil))
	require.NoError(t, rec.RecordBoxes("debug_extra", f.boxes, nil))

	rep, err := Compare(a, dir, Options{})
	require.NoError(t, err)

	assert.True(t, rep.OK, "shared prefix matches, extra trailing step is only a warning")
	assert.True(t, rep.AlignmentWarning)
	assert.Equal(t, 4, rep.StepsCompared)
}

func TestCompare_WritesDiffArtifacts(t *testing.T) {
	f := defaultFixture()
	a := recordFixture(t, f)

	f2 := defaultFixture()
	f2.img.Pix = append([]byte(nil), f2.img.Pix...)
	f2.img.Pix[5] += 40
	b := recordFixture(t, f2)

	diffDir := filepath.Join(t.TempDir(), "diffs")
	rep, err := Compare(a, b, Options{DiffDir: diffDir})
	require.NoError(t, err)
	assert.False(t, rep.OK)

	entries, err := os.ReadDir(diffDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "001_load_image_diff.png", entries[0].Name())
}

func TestCompare_MissingTraceIsError(t *testing.T) {
	a := recordFixture(t, defaultFixture())
	_, err := Compare(a, filepath.Join(t.TempDir(), "missing"), Options{})
	assert.Error(t, err)
}

func TestCompare_ReportShape(t *testing.T) {
	a := recordFixture(t, defaultFixture())
	b := recordFixture(t, defaultFixture())

	rep, err := Compare(a, b, Options{})
	require.NoError(t, err)

	want := []StepResult{
		{Index: 0, Name: "ocr_options", Kind: trace.KindParams, HashMatch: true, Matched: true},
		{Index: 1, Name: "load_image", Kind: trace.KindImage, HashMatch: true, Matched: true},
		{Index: 2, Name: "normalize_mean_variance", Kind: trace.KindTensor, HashMatch: true, Matched: true},
		{Index: 3, Name: "detector_boxes_ordered", Kind: trace.KindBoxes, HashMatch: true, Matched: true},
	}
	if diff := cmp.Diff(want, rep.Steps); diff != "" {
		t.Errorf("step results mismatch (-want +got):\n%s", diff)
	}
}

// Three recorded runs of the same minimal pipeline: a baseline, one with the
// boxes in swapped order, and one with a single pixel off by one.
func TestCompare_ThreeRunScenario(t *testing.T) {
	pix := make([]byte, 100*100*3)
	for i := range pix {
		pix[i] = byte(i % 251)
	}
	raw := make([]byte, 3*100*100*4)
	for i := 0; i < 3*100*100; i++ {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(float32(i%97)*0.01))
	}
	boxes := []trace.Box{
		{{10, 10}, {40, 10}, {40, 20}, {10, 20}},
		{{50, 60}, {90, 60}, {90, 80}, {50, 80}},
	}

	record := func(img []byte, bs []trace.Box) string {
		dir := t.TempDir()
		rec, err := trace.NewRecorder(dir, nil)
		require.NoError(t, err)
		require.NoError(t, rec.RecordImage("load_image", trace.Image{Width: 100, Height: 100, Channels: 3, Pix: img}, nil))
		require.NoError(t, rec.RecordTensor("normalize", trace.Tensor{DType: trace.Float32, Shape: []int{3, 100, 100}, Layout: "CHW", Raw: raw}, nil))
		require.NoError(t, rec.RecordBoxes("boxes", bs, nil))
		return dir
	}

	base := record(pix, boxes)

	// Swapped box order, pixel-identical image and tensor.
	swapped := record(pix, []trace.Box{boxes[1], boxes[0]})
	rep, err := Compare(base, swapped, Options{})
	require.NoError(t, err)
	assert.True(t, rep.OK)

	// One pixel changed by exactly 1.
	drifted := append([]byte(nil), pix...)
	drifted[12345]++
	rep, err = Compare(base, record(drifted, boxes), Options{})
	require.NoError(t, err)
	assert.False(t, rep.OK)
	first := rep.FirstDivergence()
	require.NotNil(t, first)
	assert.Equal(t, 0, first.Index)
	require.NotNil(t, first.Diff)
	assert.Equal(t, 1.0, first.Diff.MaxAbs)
}

func TestCompare_NaNTensorIsDivergence(t *testing.T) {
	f := defaultFixture()
	a := recordFixture(t, f)

	f2 := defaultFixture()
	f2.tensor.Raw = append([]byte(nil), f2.tensor.Raw...)
	binary.LittleEndian.PutUint32(f2.tensor.Raw[8:], math.Float32bits(float32(math.NaN())))
	b := recordFixture(t, f2)

	rep, err := Compare(a, b, Options{})
	require.NoError(t, err)

	assert.False(t, rep.OK, "a NaN-vs-number element must not pass as a match")
	first := rep.FirstDivergence()
	require.NotNil(t, first)
	assert.Equal(t, 2, first.Index)
	assert.Equal(t, "normalize_mean_variance", first.Name)
	assert.Equal(t, FindingNumericDivergence, first.Type)
	require.NotNil(t, first.Diff)
	assert.Equal(t, 1, first.Diff.NonFinite)
}
