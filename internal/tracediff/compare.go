// Package tracediff aligns and compares two recorded pipeline traces,
// locating the earliest step at which their payloads diverge. Comparison is
// strict: any nonzero difference counts as a divergence, since the two
// implementations under comparison are supposed to be numerically identical.
package tracediff

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/drift.report/internal/trace"
)

// Options controls a comparison run.
type Options struct {
	// ContinueOnDivergence keeps comparing past the first divergence so a
	// single invocation yields a complete report. Default is to stop at the
	// first finding.
	ContinueOnDivergence bool

	// DiffDir, when non-empty, receives visual diff artifacts (per-step diff
	// PNGs and the drift profile chart).
	DiffDir string
}

// FindingType classifies a divergence finding.
type FindingType string

const (
	// FindingStepIdentityMismatch: at an aligned index the two traces recorded
	// different step names or kinds.
	FindingStepIdentityMismatch FindingType = "step_identity_mismatch"
	// FindingShapeDTypeMismatch: aligned payloads differ structurally; no
	// numeric diff is attempted.
	FindingShapeDTypeMismatch FindingType = "shape_dtype_mismatch"
	// FindingNumericDivergence: nonzero maximum absolute difference on
	// shape-compatible payloads.
	FindingNumericDivergence FindingType = "numeric_divergence"
	// FindingCountMismatch: differing polygon counts on a Boxes step. The
	// overlapping prefix is still compared.
	FindingCountMismatch FindingType = "count_mismatch"
	// FindingContentDivergence: Params hash mismatch; no automated
	// decomposition, inspect the payloads directly.
	FindingContentDivergence FindingType = "content_divergence"
)

// DiffSummary reports elementwise absolute error in float64. NonFinite
// counts element pairs whose difference is NaN or Inf; those carry no
// finite magnitude and are excluded from the other statistics.
type DiffSummary struct {
	MAE       float64 `json:"mae"`
	P99       float64 `json:"p99_abs"`
	MaxAbs    float64 `json:"max_abs"`
	NonFinite int     `json:"non_finite,omitempty"`
}

// Diverged reports whether the summary shows any difference at all, finite
// or not.
func (d DiffSummary) Diverged() bool {
	return d.MaxAbs != 0 || d.NonFinite > 0
}

// Finding is one recorded divergence.
type Finding struct {
	Index  int          `json:"index"`
	Name   string       `json:"name"`
	Kind   trace.Kind   `json:"kind"`
	Type   FindingType  `json:"type"`
	Detail string       `json:"detail,omitempty"`
	Diff   *DiffSummary `json:"diff,omitempty"`
}

// StepResult records the outcome for one aligned step, including the MaxAbs
// used by the drift profile chart (zero for matching steps).
type StepResult struct {
	Index     int        `json:"index"`
	Name      string     `json:"name"`
	Kind      trace.Kind `json:"kind"`
	HashMatch bool       `json:"hash_match"`
	Matched   bool       `json:"matched"`
	MaxAbs    float64    `json:"max_abs"`
}

// Report is the aggregate outcome of one comparison.
type Report struct {
	TraceA           string       `json:"trace_a"`
	TraceB           string       `json:"trace_b"`
	RunIDA           string       `json:"run_id_a,omitempty"`
	RunIDB           string       `json:"run_id_b,omitempty"`
	StepsA           int          `json:"steps_a"`
	StepsB           int          `json:"steps_b"`
	AlignmentWarning bool         `json:"alignment_warning"`
	StepsCompared    int          `json:"steps_compared"`
	StepsMatched     int          `json:"steps_matched"`
	Steps            []StepResult `json:"steps"`
	Findings         []Finding    `json:"findings"`
	OK               bool         `json:"ok"`
}

// FirstDivergence returns the earliest finding, or nil on a clean report.
func (r *Report) FirstDivergence() *Finding {
	if len(r.Findings) == 0 {
		return nil
	}
	return &r.Findings[0]
}

// Compare loads two trace directories, aligns their steps by index, and
// diffs each aligned pair. Structural problems (missing or unreadable trace
// files, unsupported format versions) come back as errors; divergences are
// normal findings inside the returned Report, never errors.
func Compare(dirA, dirB string, opts Options) (*Report, error) {
	ixA, err := trace.LoadIndex(dirA)
	if err != nil {
		return nil, err
	}
	ixB, err := trace.LoadIndex(dirB)
	if err != nil {
		return nil, err
	}
	if opts.DiffDir != "" {
		if err := os.MkdirAll(opts.DiffDir, 0755); err != nil {
			return nil, fmt.Errorf("create diff output directory: %w", err)
		}
	}

	rep := &Report{
		TraceA: dirA,
		TraceB: dirB,
		RunIDA: ixA.RunID,
		RunIDB: ixB.RunID,
		StepsA: len(ixA.Steps),
		StepsB: len(ixB.Steps),
	}
	rep.AlignmentWarning = !sameSequence(ixA.Steps, ixB.Steps)

	n := len(ixA.Steps)
	if len(ixB.Steps) < n {
		n = len(ixB.Steps)
	}

	for i := 0; i < n; i++ {
		sa, sb := ixA.Steps[i], ixB.Steps[i]
		rep.StepsCompared++
		res := StepResult{Index: i, Name: sa.Name, Kind: sa.Kind}

		if sa.Name != sb.Name || sa.Kind != sb.Kind {
			rep.Findings = append(rep.Findings, Finding{
				Index: i, Name: sa.Name, Kind: sa.Kind,
				Type:   FindingStepIdentityMismatch,
				Detail: fmt.Sprintf("a=(%s,%s) b=(%s,%s)", sa.Name, sa.Kind, sb.Name, sb.Kind),
			})
			rep.Steps = append(rep.Steps, res)
			if !opts.ContinueOnDivergence {
				break
			}
			continue
		}

		kind, err := trace.ParseKind(string(sa.Kind))
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		stepDirA := trace.StepDir(dirA, sa)
		stepDirB := trace.StepDir(dirB, sb)
		metaA, err := trace.LoadStepMeta(stepDirA)
		if err != nil {
			return nil, err
		}
		metaB, err := trace.LoadStepMeta(stepDirB)
		if err != nil {
			return nil, err
		}

		// Fast path: equal content hashes prove the payloads identical
		// without decoding them. On a correct port this covers nearly
		// every step.
		if metaA.Hash != "" && metaA.Hash == metaB.Hash {
			res.HashMatch = true
			res.Matched = true
			rep.StepsMatched++
			rep.Steps = append(rep.Steps, res)
			continue
		}

		var findings []Finding
		var diff *DiffSummary
		switch kind {
		case trace.KindImage:
			findings, diff, err = diffImageStep(i, sa, stepDirA, stepDirB, opts.DiffDir)
		case trace.KindTensor:
			findings, diff, err = diffTensorStep(i, sa, stepDirA, stepDirB, opts.DiffDir)
		case trace.KindBoxes:
			findings, diff, err = diffBoxesStep(i, sa, stepDirA, stepDirB)
		case trace.KindParams:
			findings = []Finding{{
				Index: i, Name: sa.Name, Kind: sa.Kind,
				Type:   FindingContentDivergence,
				Detail: "params content hash mismatch; inspect params.json on both sides",
			}}
		}
		if err != nil {
			return nil, err
		}

		if diff != nil {
			res.MaxAbs = diff.MaxAbs
		}
		if len(findings) == 0 {
			// Hashes differed but the decoded payloads are numerically
			// identical (e.g. differing metadata only). Still a match.
			res.Matched = true
			rep.StepsMatched++
		}
		rep.Findings = append(rep.Findings, findings...)
		rep.Steps = append(rep.Steps, res)

		if len(findings) > 0 && !opts.ContinueOnDivergence {
			break
		}
	}

	rep.OK = len(rep.Findings) == 0
	return rep, nil
}

func sameSequence(a, b []trace.StepSummary) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Kind != b[i].Kind {
			return false
		}
	}
	return true
}

func diffImageStep(i int, s trace.StepSummary, dirA, dirB, diffDir string) ([]Finding, *DiffSummary, error) {
	imgA, metaA, err := trace.LoadImage(dirA)
	if err != nil {
		return nil, nil, err
	}
	imgB, metaB, err := trace.LoadImage(dirB)
	if err != nil {
		return nil, nil, err
	}
	if !shapeEqual(metaA.Shape, metaB.Shape) || metaA.DType != metaB.DType {
		return []Finding{{
			Index: i, Name: s.Name, Kind: s.Kind,
			Type:   FindingShapeDTypeMismatch,
			Detail: fmt.Sprintf("a=%v/%s b=%v/%s", metaA.Shape, metaA.DType, metaB.Shape, metaB.DType),
		}}, nil, nil
	}

	elemsA, err := trace.DecodeElements(imgA.Pix, trace.Uint8)
	if err != nil {
		return nil, nil, err
	}
	elemsB, err := trace.DecodeElements(imgB.Pix, trace.Uint8)
	if err != nil {
		return nil, nil, err
	}
	diff := summarizeDiff(elemsA, elemsB)
	if !diff.Diverged() {
		return nil, &diff, nil
	}
	if diffDir != "" {
		out := filepath.Join(diffDir, fmt.Sprintf("%03d_%s_diff.png", i, trace.SanitizeStepName(s.Name)))
		if err := writeImageDiff(out, imgA, imgB); err != nil {
			return nil, nil, fmt.Errorf("write image diff for step %d: %w", i, err)
		}
	}
	return []Finding{{
		Index: i, Name: s.Name, Kind: s.Kind,
		Type: FindingNumericDivergence,
		Diff: &diff,
	}}, &diff, nil
}

func diffTensorStep(i int, s trace.StepSummary, dirA, dirB, diffDir string) ([]Finding, *DiffSummary, error) {
	tA, metaA, err := trace.LoadTensor(dirA)
	if err != nil {
		return nil, nil, err
	}
	tB, metaB, err := trace.LoadTensor(dirB)
	if err != nil {
		return nil, nil, err
	}
	if !shapeEqual(tA.Shape, tB.Shape) || tA.DType != tB.DType {
		return []Finding{{
			Index: i, Name: s.Name, Kind: s.Kind,
			Type: FindingShapeDTypeMismatch,
			Detail: fmt.Sprintf("a=%v/%s/%s b=%v/%s/%s",
				metaA.Shape, metaA.DType, metaA.Layout, metaB.Shape, metaB.DType, metaB.Layout),
		}}, nil, nil
	}

	elemsA, err := trace.DecodeElements(tA.Raw, tA.DType)
	if err != nil {
		return nil, nil, err
	}
	elemsB, err := trace.DecodeElements(tB.Raw, tB.DType)
	if err != nil {
		return nil, nil, err
	}
	diff := summarizeDiff(elemsA, elemsB)
	if !diff.Diverged() {
		return nil, &diff, nil
	}
	if diffDir != "" {
		if img, ok := renderTensorDiff(tA, elemsA, elemsB); ok {
			out := filepath.Join(diffDir, fmt.Sprintf("%03d_%s_diff.png", i, trace.SanitizeStepName(s.Name)))
			if err := trace.WritePNG(out, img); err != nil {
				return nil, nil, fmt.Errorf("write tensor diff for step %d: %w", i, err)
			}
		}
	}
	return []Finding{{
		Index: i, Name: s.Name, Kind: s.Kind,
		Type: FindingNumericDivergence,
		Diff: &diff,
	}}, &diff, nil
}

func diffBoxesStep(i int, s trace.StepSummary, dirA, dirB string) ([]Finding, *DiffSummary, error) {
	boxesA, _, err := trace.LoadBoxes(dirA)
	if err != nil {
		return nil, nil, err
	}
	boxesB, _, err := trace.LoadBoxes(dirB)
	if err != nil {
		return nil, nil, err
	}

	// Two correct pipelines may enumerate regions in different orders, so
	// both sides are canonicalised before any coordinates are compared.
	sortedA := CanonicalizeBoxes(boxesA)
	sortedB := CanonicalizeBoxes(boxesB)

	var findings []Finding
	if len(sortedA) != len(sortedB) {
		findings = append(findings, Finding{
			Index: i, Name: s.Name, Kind: s.Kind,
			Type:   FindingCountMismatch,
			Detail: fmt.Sprintf("a=%d boxes, b=%d boxes; comparing first %d", len(sortedA), len(sortedB), minInt(len(sortedA), len(sortedB))),
		})
	}

	m := minInt(len(sortedA), len(sortedB))
	if m == 0 {
		return findings, nil, nil
	}
	diff := summarizeDiff(flattenBoxes(sortedA[:m]), flattenBoxes(sortedB[:m]))
	if diff.Diverged() {
		findings = append(findings, Finding{
			Index: i, Name: s.Name, Kind: s.Kind,
			Type: FindingNumericDivergence,
			Diff: &diff,
		})
	}
	return findings, &diff, nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
