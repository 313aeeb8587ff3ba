// Package pipeline defines the instrumentation contract a text-detection
// pipeline must honor for its traces to be comparable: a fixed ordered list
// of named, kinded checkpoints. The contract is a protocol, not executable
// pipeline logic; both implementations under comparison record against it.
package pipeline

import (
	"fmt"

	"github.com/banshee-data/drift.report/internal/trace"
)

// Checkpoint is one required step in the instrumentation contract.
type Checkpoint struct {
	Name string
	Kind trace.Kind
}

// DetectorCheckpoints returns the canonical ordered checkpoint sequence for
// the detector half of the pipeline. An implementation instrumented at these
// exact points, in this exact order, with these exact names produces a trace
// the comparator can align one-to-one.
func DetectorCheckpoints() []Checkpoint {
	return []Checkpoint{
		{Name: "ocr_options", Kind: trace.KindParams},
		{Name: "load_image", Kind: trace.KindImage},
		{Name: "resize_aspect_ratio", Kind: trace.KindImage},
		{Name: "pad_to_stride", Kind: trace.KindImage},
		{Name: "normalize_mean_variance", Kind: trace.KindTensor},
		{Name: "to_tensor_layout", Kind: trace.KindTensor},
		{Name: "detector_input_final", Kind: trace.KindTensor},
		{Name: "detector_raw_output_text", Kind: trace.KindTensor},
		{Name: "detector_raw_output_link", Kind: trace.KindTensor},
		{Name: "threshold_and_box_decode", Kind: trace.KindBoxes},
		{Name: "adjust_coordinates_to_original", Kind: trace.KindBoxes},
		{Name: "detector_boxes_ordered", Kind: trace.KindBoxes},
	}
}

// Deviation describes one point where a recorded trace departs from the
// contract.
type Deviation struct {
	Index int
	Want  Checkpoint
	Got   *trace.StepSummary // nil when the trace ended early
}

func (d Deviation) String() string {
	if d.Got == nil {
		return fmt.Sprintf("step %d: missing, want (%s,%s)", d.Index, d.Want.Name, d.Want.Kind)
	}
	return fmt.Sprintf("step %d: got (%s,%s), want (%s,%s)", d.Index, d.Got.Name, d.Got.Kind, d.Want.Name, d.Want.Kind)
}

// ValidateSequence checks a recorded step sequence against the contract and
// reports every deviation. Extra trailing steps beyond the contract are
// permitted (implementations may record additional diagnostics after the
// required checkpoints). An empty result means the trace is contract-shaped.
func ValidateSequence(steps []trace.StepSummary) []Deviation {
	var out []Deviation
	for i, cp := range DetectorCheckpoints() {
		if i >= len(steps) {
			out = append(out, Deviation{Index: i, Want: cp})
			continue
		}
		s := steps[i]
		if s.Name != cp.Name || s.Kind != cp.Kind {
			got := s
			out = append(out, Deviation{Index: i, Want: cp, Got: &got})
		}
	}
	return out
}
