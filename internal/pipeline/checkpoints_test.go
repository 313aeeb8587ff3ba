package pipeline

import (
	"strings"
	"testing"

	"github.com/banshee-data/drift.report/internal/trace"
)

func contractSteps() []trace.StepSummary {
	cps := DetectorCheckpoints()
	steps := make([]trace.StepSummary, len(cps))
	for i, cp := range cps {
		steps[i] = trace.StepSummary{Index: i, Name: cp.Name, Kind: cp.Kind}
	}
	return steps
}

func TestValidateSequence_ContractShaped(t *testing.T) {
	if devs := ValidateSequence(contractSteps()); len(devs) != 0 {
		t.Errorf("contract-shaped trace reported %d deviations: %v", len(devs), devs)
	}
}

func TestValidateSequence_ExtraTrailingStepsAllowed(t *testing.T) {
	steps := append(contractSteps(), trace.StepSummary{
		Index: len(DetectorCheckpoints()), Name: "debug_heatmap_dump", Kind: trace.KindTensor,
	})
	if devs := ValidateSequence(steps); len(devs) != 0 {
		t.Errorf("trailing diagnostic step reported as deviation: %v", devs)
	}
}

func TestValidateSequence_Truncated(t *testing.T) {
	steps := contractSteps()[:5]
	devs := ValidateSequence(steps)
	if want := len(DetectorCheckpoints()) - 5; len(devs) != want {
		t.Fatalf("got %d deviations, want %d", len(devs), want)
	}
	for _, d := range devs {
		if d.Got != nil {
			t.Errorf("truncation deviation %d should have nil Got", d.Index)
		}
		if !strings.Contains(d.String(), "missing") {
			t.Errorf("deviation string %q should say missing", d.String())
		}
	}
}

func TestValidateSequence_WrongNameAndKind(t *testing.T) {
	steps := contractSteps()
	steps[1].Name = "read_image"
	steps[4].Kind = trace.KindImage
	devs := ValidateSequence(steps)
	if len(devs) != 2 {
		t.Fatalf("got %d deviations, want 2: %v", len(devs), devs)
	}
	if devs[0].Index != 1 || devs[1].Index != 4 {
		t.Errorf("deviation indexes = %d,%d, want 1,4", devs[0].Index, devs[1].Index)
	}
	if devs[0].Got == nil || devs[0].Got.Name != "read_image" {
		t.Errorf("deviation 0 Got = %+v", devs[0].Got)
	}
}

func TestDetectorCheckpoints_Stable(t *testing.T) {
	a := DetectorCheckpoints()
	b := DetectorCheckpoints()
	if len(a) != 12 {
		t.Fatalf("contract has %d checkpoints, want 12", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("checkpoint %d differs across calls", i)
		}
	}
	if a[0].Kind != trace.KindParams || a[len(a)-1].Kind != trace.KindBoxes {
		t.Error("contract must start with params and end with ordered boxes")
	}
}
