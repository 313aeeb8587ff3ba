package pipeline

import "github.com/banshee-data/drift.report/internal/trace"

// Instrumentor is the injection point a pipeline implementation accepts at
// construction and calls at each contract checkpoint. Instrumenting through
// an explicit interface keeps foreign pipeline code unpatched, and a
// *trace.Recorder satisfies it directly.
type Instrumentor interface {
	RecordImage(name string, img trace.Image, extra map[string]any) error
	RecordTensor(name string, t trace.Tensor, extra map[string]any) error
	RecordBoxes(name string, boxes []trace.Box, extra map[string]any) error
	RecordParams(name string, v trace.Value, extra map[string]any) error
}

var _ Instrumentor = (*trace.Recorder)(nil)

// Nop is an Instrumentor that records nothing, for running a pipeline with
// tracing disabled at zero cost.
type Nop struct{}

func (Nop) RecordImage(string, trace.Image, map[string]any) error   { return nil }
func (Nop) RecordTensor(string, trace.Tensor, map[string]any) error { return nil }
func (Nop) RecordBoxes(string, []trace.Box, map[string]any) error   { return nil }
func (Nop) RecordParams(string, trace.Value, map[string]any) error  { return nil }
