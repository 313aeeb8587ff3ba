package tracediff

import (
	"math"

	"github.com/banshee-data/drift.report/internal/trace"
)

// diffBoost multiplies per-channel absolute differences so single-digit
// pixel drift is visible in the rendered artifact.
const diffBoost = 8.0

// writeImageDiff renders the per-channel absolute difference of two
// equal-shape RGB images, contrast-boosted, to a PNG.
func writeImageDiff(path string, a, b trace.Image) error {
	pix := make([]byte, len(a.Pix))
	for i := range a.Pix {
		d := float64(a.Pix[i]) - float64(b.Pix[i])
		v := math.Abs(d) * diffBoost
		if v > 255 {
			v = 255
		}
		pix[i] = byte(v)
	}
	return trace.WritePNG(path, trace.Image{Width: a.Width, Height: a.Height, Channels: 3, Pix: pix})
}

// renderTensorDiff builds a min-max normalised heatmap of elementwise
// absolute differences for tensors with a raster-like geometry (layout "HW"
// with a 2-D shape, or "HWC" with 1 or 3 channels). Float payloads have no
// natural brightness scale, so the heatmap normalises to the observed range
// rather than applying a fixed boost.
func renderTensorDiff(t trace.Tensor, elemsA, elemsB []float64) (trace.Image, bool) {
	var h, w, c int
	switch {
	case t.Layout == "HW" && len(t.Shape) == 2:
		h, w, c = t.Shape[0], t.Shape[1], 1
	case t.Layout == "HWC" && len(t.Shape) == 3 && (t.Shape[2] == 1 || t.Shape[2] == 3):
		h, w, c = t.Shape[0], t.Shape[1], t.Shape[2]
	default:
		return trace.Image{}, false
	}
	if h <= 0 || w <= 0 || len(elemsA) != h*w*c {
		return trace.Image{}, false
	}

	absd := make([]float64, len(elemsA))
	var max float64
	for i := range elemsA {
		absd[i] = math.Abs(elemsA[i] - elemsB[i])
		if !math.IsNaN(absd[i]) && !math.IsInf(absd[i], 0) && absd[i] > max {
			max = absd[i]
		}
	}
	if max == 0 {
		max = 1
	}

	pix := make([]byte, h*w*3)
	for p := 0; p < h*w; p++ {
		for ch := 0; ch < 3; ch++ {
			src := p * c
			if c == 3 {
				src += ch
			}
			// Non-finite differences render at full brightness.
			d := absd[src]
			if math.IsNaN(d) || math.IsInf(d, 0) {
				pix[p*3+ch] = 255
				continue
			}
			pix[p*3+ch] = byte(d / max * 255.0)
		}
	}
	return trace.Image{Width: w, Height: h, Channels: 3, Pix: pix}, true
}
