package tracediff

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// summarizeDiff computes absolute-error statistics over two equal-length
// element slices in float64. Both inputs must already be shape-checked;
// an empty pair yields all zeros.
//
// Non-finite differences (a NaN or Inf on either side, including a NaN
// paired with a NaN) have no magnitude to rank, so they are counted in
// NonFinite instead of folded into the finite statistics. Any such element
// is a divergence.
func summarizeDiff(a, b []float64) DiffSummary {
	if len(a) == 0 {
		return DiffSummary{}
	}
	absd := make([]float64, 0, len(a))
	var sum, max float64
	nonFinite := 0
	for i := range a {
		d := math.Abs(a[i] - b[i])
		if math.IsNaN(d) || math.IsInf(d, 0) {
			nonFinite++
			continue
		}
		absd = append(absd, d)
		sum += d
		if d > max {
			max = d
		}
	}
	out := DiffSummary{NonFinite: nonFinite}
	if len(absd) > 0 {
		sort.Float64s(absd)
		out.MAE = sum / float64(len(absd))
		out.P99 = stat.Quantile(0.99, stat.Empirical, absd, nil)
		out.MaxAbs = max
	}
	return out
}
