package tracediff

import (
	"sort"

	"github.com/banshee-data/drift.report/internal/trace"
)

// aabbKey is the sort key for one polygon: its axis-aligned bounding box as
// (minY, minX, maxY, maxX). Sorting on this key is invariant under any
// permutation of the input boxes.
type aabbKey [4]float32

func boxKey(b trace.Box) aabbKey {
	minX, minY := b[0][0], b[0][1]
	maxX, maxY := minX, minY
	for _, pt := range b[1:] {
		if pt[0] < minX {
			minX = pt[0]
		}
		if pt[0] > maxX {
			maxX = pt[0]
		}
		if pt[1] < minY {
			minY = pt[1]
		}
		if pt[1] > maxY {
			maxY = pt[1]
		}
	}
	return aabbKey{minY, minX, maxY, maxX}
}

func (k aabbKey) less(o aabbKey) bool {
	for i := range k {
		if k[i] != o[i] {
			return k[i] < o[i]
		}
	}
	return false
}

// CanonicalizeBoxes returns a copy of boxes sorted by the lexicographic
// bounding-box key (minY, minX, maxY, maxX). Corner order within each box is
// preserved; only the box order is canonicalised. Sorting goes through an
// index permutation so keys are computed once per box.
func CanonicalizeBoxes(boxes []trace.Box) []trace.Box {
	idx := make([]int, len(boxes))
	keys := make([]aabbKey, len(boxes))
	for i, b := range boxes {
		idx[i] = i
		keys[i] = boxKey(b)
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return keys[idx[i]].less(keys[idx[j]])
	})
	out := make([]trace.Box, len(boxes))
	for i, j := range idx {
		out[i] = boxes[j]
	}
	return out
}

// flattenBoxes lays out box coordinates as float64s in canonical order for
// elementwise diffing.
func flattenBoxes(boxes []trace.Box) []float64 {
	out := make([]float64, 0, len(boxes)*8)
	for _, b := range boxes {
		for _, pt := range b {
			out = append(out, float64(pt[0]), float64(pt[1]))
		}
	}
	return out
}
