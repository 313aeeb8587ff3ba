// Command gen-trace records a synthetic detector trace for testing the
// comparator and replaying known drift scenarios. Output is fully
// deterministic for a given geometry, so two runs produce byte-identical
// payloads unless a perturbation flag is set.
package main

import (
	"encoding/binary"
	"flag"
	"log"
	"math"

	"github.com/banshee-data/drift.report/internal/trace"
)

var (
	normMean = [3]float64{0.485, 0.456, 0.406}
	normStd  = [3]float64{0.229, 0.224, 0.225}
)

func main() {
	output := flag.String("o", "", "output trace directory (required)")
	impl := flag.String("impl", "synthetic", "implementation label recorded in run metadata")
	width := flag.Int("width", 64, "source image width")
	height := flag.Int("height", 48, "source image height")
	perturb := flag.Int("perturb-pixel", 0, "add this delta to one pixel of load_image (introduces drift)")
	swapBoxes := flag.Bool("swap-boxes", false, "record boxes in reversed order (harmless reordering)")
	flag.Parse()

	if *output == "" {
		log.Fatal("-o output directory is required")
	}

	rec, err := trace.NewRecorder(*output, map[string]any{
		"impl":      *impl,
		"generator": "gen-trace",
		"width":     *width,
		"height":    *height,
		"perturbed": *perturb != 0,
	})
	if err != nil {
		log.Fatalf("failed to open recorder: %v", err)
	}

	if err := run(rec, *width, *height, *perturb, *swapBoxes); err != nil {
		log.Fatalf("trace generation failed: %v", err)
	}
	log.Printf("✓ Recorded %d steps to %s", rec.StepCount(), rec.Dir())
}

func run(rec *trace.Recorder, w, h, perturb int, swapBoxes bool) error {
	if err := rec.RecordParams("ocr_options", options(), nil); err != nil {
		return err
	}

	img := gradientImage(w, h)
	if perturb != 0 {
		// Pixel (0,0,R) of the gradient is zero, so the recorded drift is
		// exactly the requested delta.
		img.Pix[0] = byte(int(img.Pix[0]) + perturb)
	}
	if err := rec.RecordImage("load_image", img, map[string]any{"width": w, "height": h, "channels": 3}); err != nil {
		return err
	}

	resized := halfScale(img)
	if err := rec.RecordImage("resize_aspect_ratio", resized, map[string]any{"targetRatio": 0.5}); err != nil {
		return err
	}

	padded := padToStride(resized, 32)
	if err := rec.RecordImage("pad_to_stride", padded, map[string]any{
		"stride":    32,
		"padBottom": padded.Height - resized.Height,
		"padRight":  padded.Width - resized.Width,
	}); err != nil {
		return err
	}

	norm := normalize(padded)
	if err := rec.RecordTensor("normalize_mean_variance", norm, map[string]any{
		"mean": normMean[:], "std": normStd[:],
	}); err != nil {
		return err
	}

	nchw := toNCHW(norm, padded.Height, padded.Width)
	if err := rec.RecordTensor("to_tensor_layout", nchw, nil); err != nil {
		return err
	}
	if err := rec.RecordTensor("detector_input_final", nchw, nil); err != nil {
		return err
	}

	// Score maps come out of the detector at half the padded resolution.
	mapH, mapW := padded.Height/2, padded.Width/2
	decoded := scoremapBoxes(mapW, mapH)
	if err := rec.RecordTensor("detector_raw_output_text", heatmap(mapW, mapH, decoded), nil); err != nil {
		return err
	}
	if err := rec.RecordTensor("detector_raw_output_link", heatmap(mapW, mapH, decoded), nil); err != nil {
		return err
	}

	if err := rec.RecordBoxes("threshold_and_box_decode", maybeReverse(decoded, swapBoxes), map[string]any{"coordSpace": "scoremap"}); err != nil {
		return err
	}

	// Back to source image coordinates: undo the half-resolution score map
	// and the half-scale resize.
	adjusted := scaleBoxes(decoded, 4)
	if err := rec.RecordBoxes("adjust_coordinates_to_original", maybeReverse(adjusted, swapBoxes), map[string]any{"coordSpace": "image"}); err != nil {
		return err
	}
	return rec.RecordBoxes("detector_boxes_ordered", maybeReverse(adjusted, swapBoxes), nil)
}

func options() trace.Value {
	return trace.Object(map[string]trace.Value{
		"canvasSize":    trace.Number(2560),
		"magRatio":      trace.Number(1),
		"align":         trace.Number(32),
		"textThreshold": trace.Number(0.7),
		"lowText":       trace.Number(0.4),
		"linkThreshold": trace.Number(0.4),
		"mean":          trace.Array(trace.Number(normMean[0]), trace.Number(normMean[1]), trace.Number(normMean[2])),
		"std":           trace.Array(trace.Number(normStd[0]), trace.Number(normStd[1]), trace.Number(normStd[2])),
	})
}

func gradientImage(w, h int) trace.Image {
	pix := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				pix[(y*w+x)*3+c] = byte((x*3 + y*5 + c*7) % 256)
			}
		}
	}
	return trace.Image{Width: w, Height: h, Channels: 3, Pix: pix}
}

func halfScale(img trace.Image) trace.Image {
	w, h := img.Width/2, img.Height/2
	pix := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := ((y*2)*img.Width + x*2) * 3
			copy(pix[(y*w+x)*3:(y*w+x)*3+3], img.Pix[src:src+3])
		}
	}
	return trace.Image{Width: w, Height: h, Channels: 3, Pix: pix}
}

func padToStride(img trace.Image, stride int) trace.Image {
	w := ((img.Width + stride - 1) / stride) * stride
	h := ((img.Height + stride - 1) / stride) * stride
	pix := make([]byte, w*h*3)
	for y := 0; y < img.Height; y++ {
		copy(pix[y*w*3:y*w*3+img.Width*3], img.Pix[y*img.Width*3:(y+1)*img.Width*3])
	}
	return trace.Image{Width: w, Height: h, Channels: 3, Pix: pix}
}

func normalize(img trace.Image) trace.Tensor {
	raw := make([]byte, len(img.Pix)*4)
	for i, v := range img.Pix {
		f := (float64(v)/255.0 - normMean[i%3]) / normStd[i%3]
		putFloat32(raw[i*4:], float32(f))
	}
	return trace.Tensor{
		DType:  trace.Float32,
		Shape:  []int{img.Height, img.Width, 3},
		Layout: "HWC",
		Raw:    raw,
	}
}

func toNCHW(t trace.Tensor, h, w int) trace.Tensor {
	raw := make([]byte, len(t.Raw))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				src := ((y*w+x)*3 + c) * 4
				dst := (c*h*w + y*w + x) * 4
				copy(raw[dst:dst+4], t.Raw[src:src+4])
			}
		}
	}
	return trace.Tensor{DType: trace.Float32, Shape: []int{1, 3, h, w}, Layout: "NCHW", Raw: raw}
}

func putFloat32(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}

func scoremapBoxes(mapW, mapH int) []trace.Box {
	fw, fh := float32(mapW), float32(mapH)
	return []trace.Box{
		{{fw * 0.1, fh * 0.2}, {fw * 0.4, fh * 0.2}, {fw * 0.4, fh * 0.35}, {fw * 0.1, fh * 0.35}},
		{{fw * 0.5, fh * 0.6}, {fw * 0.9, fh * 0.6}, {fw * 0.9, fh * 0.8}, {fw * 0.5, fh * 0.8}},
	}
}

func heatmap(w, h int, boxes []trace.Box) trace.Tensor {
	raw := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v float64
			for _, b := range boxes {
				cx := float64(b[0][0]+b[2][0]) / 2
				cy := float64(b[0][1]+b[2][1]) / 2
				d2 := (float64(x)-cx)*(float64(x)-cx) + (float64(y)-cy)*(float64(y)-cy)
				v += math.Exp(-d2 / 64.0)
			}
			if v > 1 {
				v = 1
			}
			putFloat32(raw[(y*w+x)*4:], float32(v))
		}
	}
	return trace.Tensor{DType: trace.Float32, Shape: []int{h, w}, Layout: "HW", Raw: raw}
}

func scaleBoxes(boxes []trace.Box, factor float32) []trace.Box {
	out := make([]trace.Box, len(boxes))
	for i, b := range boxes {
		for p := range b {
			out[i][p][0] = b[p][0] * factor
			out[i][p][1] = b[p][1] * factor
		}
	}
	return out
}

func maybeReverse(boxes []trace.Box, swap bool) []trace.Box {
	if !swap {
		return boxes
	}
	out := make([]trace.Box, len(boxes))
	for i, b := range boxes {
		out[len(boxes)-1-i] = b
	}
	return out
}
