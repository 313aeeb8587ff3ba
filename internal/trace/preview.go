package trace

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
)

// WritePNG encodes a canonical 3-channel Image to a PNG file.
func WritePNG(path string, img Image) error {
	if img.Channels != 3 {
		return fmt.Errorf("WritePNG wants a 3-channel image, got %d channels", img.Channels)
	}
	if err := img.Validate(); err != nil {
		return err
	}
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			off := (y*img.Width + x) * 3
			out.SetRGBA(x, y, color.RGBA{
				R: img.Pix[off],
				G: img.Pix[off+1],
				B: img.Pix[off+2],
				A: 255,
			})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, out)
}

// renderTensorPreview builds a min-max normalised 8-bit preview for tensors
// that plausibly represent a raster: float dtype with layout "HW" and a 2-D
// shape, or layout "HWC" with a trailing channel count of 1 or 3. Anything
// else has no meaningful preview and returns ok=false.
func renderTensorPreview(t Tensor, elems []float64) (Image, bool) {
	if t.DType != Float32 && t.DType != Float64 {
		return Image{}, false
	}
	var h, w, c int
	switch {
	case t.Layout == "HW" && len(t.Shape) == 2:
		h, w, c = t.Shape[0], t.Shape[1], 1
	case t.Layout == "HWC" && len(t.Shape) == 3 && (t.Shape[2] == 1 || t.Shape[2] == 3):
		h, w, c = t.Shape[0], t.Shape[1], t.Shape[2]
	default:
		return Image{}, false
	}
	if h <= 0 || w <= 0 || len(elems) != h*w*c {
		return Image{}, false
	}

	// Normalisation range is taken over finite elements only; NaN and Inf
	// have no brightness and render as black.
	mn, mx := math.Inf(1), math.Inf(-1)
	for _, v := range elems {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}
	if mn > mx {
		mn, mx = 0, 0
	}
	denom := mx - mn
	if denom < 1e-6 {
		denom = 1e-6
	}

	pix := make([]byte, h*w*3)
	for p := 0; p < h*w; p++ {
		for ch := 0; ch < 3; ch++ {
			src := p * c
			if c == 3 {
				src += ch
			}
			e := elems[src]
			if math.IsNaN(e) || math.IsInf(e, 0) {
				pix[p*3+ch] = 0
				continue
			}
			v := (e - mn) / denom * 255.0
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			pix[p*3+ch] = byte(v)
		}
	}
	return Image{Width: w, Height: h, Channels: 3, Pix: pix}, true
}
