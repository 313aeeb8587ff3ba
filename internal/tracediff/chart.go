package tracediff

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// RenderDriftProfile plots per-step maximum absolute error against step
// index and saves the chart as a PNG. Matching steps sit on the zero line,
// so the first nonzero point pins down where the two runs start to drift.
func RenderDriftProfile(path string, rep *Report) error {
	if len(rep.Steps) == 0 {
		return fmt.Errorf("no compared steps to plot")
	}

	p := plot.New()
	p.Title.Text = "Drift profile (max abs error per step)"
	p.X.Label.Text = "step index"
	p.Y.Label.Text = "max_abs"

	pts := make(plotter.XYs, 0, len(rep.Steps))
	for _, s := range rep.Steps {
		pts = append(pts, plotter.XY{X: float64(s.Index), Y: s.MaxAbs})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("build drift line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 204, G: 51, B: 51, A: 255}
	p.Add(line)

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("build drift points: %w", err)
	}
	scatter.GlyphStyle.Radius = vg.Points(2)
	p.Add(scatter)

	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save drift profile: %w", err)
	}
	return nil
}
