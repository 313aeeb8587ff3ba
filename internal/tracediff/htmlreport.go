package tracediff

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteHTMLReport renders the per-step drift profile as a standalone HTML
// bar chart for offline triage. Diverging steps stand out as nonzero bars;
// hovering shows the step name.
func WriteHTMLReport(path string, rep *Report) error {
	x := make([]string, 0, len(rep.Steps))
	y := make([]opts.BarData, 0, len(rep.Steps))
	for _, s := range rep.Steps {
		x = append(x, fmt.Sprintf("%03d_%s", s.Index, s.Name))
		y = append(y, opts.BarData{Value: s.MaxAbs})
	}

	subtitle := fmt.Sprintf("a=%s b=%s compared=%d matched=%d", rep.TraceA, rep.TraceB, rep.StepsCompared, rep.StepsMatched)
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Trace drift report", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Max abs error per step", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("max_abs", y)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create html report: %w", err)
	}
	defer f.Close()
	if err := bar.Render(f); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}
