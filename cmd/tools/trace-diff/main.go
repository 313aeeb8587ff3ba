// Command trace-diff compares two recorded pipeline traces and reports the
// first step at which they diverge. Exit code 0 means no divergence, 1 means
// divergence or structural mismatch was found, 2 means a trace could not be
// loaded at all.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/drift.report/internal/tracedb"
	"github.com/banshee-data/drift.report/internal/tracediff"
	"github.com/banshee-data/drift.report/internal/version"
)

func main() {
	traceA := flag.String("a", "", "first trace directory (required)")
	traceB := flag.String("b", "", "second trace directory (required)")
	outDir := flag.String("out", "", "directory for visual diff artifacts")
	cont := flag.Bool("continue", false, "continue past the first divergence")
	jsonOut := flag.String("json", "", "write the full report as JSON to this path")
	htmlOut := flag.String("html", "", "write an HTML drift report to this path")
	dbPath := flag.String("db", "", "persist the outcome in this comparison database")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("trace-diff %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *traceA == "" || *traceB == "" {
		log.Fatal("both -a and -b trace directories are required")
	}

	rep, err := tracediff.Compare(*traceA, *traceB, tracediff.Options{
		ContinueOnDivergence: *cont,
		DiffDir:              *outDir,
	})
	if err != nil {
		log.Printf("comparison failed: %v", err)
		os.Exit(2)
	}

	printReport(rep)

	if *outDir != "" && len(rep.Steps) > 0 {
		chartPath := filepath.Join(*outDir, "drift_profile.png")
		if err := tracediff.RenderDriftProfile(chartPath, rep); err != nil {
			log.Printf("warning: failed to render drift profile: %v", err)
		} else {
			log.Printf("drift profile written to %s", chartPath)
		}
	}
	if *jsonOut != "" {
		if err := exportJSON(rep, *jsonOut); err != nil {
			log.Printf("warning: failed to export JSON: %v", err)
		} else {
			log.Printf("report exported to %s", *jsonOut)
		}
	}
	if *htmlOut != "" {
		if err := tracediff.WriteHTMLReport(*htmlOut, rep); err != nil {
			log.Printf("warning: failed to write HTML report: %v", err)
		} else {
			log.Printf("HTML report written to %s", *htmlOut)
		}
	}
	if *dbPath != "" {
		if err := persist(rep, *dbPath); err != nil {
			log.Printf("warning: failed to persist comparison: %v", err)
		}
	}

	if !rep.OK {
		os.Exit(1)
	}
}

func printReport(rep *tracediff.Report) {
	fmt.Printf("Trace A: %s (%d steps)\n", rep.TraceA, rep.StepsA)
	fmt.Printf("Trace B: %s (%d steps)\n", rep.TraceB, rep.StepsB)
	if rep.AlignmentWarning {
		fmt.Printf("warning: step sequences differ; comparing shared prefix of %d steps\n", rep.StepsCompared)
	}

	byIndex := make(map[int][]tracediff.Finding)
	for _, f := range rep.Findings {
		byIndex[f.Index] = append(byIndex[f.Index], f)
	}

	for _, s := range rep.Steps {
		switch {
		case s.HashMatch:
			fmt.Printf("[%03d] %s (%s): ✓ hash match\n", s.Index, s.Name, s.Kind)
		case s.Matched:
			fmt.Printf("[%03d] %s (%s): ✓ identical payload\n", s.Index, s.Name, s.Kind)
		default:
			fmt.Printf("[%03d] %s (%s): ✗\n", s.Index, s.Name, s.Kind)
			for _, f := range byIndex[s.Index] {
				switch {
				case f.Diff != nil && f.Diff.NonFinite > 0:
					fmt.Printf("      %s: mae=%.6g p99_abs=%.6g max_abs=%.6g non_finite=%d\n",
						f.Type, f.Diff.MAE, f.Diff.P99, f.Diff.MaxAbs, f.Diff.NonFinite)
				case f.Diff != nil:
					fmt.Printf("      %s: mae=%.6g p99_abs=%.6g max_abs=%.6g\n", f.Type, f.Diff.MAE, f.Diff.P99, f.Diff.MaxAbs)
				default:
					fmt.Printf("      %s: %s\n", f.Type, f.Detail)
				}
			}
		}
	}

	if rep.OK {
		fmt.Printf("\n✓ No drift detected in %d compared steps.\n", rep.StepsCompared)
	} else if first := rep.FirstDivergence(); first != nil {
		fmt.Printf("\n✗ Drift detected; first divergence at step %d (%s).\n", first.Index, first.Name)
	}
}

func exportJSON(rep *tracediff.Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rep)
}

func persist(rep *tracediff.Report, dbPath string) error {
	db, err := tracedb.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := tracedb.FromReport(rep)
	if err != nil {
		return err
	}
	if err := tracedb.NewComparisonStore(db).Insert(c); err != nil {
		return err
	}
	log.Printf("comparison %s persisted to %s", c.ComparisonID, dbPath)
	return nil
}
