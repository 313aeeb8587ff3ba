// Command trace-inspect prints the step list of a recorded trace with
// per-step hashes and summary statistics, and optionally validates the
// sequence against the detector instrumentation contract.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/drift.report/internal/pipeline"
	"github.com/banshee-data/drift.report/internal/trace"
	"github.com/banshee-data/drift.report/internal/version"
)

func main() {
	dir := flag.String("trace", "", "trace directory (required)")
	contract := flag.Bool("contract", false, "validate the step sequence against the detector contract")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("trace-inspect %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *dir == "" {
		log.Fatal("-trace directory is required")
	}

	ix, err := trace.LoadIndex(*dir)
	if err != nil {
		log.Printf("load failed: %v", err)
		os.Exit(2)
	}

	fmt.Printf("Trace: %s\n", *dir)
	fmt.Printf("Run ID: %s\n", ix.RunID)
	fmt.Printf("Created: %s\n", ix.CreatedAt)
	if impl, ok := ix.RunMeta["impl"]; ok {
		fmt.Printf("Implementation: %v\n", impl)
	}
	fmt.Printf("Steps: %d\n\n", len(ix.Steps))

	for _, s := range ix.Steps {
		meta, err := trace.LoadStepMeta(trace.StepDir(*dir, s))
		if err != nil {
			fmt.Printf("[%03d] %-32s %-7s (meta unreadable: %v)\n", s.Index, s.Name, s.Kind, err)
			continue
		}
		hash := meta.Hash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		switch s.Kind {
		case trace.KindParams:
			fmt.Printf("[%03d] %-32s %-7s %s\n", s.Index, s.Name, s.Kind, hash)
		case trace.KindBoxes:
			fmt.Printf("[%03d] %-32s %-7s %s count=%d min=%.4g max=%.4g\n",
				s.Index, s.Name, s.Kind, hash, meta.Count, meta.Stats.Min, meta.Stats.Max)
		default:
			fmt.Printf("[%03d] %-32s %-7s %s shape=%v %s min=%.4g max=%.4g mean=%.4g std=%.4g\n",
				s.Index, s.Name, s.Kind, hash, meta.Shape, meta.DType,
				meta.Stats.Min, meta.Stats.Max, meta.Stats.Mean, meta.Stats.Std)
		}
	}

	if *contract {
		deviations := pipeline.ValidateSequence(ix.Steps)
		if len(deviations) == 0 {
			fmt.Printf("\n✓ Step sequence matches the detector contract.\n")
			return
		}
		fmt.Printf("\n✗ %d contract deviation(s):\n", len(deviations))
		for _, d := range deviations {
			fmt.Printf("  %s\n", d)
		}
		os.Exit(1)
	}
}
