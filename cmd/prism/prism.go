// Command prism reduces colored point clouds by color-stratified
// sampling: every quantized color bin keeps at most k points, so rare
// colors survive aggressive reductions.
package main

import (
	"flag"
	"log"

	"github.com/SUNY-MEC-MEIC-Lab/PRISM/internal/batch"
	"github.com/SUNY-MEC-MEIC-Lab/PRISM/internal/fsutil"
	"github.com/SUNY-MEC-MEIC-Lab/PRISM/internal/outlier"
	"github.com/SUNY-MEC-MEIC-Lab/PRISM/internal/rundb"
	"github.com/SUNY-MEC-MEIC-Lab/PRISM/internal/sampler"
)

var (
	input             = flag.String("input", "", "Input PLY file or directory (directories are searched recursively)")
	output            = flag.String("output", "", "Output file or directory (mirrors the input tree for directories)")
	binCapacity       = flag.Int("k", 1, "Bin capacity: max points kept per color bin")
	quantization      = flag.Float64("quantization", 1.0, "Color quantization step size")
	noChromaticity    = flag.Bool("no-chromaticity", false, "Bin raw RGB instead of chromaticity-normalized colors")
	skipOutliers      = flag.Bool("skip-outliers", false, "Skip statistical outlier removal before sampling")
	outlierNeighbours = flag.Int("outlier-neighbours", outlier.DefaultNeighbours, "Neighbour count for outlier removal")
	outlierStdRatio   = flag.Float64("outlier-std-ratio", outlier.DefaultStdRatio, "Standard deviation ratio for outlier removal")
	seed              = flag.Int64("seed", 0, "Random seed for reproducible runs (0: time-based)")
	dbFile            = flag.String("db", "", "Optional SQLite run log file")
	plotBins          = flag.Bool("plot-bins", false, "Write a bin-occupancy histogram PNG next to each output")
)

func main() {
	flag.Parse()

	if *input == "" || *output == "" {
		flag.Usage()
		log.Fatal("both -input and -output are required")
	}

	opts := batch.Options{
		Sampling: sampler.Params{
			K:               *binCapacity,
			Quantization:    *quantization,
			UseChromaticity: !*noChromaticity,
		},
		SkipOutlierRemoval: *skipOutliers,
		OutlierNeighbours:  *outlierNeighbours,
		OutlierStdRatio:    *outlierStdRatio,
		Seed:               *seed,
		PlotBins:           *plotBins,
	}

	if *dbFile != "" {
		db, err := rundb.Open(*dbFile)
		if err != nil {
			log.Fatalf("opening run log: %v", err)
		}
		defer db.Close()
		opts.DB = db
	}

	runner, err := batch.NewRunner(fsutil.OSFileSystem{}, opts)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := runner.Run(*input, *output); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}
