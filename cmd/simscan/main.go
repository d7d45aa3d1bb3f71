package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
	"github.com/banshee-data/landmark.report/internal/lidar/sim"
	"github.com/banshee-data/landmark.report/internal/monitoring"
	"github.com/banshee-data/landmark.report/internal/version"
)

var (
	outPath  = flag.String("out", "scans.jsonl", "Output JSONL file")
	tubeSpec = flag.String("tubes", "0.8,0.8,0.15;-1.2,0.5,0.2;-0.5,-1.5,0.25", "Tubes as x,y,r;x,y,r;... in metres")
	count    = flag.Int("count", 10, "Number of scans to generate")
	noiseStd = flag.Float64("noise", 0, "Gaussian range noise standard deviation in metres")
	seed     = flag.Uint64("seed", 1, "Noise seed")
	spin     = flag.Float64("spin", 0, "Robot heading change per scan in degrees")
	minRange = flag.Float64("min-range", 0.12, "Sensor minimum range in metres")
	maxRange = flag.Float64("max-range", 3.5, "Sensor maximum range in metres")
	samples  = flag.Int("samples", l1scan.FullScanSamples, "Readings per scan")
	period   = flag.Int64("period-ns", 200_000_000, "Time between scans in nanoseconds")
	showVer  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}
	if err := run(); err != nil {
		log.Fatalf("simscan: %v", err)
	}
}

func run() error {
	if *count <= 0 {
		return fmt.Errorf("-count must be positive, got %d", *count)
	}
	tubes, err := sim.ParseTubes(*tubeSpec)
	if err != nil {
		return err
	}

	var noise *distuv.Normal
	if *noiseStd > 0 {
		noise = &distuv.Normal{Mu: 0, Sigma: *noiseStd, Src: rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)}
	}

	params := sim.ScanParams{Samples: *samples, MinRange: *minRange, MaxRange: *maxRange}
	scans := make([]l1scan.RangeScan, *count)
	for i := range scans {
		params.StampNanos = int64(i) * *period
		pose := sim.Pose2D{Heading: float64(i) * *spin * math.Pi / 180}
		scans[i] = sim.SimulateScan(pose, tubes, params, noise)
	}

	f, err := os.Create(*outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := l1scan.WriteJSONL(f, scans...); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}

	monitoring.Logf("wrote %d scans of %d tubes to %s", len(scans), len(tubes), *outPath)
	return nil
}
