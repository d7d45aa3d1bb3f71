package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/landmark.report/internal/config"
	"github.com/banshee-data/landmark.report/internal/lidar"
	"github.com/banshee-data/landmark.report/internal/lidar/export"
	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
	"github.com/banshee-data/landmark.report/internal/lidar/monitor"
	"github.com/banshee-data/landmark.report/internal/lidar/pipeline"
	"github.com/banshee-data/landmark.report/internal/lidar/storage/sqlite"
	"github.com/banshee-data/landmark.report/internal/monitoring"
	"github.com/banshee-data/landmark.report/internal/timeutil"
	"github.com/banshee-data/landmark.report/internal/version"
)

var (
	scansPath  = flag.String("scans", "", "Path to scans (.jsonl, or .csv with one scan per row)")
	configPath = flag.String("config", "", "Path to a JSON tuning config (defaults built in)")
	dbFile     = flag.String("db", "", "SQLite database to record the run in (disabled when empty)")
	plotDir    = flag.String("plot", "", "Directory for per-scan PNG plots (disabled when empty)")
	htmlDir    = flag.String("html", "", "Directory for per-scan HTML charts (disabled when empty)")
	exportPath = flag.String("export", "", "Write landmark frames as protojson lines to this file")
	wrap       = flag.Bool("wrap", false, "Join clusters across the 359/0 bearing seam")
	debugLog   = flag.Bool("debug", false, "Log per-cluster diagnostics to stderr")
	traceLog   = flag.Bool("trace", false, "Log per-scan telemetry to stderr")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}
	if *scansPath == "" {
		log.Fatalf("-scans is required")
	}

	logs := lidar.LogWriters{Ops: monitoring.Writer{}}
	if *debugLog {
		logs.Diag = os.Stderr
	}
	if *traceLog {
		logs.Trace = os.Stderr
	}
	lidar.SetLogWriters(logs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, timeutil.RealClock{}); err != nil {
		log.Fatalf("landmarks: %v", err)
	}
}

func loadConfig() (*config.TuningConfig, error) {
	cfg := config.DefaultTuningConfig()
	if *configPath != "" {
		loaded, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *wrap {
		w := true
		cfg.WrapAround = &w
	}
	return cfg, nil
}

func readScans(path string, cfg *config.TuningConfig) ([]l1scan.RangeScan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scans: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return l1scan.ReadCSV(f, cfg.GetMinRange(), cfg.GetMaxRange())
	}
	return l1scan.ReadAll(f)
}

func run(ctx context.Context, clock timeutil.Clock) (err error) {
	started := clock.Now()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scans, err := readScans(*scansPath, cfg)
	if err != nil {
		return err
	}
	lidar.Opsf("loaded %d scans from %s", len(scans), *scansPath)

	extractor := pipeline.NewExtractor(pipeline.ExtractorConfigFromTuning(cfg))

	var sinks []pipeline.Sink
	var runID string
	if *dbFile != "" {
		store, openErr := sqlite.Open(*dbFile)
		if openErr != nil {
			return openErr
		}
		defer closeInto(&err, store, "close store")

		params, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		store.SetClock(clock)
		runID, err = store.StartRun(sqlite.RunMeta{
			SourcePath:  *scansPath,
			ToolVersion: version.Version,
			ParamsJSON:  params,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, store.Sink(runID))
		lidar.Opsf("recording run %s in %s", runID, *dbFile)
		defer func() {
			if sum, err := store.RunSummary(runID); err == nil {
				monitoring.Logf("run %s: %d frames, %d landmarks (mean radius %.3f m), failures %v",
					runID, sum.FrameCount, sum.Landmarks, sum.MeanRadius, sum.FailuresByKind)
			}
		}()
	}

	if *exportPath != "" {
		f, createErr := os.Create(*exportPath)
		if createErr != nil {
			return fmt.Errorf("create export file: %w", createErr)
		}
		defer closeInto(&err, f, "close export file")
		sinks = append(sinks, export.NewJSONLWriter(f))
	}

	if *plotDir != "" || *htmlDir != "" {
		r, err := newRenderSink(scans, *plotDir, *htmlDir)
		if err != nil {
			return err
		}
		sinks = append(sinks, r)
	}

	stats, err := extractor.Run(ctx, scans, sinks...)
	monitoring.Logf("processed %d scans in %s: %d clusters, %d landmarks, %d failures (degenerate=%d negative_r2=%d gated=%d)",
		stats.Scans, clock.Since(started).Round(time.Millisecond), stats.Clusters, stats.Landmarks, stats.Failures,
		stats.Degenerate, stats.NegativeRadius, stats.RejectedByGate)
	return err
}

// closeInto closes c and records a close error in *errp unless an earlier
// error is already set.
func closeInto(errp *error, c io.Closer, what string) {
	if cerr := c.Close(); cerr != nil && *errp == nil {
		*errp = fmt.Errorf("%s: %w", what, cerr)
	}
}

// renderSink writes debug renderings of each scan. Run delivers frames in
// scan order, so the next frame always belongs to scans[next].
type renderSink struct {
	scans   []l1scan.RangeScan
	next    int
	pngDir  string
	htmlDir string
}

func newRenderSink(scans []l1scan.RangeScan, pngDir, htmlDir string) (*renderSink, error) {
	for _, dir := range []string{pngDir, htmlDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	return &renderSink{scans: scans, pngDir: pngDir, htmlDir: htmlDir}, nil
}

func (r *renderSink) WriteFrame(frame pipeline.Frame) error {
	if r.next >= len(r.scans) {
		return fmt.Errorf("render: frame %d has no matching scan", frame.StampNanos)
	}
	scan := r.scans[r.next]
	name := fmt.Sprintf("scan_%06d", r.next)
	r.next++

	if r.pngDir != "" {
		if err := monitor.SavePlot(filepath.Join(r.pngDir, name+".png"), scan, frame); err != nil {
			return err
		}
	}
	if r.htmlDir != "" {
		f, err := os.Create(filepath.Join(r.htmlDir, name+".html"))
		if err != nil {
			return fmt.Errorf("create chart: %w", err)
		}
		defer f.Close()
		if err := monitor.RenderScanChart(f, scan, frame); err != nil {
			return err
		}
	}
	return nil
}
