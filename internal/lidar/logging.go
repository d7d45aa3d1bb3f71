package lidar

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"
)

// Stream names one of the extractor's log streams.
type Stream int

const (
	// StreamOps carries run lifecycle events and actionable warnings.
	StreamOps Stream = iota
	// StreamDiag carries per-cluster fit failures and tuning context.
	StreamDiag
	// StreamTrace carries one summary line per scan.
	StreamTrace

	numStreams
)

var streamNames = [numStreams]string{"ops", "diag", "trace"}

func (s Stream) String() string {
	if s < 0 || s >= numStreams {
		return fmt.Sprintf("stream(%d)", int(s))
	}
	return streamNames[s]
}

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var loggers [numStreams]atomic.Pointer[log.Logger]

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	outs := [numStreams]io.Writer{w.Ops, w.Diag, w.Trace}
	for s, out := range outs {
		loggers[s].Store(newLogger(Stream(s), out))
	}
}

func newLogger(s Stream, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	prefix := "[landmarks] "
	if s != StreamOps {
		prefix = "[landmarks:" + s.String() + "] "
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Enabled reports whether s has a writer.
func Enabled(s Stream) bool {
	return s >= 0 && s < numStreams && loggers[s].Load() != nil
}

func logf(s Stream, format string, args ...interface{}) {
	if l := loggers[s].Load(); l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) { logf(StreamOps, format, args...) }

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) { logf(StreamDiag, format, args...) }

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) { logf(StreamTrace, format, args...) }

// ClusterDiagf logs a diagnostic about one cluster of a scan, tagged with
// the scan stamp, the cluster index and its bearing span.
func ClusterDiagf(stampNanos int64, cluster, firstBearing, lastBearing int, format string, args ...interface{}) {
	l := loggers[StreamDiag].Load()
	if l == nil {
		return
	}
	l.Printf("scan %d cluster %d [%d..%d]: %s",
		stampNanos, cluster, firstBearing, lastBearing, fmt.Sprintf(format, args...))
}

// ScanSummary is the per-scan line written to the trace stream.
type ScanSummary struct {
	StampNanos    int64
	ValidReadings int
	Clusters      int
	Landmarks     int
	Failures      int
}

// TraceScan writes s to the trace stream.
func TraceScan(s ScanSummary) {
	l := loggers[StreamTrace].Load()
	if l == nil {
		return
	}
	if s.Clusters == 0 {
		l.Printf("scan %d: %d valid readings, no clusters", s.StampNanos, s.ValidReadings)
		return
	}
	l.Printf("scan %d: %d valid readings, %d clusters, %d landmarks, %d failures",
		s.StampNanos, s.ValidReadings, s.Clusters, s.Landmarks, s.Failures)
}
