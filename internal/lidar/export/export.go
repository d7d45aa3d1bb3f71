// Package export encodes landmark frames as protobuf JSON (one
// google.protobuf.Struct per line) for downstream consumers such as a
// SLAM back end.
package export

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/landmark.report/internal/lidar/pipeline"
)

// FrameToStruct converts a frame into a protobuf Struct. Timestamps are
// encoded as decimal strings, following the proto3 JSON mapping for
// int64. Non-finite numbers become null.
func FrameToStruct(frame pipeline.Frame) (*structpb.Struct, error) {
	landmarks := make([]interface{}, 0, len(frame.Landmarks))
	for _, lm := range frame.Landmarks {
		c := lm.Circle
		landmarks = append(landmarks, map[string]interface{}{
			"cluster_index": lm.ClusterIndex,
			"first_bearing": lm.FirstBearing,
			"last_bearing":  lm.LastBearing,
			"center_x":      finite(c.CenterX),
			"center_y":      finite(c.CenterY),
			"radius":        finite(c.Radius),
			"branch":        c.Branch.String(),
			"points":        c.Points,
			"rms_residual":  finite(c.RMSResidual),
		})
	}

	failures := make([]interface{}, 0, len(frame.Failures))
	for _, f := range frame.Failures {
		entry := map[string]interface{}{
			"cluster_index": f.ClusterIndex,
			"points":        f.Points,
			"kind":          pipeline.FailureKind(f.Err),
		}
		if f.Err != nil {
			entry["message"] = f.Err.Error()
		}
		failures = append(failures, entry)
	}

	s, err := structpb.NewStruct(map[string]interface{}{
		"stamp_ns":       strconv.FormatInt(frame.StampNanos, 10),
		"valid_readings": frame.ValidReadings,
		"cluster_count":  frame.ClusterCount,
		"landmarks":      landmarks,
		"failures":       failures,
	})
	if err != nil {
		return nil, fmt.Errorf("build frame struct: %w", err)
	}
	return s, nil
}

func finite(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// JSONLWriter writes one protojson-encoded frame per line. It implements
// pipeline.Sink and is safe for concurrent use.
type JSONLWriter struct {
	mu   sync.Mutex
	w    io.Writer
	opts protojson.MarshalOptions
}

// NewJSONLWriter returns a writer emitting frames to w.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: w}
}

var _ pipeline.Sink = (*JSONLWriter)(nil)

// WriteFrame implements pipeline.Sink.
func (j *JSONLWriter) WriteFrame(frame pipeline.Frame) error {
	s, err := FrameToStruct(frame)
	if err != nil {
		return err
	}
	b, err := j.opts.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal frame %d: %w", frame.StampNanos, err)
	}
	// protojson output is single-line when Multiline is unset.
	b = append(b, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.w.Write(b); err != nil {
		return fmt.Errorf("write frame %d: %w", frame.StampNanos, err)
	}
	return nil
}

// ReadFrames decodes every line written by JSONLWriter.
func ReadFrames(r io.Reader) ([]*structpb.Struct, error) {
	var out []*structpb.Struct
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		s := &structpb.Struct{}
		if err := protojson.Unmarshal(b, s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	return out, nil
}
