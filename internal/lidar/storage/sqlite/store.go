package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/landmark.report/internal/lidar/pipeline"
	"github.com/banshee-data/landmark.report/internal/timeutil"
)

// ErrRunNotFound is returned when a run ID has no landmark_runs row.
var ErrRunNotFound = errors.New("landmark run not found")

// RunMeta describes a run at creation time.
type RunMeta struct {
	SourcePath  string
	ToolVersion string
	ParamsJSON  json.RawMessage
	Notes       string
}

// Run is a persisted extraction run.
type Run struct {
	RunID       string          `json:"run_id"`
	CreatedAt   int64           `json:"created_at"` // unix nanoseconds
	SourcePath  string          `json:"source_path,omitempty"`
	ToolVersion string          `json:"tool_version,omitempty"`
	ParamsJSON  json.RawMessage `json:"params_json,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	FrameCount  int             `json:"frame_count"`
}

// Observation is one accepted landmark.
type Observation struct {
	RunID        string  `json:"run_id"`
	StampNanos   int64   `json:"stamp_ns"`
	ClusterIndex int     `json:"cluster_index"`
	FirstBearing int     `json:"first_bearing"`
	LastBearing  int     `json:"last_bearing"`
	CenterX      float64 `json:"center_x"`
	CenterY      float64 `json:"center_y"`
	Radius       float64 `json:"radius"`
	Branch       string  `json:"branch"`
	Points       int     `json:"points"`
	RMSResidual  float64 `json:"rms_residual"` // NaN when not recorded
}

// FailureRecord is one cluster that produced no landmark.
type FailureRecord struct {
	RunID        string `json:"run_id"`
	StampNanos   int64  `json:"stamp_ns"`
	ClusterIndex int    `json:"cluster_index"`
	Points       int    `json:"points"`
	Kind         string `json:"kind"`
	Message      string `json:"message,omitempty"`
}

// RunSummary aggregates a run's observations and failures.
type RunSummary struct {
	Run
	Landmarks      int            `json:"landmarks"`
	Failures       int            `json:"failures"`
	MeanRadius     float64        `json:"mean_radius"`
	FailuresByKind map[string]int `json:"failures_by_kind"`
}

// LandmarkStore provides persistence for landmark runs.
type LandmarkStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*LandmarkStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open landmark db %s: %w", path, err)
	}
	store, err := NewLandmarkStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewLandmarkStore wraps an open database and migrates it.
func NewLandmarkStore(db *sql.DB) (*LandmarkStore, error) {
	if err := MigrateUp(db); err != nil {
		return nil, err
	}
	return &LandmarkStore{db: db, clock: timeutil.RealClock{}}, nil
}

// SetClock replaces the clock used to stamp new runs.
func (s *LandmarkStore) SetClock(c timeutil.Clock) {
	s.clock = c
}

// DB returns the underlying database handle.
func (s *LandmarkStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *LandmarkStore) Close() error {
	return s.db.Close()
}

// StartRun creates a run and returns its ID.
func (s *LandmarkStore) StartRun(meta RunMeta) (string, error) {
	runID := uuid.New().String()
	var params interface{}
	if len(meta.ParamsJSON) > 0 {
		params = string(meta.ParamsJSON)
	}
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO landmark_runs (run_id, created_at, source_path, tool_version, params_json, notes)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID, s.clock.Now().UnixNano(), nullString(meta.SourcePath), nullString(meta.ToolVersion),
			params, nullString(meta.Notes))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert landmark run: %w", err)
	}
	return runID, nil
}

// GetRun returns a run by ID.
func (s *LandmarkStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, created_at, source_path, tool_version, params_json, notes, frame_count
		FROM landmark_runs
		WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return nil, err
	}
	return r, nil
}

// ListRuns returns all runs, newest first.
func (s *LandmarkStore) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, created_at, source_path, tool_version, params_json, notes, frame_count
		FROM landmark_runs
		ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query landmark runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var source, toolVersion, params, notes sql.NullString
	if err := row.Scan(&r.RunID, &r.CreatedAt, &source, &toolVersion, &params, &notes, &r.FrameCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan landmark run: %w", err)
	}
	r.SourcePath = source.String
	r.ToolVersion = toolVersion.String
	r.Notes = notes.String
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	return &r, nil
}

// WriteFrame stores every landmark and failure of one frame under runID
// and bumps the run's frame count. The frame is written atomically.
func (s *LandmarkStore) WriteFrame(runID string, frame pipeline.Frame) error {
	return retryOnBusy(func() error {
		return s.writeFrame(runID, frame)
	})
}

func (s *LandmarkStore) writeFrame(runID string, frame pipeline.Frame) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin frame tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE landmark_runs SET frame_count = frame_count + 1 WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("update frame count: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update frame count: %w", err)
	} else if n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}

	for _, lm := range frame.Landmarks {
		c := lm.Circle
		_, err := tx.Exec(`
			INSERT INTO landmark_observations (
				run_id, stamp_ns, cluster_index, first_bearing, last_bearing,
				center_x, center_y, radius, branch, points, rms_residual
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, frame.StampNanos, lm.ClusterIndex, lm.FirstBearing, lm.LastBearing,
			c.CenterX, c.CenterY, c.Radius, c.Branch.String(), c.Points, nullFloat64(c.RMSResidual))
		if err != nil {
			return fmt.Errorf("insert landmark observation: %w", err)
		}
	}

	for _, f := range frame.Failures {
		var msg string
		if f.Err != nil {
			msg = f.Err.Error()
		}
		_, err := tx.Exec(`
			INSERT INTO landmark_fit_failures (
				run_id, stamp_ns, cluster_index, points, kind, message
			) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, frame.StampNanos, f.ClusterIndex, f.Points, pipeline.FailureKind(f.Err), nullString(msg))
		if err != nil {
			return fmt.Errorf("insert fit failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit frame: %w", err)
	}
	return nil
}

// Sink returns a pipeline.Sink that writes frames under runID.
func (s *LandmarkStore) Sink(runID string) pipeline.Sink {
	return pipeline.SinkFunc(func(f pipeline.Frame) error {
		return s.WriteFrame(runID, f)
	})
}

// ListObservations returns a run's landmarks ordered by scan time and then
// by angular order within the scan.
func (s *LandmarkStore) ListObservations(runID string) ([]Observation, error) {
	rows, err := s.db.Query(`
		SELECT run_id, stamp_ns, cluster_index, first_bearing, last_bearing,
		       center_x, center_y, radius, branch, points, rms_residual
		FROM landmark_observations
		WHERE run_id = ?
		ORDER BY stamp_ns, cluster_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query landmark observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		var rms sql.NullFloat64
		if err := rows.Scan(&o.RunID, &o.StampNanos, &o.ClusterIndex, &o.FirstBearing, &o.LastBearing,
			&o.CenterX, &o.CenterY, &o.Radius, &o.Branch, &o.Points, &rms); err != nil {
			return nil, fmt.Errorf("scan landmark observation: %w", err)
		}
		o.RMSResidual = math.NaN()
		if rms.Valid {
			o.RMSResidual = rms.Float64
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListFailures returns a run's failed clusters in scan order.
func (s *LandmarkStore) ListFailures(runID string) ([]FailureRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, stamp_ns, cluster_index, points, kind, message
		FROM landmark_fit_failures
		WHERE run_id = ?
		ORDER BY stamp_ns, cluster_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query fit failures: %w", err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var f FailureRecord
		var msg sql.NullString
		if err := rows.Scan(&f.RunID, &f.StampNanos, &f.ClusterIndex, &f.Points, &f.Kind, &msg); err != nil {
			return nil, fmt.Errorf("scan fit failure: %w", err)
		}
		f.Message = msg.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// RunSummary aggregates counts for a run.
func (s *LandmarkStore) RunSummary(runID string) (*RunSummary, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}
	sum := &RunSummary{Run: *run, FailuresByKind: map[string]int{}}

	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(AVG(radius), 0)
		FROM landmark_observations
		WHERE run_id = ?`, runID).Scan(&sum.Landmarks, &sum.MeanRadius)
	if err != nil {
		return nil, fmt.Errorf("summarise observations: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT kind, COUNT(*)
		FROM landmark_fit_failures
		WHERE run_id = ?
		GROUP BY kind`, runID)
	if err != nil {
		return nil, fmt.Errorf("summarise failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan failure summary: %w", err)
		}
		sum.FailuresByKind[kind] = n
		sum.Failures += n
	}
	return sum, rows.Err()
}

// DeleteRun removes a run with its observations and failures.
func (s *LandmarkStore) DeleteRun(runID string) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin delete tx: %w", err)
		}
		defer tx.Rollback()

		for _, q := range []string{
			`DELETE FROM landmark_observations WHERE run_id = ?`,
			`DELETE FROM landmark_fit_failures WHERE run_id = ?`,
		} {
			if _, err := tx.Exec(q, runID); err != nil {
				return fmt.Errorf("delete run rows: %w", err)
			}
		}
		res, err := tx.Exec(`DELETE FROM landmark_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return tx.Commit()
	})
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat64(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

const (
	busyRetries = 5
	busyBackoff = 20 * time.Millisecond
)

// retryOnBusy retries fn while SQLite reports the database as busy or
// locked.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(busyBackoff * time.Duration(attempt+1))
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
