package l1scan

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// maxLineBytes bounds a single JSONL record. A 360 sample scan is well
// under 16 KiB; larger scans still fit comfortably.
const maxLineBytes = 4 << 20

// scanRecord is the JSONL wire form. Ranges use pointers so that null
// (or a missing reading) can be represented; JSON has no NaN or Inf.
type scanRecord struct {
	StampNanos int64      `json:"stamp_ns,omitempty"`
	RangeMin   float64    `json:"range_min"`
	RangeMax   float64    `json:"range_max"`
	Ranges     []*float64 `json:"ranges"`
}

func (r scanRecord) toScan() RangeScan {
	ranges := make([]float64, len(r.Ranges))
	for i, v := range r.Ranges {
		if v == nil {
			ranges[i] = math.Inf(1)
			continue
		}
		ranges[i] = *v
	}
	return RangeScan{
		Ranges:     ranges,
		MinRange:   r.RangeMin,
		MaxRange:   r.RangeMax,
		StampNanos: r.StampNanos,
	}
}

func recordFromScan(s RangeScan) scanRecord {
	ranges := make([]*float64, len(s.Ranges))
	for i, v := range s.Ranges {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		ranges[i] = &v
	}
	return scanRecord{
		StampNanos: s.StampNanos,
		RangeMin:   s.MinRange,
		RangeMax:   s.MaxRange,
		Ranges:     ranges,
	}
}

// Reader decodes one RangeScan per line from a JSONL stream. Null
// readings decode as +Inf, which is always out of range.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{sc: sc}
}

// Next returns the next scan, or io.EOF once the stream is exhausted.
// Blank lines are skipped.
func (r *Reader) Next() (RangeScan, error) {
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSpace(r.sc.Text())
		if text == "" {
			continue
		}
		var rec scanRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return RangeScan{}, fmt.Errorf("line %d: decode scan: %w", r.line, err)
		}
		scan := rec.toScan()
		if err := scan.Validate(); err != nil {
			return RangeScan{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return scan, nil
	}
	if err := r.sc.Err(); err != nil {
		return RangeScan{}, fmt.Errorf("read scans: %w", err)
	}
	return RangeScan{}, io.EOF
}

// ReadAll decodes every scan in a JSONL stream.
func ReadAll(r io.Reader) ([]RangeScan, error) {
	rd := NewReader(r)
	var scans []RangeScan
	for {
		s, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return scans, nil
		}
		if err != nil {
			return scans, err
		}
		scans = append(scans, s)
	}
}

// WriteJSONL encodes scans one per line. Non-finite readings are written
// as null.
func WriteJSONL(w io.Writer, scans ...RangeScan) error {
	enc := json.NewEncoder(w)
	for i, s := range scans {
		if err := enc.Encode(recordFromScan(s)); err != nil {
			return fmt.Errorf("encode scan %d: %w", i, err)
		}
	}
	return nil
}

// ReadCSV decodes scans stored one per row as comma-separated ranges.
// CSV captures carry no bounds, so minRange and maxRange are applied to
// every row. Empty cells and "inf"/"nan" are accepted.
func ReadCSV(r io.Reader, minRange, maxRange float64) ([]RangeScan, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var scans []RangeScan
	row := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return scans, nil
		}
		row++
		if err != nil {
			return scans, fmt.Errorf("row %d: %w", row, err)
		}
		ranges := make([]float64, len(rec))
		for i, cell := range rec {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				ranges[i] = math.Inf(1)
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return scans, fmt.Errorf("row %d col %d: parse range %q: %w", row, i, cell, err)
			}
			ranges[i] = v
		}
		scan := RangeScan{Ranges: ranges, MinRange: minRange, MaxRange: maxRange}
		if err := scan.Validate(); err != nil {
			return scans, fmt.Errorf("row %d: %w", row, err)
		}
		scans = append(scans, scan)
	}
}
