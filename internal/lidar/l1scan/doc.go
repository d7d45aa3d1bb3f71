// Package l1scan owns Layer 1 (Scans) of the landmark data model.
//
// Responsibilities: the RangeScan input type, bearing and polar to
// Cartesian geometry, and decoding scans from JSONL or CSV captures.
// Key types: RangeScan, Point2D.
//
// Dependency rule: L1 depends on nothing else in internal/lidar.
package l1scan
