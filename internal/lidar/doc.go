// Package lidar is the root of the landmark extraction stack.
//
// The layer packages below it follow the LiDAR data model used across
// the codebase:
//
//   - l1scan: raw range scans, decoding, polar to Cartesian geometry
//   - l4perception: scan clustering and circle fitting
//   - pipeline: per-scan orchestration (cluster, fit, gate)
//   - storage/sqlite, export, monitor: sinks and debug output
//
// This package only owns the shared logging streams.
package lidar
