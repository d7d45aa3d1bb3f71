// Package pipeline runs landmark extraction for one scan at a time.
//
// It wires the L4 clusterer and circle fitter together and hands the
// resulting frames to sinks (persistence, export). The pipeline does not
// own domain logic; it delegates to l4perception.
//
// This package is the composition root: it imports from layer packages
// but none of them import pipeline/.
package pipeline
