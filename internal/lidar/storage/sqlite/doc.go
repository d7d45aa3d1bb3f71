// Package sqlite persists landmark extraction runs: one row per run, one
// row per accepted landmark and one row per failed cluster.
//
// The schema is owned by the embedded migrations in migrations/ and is
// brought up to date whenever a store is opened.
package sqlite
