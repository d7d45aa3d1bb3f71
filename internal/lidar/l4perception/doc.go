// Package l4perception owns Layer 4 (Perception) of the landmark data model.
//
// Responsibilities: segmenting a range scan into angular clusters and
// fitting a circle to each cluster.
// Key types: Cluster, CircleEstimate.
//
// Both stages are pure functions of their inputs. Clusters from the same
// scan may be fitted concurrently without coordination.
//
// Dependency rule: L4 may depend on L1, but never on the pipeline or on
// storage. No SQL/database code is allowed in this package.
package l4perception
