// Package domain defines the core domain models for clustersnap.
//
// Domain models are pure value objects without IO dependencies or
// framework coupling. This package contains:
//
//   - ClientSession: a client session reinstated from a snapshot
//   - Errors: coded domain errors shared by the codec, the snapshot
//     taker and loader, and the storage layer
//
// Error codes are grouped by area so callers can classify failures:
// protocol violations (CS-PROT) are fatal and never retried, terminal
// channel failures (CS-PUBL) abort the snapshot attempt, and agent
// termination (CS-AGNT) requests an orderly shutdown.
package domain
