// Package store provides SQLite-backed storage for checkpoints and
// calibration statistics.
//
// A store file holds two tables:
//   - variables: checkpoint values of resource variables, keyed by name
//   - calibration_statistics: per-aggregator ranges written by a
//     calibration run, keyed by CustomAggregator id
//
// A checkpoint directory holds one store file named CheckpointFile; an
// intermediate calibration artifact holds one named StatisticsFile.
//
// # Deterministic Reads
//
// All list queries use ORDER BY name/id COLLATE BINARY so two readers of the
// same file observe identical order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Tensor payloads are stored as canonical JSON (internal/ir) so the bytes
// written for a given tensor never vary between runs.
package store
