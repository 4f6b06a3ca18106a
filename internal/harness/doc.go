// Package harness provides scenario-driven conformance testing for the
// quantization pipeline.
//
// A scenario compiles a CUE model into a bundle, runs one quantization
// mode over it and asserts on the exported graph.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: static_range_matmul
//	description: "What this scenario validates"
//	model: ../models/matmul.cue
//	mode: static-range
//	options: ../options/small_weights.cue
//	calibration:
//	  min: -1
//	  max: 2
//	  skip: ["1"]
//	datasets:
//	  serving_default: ../datasets/matmul.yaml
//	assertions:
//	  - type: op_present
//	    signature: serving_default
//	    kind: tf_quant.QuantizedMatMul
//	  - type: calls_resolved
//	  - type: statistic
//	    id: "0"
//	    min: -1
//	    max: 2
//
// Paths are relative to the scenario file. A scenario that expects the
// pipeline to fail names the error kind instead of assertions:
//
//	expect_error: ALIAS_RESOLUTION
//
// # Assertion Types
//
//   - op_present: an op of kind exists (in the signature's entry function, or anywhere)
//   - op_absent: no op of kind exists
//   - op_count: exactly count ops of kind exist
//   - op_sequence: the entry function's op kinds equal kinds
//   - calls_resolved: every call targets an aliased function or a composite
//   - missing_statistics: the aggregators left without statistics are ids
//   - alias_preserved: alias is still a value of the function alias map
//   - statistic: aggregator id was calibrated to [min, max]
//
// # Deterministic Testing
//
// Scenarios with a calibration block use testutil.StubRunner instead of
// the local runner, and every run uses a fixed run id, so the snapshot
// written by RunWithGolden is identical across runs.
package harness
