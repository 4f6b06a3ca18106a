// Package calibration collects activation ranges for static-range
// quantization.
//
// A Runner executes a pre-calibration bundle on representative samples and
// writes one store.Statistic per tf.CustomAggregator id into the bundle's
// calibration.db. AddCalibrationStatistics then folds those ranges back into
// the live module as min/max attributes.
//
// LocalRunner interprets the bundle in process. ProcessRunner hands the
// request to an external command, for runtimes that cannot be linked in.
package calibration
