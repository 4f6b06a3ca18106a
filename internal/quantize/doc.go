// Package quantize drives a model bundle through quantization.
//
// An invocation imports the bundle, resolves its function aliases,
// preprocesses the module and runs the pass stages of the requested Mode
// before exporting the result:
//
//	qat                  import -> tf_quant_qat -> export
//	dynamic-range        import -> tf_quant_ptq_dynamic_range -> export
//	weight-only          import -> tf_quant_weight_only -> export
//	ptq-precalibration   import -> tf_quant_ptq_pre_calibration -> export
//	ptq-postcalibration  import -> fold statistics -> tf_quant_ptq_post_calibration -> export
//	static-range         import -> pre-calibration -> calibrate -> post-calibration -> export
//
// With the stablehlo op set the two calibration stages run through the
// quantizer components of package component instead of the legacy pass
// lists.
//
// The live module is owned by exactly one stage at a time and mutated in
// place. The only copy is the clone exported for calibration.
package quantize
