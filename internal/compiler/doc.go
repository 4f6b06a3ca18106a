// Package compiler turns model sources into ir.Modules and runs ordered
// pass pipelines over them.
//
// A pipeline is a PassManager holding passes that mutate one module in
// place, strictly in sequence. The first failing pass aborts the pipeline
// with a *PassError naming the pipeline and the pass.
//
// Model sources are CUE files (see CompileModel). Preprocessing passes live
// here as well because every quantization mode runs them: freezing, inlining,
// symbol DCE, stablehlo lowering and module verification.
package compiler
