// Package passes holds the quantization and export pass sets.
//
// Every pass works on both dialects: op kinds are matched by ir.Classify and
// emitted with ir.KindIn for the module's dialect. Pass-set builders
// (AddQATPasses and friends) append passes to a
// compiler.PassManager in the order a stage must run them.
package passes
