package compiler

import (
	"github.com/roach88/quantflow/internal/ir"
)

// DefaultDumpPrefix names preprocessing pipelines in dumps.
const DefaultDumpPrefix = "tf_quant"

// PreprocessOptions selects the optional preprocessing passes.
type PreprocessOptions struct {
	// DumpPrefix names the pipeline; defaults to DefaultDumpPrefix.
	DumpPrefix string

	// InlinerRun inlines every call not protected by NoInline.
	InlinerRun bool

	// NoInline holds aliased function names. They are never inlined and
	// never removed as unreachable.
	NoInline map[string]bool

	// Session serves variable values; nil falls back to Variable.Initial.
	Session VariableReader

	LowerToStableHLO         bool
	DeserializeXlaCallModule bool
}

// AddPreprocessPasses appends the preprocessing pipeline to pm.
func AddPreprocessPasses(pm *PassManager, opts PreprocessOptions) {
	if opts.DeserializeXlaCallModule {
		pm.AddPass(DeserializeXlaCallModulePass())
	}
	pm.AddPass(FreezeVariablesPass(opts.Session))
	if opts.InlinerRun {
		pm.AddPass(InlinePass(opts.NoInline))
	}
	pm.AddPass(SymbolDCEPass(opts.NoInline), DeadCodeEliminationPass())
	if opts.LowerToStableHLO {
		pm.AddPass(LowerToStableHLOPass())
	}
	pm.AddPass(VerifyPass())
}

// PreprocessAndFreezeGraph freezes variables and inlines functions of a
// freshly imported module, in place. Any failure leaves the module in an
// unspecified state and must abort the invocation.
func PreprocessAndFreezeGraph(ctx *Context, m *ir.Module, opts PreprocessOptions) error {
	prefix := opts.DumpPrefix
	if prefix == "" {
		prefix = DefaultDumpPrefix
	}
	return RunPasses(prefix+"_preprocess", func(pm *PassManager) {
		AddPreprocessPasses(pm, opts)
	}, ctx, m)
}
