package passes

import (
	"slices"

	"github.com/roach88/quantflow/internal/compiler"
	"github.com/roach88/quantflow/internal/ir"
)

// InlineRemainingCompositesPass inlines composite calls that quantization
// left in float.
func InlineRemainingCompositesPass() compiler.Pass {
	return compiler.InlineCallsTo("inline-remaining-composites", func(callee *ir.Function) bool {
		return callee.Attrs.GetBool(ir.AttrCompositeFunction)
	})
}

// FoldQuantStatsPass removes quantfork.stats ops once their ranges have
// been consumed.
func FoldQuantStatsPass() compiler.Pass {
	return compiler.NewPass("fold-quant-stats", func(_ *compiler.Context, m *ir.Module) error {
		for _, f := range m.Functions {
			for _, op := range slices.Clone(f.Ops) {
				if op.Kind == ir.KindQuantStats {
					foldPassThrough(f, op)
				}
			}
		}
		return nil
	})
}

// RemoveUnusedCompositesPass drops composite functions nothing calls.
func RemoveUnusedCompositesPass() compiler.Pass {
	return compiler.NewPass("remove-unused-composites", func(ctx *compiler.Context, m *ir.Module) error {
		called := make(map[string]bool)
		m.Walk(func(_ *ir.Function, op *ir.Op) {
			if callee := op.Callee(); callee != "" {
				called[callee] = true
			}
		})
		before := len(m.Functions)
		m.RemoveFunctions(func(f *ir.Function) bool {
			return f.Attrs.GetBool(ir.AttrCompositeFunction) && !called[f.Name]
		})
		ctx.Log().Debug("removed unused composite functions", "count", before-len(m.Functions))
		return nil
	})
}

// AddCleanupPasses appends the passes that finish a quantization stage.
func AddCleanupPasses(pm *compiler.PassManager) {
	pm.AddPass(
		FoldQuantStatsPass(),
		compiler.DeadCodeEliminationPass(),
		RemoveUnusedCompositesPass(),
	)
}
