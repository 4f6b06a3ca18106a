package compiler

import (
	"github.com/roach88/quantflow/internal/ir"
)

// SymbolDCEPass drops private functions that are unreachable from any
// entry function and not listed in keep.
func SymbolDCEPass(keep map[string]bool) Pass {
	return NewPass("symbol-dce", func(ctx *Context, m *ir.Module) error {
		reachable := make(map[string]bool)
		var queue []string
		for _, f := range m.Functions {
			if !f.IsPrivate() || keep[f.Name] {
				reachable[f.Name] = true
				queue = append(queue, f.Name)
			}
		}
		for len(queue) > 0 {
			f := m.Function(queue[0])
			queue = queue[1:]
			if f == nil {
				continue
			}
			for _, op := range f.Ops {
				if callee := op.Callee(); callee != "" && !reachable[callee] {
					reachable[callee] = true
					queue = append(queue, callee)
				}
			}
		}

		before := len(m.Functions)
		m.RemoveFunctions(func(f *ir.Function) bool { return !reachable[f.Name] })
		ctx.Log().Debug("removed unreachable functions", "count", before-len(m.Functions))
		return nil
	})
}

// sideEffecting ops survive dead code elimination even when unused.
var sideEffecting = map[string]bool{
	ir.KindAssignVariable: true,
	ir.KindDumpTensor:     true,
	ir.KindCustomAgg:      true,
	ir.KindStatefulCall:   true,
}

// DeadCodeEliminationPass removes ops whose result is never used.
func DeadCodeEliminationPass() Pass {
	return NewPass("dce", func(ctx *Context, m *ir.Module) error {
		removed := 0
		for _, f := range m.Functions {
			for {
				live := make(map[string]bool, len(f.Results))
				for _, r := range f.Results {
					live[r] = true
				}
				for _, op := range f.Ops {
					for _, operand := range op.Operands {
						live[operand] = true
					}
				}
				n := len(f.Ops)
				kept := f.Ops[:0]
				for _, op := range f.Ops {
					if op.Result == "" || live[op.Result] || sideEffecting[op.Kind] {
						kept = append(kept, op)
					}
				}
				f.Ops = kept
				if len(kept) == n {
					break
				}
				removed += n - len(kept)
			}
		}
		ctx.Log().Debug("removed dead ops", "count", removed)
		return nil
	})
}
