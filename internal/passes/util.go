package passes

import (
	"slices"
	"strconv"

	"github.com/roach88/quantflow/internal/ir"
)

// compositeCallee returns the composite function op calls, or nil.
func compositeCallee(m *ir.Module, op *ir.Op) *ir.Function {
	callee := m.Function(op.Callee())
	if callee == nil || !callee.Attrs.GetBool(ir.AttrCompositeFunction) {
		return nil
	}
	return callee
}

// freshValue returns base when it is unused in f, else base_N.
func freshValue(f *ir.Function, base string) string {
	used := make(map[string]bool, len(f.Args)+len(f.Ops))
	for _, a := range f.Args {
		used[a.Name] = true
	}
	for _, op := range f.Ops {
		if op.Result != "" {
			used[op.Result] = true
		}
	}
	if !used[base] {
		return base
	}
	for i := 1; ; i++ {
		name := base + "_" + strconv.Itoa(i)
		if !used[name] {
			return name
		}
	}
}

// foldPassThrough removes a single-operand op that forwards its input.
// When the op is the only user of its operand, the producer takes over the
// op's result name so downstream names stay stable.
func foldPassThrough(f *ir.Function, op *ir.Op) {
	src := op.Operands[0]
	if producer := f.Producer(src); producer != nil && len(f.Users(src)) == 1 && !slices.Contains(f.Results, src) {
		producer.Result = op.Result
	} else {
		f.ReplaceUses(op.Result, src, op)
	}
	f.Ops = slices.DeleteFunc(f.Ops, func(o *ir.Op) bool { return o == op })
}

// constProducer returns the f32 constant defining name, looking through
// quantfork.stats ops.
func constProducer(f *ir.Function, name string) *ir.Op {
	for {
		op := f.Producer(name)
		if op == nil {
			return nil
		}
		if op.Kind == ir.KindQuantStats {
			name = op.Operands[0]
			continue
		}
		if ir.IsConst(op.Kind) && op.Value != nil && op.Value.DType == ir.DTypeF32 {
			return op
		}
		return nil
	}
}

// statsRange returns the calibrated range recorded on name's producer.
func statsRange(f *ir.Function, name string) (lo, hi float32, ok bool) {
	op := f.Producer(name)
	if op == nil || op.Kind != ir.KindQuantStats {
		return 0, 0, false
	}
	lo, okLo := op.Attrs.GetF32(ir.AttrMin)
	hi, okHi := op.Attrs.GetF32(ir.AttrMax)
	return lo, hi, okLo && okHi
}
