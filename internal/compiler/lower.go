package compiler

import (
	"github.com/roach88/quantflow/internal/ir"
)

// LowerToStableHLOPass rewrites tf ops that have a stablehlo counterpart
// and switches the module dialect. tf.Relu becomes stablehlo.maximum against
// a zero constant; tf.Identity is folded away. Variable and calibration
// ops keep their tf kinds.
func LowerToStableHLOPass() Pass {
	return NewPass("lower-to-stablehlo", func(ctx *Context, m *ir.Module) error {
		lowered := 0
		for _, f := range m.Functions {
			var out []*ir.Op
			for _, op := range f.Ops {
				class := ir.Classify(op.Kind)
				switch {
				case class == ir.ClassIdentity:
					f.ReplaceUses(op.Result, op.Operands[0], op)
					lowered++
					continue
				case class == ir.ClassRelu && op.Kind == ir.KindRelu:
					zero := &ir.Op{
						Result:   uniqueValueName(valueNames(f, out), op.Result+"/zero"),
						Kind:     ir.KindHLOConstant,
						Operands: []string{},
						Value:    ir.NewF32(nil, []float32{0}),
					}
					out = append(out, zero)
					op.Kind = ir.KindHLOMaximum
					op.Operands = append(op.Operands, zero.Result)
					lowered++
				case class != ir.ClassOther:
					if kind := ir.KindIn(class, ir.DialectStableHLO); kind != op.Kind {
						op.Kind = kind
						lowered++
					}
				}
				out = append(out, op)
			}
			f.Ops = out
		}
		m.Dialect = ir.DialectStableHLO
		ctx.Log().Debug("lowered ops to stablehlo", "count", lowered)
		return nil
	})
}

func valueNames(f *ir.Function, pending []*ir.Op) map[string]bool {
	used := make(map[string]bool, len(f.Args)+len(f.Ops))
	for _, a := range f.Args {
		used[a.Name] = true
	}
	for _, op := range f.Ops {
		if op.Result != "" {
			used[op.Result] = true
		}
	}
	for _, op := range pending {
		if op.Result != "" {
			used[op.Result] = true
		}
	}
	return used
}
