package passes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/quantflow/internal/compiler"
	"github.com/roach88/quantflow/internal/ir"
)

// LiftQuantizableSpotsAsFunctionsPass outlines every matmul into its own
// composite function and replaces it with a call carrying the
// fully-quantizable trait. Names are composite_<op>_fn_<n> in module order.
func LiftQuantizableSpotsAsFunctionsPass() compiler.Pass {
	return compiler.NewPass("lift-quantizable-spots-as-functions", func(ctx *compiler.Context, m *ir.Module) error {
		callKind := ir.KindIn(ir.ClassCall, m.Dialect)
		n := 0
		for _, f := range slices.Clone(m.Functions) {
			if f.Attrs.GetBool(ir.AttrCompositeFunction) {
				continue
			}
			for i, op := range f.Ops {
				if ir.Classify(op.Kind) != ir.ClassMatMul {
					continue
				}
				if len(op.Operands) != 2 {
					return fmt.Errorf("%s: %s %q has %d operands, want 2", f.Name, op.Kind, op.Result, len(op.Operands))
				}
				n++
				short := op.Kind[strings.LastIndex(op.Kind, ".")+1:]
				name := m.UniqueFunctionName(fmt.Sprintf("composite_%s_fn_%d", strings.ToLower(short), n))

				body := op.Clone()
				body.Result = "out"
				body.Operands = []string{"lhs", "rhs"}
				m.Functions = append(m.Functions, &ir.Function{
					Name:    name,
					Args:    []ir.Arg{{Name: "lhs"}, {Name: "rhs"}},
					Results: []string{"out"},
					Ops:     []*ir.Op{body},
					Attrs: ir.IRObject{
						ir.AttrCompositeFunction: ir.IRBool(true),
						ir.AttrQuantTrait:        ir.IRString(ir.QuantTraitFullyQuantizable),
					},
				})

				f.Ops[i] = &ir.Op{
					Result:   op.Result,
					Kind:     callKind,
					Operands: slices.Clone(op.Operands),
					Attrs: ir.IRObject{
						ir.AttrCallee:     ir.IRString(name),
						ir.AttrQuantTrait: ir.IRString(ir.QuantTraitFullyQuantizable),
					},
				}
			}
		}
		ctx.Log().Debug("lifted quantizable spots", "count", n)
		return nil
	})
}
