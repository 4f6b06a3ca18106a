package passes

import (
	"slices"
	"strconv"

	"github.com/roach88/quantflow/internal/compiler"
	"github.com/roach88/quantflow/internal/ir"
)

// DuplicateShapeDeterminingConstantsPass gives every reshape its own copy
// of the constant holding the target shape, so the shape stays a constant
// even when other users of the shared constant are unfrozen.
func DuplicateShapeDeterminingConstantsPass() compiler.Pass {
	return compiler.NewPass("duplicate-shape-determining-constants", func(ctx *compiler.Context, m *ir.Module) error {
		duplicated := 0
		for _, f := range m.Functions {
			for i := 0; i < len(f.Ops); i++ {
				op := f.Ops[i]
				if ir.Classify(op.Kind) != ir.ClassReshape || len(op.Operands) < 2 {
					continue
				}
				shape := f.Producer(op.Operands[1])
				if shape == nil || !ir.IsConst(shape.Kind) || len(f.Users(shape.Result)) < 2 {
					continue
				}
				dup := shape.Clone()
				dup.Result = freshValue(f, shape.Result+"_dup")
				delete(dup.Attrs, ir.AttrFrozenFrom)
				f.InsertBefore(i, dup)
				op.Operands[1] = dup.Result
				i++
				duplicated++
			}
		}
		ctx.Log().Debug("duplicated shape constants", "count", duplicated)
		return nil
	})
}

// UnfreezeConstantsPass turns constants frozen from variables back into
// variable reads. The variable's initial value is the constant's current
// value, so quantized weights are checkpointed quantized.
func UnfreezeConstantsPass() compiler.Pass {
	return compiler.NewPass("unfreeze-constants", func(ctx *compiler.Context, m *ir.Module) error {
		unfrozen := 0
		for _, f := range m.Functions {
			for _, op := range f.Ops {
				if !ir.IsConst(op.Kind) {
					continue
				}
				name, ok := op.Attrs.GetString(ir.AttrFrozenFrom)
				if !ok {
					continue
				}
				// Several constants can derive from one variable once a
				// weight is quantized; the first one keeps the name.
				varName := name
				for i := 1; ; i++ {
					v := m.Variable(varName)
					if v == nil {
						break
					}
					if slices.Equal(v.Shape, op.Value.Shape) && v.DType == op.Value.DType && sameTensor(v.Initial, op.Value) {
						break
					}
					varName = name + "_" + strconv.Itoa(i)
				}
				if m.Variable(varName) == nil {
					m.Variables = append(m.Variables, &ir.Variable{
						Name:    varName,
						DType:   op.Value.DType,
						Shape:   slices.Clone(op.Value.Shape),
						Initial: op.Value.Clone(),
					})
				}
				op.Kind = ir.KindReadVariable
				op.Value = nil
				op.Attrs = ir.IRObject{ir.AttrSharedName: ir.IRString(varName)}
				unfrozen++
			}
		}
		ctx.Log().Debug("unfroze constants", "count", unfrozen)
		return nil
	})
}

func sameTensor(a, b *ir.Tensor) bool {
	if a == nil || b == nil {
		return a == b
	}
	return slices.Equal(a.Floats, b.Floats) && slices.Equal(a.Ints, b.Ints)
}
