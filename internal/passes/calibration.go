package passes

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/roach88/quantflow/internal/compiler"
	"github.com/roach88/quantflow/internal/ir"
)

// InsertCustomAggregatorsPass wraps every non-constant input and the output
// of each composite call in a tf.CustomAggregator. Aggregator ids are
// assigned in module order starting at "0", so two runs over the same
// module produce the same ids.
func InsertCustomAggregatorsPass(method string) compiler.Pass {
	return compiler.NewPass("insert-custom-aggregation-ops", func(ctx *compiler.Context, m *ir.Module) error {
		next := 0
		newAggregator := func(result, operand string) *ir.Op {
			op := &ir.Op{
				Result:   result,
				Kind:     ir.KindCustomAgg,
				Operands: []string{operand},
				Attrs: ir.IRObject{
					ir.AttrAggregatorID:      ir.IRString(strconv.Itoa(next)),
					ir.AttrCalibrationMethod: ir.IRString(method),
				},
			}
			next++
			return op
		}

		for _, f := range m.Functions {
			if f.Attrs.GetBool(ir.AttrCompositeFunction) {
				continue
			}
			for i := 0; i < len(f.Ops); i++ {
				call := f.Ops[i]
				if compositeCallee(m, call) == nil {
					continue
				}
				for j, operand := range call.Operands {
					if p := f.Producer(operand); p != nil && ir.IsConst(p.Kind) {
						continue
					}
					agg := newAggregator(freshValue(f, operand+"_calib"), operand)
					f.InsertBefore(i, agg)
					i++
					call.Operands[j] = agg.Result
				}
				if call.Result != "" {
					out := call.Result
					call.Result = freshValue(f, out+"_raw")
					f.InsertBefore(i+1, newAggregator(out, call.Result))
					i++
				}
			}
		}
		ctx.Log().Debug("inserted custom aggregators", "count", next)
		return nil
	})
}

// AddDumpTensorOpPass records the output of every composite call with an
// enabled tf.DumpTensor writing the unquantized file name under
// logDir/<composite function>.
func AddDumpTensorOpPass(logDir string) compiler.Pass {
	return compiler.NewPass("add-dump-tensor-op", func(ctx *compiler.Context, m *ir.Module) error {
		inserted := 0
		for _, f := range m.Functions {
			if f.Attrs.GetBool(ir.AttrCompositeFunction) {
				continue
			}
			for i := 0; i < len(f.Ops); i++ {
				call := f.Ops[i]
				callee := compositeCallee(m, call)
				if callee == nil || call.Result == "" {
					continue
				}
				// Dump the aggregated value when an aggregator follows the call.
				at, value := i+1, call.Result
				if at < len(f.Ops) && f.Ops[at].Kind == ir.KindCustomAgg && f.Ops[at].Operands[0] == call.Result {
					value = f.Ops[at].Result
					at++
				}
				f.InsertBefore(at, &ir.Op{
					Kind:     ir.KindDumpTensor,
					Operands: []string{value},
					Attrs: ir.IRObject{
						ir.AttrEnabled:    ir.IRBool(true),
						ir.AttrFileName:   ir.IRString(ir.DumpFileUnquantized),
						ir.AttrLogDirPath: ir.IRString(filepath.Join(logDir, callee.Name)),
						ir.AttrFuncName:   ir.IRString(callee.Name),
						ir.AttrNodeName:   ir.IRString(value),
					},
				})
				i = at
				inserted++
			}
		}
		ctx.Log().Debug("inserted dump tensor ops", "count", inserted)
		return nil
	})
}

// ConvertCustomAggregationOpToQuantStatsPass turns calibrated aggregators
// into quantfork.stats ops. Aggregators without a calibrated range are
// removed, leaving their tensors unquantized.
func ConvertCustomAggregationOpToQuantStatsPass() compiler.Pass {
	return compiler.NewPass("convert-custom-aggregation-op-to-quant-stats", func(ctx *compiler.Context, m *ir.Module) error {
		converted, dropped := 0, 0
		for _, f := range m.Functions {
			for _, op := range append([]*ir.Op(nil), f.Ops...) {
				if op.Kind != ir.KindCustomAgg {
					continue
				}
				lo, okLo := op.Attrs.GetF32(ir.AttrMin)
				hi, okHi := op.Attrs.GetF32(ir.AttrMax)
				if !okLo || !okHi {
					foldPassThrough(f, op)
					dropped++
					continue
				}
				op.Kind = ir.KindQuantStats
				op.Attrs = ir.IRObject{ir.AttrMin: ir.F32(lo), ir.AttrMax: ir.F32(hi)}
				converted++
			}
		}
		ctx.Log().Debug("converted custom aggregators", "converted", converted, "dropped", dropped)
		return nil
	})
}

// ConvertFakeQuantToQuantStatsPass turns QAT fake-quant ops into
// quantfork.stats ops with the same range.
func ConvertFakeQuantToQuantStatsPass() compiler.Pass {
	return compiler.NewPass("convert-fake-quant-to-quant-stats", func(_ *compiler.Context, m *ir.Module) error {
		for _, f := range m.Functions {
			for _, op := range f.Ops {
				if op.Kind != ir.KindFakeQuant {
					continue
				}
				lo, okLo := op.Attrs.GetF32(ir.AttrMin)
				hi, okHi := op.Attrs.GetF32(ir.AttrMax)
				if !okLo || !okHi {
					return fmt.Errorf("%s: %s %q has no min/max", f.Name, op.Kind, op.Result)
				}
				if lo > hi {
					return fmt.Errorf("%s: %s %q has min %v > max %v", f.Name, op.Kind, op.Result, lo, hi)
				}
				op.Kind = ir.KindQuantStats
				op.Attrs = ir.IRObject{ir.AttrMin: ir.F32(lo), ir.AttrMax: ir.F32(hi)}
			}
		}
		return nil
	})
}
