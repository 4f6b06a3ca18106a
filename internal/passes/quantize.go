package passes

import (
	"fmt"

	"github.com/roach88/quantflow/internal/compiler"
	"github.com/roach88/quantflow/internal/ir"
)

// WeightOnlyDType selects the storage type of weight-only quantization.
type WeightOnlyDType string

const (
	WeightOnlyInt8    WeightOnlyDType = "int8"
	WeightOnlyFloat16 WeightOnlyDType = "float16"
)

// QuantizeCompositeFunctionsPass replaces each composite call whose input
// carries a calibrated range and whose weight is constant with a quantized
// matmul. Calls without a range or a constant weight are left for inlining.
//
// In the stablehlo dialect the quantized matmul is emitted as
// uniform_quantize, quantized_dot_general and uniform_dequantize when
// unpack is set, and as a single quantized_dot_general otherwise.
func QuantizeCompositeFunctionsPass(perChannel, unpack bool) compiler.Pass {
	return compiler.NewPass("quantize-composite-functions", func(ctx *compiler.Context, m *ir.Module) error {
		quantized := 0
		for _, f := range m.Functions {
			if f.Attrs.GetBool(ir.AttrCompositeFunction) {
				continue
			}
			for i := 0; i < len(f.Ops); i++ {
				call := f.Ops[i]
				if compositeCallee(m, call) == nil || len(call.Operands) != 2 {
					continue
				}
				lo, hi, ok := statsRange(f, call.Operands[0])
				if !ok {
					continue
				}
				weight := constProducer(f, call.Operands[1])
				if weight == nil {
					continue
				}

				q, scales := quantizeInt8(weight.Value, perChannel)
				wq := quantizedConst(m.Dialect, freshValue(f, call.Result+"/weight"), weight, q, scales)
				scaleAttrs := ir.IRObject{
					ir.AttrInputScale:   ir.F32(rangeScale(lo, hi)),
					ir.AttrWeightScales: ir.F32s(scales),
					ir.AttrPerChannel:   ir.IRBool(perChannel),
				}

				var replacement []*ir.Op
				switch {
				case m.Dialect != ir.DialectStableHLO:
					replacement = []*ir.Op{{
						Result:   call.Result,
						Kind:     ir.KindQuantizedMatMul,
						Operands: []string{call.Operands[0], wq.Result},
						Attrs:    scaleAttrs,
					}}
				case unpack:
					qin := freshValue(f, call.Result+"/quantized_input")
					acc := freshValue(f, call.Result+"/accumulator")
					replacement = []*ir.Op{
						{
							Result:   qin,
							Kind:     ir.KindUniformQuantize,
							Operands: []string{call.Operands[0]},
							Attrs:    ir.IRObject{ir.AttrScale: ir.F32(rangeScale(lo, hi))},
						},
						{Result: acc, Kind: ir.KindQuantizedDotGeneral, Operands: []string{qin, wq.Result}},
						{Result: call.Result, Kind: ir.KindUniformDequantize, Operands: []string{acc}, Attrs: scaleAttrs},
					}
				default:
					replacement = []*ir.Op{{
						Result:   call.Result,
						Kind:     ir.KindQuantizedDotGeneral,
						Operands: []string{call.Operands[0], wq.Result},
						Attrs:    scaleAttrs,
					}}
				}

				ops := append([]*ir.Op{wq}, replacement...)
				f.Ops = append(f.Ops[:i], append(ops, f.Ops[i+1:]...)...)
				i += len(ops) - 1
				quantized++
			}
		}
		ctx.Log().Debug("quantized composite functions", "count", quantized, "per_channel", perChannel)
		return nil
	})
}

// QuantizeWeightsDynamicPass replaces composite calls with a constant weight
// of at least minElements elements by a dynamic-range matmul. Activations are
// quantized at run time, so no calibrated range is needed.
func QuantizeWeightsDynamicPass(minElements int64) compiler.Pass {
	return compiler.NewPass("quantize-weights-dynamic-range", func(ctx *compiler.Context, m *ir.Module) error {
		quantized := 0
		for _, f := range m.Functions {
			if f.Attrs.GetBool(ir.AttrCompositeFunction) {
				continue
			}
			for i := 0; i < len(f.Ops); i++ {
				call := f.Ops[i]
				if compositeCallee(m, call) == nil || len(call.Operands) != 2 {
					continue
				}
				weight := constProducer(f, call.Operands[1])
				if weight == nil || weight.Value.NumElements() < minElements {
					continue
				}
				q, scales := quantizeInt8(weight.Value, false)
				wq := quantizedConst(m.Dialect, freshValue(f, call.Result+"/weight"), weight, q, scales)
				drq := &ir.Op{
					Result:   call.Result,
					Kind:     ir.KindDynamicRangeMatMul,
					Operands: []string{call.Operands[0], wq.Result},
					Attrs:    ir.IRObject{ir.AttrWeightScales: ir.F32s(scales)},
				}
				f.Ops = append(f.Ops[:i], append([]*ir.Op{wq, drq}, f.Ops[i+1:]...)...)
				i++
				quantized++
			}
		}
		ctx.Log().Debug("quantized weights for dynamic range", "count", quantized, "min_elements", minElements)
		return nil
	})
}

// QuantizeWeightOnlyPass stores matmul weights of at least minElements
// elements as int8 or float16 and dequantizes them right before use.
func QuantizeWeightOnlyPass(dtype WeightOnlyDType, minElements int64) compiler.Pass {
	return compiler.NewPass("quantize-weight-only", func(ctx *compiler.Context, m *ir.Module) error {
		if dtype != WeightOnlyInt8 && dtype != WeightOnlyFloat16 {
			return fmt.Errorf("unsupported weight-only dtype %q", dtype)
		}
		quantized := 0
		for _, f := range m.Functions {
			for i := 0; i < len(f.Ops); i++ {
				op := f.Ops[i]
				if ir.Classify(op.Kind) != ir.ClassMatMul || len(op.Operands) != 2 {
					continue
				}
				weight := constProducer(f, op.Operands[1])
				if weight == nil || weight.Value.NumElements() < minElements {
					continue
				}

				var wq *ir.Op
				deq := &ir.Op{Kind: ir.KindDequantize}
				if dtype == WeightOnlyFloat16 {
					wq = quantizedConst(m.Dialect, freshValue(f, op.Result+"/weight"), weight, quantizeFloat16(weight.Value), nil)
				} else {
					q, scales := quantizeInt8(weight.Value, false)
					wq = quantizedConst(m.Dialect, freshValue(f, op.Result+"/weight"), weight, q, scales)
					deq.Attrs = ir.IRObject{ir.AttrWeightScales: ir.F32s(scales)}
				}
				f.Ops = append(f.Ops[:i], append([]*ir.Op{wq}, f.Ops[i:]...)...)
				deq.Result = freshValue(f, op.Result+"/dequantized")
				deq.Operands = []string{wq.Result}
				f.InsertBefore(i+1, deq)
				op.Operands[1] = deq.Result
				i += 2
				quantized++
			}
		}
		ctx.Log().Debug("quantized weights", "count", quantized, "dtype", string(dtype))
		return nil
	})
}
