package passes

import (
	"math"

	"github.com/x448/float16"

	"github.com/roach88/quantflow/internal/ir"
)

const int8Max = 127

// symmetricScale maps [-absMax, absMax] onto [-127, 127].
func symmetricScale(absMax float32) float32 {
	if absMax == 0 {
		return 1
	}
	return absMax / int8Max
}

func rangeScale(lo, hi float32) float32 {
	return symmetricScale(max(abs32(lo), abs32(hi)))
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}

// quantizeInt8 quantizes an f32 tensor symmetrically. Per-channel scales
// run along the last dimension; rank-0 tensors fall back to per-tensor.
func quantizeInt8(w *ir.Tensor, perChannel bool) (*ir.Tensor, []float32) {
	channels := 1
	if perChannel && len(w.Shape) > 0 && w.Shape[len(w.Shape)-1] > 0 {
		channels = int(w.Shape[len(w.Shape)-1])
	}

	absMax := make([]float32, channels)
	for i, v := range w.Floats {
		c := i % channels
		absMax[c] = max(absMax[c], abs32(v))
	}
	scales := make([]float32, channels)
	for c := range scales {
		scales[c] = symmetricScale(absMax[c])
	}

	q := &ir.Tensor{DType: ir.DTypeI8, Shape: append([]int64(nil), w.Shape...), Ints: make([]int64, len(w.Floats))}
	for i, v := range w.Floats {
		r := math.Round(float64(v / scales[i%channels]))
		q.Ints[i] = int64(max(-int8Max, min(int8Max, r)))
	}
	return q, scales
}

// quantizeFloat16 converts an f32 tensor to f16 bit patterns.
func quantizeFloat16(w *ir.Tensor) *ir.Tensor {
	q := &ir.Tensor{DType: ir.DTypeF16, Shape: append([]int64(nil), w.Shape...), Ints: make([]int64, len(w.Floats))}
	for i, v := range w.Floats {
		q.Ints[i] = int64(float16.Fromfloat32(v).Bits())
	}
	return q
}

// DequantizeTensor reverses the int8 and float16 weight quantization.
func DequantizeTensor(q *ir.Tensor, scales []float32) []float32 {
	out := make([]float32, len(q.Ints))
	for i, n := range q.Ints {
		if q.DType == ir.DTypeF16 {
			out[i] = float16.Frombits(uint16(n)).Float32()
			continue
		}
		out[i] = float32(n) * scales[i%len(scales)]
	}
	return out
}

// quantizedConst builds the constant replacing weight, carrying over the
// frozen-variable origin so export can unfreeze it.
func quantizedConst(dialect, name string, weight *ir.Op, q *ir.Tensor, scales []float32) *ir.Op {
	op := &ir.Op{
		Result:   name,
		Kind:     ir.KindIn(ir.ClassConst, dialect),
		Operands: []string{},
		Value:    q,
	}
	if scales != nil {
		op.SetAttr(ir.AttrScale, ir.F32s(scales))
	}
	if from, ok := weight.Attrs.GetString(ir.AttrFrozenFrom); ok {
		op.SetAttr(ir.AttrFrozenFrom, ir.IRString(from))
	}
	return op
}
