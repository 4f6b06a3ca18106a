package calibration

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/passes"
)

// Observer receives the values flowing through each CustomAggregator.
type Observer func(id string, values []float32)

// Interpreter evaluates module functions on float inputs. It understands
// the float ops of both dialects and the quantized ops the quantization
// passes emit, so a quantized module can be compared with its float source.
type Interpreter struct {
	m       *ir.Module
	observe Observer
}

// NewInterpreter creates an interpreter over m. observe may be nil.
func NewInterpreter(m *ir.Module, observe Observer) *Interpreter {
	return &Interpreter{m: m, observe: observe}
}

// Call runs the named function and returns its results.
func (in *Interpreter) Call(name string, args []*ir.Tensor) ([]*ir.Tensor, error) {
	return in.call(name, args, 0)
}

// maxDepth bounds nested calls; modules are verified acyclic, this guards
// against unverified input.
const maxDepth = 64

func (in *Interpreter) call(name string, args []*ir.Tensor, depth int) ([]*ir.Tensor, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("call depth exceeds %d at %s", maxDepth, name)
	}
	f := in.m.Function(name)
	if f == nil {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	if len(args) != len(f.Args) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", name, len(f.Args), len(args))
	}

	env := make(map[string]*ir.Tensor, len(f.Args)+len(f.Ops))
	for i, a := range f.Args {
		env[a.Name] = args[i]
	}
	for i, op := range f.Ops {
		operands := make([]*ir.Tensor, len(op.Operands))
		for j, name := range op.Operands {
			t, ok := env[name]
			if !ok {
				return nil, fmt.Errorf("%s.ops[%d]: undefined value %q", f.Name, i, name)
			}
			operands[j] = t
		}
		out, err := in.eval(op, operands, depth)
		if err != nil {
			return nil, fmt.Errorf("%s.ops[%d] %s: %w", f.Name, i, op.Kind, err)
		}
		if op.Result != "" {
			env[op.Result] = out
		}
	}

	results := make([]*ir.Tensor, len(f.Results))
	for i, r := range f.Results {
		results[i] = env[r]
	}
	return results, nil
}

func (in *Interpreter) eval(op *ir.Op, args []*ir.Tensor, depth int) (*ir.Tensor, error) {
	switch ir.Classify(op.Kind) {
	case ir.ClassConst:
		return op.Value, nil
	case ir.ClassMatMul:
		return matmul(args[0], floatsOf(args[1], nil))
	case ir.ClassAdd:
		return broadcast(args[0], args[1], func(a, b float32) float32 { return a + b })
	case ir.ClassRelu:
		if len(args) == 2 {
			return broadcast(args[0], args[1], func(a, b float32) float32 { return max(a, b) })
		}
		return mapFloats(args[0], func(v float32) float32 { return max(v, 0) }), nil
	case ir.ClassIdentity:
		return args[0], nil
	case ir.ClassReshape:
		return reshape(args[0], args[1])
	case ir.ClassCall:
		res, err := in.call(op.Callee(), args, depth+1)
		if err != nil {
			return nil, err
		}
		if op.Result == "" {
			return nil, nil
		}
		if len(res) != 1 {
			return nil, fmt.Errorf("callee returns %d results", len(res))
		}
		return res[0], nil
	}

	switch op.Kind {
	case ir.KindReadVariable:
		name, _ := op.Attrs.GetString(ir.AttrSharedName)
		v := in.m.Variable(name)
		if v == nil || v.Initial == nil {
			return nil, fmt.Errorf("variable %q has no value", name)
		}
		return v.Initial, nil
	case ir.KindAssignVariable:
		return nil, nil
	case ir.KindCustomAgg:
		if in.observe != nil {
			id, _ := op.Attrs.GetString(ir.AttrAggregatorID)
			in.observe(id, args[0].Floats)
		}
		return args[0], nil
	case ir.KindDumpTensor:
		return nil, dumpTensor(op, args[0])
	case ir.KindQuantStats:
		return args[0], nil
	case ir.KindFakeQuant:
		lo, _ := op.Attrs.GetF32(ir.AttrMin)
		hi, _ := op.Attrs.GetF32(ir.AttrMax)
		return mapFloats(args[0], func(v float32) float32 { return min(max(v, lo), hi) }), nil
	case ir.KindDequantize:
		return dequantized(args[0], op.Attrs), nil
	case ir.KindQuantizedMatMul:
		return quantizedMatMul(args[0], args[1], op.Attrs)
	case ir.KindDynamicRangeMatMul:
		return matmul(fakeQuantize(args[0], dynamicScale(args[0].Floats)), floatsOf(args[1], op.Attrs))
	case ir.KindUniformQuantize:
		s, _ := op.Attrs.GetF32(ir.AttrScale)
		return mapFloats(args[0], func(v float32) float32 { return quantizeValue(v, s) }), nil
	case ir.KindQuantizedDotGeneral:
		if _, fused := op.Attrs[ir.AttrInputScale]; fused {
			return quantizedMatMul(args[0], args[1], op.Attrs)
		}
		return matmul(args[0], rawInts(args[1]))
	case ir.KindUniformDequantize:
		return uniformDequantize(args[0], op.Attrs), nil
	}
	return nil, fmt.Errorf("unsupported op kind")
}

func shapeOf(t *ir.Tensor) []int64 {
	if len(t.Shape) == 0 {
		return []int64{int64(len(t.Floats))}
	}
	return t.Shape
}

// matmul multiplies a [.., k] activation by a [k, n] weight.
func matmul(a *ir.Tensor, b *ir.Tensor) (*ir.Tensor, error) {
	as, bs := shapeOf(a), shapeOf(b)
	if len(bs) != 2 {
		return nil, fmt.Errorf("weight must be rank 2, got shape %v", bs)
	}
	k, n := int(bs[0]), int(bs[1])
	if as[len(as)-1] != int64(k) {
		return nil, fmt.Errorf("inner dimensions differ: %v x %v", as, bs)
	}
	rows := len(a.Floats) / k
	out := make([]float32, rows*n)
	for r := 0; r < rows; r++ {
		for c := 0; c < n; c++ {
			var acc float32
			for i := 0; i < k; i++ {
				acc += a.Floats[r*k+i] * b.Floats[i*n+c]
			}
			out[r*n+c] = acc
		}
	}
	shape := append(slices.Clone(as[:len(as)-1]), int64(n))
	return ir.NewF32(shape, out), nil
}

// broadcast applies fn elementwise; b may be a scalar or match a's
// trailing dimension.
func broadcast(a, b *ir.Tensor, fn func(x, y float32) float32) (*ir.Tensor, error) {
	if len(b.Floats) == 0 || len(a.Floats)%len(b.Floats) != 0 {
		return nil, fmt.Errorf("cannot broadcast %v to %v", b.Shape, a.Shape)
	}
	out := make([]float32, len(a.Floats))
	for i, v := range a.Floats {
		out[i] = fn(v, b.Floats[i%len(b.Floats)])
	}
	return ir.NewF32(slices.Clone(shapeOf(a)), out), nil
}

func mapFloats(a *ir.Tensor, fn func(float32) float32) *ir.Tensor {
	out := make([]float32, len(a.Floats))
	for i, v := range a.Floats {
		out[i] = fn(v)
	}
	return ir.NewF32(slices.Clone(shapeOf(a)), out)
}

func reshape(a, shape *ir.Tensor) (*ir.Tensor, error) {
	dims := slices.Clone(shape.Ints)
	known, infer := int64(1), -1
	for i, d := range dims {
		if d == -1 {
			infer = i
			continue
		}
		known *= d
	}
	total := int64(len(a.Floats))
	if infer >= 0 && known != 0 {
		dims[infer] = total / known
		known *= dims[infer]
	}
	if known != total {
		return nil, fmt.Errorf("cannot reshape %d elements to %v", total, shape.Ints)
	}
	return ir.NewF32(dims, slices.Clone(a.Floats)), nil
}

// floatsOf returns t as f32, dequantizing int8 and float16 constants with
// the weight scales in attrs or on the constant itself.
func floatsOf(t *ir.Tensor, attrs ir.IRObject) *ir.Tensor {
	if t.DType == ir.DTypeF32 {
		return t
	}
	return dequantized(t, attrs)
}

func dequantized(t *ir.Tensor, attrs ir.IRObject) *ir.Tensor {
	scales, ok := ir.AsF32s(attrs[ir.AttrWeightScales])
	if !ok || len(scales) == 0 {
		scales = []float32{1}
	}
	return ir.NewF32(slices.Clone(t.Shape), passes.DequantizeTensor(t, scales))
}

func rawInts(t *ir.Tensor) *ir.Tensor {
	out := make([]float32, len(t.Ints))
	for i, n := range t.Ints {
		out[i] = float32(n)
	}
	return ir.NewF32(slices.Clone(t.Shape), out)
}

func quantizeValue(v, scale float32) float32 {
	if scale == 0 {
		return 0
	}
	r := math.Round(float64(v / scale))
	return float32(max(-127, min(127, r)))
}

func fakeQuantize(a *ir.Tensor, scale float32) *ir.Tensor {
	return mapFloats(a, func(v float32) float32 { return quantizeValue(v, scale) * scale })
}

func dynamicScale(values []float32) float32 {
	var absMax float32
	for _, v := range values {
		absMax = max(absMax, float32(math.Abs(float64(v))))
	}
	if absMax == 0 {
		return 1
	}
	return absMax / 127
}

func quantizedMatMul(x, w *ir.Tensor, attrs ir.IRObject) (*ir.Tensor, error) {
	s, _ := attrs.GetF32(ir.AttrInputScale)
	return matmul(fakeQuantize(x, s), floatsOf(w, attrs))
}

func uniformDequantize(acc *ir.Tensor, attrs ir.IRObject) *ir.Tensor {
	s, _ := attrs.GetF32(ir.AttrInputScale)
	scales, ok := ir.AsF32s(attrs[ir.AttrWeightScales])
	if !ok || len(scales) == 0 {
		scales = []float32{1}
	}
	out := make([]float32, len(acc.Floats))
	for i, v := range acc.Floats {
		out[i] = v * s * scales[i%len(scales)]
	}
	return ir.NewF32(slices.Clone(shapeOf(acc)), out)
}

// dumpTensor writes the value of an enabled DumpTensor op as canonical JSON
// to <log_dir_path>/<file_name>.
func dumpTensor(op *ir.Op, t *ir.Tensor) error {
	if !op.Attrs.GetBool(ir.AttrEnabled) {
		return nil
	}
	dir, _ := op.Attrs.GetString(ir.AttrLogDirPath)
	file, _ := op.Attrs.GetString(ir.AttrFileName)
	if dir == "" || file == "" {
		return fmt.Errorf("dump op has no destination")
	}
	data, err := ir.MarshalCanonical(t.ToIR())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, file), data, 0o644)
}
