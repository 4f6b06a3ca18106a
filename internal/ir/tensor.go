package ir

import (
	"fmt"
	"slices"
)

// DType names an element type.
type DType string

const (
	DTypeF32 DType = "f32"
	DTypeF16 DType = "f16" // Ints holds uint16 bit patterns
	DTypeI8  DType = "i8"
	DTypeI32 DType = "i32"
)

// Tensor is a dense constant or variable value.
// F32 data lives in Floats; every other dtype lives in Ints.
type Tensor struct {
	DType  DType
	Shape  []int64
	Floats []float32
	Ints   []int64
}

// NewF32 creates an f32 tensor. Panics if data does not fill shape.
func NewF32(shape []int64, data []float32) *Tensor {
	t := &Tensor{DType: DTypeF32, Shape: slices.Clone(shape), Floats: slices.Clone(data)}
	if int64(len(data)) != t.NumElements() {
		panic(fmt.Sprintf("ir.NewF32: %d values for shape %v", len(data), shape))
	}
	return t
}

// NumElements returns the product of the shape dimensions.
func (t *Tensor) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	return &Tensor{
		DType:  t.DType,
		Shape:  slices.Clone(t.Shape),
		Floats: slices.Clone(t.Floats),
		Ints:   slices.Clone(t.Ints),
	}
}

// ToIR converts the tensor to its serialized attribute form.
func (t *Tensor) ToIR() IRObject {
	obj := IRObject{
		"dtype": IRString(t.DType),
		"shape": Ints(t.Shape...),
	}
	if t.DType == DTypeF32 {
		obj["data"] = F32s(t.Floats)
	} else {
		obj["data"] = Ints(t.Ints...)
	}
	return obj
}

// TensorFromIR is the inverse of Tensor.ToIR.
func TensorFromIR(v IRValue) (*Tensor, error) {
	obj, ok := v.(IRObject)
	if !ok {
		return nil, fmt.Errorf("tensor: expected object, got %T", v)
	}
	dtype, ok := obj.GetString("dtype")
	if !ok {
		return nil, fmt.Errorf("tensor: missing dtype")
	}
	shape, err := intsFromIR(obj["shape"])
	if err != nil {
		return nil, fmt.Errorf("tensor shape: %w", err)
	}
	t := &Tensor{DType: DType(dtype), Shape: shape}
	if t.DType == DTypeF32 {
		floats, ok := AsF32s(obj["data"])
		if !ok {
			return nil, fmt.Errorf("tensor: f32 data must be an array of bit patterns")
		}
		t.Floats = floats
	} else {
		ints, err := intsFromIR(obj["data"])
		if err != nil {
			return nil, fmt.Errorf("tensor data: %w", err)
		}
		t.Ints = ints
	}
	if got := max(len(t.Floats), len(t.Ints)); int64(got) != t.NumElements() {
		return nil, fmt.Errorf("tensor: %d values for shape %v", got, shape)
	}
	return t, nil
}

func intsFromIR(v IRValue) ([]int64, error) {
	if v == nil {
		return []int64{}, nil
	}
	arr, ok := v.(IRArray)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	out := make([]int64, len(arr))
	for i, elem := range arr {
		n, ok := elem.(IRInt)
		if !ok {
			return nil, fmt.Errorf("[%d]: expected int, got %T", i, elem)
		}
		out[i] = int64(n)
	}
	return out, nil
}

func stringsFromIR(v IRValue) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.(IRArray)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	out := make([]string, len(arr))
	for i, elem := range arr {
		s, ok := elem.(IRString)
		if !ok {
			return nil, fmt.Errorf("[%d]: expected string, got %T", i, elem)
		}
		out[i] = string(s)
	}
	return out, nil
}
