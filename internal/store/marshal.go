package store

import (
	"fmt"

	"github.com/roach88/quantflow/internal/ir"
)

// marshalTensor converts a tensor to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalTensor(t *ir.Tensor) (string, error) {
	data, err := ir.MarshalCanonical(t.ToIR())
	if err != nil {
		return "", fmt.Errorf("marshal tensor: %w", err)
	}
	return string(data), nil
}

// unmarshalTensor parses canonical JSON TEXT back into a tensor.
func unmarshalTensor(data string) (*ir.Tensor, error) {
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal tensor: %w", err)
	}
	t, err := ir.TensorFromIR(v)
	if err != nil {
		return nil, fmt.Errorf("unmarshal tensor: %w", err)
	}
	return t, nil
}

func marshalInts(vals []int64) (string, error) {
	data, err := ir.MarshalCanonical(ir.Ints(vals...))
	if err != nil {
		return "", fmt.Errorf("marshal ints: %w", err)
	}
	return string(data), nil
}

func unmarshalInts(data string) ([]int64, error) {
	if data == "" || data == "[]" {
		return []int64{}, nil
	}
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal ints: %w", err)
	}
	arr, ok := v.(ir.IRArray)
	if !ok {
		return nil, fmt.Errorf("unmarshal ints: expected array, got %T", v)
	}
	out := make([]int64, len(arr))
	for i, elem := range arr {
		n, ok := elem.(ir.IRInt)
		if !ok {
			return nil, fmt.Errorf("unmarshal ints: [%d] is %T", i, elem)
		}
		out[i] = int64(n)
	}
	return out, nil
}
