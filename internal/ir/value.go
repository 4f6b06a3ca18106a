package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf16"
)

// IRValue is a sealed interface for attribute values.
// Only IRString, IRInt, IRBool, IRArray and IRObject implement it.
// There is no float variant: floats are stored as bit patterns (see F32).
type IRValue interface {
	irValue()
}

// IRString is a string attribute.
type IRString string

func (IRString) irValue() {}

// IRInt is an integer attribute. Always int64.
type IRInt int64

func (IRInt) irValue() {}

// IRBool is a boolean attribute.
type IRBool bool

func (IRBool) irValue() {}

// IRArray is an ordered list of attribute values.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject maps attribute names to values.
// Use SortedKeys() for deterministic iteration.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

// F32 encodes a float32 as its IEEE-754 bit pattern.
func F32(v float32) IRInt {
	return IRInt(math.Float32bits(v))
}

// AsF32 decodes a value produced by F32.
func AsF32(v IRValue) (float32, bool) {
	n, ok := v.(IRInt)
	if !ok || n < 0 || n > math.MaxUint32 {
		return 0, false
	}
	return math.Float32frombits(uint32(n)), true
}

// F32s encodes a float32 slice as an array of bit patterns.
func F32s(vals []float32) IRArray {
	arr := make(IRArray, len(vals))
	for i, v := range vals {
		arr[i] = F32(v)
	}
	return arr
}

// AsF32s decodes an array produced by F32s.
func AsF32s(v IRValue) ([]float32, bool) {
	arr, ok := v.(IRArray)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(arr))
	for i, elem := range arr {
		f, ok := AsF32(elem)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

// Strings builds an IRArray of strings.
func Strings(vals ...string) IRArray {
	arr := make(IRArray, len(vals))
	for i, v := range vals {
		arr[i] = IRString(v)
	}
	return arr
}

// Ints builds an IRArray of integers.
func Ints(vals ...int64) IRArray {
	arr := make(IRArray, len(vals))
	for i, v := range vals {
		arr[i] = IRInt(v)
	}
	return arr
}

// GetString returns the string attribute at key.
func (obj IRObject) GetString(key string) (string, bool) {
	s, ok := obj[key].(IRString)
	return string(s), ok
}

// GetBool returns the boolean attribute at key, false when absent.
func (obj IRObject) GetBool(key string) bool {
	b, ok := obj[key].(IRBool)
	return ok && bool(b)
}

// GetInt returns the integer attribute at key.
func (obj IRObject) GetInt(key string) (int64, bool) {
	n, ok := obj[key].(IRInt)
	return int64(n), ok
}

// GetF32 returns the float attribute at key.
func (obj IRObject) GetF32(key string) (float32, bool) {
	v, ok := obj[key]
	if !ok {
		return 0, false
	}
	return AsF32(v)
}

// Clone returns a deep copy of the object.
func (obj IRObject) Clone() IRObject {
	if obj == nil {
		return nil
	}
	out := make(IRObject, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v IRValue) IRValue {
	switch val := v.(type) {
	case IRArray:
		out := make(IRArray, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case IRObject:
		return val.Clone()
	default:
		// Scalars are immutable values.
		return v
	}
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's string comparison orders by UTF-8 bytes, which differs for
// characters outside the BMP.
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}

// UnmarshalIRValue decodes JSON into an IRValue.
// Float literals and null are rejected.
func UnmarshalIRValue(data []byte) (IRValue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return convertToIRValue(raw)
}

// UnmarshalIRObject decodes a JSON object into an IRObject.
func UnmarshalIRObject(data []byte) (IRObject, error) {
	v, err := UnmarshalIRValue(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(IRObject)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", v)
	}
	return obj, nil
}

func convertToIRValue(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in IR")
	case bool:
		return IRBool(val), nil
	case string:
		return IRString(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("float literals are forbidden in IR: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return IRInt(n), nil
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			irElem, err := convertToIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]any:
		obj := make(IRObject, len(val))
		for k, elem := range val {
			irElem, err := convertToIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = irElem
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// MarshalJSON implements json.Marshaler with canonical key order.
func (obj IRObject) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(obj)
}

// MarshalJSON implements json.Marshaler for IRArray.
func (arr IRArray) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(arr)
}
