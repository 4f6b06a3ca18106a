package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/quantflow/internal/ir"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestVariable creates an f32 variable with an initial value.
func createTestVariable(name string, data ...float32) *ir.Variable {
	shape := []int64{int64(len(data))}
	return &ir.Variable{
		Name:    name,
		DType:   ir.DTypeF32,
		Shape:   shape,
		Initial: ir.NewF32(shape, data),
	}
}
