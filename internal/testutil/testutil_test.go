package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quantflow/internal/bundle"
	"github.com/roach88/quantflow/internal/calibration"
	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/store"
)

func TestWriteMatMulBundle(t *testing.T) {
	dir := WriteMatMulBundle(t)

	m, session, err := bundle.Load(context.Background(), dir, nil, []string{"serving_default"}, bundle.DefaultImportOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, session.Len())
	assert.NotNil(t, m.EntryFor("serving_default"))

	defs, err := bundle.ReadSignatureDefs(dir, nil)
	require.NoError(t, err)
	assert.NotContains(t, defs, SecondKey, "signature of a missing function is dropped")
}

func TestWriteBundle_TwoSignatures(t *testing.T) {
	dir := WriteBundle(t, TwoSignatureModule(), MatMulMetaGraph())

	defs, err := bundle.ReadSignatureDefs(dir, nil)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestWriteDataset(t *testing.T) {
	path := WriteDataset(t, calibration.Sample{"x": {1, 2}}, calibration.Sample{"x": {-1, 0}})

	ds, err := calibration.ReadDataset(path)
	require.NoError(t, err)
	require.Len(t, ds.Samples, 2)
	assert.Equal(t, []float32{-1, 0}, ds.Samples[1]["x"])
}

// aggregatorBundle writes a bundle with aggregators "0" and "1".
func aggregatorBundle(t *testing.T) string {
	t.Helper()
	agg := func(result, operand, id string) *ir.Op {
		return &ir.Op{
			Result:   result,
			Kind:     ir.KindCustomAgg,
			Operands: []string{operand},
			Attrs:    ir.IRObject{ir.AttrAggregatorID: ir.IRString(id)},
		}
	}
	m := &ir.Module{
		Name:    "agg",
		Dialect: ir.DialectTF,
		Functions: []*ir.Function{{
			Name:    "main",
			Args:    []ir.Arg{{Name: "x"}},
			Results: []string{"b"},
			Ops:     []*ir.Op{agg("a", "x", "0"), agg("b", "a", "1")},
		}},
	}
	return WriteBundle(t, m, bundle.MetaGraph{
		SignatureDefs: map[string]bundle.SignatureDef{"serving_default": {Function: "main"}},
	})
}

func TestStubRunner_WritesRangeForEveryAggregator(t *testing.T) {
	dir := aggregatorBundle(t)
	r := NewStubRunner(-1, 2)
	r.Skip = map[string]bool{"1": true}

	req := calibration.Request{ModelDir: dir, SignatureKeys: []string{"serving_default"}}
	require.NoError(t, r.RunCalibration(context.Background(), req))
	assert.Equal(t, 1, r.Calls())
	assert.Equal(t, dir, r.Requests()[0].ModelDir)

	s, err := store.OpenStatistics(dir)
	require.NoError(t, err)
	defer s.Close()
	stats, err := s.ReadStatistics(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, float32(-1), stats["0"].Min)
	assert.Equal(t, float32(2), stats["0"].Max)

	r.Reset()
	assert.Zero(t, r.Calls())
}

func TestStubRunner_Err(t *testing.T) {
	boom := errors.New("boom")
	r := &StubRunner{Err: boom}

	err := r.RunCalibration(context.Background(), calibration.Request{ModelDir: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, r.Calls())
}

func TestFixedRunID(t *testing.T) {
	assert.Equal(t, "test-run", NewFixedRunID("").Generate())
	g := NewFixedRunID("run-1")
	assert.Equal(t, g.Generate(), g.Generate())
}
