package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/quantflow/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"variables", "calibration_statistics"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}

	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpenCheckpoint_UsesFixedFileName(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenCheckpoint(dir)
	if err != nil {
		t.Fatalf("OpenCheckpoint() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(dir, CheckpointFile)); err != nil {
		t.Errorf("checkpoint file missing: %v", err)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := createTestStore(t)
	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestMigration_AddsHistogramColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	// A file written before the histogram column existed.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE calibration_statistics (
		id TEXT PRIMARY KEY, method TEXT NOT NULL,
		min_bits INTEGER NOT NULL, max_bits INTEGER NOT NULL,
		num_samples INTEGER NOT NULL DEFAULT 0)`)
	if err != nil {
		t.Fatalf("create old table: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.WriteStatistics(ctx, []Statistic{{ID: "0", Method: "min_max", Min: -1, Max: 1, Histogram: []int64{1, 2}}}); err != nil {
		t.Fatalf("WriteStatistics() after migration failed: %v", err)
	}
	got, err := s.ReadStatistics(ctx)
	if err != nil {
		t.Fatalf("ReadStatistics() failed: %v", err)
	}
	if len(got["0"].Histogram) != 2 {
		t.Errorf("histogram = %v, want 2 bins", got["0"].Histogram)
	}
}

func TestVariables_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	vars := []*ir.Variable{
		createTestVariable("w", 1, -2.5, 3),
		createTestVariable("b", 0.125),
		{Name: "uninitialized", DType: ir.DTypeF32, Shape: []int64{1}},
	}
	if err := s.WriteVariables(ctx, vars); err != nil {
		t.Fatalf("WriteVariables() failed: %v", err)
	}

	got, err := s.ReadVariables(ctx)
	if err != nil {
		t.Fatalf("ReadVariables() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d variables, want 2", len(got))
	}
	// Ordered by name.
	if got[0].Name != "b" || got[1].Name != "w" {
		t.Errorf("order = [%s %s], want [b w]", got[0].Name, got[1].Name)
	}
	if got[1].Initial.Floats[1] != -2.5 {
		t.Errorf("w[1] = %v, want -2.5", got[1].Initial.Floats[1])
	}
}

func TestVariables_Overwrite(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.WriteVariables(ctx, []*ir.Variable{createTestVariable("w", 1)}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := s.WriteVariables(ctx, []*ir.Variable{createTestVariable("w", 2)}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	got, err := s.ReadVariables(ctx)
	if err != nil {
		t.Fatalf("ReadVariables() failed: %v", err)
	}
	if len(got) != 1 || got[0].Initial.Floats[0] != 2 {
		t.Errorf("got %+v, want single w=2", got)
	}
}

func TestAttachVariables_ReportsMissing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.WriteVariables(ctx, []*ir.Variable{createTestVariable("w", 4, 5)}); err != nil {
		t.Fatalf("WriteVariables() failed: %v", err)
	}

	m := &ir.Module{Variables: []*ir.Variable{
		{Name: "w", DType: ir.DTypeF32, Shape: []int64{2}},
		{Name: "v", DType: ir.DTypeF32, Shape: []int64{1}},
	}}
	missing, err := s.AttachVariables(ctx, m)
	if err != nil {
		t.Fatalf("AttachVariables() failed: %v", err)
	}
	if len(missing) != 1 || missing[0] != "v" {
		t.Errorf("missing = %v, want [v]", missing)
	}
	if m.Variables[0].Initial == nil || m.Variables[0].Initial.Floats[1] != 5 {
		t.Errorf("w not attached: %+v", m.Variables[0].Initial)
	}
}

func TestStatistics_RoundTripPreservesBits(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	in := []Statistic{
		{ID: "1", Method: "min_max", Min: -0.0, Max: 6.0, NumSamples: 4},
		{ID: "0", Method: "histogram_percentile", Min: -1e-7, Max: 3.4e38, NumSamples: 2, Histogram: []int64{0, 3, 1}},
	}
	if err := s.WriteStatistics(ctx, in); err != nil {
		t.Fatalf("WriteStatistics() failed: %v", err)
	}

	got, err := s.ReadStatistics(ctx)
	if err != nil {
		t.Fatalf("ReadStatistics() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d statistics, want 2", len(got))
	}
	if got["0"].Min != -1e-7 || got["0"].Max != 3.4e38 {
		t.Errorf("statistic 0 = %+v", got["0"])
	}
	if got["1"].NumSamples != 4 || len(got["1"].Histogram) != 0 {
		t.Errorf("statistic 1 = %+v", got["1"])
	}
}

func TestStatisticsToIR_IsCanonical(t *testing.T) {
	stats := map[string]Statistic{
		"b": {ID: "b", Method: "min_max", Min: 0, Max: 1},
		"a": {ID: "a", Method: "min_max", Min: -1, Max: 0},
	}
	data, err := ir.MarshalCanonical(StatisticsToIR(stats))
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	again, _ := ir.MarshalCanonical(StatisticsToIR(stats))
	if string(data) != string(again) {
		t.Error("statistics encoding is not deterministic")
	}
	if data[2] != 'a' {
		t.Errorf("keys not sorted: %s", data)
	}
}
