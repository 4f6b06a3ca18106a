package harness

import (
	"context"
	"slices"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/quantflow/internal/ir"
)

// Snapshot captures the observable outcome of a scenario execution.
// It is serialized with canonical JSON for deterministic comparison.
type Snapshot struct {
	ScenarioName      string              `json:"scenario_name"`
	Mode              string              `json:"mode"`
	RunID             string              `json:"run_id,omitempty"`
	ErrorKind         string              `json:"error_kind,omitempty"`
	EntryOps          map[string][]string `json:"entry_ops"`
	MissingStatistics []string            `json:"missing_statistics"`
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON
// serialization. ir.MarshalCanonical only handles IR types and primitives.
func (s *Snapshot) toCanonicalMap() map[string]any {
	entry := make(map[string]any, len(s.EntryOps))
	for key, kinds := range s.EntryOps {
		entry[key] = slices.Clone(kinds)
	}
	missing := slices.Clone(s.MissingStatistics)
	slices.Sort(missing)

	result := map[string]any{
		"scenario_name":      s.ScenarioName,
		"mode":               s.Mode,
		"entry_ops":          entry,
		"missing_statistics": missing,
	}
	if s.RunID != "" {
		result["run_id"] = s.RunID
	}
	if s.ErrorKind != "" {
		result["error_kind"] = s.ErrorKind
	}
	return result
}

// MarshalSnapshot returns the canonical snapshot bytes of a result.
func MarshalSnapshot(scenario *Scenario, result *Result) ([]byte, error) {
	snapshot := Snapshot{
		ScenarioName:      scenario.Name,
		Mode:              scenario.Mode,
		RunID:             result.RunID,
		ErrorKind:         result.ErrorKind,
		EntryOps:          result.EntryOps,
		MissingStatistics: result.MissingStatistics,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against its golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenario, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
