package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/quantflow/internal/quantize"
)

// Scenario defines a conformance test scenario: one quantization mode run
// over one compiled model.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Model is the CUE model source compiled into the input bundle.
	Model string `yaml:"model"`

	// Mode is the quantization mode (see quantize.Modes).
	Mode string `yaml:"mode"`

	// Options is an optional CUE options file. Defaults apply when empty.
	Options string `yaml:"options,omitempty"`

	// Calibration replaces the local calibration runner with a stub.
	Calibration *CalibrationStub `yaml:"calibration,omitempty"`

	// Datasets overrides the representative datasets of the options,
	// keyed by signature.
	Datasets map[string]string `yaml:"datasets,omitempty"`

	// ExpectError is the PipelineError kind the run must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Assertions validate the exported graph.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// RunID is an optional fixed run id. Defaults to "test-run".
	RunID string `yaml:"run_id,omitempty"`
}

// CalibrationStub configures a testutil.StubRunner.
type CalibrationStub struct {
	Min  float32  `yaml:"min"`
	Max  float32  `yaml:"max"`
	Skip []string `yaml:"skip,omitempty"`

	// Error makes the runner fail with this message.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Signature restricts op assertions to one entry function.
	Signature string `yaml:"signature,omitempty"`

	// Kind is the op kind (op_present, op_absent, op_count).
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number of ops (op_count).
	Count int `yaml:"count,omitempty"`

	// Kinds is the expected op kind sequence (op_sequence).
	Kinds []string `yaml:"kinds,omitempty"`

	// IDs are aggregator ids (missing_statistics).
	IDs []string `yaml:"ids,omitempty"`

	// Alias is a function alias (alias_preserved).
	Alias string `yaml:"alias,omitempty"`

	// ID, Min and Max describe one calibrated range (statistic).
	ID  string  `yaml:"id,omitempty"`
	Min float32 `yaml:"min,omitempty"`
	Max float32 `yaml:"max,omitempty"`
}

// Assertion type constants.
const (
	AssertOpPresent         = "op_present"
	AssertOpAbsent          = "op_absent"
	AssertOpCount           = "op_count"
	AssertOpSequence        = "op_sequence"
	AssertCallsResolved     = "calls_resolved"
	AssertMissingStatistics = "missing_statistics"
	AssertAliasPreserved    = "alias_preserved"
	AssertStatistic         = "statistic"
)

// LoadScenario reads and parses a scenario YAML file. Model, options and
// dataset paths are resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	scenario.Model = resolve(base, scenario.Model)
	scenario.Options = resolve(base, scenario.Options)
	for key, p := range scenario.Datasets {
		scenario.Datasets[key] = resolve(base, p)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Model == "" {
		return fmt.Errorf("model is required")
	}
	if _, err := os.Stat(s.Model); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.Model)
	}
	if s.Options != "" {
		if _, err := os.Stat(s.Options); os.IsNotExist(err) {
			return fmt.Errorf("options file not found: %s", s.Options)
		}
	}
	if _, err := quantize.ParseMode(s.Mode); err != nil {
		return err
	}

	if s.ExpectError != "" {
		if !validErrorKind(s.ExpectError) {
			return fmt.Errorf("unknown expect_error kind %q", s.ExpectError)
		}
	} else if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required unless expect_error is set")
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validErrorKind(kind string) bool {
	switch quantize.ErrorKind(kind) {
	case quantize.ErrKindImport, quantize.ErrKindAliasResolution, quantize.ErrKindPassPipeline,
		quantize.ErrKindExport, quantize.ErrKindCalibration:
		return true
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertOpPresent, AssertOpAbsent:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for %s", index, a.Type)
		}
	case AssertOpCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for op_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for op_count", index)
		}
	case AssertOpSequence:
		if a.Signature == "" {
			return fmt.Errorf("assertions[%d]: signature is required for op_sequence", index)
		}
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for op_sequence", index)
		}
	case AssertCallsResolved, AssertMissingStatistics:
	case AssertAliasPreserved:
		if a.Alias == "" {
			return fmt.Errorf("assertions[%d]: alias is required for alias_preserved", index)
		}
	case AssertStatistic:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for statistic", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
