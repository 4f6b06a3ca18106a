package calibration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Sample maps argument names to flattened float inputs.
type Sample map[string][]float32

// Dataset is a representative dataset file:
//
//	samples:
//	  - x: [0.5, -1.0]
//	  - x: [1.5, 2.0]
type Dataset struct {
	Samples []Sample `yaml:"samples"`
}

// ReadDataset parses a YAML dataset.
func ReadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}
	if len(ds.Samples) == 0 {
		return nil, fmt.Errorf("dataset %s has no samples", path)
	}
	return &ds, nil
}
