package harness

import (
	"github.com/roach88/quantflow/internal/ir"
	"github.com/roach88/quantflow/internal/store"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	Pass bool `json:"pass"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	RunID string `json:"run_id,omitempty"`

	// ErrorKind is the PipelineError kind the run failed with, if any.
	ErrorKind string `json:"error_kind,omitempty"`

	// EntryOps lists the op kinds of each signature's entry function.
	EntryOps map[string][]string `json:"entry_ops,omitempty"`

	MissingStatistics []string          `json:"missing_statistics,omitempty"`
	FunctionAliases   map[string]string `json:"function_aliases,omitempty"`

	// Statistics are the calibrated ranges of a static-range run.
	Statistics map[string]store.Statistic `json:"-"`

	// Graph is the exported graph.
	Graph *ir.Module `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Errors:   []string{},
		EntryOps: map[string][]string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
