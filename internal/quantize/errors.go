package quantize

import (
	"errors"
	"fmt"
)

// PipelineError is the terminal failure of a quantization invocation.
//
// Every failure except missing calibration statistics aborts the
// invocation with a PipelineError:
//   - Import: bundle unreadable, tags or entry points missing
//   - Alias resolution: malformed function alias metadata
//   - Pass pipeline: any preprocessing or quantization pass failed
//   - Export: checkpoint or artifact materialization failed
//   - Calibration: the runner failed or statistics could not be read
type PipelineError struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Step names the pipeline step that failed, e.g. "import" or
	// "tf_quant_ptq_pre_calibration".
	Step string

	// Err is the underlying failure.
	Err error
}

// ErrorKind categorizes pipeline errors.
type ErrorKind string

const (
	// ErrKindImport indicates the bundle could not be imported.
	ErrKindImport ErrorKind = "IMPORT"

	// ErrKindAliasResolution indicates malformed alias metadata.
	ErrKindAliasResolution ErrorKind = "ALIAS_RESOLUTION"

	// ErrKindPassPipeline indicates a transformation pass failed.
	ErrKindPassPipeline ErrorKind = "PASS_PIPELINE"

	// ErrKindExport indicates an artifact could not be produced or saved.
	ErrKindExport ErrorKind = "EXPORT"

	// ErrKindCalibration indicates the calibration round trip failed.
	ErrKindCalibration ErrorKind = "CALIBRATION"
)

// Pipeline step names used in errors and logs.
const (
	StepImport                 = "import"
	StepAliasResolution        = "alias_resolution"
	StepPreprocess             = "preprocess"
	StepExport                 = "export"
	StepSave                   = "save"
	StepExportCalibrationModel = "export_calibration_model"
	StepSaveCalibrationModel   = "save_calibration_model"
	StepRunCalibration         = "run_calibration"
	StepAddStatistics          = "add_calibration_statistics"
	StepSaveUnquantizedDump    = "save_unquantized_dump"
)

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Step, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, step string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Step: step, Err: err}
}

func isKind(err error, kind ErrorKind) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// IsImportError returns true if err is an import failure.
// Uses errors.As to handle wrapped errors.
func IsImportError(err error) bool {
	return isKind(err, ErrKindImport)
}

// IsAliasResolutionError returns true if err is an alias metadata failure.
func IsAliasResolutionError(err error) bool {
	return isKind(err, ErrKindAliasResolution)
}

// IsPassPipelineError returns true if err is a pass failure.
func IsPassPipelineError(err error) bool {
	return isKind(err, ErrKindPassPipeline)
}

// IsExportError returns true if err is an export failure.
func IsExportError(err error) bool {
	return isKind(err, ErrKindExport)
}

// IsCalibrationError returns true if err is a calibration failure.
func IsCalibrationError(err error) bool {
	return isKind(err, ErrKindCalibration)
}

// FailedStep returns the step of the outermost PipelineError in err's
// chain, or "" when there is none.
func FailedStep(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Step
	}
	return ""
}
