package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/quantflow/internal/calibration"
	"github.com/roach88/quantflow/internal/component"
	"github.com/roach88/quantflow/internal/quantize"
	"github.com/roach88/quantflow/internal/scratch"
)

// QuantizeOptions holds flags for the quantize command.
type QuantizeOptions struct {
	*RootOptions
	Mode   string
	Config string
	Output string

	// Overrides applied on top of the config file when set.
	OpSet              string
	SignatureKeys      []string
	Tags               []string
	Datasets           map[string]string
	CalibrationMethod  string
	CalibrationTimeout time.Duration
	PerChannel         bool
	NoFreeze           bool
	UnquantizedDump    string

	Calibrator string
	ScratchDir string
	DumpDir    string
}

// QuantizeResult is the summary printed after a successful invocation.
type QuantizeResult struct {
	RunID               string   `json:"run_id"`
	Mode                string   `json:"mode"`
	Output              string   `json:"output,omitempty"`
	CalibrationDir      string   `json:"calibration_dir,omitempty"`
	UnquantizedDumpPath string   `json:"unquantized_dump_path,omitempty"`
	MissingStatistics   []string `json:"missing_statistics,omitempty"`
	Functions           int      `json:"functions"`
	Variables           int      `json:"variables"`
}

// NewQuantizeCommand creates the quantize command.
func NewQuantizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QuantizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "quantize <bundle>",
		Short: "Quantize a model bundle",
		Long: `Run one quantization mode over a model bundle.

Modes:
  qat                  quantization-aware training models with fake-quant ranges
  ptq-precalibration   insert calibration aggregators
  ptq-postcalibration  fold statistics and quantize a calibrated bundle
  static-range         pre-calibration, calibration and post-calibration in one run
  dynamic-range        quantize weights, activations at runtime
  weight-only          quantize weights only

Options come from a CUE file (--config) and are overridden by flags.

Exit codes:
  0 - Quantization succeeded
  1 - A pipeline step failed
  2 - Command error (invalid options, missing bundle, etc.)

Example:
  quantflow quantize --mode static-range --config opts.cue -o ./out ./bundle
  quantflow quantize --mode dynamic-range --op-set xla -o ./out ./bundle`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuantize(opts, args[0], cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Mode, "mode", "", "quantization mode (required)")
	f.StringVar(&opts.Config, "config", "", "CUE options file")
	f.StringVarP(&opts.Output, "output", "o", "", "output bundle directory")
	f.StringVar(&opts.OpSet, "op-set", "", "target op set (tf|xla|stablehlo)")
	f.StringSliceVar(&opts.SignatureKeys, "signature-keys", nil, "signature keys to quantize")
	f.StringSliceVar(&opts.Tags, "tags", nil, "meta graph tags")
	f.StringToStringVar(&opts.Datasets, "dataset", nil, "representative dataset per signature (key=path)")
	f.StringVar(&opts.CalibrationMethod, "calibration-method", "", "calibration method (min_max|average_min_max|histogram_percentile)")
	f.DurationVar(&opts.CalibrationTimeout, "calibration-timeout", 0, "abort calibration after this duration")
	f.BoolVar(&opts.PerChannel, "per-channel", false, "enable per-channel weight quantization")
	f.BoolVar(&opts.NoFreeze, "no-freeze", false, "keep variables in the checkpoint instead of freezing them")
	f.StringVar(&opts.UnquantizedDump, "unquantized-dump", "", "enable whole-model debugging and write the unquantized model here")
	f.StringVar(&opts.Calibrator, "calibrator", "", "external calibration command (defaults to the built-in runner)")
	f.StringVar(&opts.ScratchDir, "scratch-dir", "", "directory for intermediate artifacts")
	f.StringVar(&opts.DumpDir, "dump-dir", "", "write a module snapshot after every pipeline")
	_ = cmd.MarkFlagRequired("mode")

	return cmd
}

func runQuantize(opts *QuantizeOptions, bundlePath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(bundlePath); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("bundle not found: %s", bundlePath), nil)
	}
	mode, err := quantize.ParseMode(opts.Mode)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, err.Error(), nil)
	}
	qopts, err := buildOptions(opts, cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeOptions, "invalid options", err)
	}
	formatter.VerboseLog("Quantizing %s (mode=%s, op_set=%s)", bundlePath, mode, qopts.OpSet)

	ctx, stop := signalContext(cmd)
	defer stop()

	p := &quantize.Pipeline{
		Runner:  newRunner(opts.Calibrator, formatter),
		Scratch: scratch.New(opts.ScratchDir, nil),
		Logger:  formatter.Logger(),
		DumpDir: opts.DumpDir,
	}
	res, err := p.Run(ctx, quantize.Request{
		BundlePath: bundlePath,
		OutputDir:  opts.Output,
		Mode:       mode,
		Options:    qopts,
	})
	if err != nil {
		return formatter.Fail(ExitFailure, pipelineErrorCode(err), "quantization failed", err)
	}

	summary := QuantizeResult{
		RunID:               res.RunID,
		Mode:                string(mode),
		Output:              res.OutputDir,
		CalibrationDir:      res.CalibrationDir,
		UnquantizedDumpPath: res.UnquantizedDumpPath,
		MissingStatistics:   res.MissingStatistics,
		Functions:           len(res.Exported.Graph.Functions),
		Variables:           len(res.Exported.Graph.Variables),
	}
	if opts.Format == "json" {
		return formatter.Success(summary)
	}
	printQuantizeSummary(formatter, summary)
	return nil
}

// buildOptions loads the config file, or defaults, and applies flag
// overrides. Only flags the user set override the file.
func buildOptions(opts *QuantizeOptions, cmd *cobra.Command) (quantize.Options, error) {
	qopts := quantize.DefaultOptions()
	if opts.Config != "" {
		var err error
		if qopts, err = quantize.LoadOptions(opts.Config); err != nil {
			return quantize.Options{}, err
		}
	}

	f := cmd.Flags()
	if f.Changed("op-set") {
		qopts.OpSet = quantize.OpSet(opts.OpSet)
	}
	if f.Changed("signature-keys") {
		qopts.SignatureKeys = opts.SignatureKeys
	}
	if f.Changed("tags") {
		qopts.Tags = opts.Tags
	}
	if f.Changed("dataset") {
		qopts.RepresentativeDatasets = opts.Datasets
	}
	if f.Changed("calibration-method") {
		qopts.Calibration.Method = opts.CalibrationMethod
	}
	if f.Changed("calibration-timeout") {
		qopts.CalibrationTimeout = opts.CalibrationTimeout
	}
	if f.Changed("per-channel") {
		qopts.EnablePerChannelQuantization = opts.PerChannel
	}
	if f.Changed("no-freeze") {
		qopts.FreezeAllVariables = !opts.NoFreeze
	}
	if f.Changed("unquantized-dump") {
		qopts.Debugger.Type = component.DebuggerWholeModel
		qopts.Debugger.UnquantizedDumpModelPath = opts.UnquantizedDump
	}

	if err := qopts.Validate(); err != nil {
		return quantize.Options{}, err
	}
	return qopts, nil
}

// newRunner returns a process runner for an external calibrator command,
// or nil for the pipeline's built-in runner.
func newRunner(command string, formatter *OutputFormatter) calibration.Runner {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	formatter.VerboseLog("Calibrating with external command: %s", command)
	return &calibration.ProcessRunner{Command: fields[0], Args: fields[1:]}
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
// Uses the command's context if available (for testing).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func printQuantizeSummary(formatter *OutputFormatter, s QuantizeResult) {
	w := formatter.Writer
	fmt.Fprintf(w, "✓ Quantized (%s) run %s\n", s.Mode, s.RunID)
	fmt.Fprintf(w, "  %d function(s), %d variable(s)\n", s.Functions, s.Variables)
	if s.Output != "" {
		fmt.Fprintf(w, "  Wrote bundle to %s\n", s.Output)
	}
	if s.CalibrationDir != "" {
		fmt.Fprintf(w, "  Calibration artifacts in %s\n", s.CalibrationDir)
	}
	if s.UnquantizedDumpPath != "" {
		fmt.Fprintf(w, "  Unquantized dump model in %s\n", s.UnquantizedDumpPath)
	}
	if n := len(s.MissingStatistics); n > 0 {
		fmt.Fprintf(w, "  ⚠ %d aggregator(s) without statistics left unquantized: %s\n",
			n, strings.Join(s.MissingStatistics, ", "))
	}
}
