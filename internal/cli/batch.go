package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/roach88/quantflow/internal/quantize"
	"github.com/roach88/quantflow/internal/scratch"
)

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
	Jobs       int
	Calibrator string
	ScratchDir string
}

// BatchFile is the jobs file format.
type BatchFile struct {
	Jobs []BatchJob `yaml:"jobs"`
}

// BatchJob is one quantization invocation. Paths are relative to the
// jobs file.
type BatchJob struct {
	Name     string            `yaml:"name"`
	Bundle   string            `yaml:"bundle"`
	Mode     string            `yaml:"mode"`
	Config   string            `yaml:"config,omitempty"`
	Output   string            `yaml:"output,omitempty"`
	Datasets map[string]string `yaml:"datasets,omitempty"`
}

// BatchJobResult is the outcome of one job.
type BatchJobResult struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok" or "failed"
	RunID     string `json:"run_id,omitempty"`
	Output    string `json:"output,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Total  int              `json:"total"`
	Passed int              `json:"passed"`
	Failed int              `json:"failed"`
	Jobs   []BatchJobResult `json:"jobs"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch <jobs.yaml>",
		Short: "Quantize several bundles concurrently",
		Long: `Run the quantization jobs listed in a YAML file.

Jobs run concurrently up to --jobs at a time. A failed job does not
stop the others.

Jobs file format:
  jobs:
    - name: mnist-drq
      bundle: ./mnist
      mode: dynamic-range
      output: ./out/mnist-drq
    - name: mnist-static
      bundle: ./mnist
      mode: static-range
      config: ./static.cue
      output: ./out/mnist-static
      datasets:
        serving_default: ./mnist-samples.yaml

Exit codes:
  0 - All jobs succeeded
  1 - One or more jobs failed
  2 - Command error (missing or malformed jobs file)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", runtime.NumCPU(), "maximum concurrent jobs")
	cmd.Flags().StringVar(&opts.Calibrator, "calibrator", "", "external calibration command (defaults to the built-in runner)")
	cmd.Flags().StringVar(&opts.ScratchDir, "scratch-dir", "", "directory for intermediate artifacts")

	return cmd
}

func runBatch(opts *BatchOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	jobs, err := LoadBatchFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid jobs file", err)
	}
	if opts.Jobs < 1 {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("--jobs must be positive, got %d", opts.Jobs), nil)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	p := &quantize.Pipeline{
		Runner:  newRunner(opts.Calibrator, formatter),
		Scratch: scratch.New(opts.ScratchDir, nil),
		Logger:  formatter.Logger(),
	}

	results := make([]BatchJobResult, len(jobs.Jobs))
	var g errgroup.Group
	g.SetLimit(opts.Jobs)
	for i, job := range jobs.Jobs {
		g.Go(func() error {
			results[i] = runBatchJob(ctx, p, job)
			return nil
		})
	}
	g.Wait()

	summary := BatchResult{Total: len(results), Jobs: results}
	for _, r := range results {
		formatter.VerboseLog("Job %s: %s", r.Name, r.Status)
		if r.Status == "ok" {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		printBatchSummary(formatter.Writer, summary)
	}
	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d of %d job(s) failed", ErrCodeBatchFailed, summary.Failed, summary.Total))
	}
	return nil
}

func runBatchJob(ctx context.Context, p *quantize.Pipeline, job BatchJob) BatchJobResult {
	result := BatchJobResult{Name: job.Name, Status: "failed"}

	mode, err := quantize.ParseMode(job.Mode)
	if err != nil {
		result.ErrorKind = ErrCodeInvalidArgs
		result.Error = err.Error()
		return result
	}
	qopts := quantize.DefaultOptions()
	if job.Config != "" {
		if qopts, err = quantize.LoadOptions(job.Config); err != nil {
			result.ErrorKind = ErrCodeOptions
			result.Error = err.Error()
			return result
		}
	}
	if len(job.Datasets) > 0 {
		qopts.RepresentativeDatasets = job.Datasets
	}

	res, err := p.Run(ctx, quantize.Request{
		BundlePath: job.Bundle,
		OutputDir:  job.Output,
		Mode:       mode,
		Options:    qopts,
	})
	if err != nil {
		result.ErrorKind = pipelineErrorCode(err)
		result.Error = err.Error()
		return result
	}
	result.Status = "ok"
	result.RunID = res.RunID
	result.Output = res.OutputDir
	return result
}

// LoadBatchFile reads a jobs file and resolves its paths against the
// file's directory.
func LoadBatchFile(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}

	var bf BatchFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&bf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}
	if len(bf.Jobs) == 0 {
		return nil, fmt.Errorf("jobs file %s lists no jobs", path)
	}

	dir := filepath.Dir(path)
	seen := make(map[string]bool, len(bf.Jobs))
	for i := range bf.Jobs {
		job := &bf.Jobs[i]
		if job.Name == "" {
			return nil, fmt.Errorf("jobs[%d]: name is required", i)
		}
		if seen[job.Name] {
			return nil, fmt.Errorf("jobs[%d]: duplicate job name %q", i, job.Name)
		}
		seen[job.Name] = true
		if job.Bundle == "" {
			return nil, fmt.Errorf("jobs[%d]: bundle is required", i)
		}
		if job.Mode == "" {
			return nil, fmt.Errorf("jobs[%d]: mode is required", i)
		}
		job.Bundle = resolvePath(dir, job.Bundle)
		job.Config = resolvePath(dir, job.Config)
		job.Output = resolvePath(dir, job.Output)
		for key, p := range job.Datasets {
			job.Datasets[key] = resolvePath(dir, p)
		}
	}
	return &bf, nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func printBatchSummary(w io.Writer, s BatchResult) {
	for _, r := range s.Jobs {
		if r.Status == "ok" {
			fmt.Fprintf(w, "✓ %s (run %s)\n", r.Name, r.RunID)
			continue
		}
		fmt.Fprintf(w, "✗ %s [%s]: %s\n", r.Name, r.ErrorKind, r.Error)
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", s.Passed, s.Failed, s.Total)
}
