package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/quantflow/internal/bundle"
	"github.com/roach88/quantflow/internal/compiler"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	Output string
}

// BuildResult summarizes a built bundle.
type BuildResult struct {
	Model      string   `json:"model"`
	Output     string   `json:"output"`
	Functions  int      `json:"functions"`
	Variables  int      `json:"variables"`
	Signatures []string `json:"signatures"`
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build <model.cue>",
		Short: "Compile a CUE model into a bundle",
		Long: `Compile a CUE model source into a model bundle.

The model is validated before anything is written. The bundle holds the
canonical graph, a variables checkpoint and saved_model.yaml with the
signature defs and function aliases declared in the source.

Example:
  quantflow build ./models/matmul.cue -o ./bundle`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output bundle directory (required)")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runBuild(opts *BuildOptions, modelPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	model, err := compiler.LoadModel(modelPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeCompile, "failed to compile model", err)
	}
	if errs := compiler.Validate(model.Module); len(errs) > 0 {
		_ = formatter.Error(ErrCodeCompile, fmt.Sprintf("model has %d validation error(s)", len(errs)), errs)
		if opts.Format != "json" {
			for _, e := range errs {
				fmt.Fprintf(formatter.Writer, "  %s\n", e.Error())
			}
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: model has %d validation error(s)", ErrCodeCompile, len(errs)))
	}
	formatter.VerboseLog("Compiled model %s: %d function(s)", model.Module.Name, len(model.Module.Functions))

	if err := bundle.WriteModel(cmd.Context(), opts.Output, model); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write bundle", err)
	}

	result := BuildResult{
		Model:     model.Module.Name,
		Output:    opts.Output,
		Functions: len(model.Module.Functions),
		Variables: len(model.Module.Variables),
	}
	for _, sig := range model.Signatures {
		result.Signatures = append(result.Signatures, sig.Key)
	}
	slices.Sort(result.Signatures)

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Built %s: %d function(s), %d variable(s)\n",
		result.Model, result.Functions, result.Variables)
	fmt.Fprintf(formatter.Writer, "  Signatures: %v\n", result.Signatures)
	fmt.Fprintf(formatter.Writer, "Wrote bundle to %s\n", result.Output)
	return nil
}
