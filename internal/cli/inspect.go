package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/roach88/quantflow/internal/bundle"
	"github.com/roach88/quantflow/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Tags       []string
	Statistics string
}

// InspectResult describes a bundle.
type InspectResult struct {
	Path            string            `json:"path"`
	Version         string            `json:"version"`
	Tool            string            `json:"tool,omitempty"`
	Tags            []string          `json:"tags"`
	Signatures      []SignatureInfo   `json:"signatures"`
	FunctionAliases map[string]string `json:"function_aliases,omitempty"`
	Variables       []VariableInfo    `json:"variables"`
	Statistics      []StatisticInfo   `json:"statistics,omitempty"`
}

// SignatureInfo is one signature def row.
type SignatureInfo struct {
	Key      string   `json:"key"`
	Function string   `json:"function"`
	Inputs   []string `json:"inputs,omitempty"`
	Outputs  []string `json:"outputs,omitempty"`
}

// VariableInfo is one checkpoint variable row.
type VariableInfo struct {
	Name  string  `json:"name"`
	DType string  `json:"dtype"`
	Shape []int64 `json:"shape"`
}

// StatisticInfo is one calibration statistic row.
type StatisticInfo struct {
	ID         string  `json:"id"`
	Method     string  `json:"method"`
	Min        float32 `json:"min"`
	Max        float32 `json:"max"`
	NumSamples int64   `json:"num_samples"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <bundle>",
		Short: "Show the contents of a model bundle",
		Long: `Show the signatures, function aliases and checkpoint variables of a
model bundle.

With --statistics, also show the calibration statistics stored in a
calibration artifact directory.

Example:
  quantflow inspect ./out
  quantflow inspect ./bundle --statistics ./scratch/calib-0192`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Tags, "tags", nil, "meta graph tags")
	cmd.Flags().StringVar(&opts.Statistics, "statistics", "", "calibration artifact directory")

	return cmd
}

func runInspect(opts *InspectOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	md, err := bundle.ReadMetadata(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeReadFailed, "failed to read bundle", err)
	}
	mg, err := md.MetaGraph(opts.Tags)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeReadFailed, "failed to select meta graph", err)
	}

	result := InspectResult{
		Path:            path,
		Version:         md.Version,
		Tool:            md.Tool,
		Tags:            mg.Tags,
		FunctionAliases: mg.FunctionAliases,
		Signatures:      []SignatureInfo{},
		Variables:       []VariableInfo{},
	}
	for _, key := range mg.SignatureKeys() {
		def := mg.SignatureDefs[key]
		result.Signatures = append(result.Signatures, SignatureInfo{
			Key: key, Function: def.Function, Inputs: def.Inputs, Outputs: def.Outputs,
		})
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if result.Variables, err = readVariableInfo(ctx, filepath.Join(path, bundle.VariablesDir)); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeReadFailed, "failed to read checkpoint", err)
	}
	if opts.Statistics != "" {
		if result.Statistics, err = readStatisticInfo(ctx, opts.Statistics); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeReadFailed, "failed to read statistics", err)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	printInspect(formatter.Writer, result)
	return nil
}

// readVariableInfo lists checkpoint variables. A bundle without a
// checkpoint has none.
func readVariableInfo(ctx context.Context, dir string) ([]VariableInfo, error) {
	if _, err := os.Stat(filepath.Join(dir, store.CheckpointFile)); errors.Is(err, os.ErrNotExist) {
		return []VariableInfo{}, nil
	}
	s, err := store.OpenCheckpoint(dir)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	vars, err := s.ReadVariables(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]VariableInfo, 0, len(vars))
	for _, v := range vars {
		out = append(out, VariableInfo{Name: v.Name, DType: string(v.DType), Shape: v.Shape})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func readStatisticInfo(ctx context.Context, dir string) ([]StatisticInfo, error) {
	if _, err := os.Stat(filepath.Join(dir, store.StatisticsFile)); err != nil {
		return nil, err
	}
	s, err := store.OpenStatistics(dir)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	stats, err := s.ReadStatistics(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StatisticInfo, 0, len(stats))
	for _, st := range stats {
		out = append(out, StatisticInfo{
			ID: st.ID, Method: st.Method, Min: st.Min, Max: st.Max, NumSamples: st.NumSamples,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func printInspect(w io.Writer, r InspectResult) {
	fmt.Fprintf(w, "Bundle %s (version %s, tags %s)\n\n", r.Path, r.Version, strings.Join(r.Tags, ","))

	rows := make([][]string, 0, len(r.Signatures))
	for _, s := range r.Signatures {
		rows = append(rows, []string{s.Key, s.Function, strings.Join(s.Inputs, ","), strings.Join(s.Outputs, ",")})
	}
	renderTable(w, []string{"SIGNATURE", "FUNCTION", "INPUTS", "OUTPUTS"}, rows)

	if len(r.FunctionAliases) > 0 {
		names := make([]string, 0, len(r.FunctionAliases))
		for name := range r.FunctionAliases {
			names = append(names, name)
		}
		sort.Strings(names)
		rows = rows[:0]
		for _, name := range names {
			rows = append(rows, []string{name, r.FunctionAliases[name]})
		}
		renderTable(w, []string{"FUNCTION", "ALIAS"}, rows)
	}

	if len(r.Variables) > 0 {
		rows = rows[:0]
		for _, v := range r.Variables {
			rows = append(rows, []string{v.Name, v.DType, formatShape(v.Shape)})
		}
		renderTable(w, []string{"VARIABLE", "DTYPE", "SHAPE"}, rows)
	} else {
		fmt.Fprintln(w, "No checkpoint variables")
		fmt.Fprintln(w)
	}

	if len(r.Statistics) > 0 {
		rows = rows[:0]
		for _, st := range r.Statistics {
			rows = append(rows, []string{
				st.ID, st.Method,
				strconv.FormatFloat(float64(st.Min), 'g', -1, 32),
				strconv.FormatFloat(float64(st.Max), 'g', -1, 32),
				strconv.FormatInt(st.NumSamples, 10),
			})
		}
		renderTable(w, []string{"AGGREGATOR", "METHOD", "MIN", "MAX", "SAMPLES"}, rows)
	}
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
	fmt.Fprintln(w)
}

func formatShape(shape []int64) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.FormatInt(d, 10)
	}
	return "[" + strings.Join(dims, "x") + "]"
}
