package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"marketlake/internal/report"
)

// ReportOptions holds the report command flags.
type ReportOptions struct {
	*RootOptions
	OutputDir string
	Limit     int
}

// NewReportCommand builds the operations report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate the operations report",
		Long: `Generate the operations digest over the most recent runs: per-pipeline
outcomes, degraded steps, failed loads and row throughput. Writes a
markdown digest and a per-run CSV into the output directory.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.OutputDir, "output-dir", "o", "docs", "output directory for generated files")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "number of runs to consider (default 50)")

	return cmd
}

func runReport(cmd *cobra.Command, opts *ReportOptions) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := opts.formatter(cmd)

	a, err := buildApp(ctx, opts.RootOptions, false)
	if err != nil {
		_ = out.Error(err)
		return err
	}
	defer a.Close()

	gen := report.NewGenerator(a.runs, a.breakers)
	if opts.Limit > 0 {
		gen = gen.WithLimit(opts.Limit)
	}

	r, err := gen.Generate(ctx)
	if err != nil {
		werr := WrapExitError(ExitFailure, "generate report", err)
		_ = out.Error(werr)
		return werr
	}
	if err := report.WriteFiles(r, opts.OutputDir); err != nil {
		werr := WrapExitError(ExitFailure, "write report", err)
		_ = out.Error(werr)
		return werr
	}

	if opts.Format == FormatJSON {
		return out.Success(map[string]any{
			"files": []string{
				filepath.Join(opts.OutputDir, report.MarkdownFile),
				filepath.Join(opts.OutputDir, report.CSVFile),
			},
			"totals": r.Totals,
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "operations report over %d run(s):\n", r.RunsListed)
	fmt.Fprintf(w, "  - %s\n", filepath.Join(opts.OutputDir, report.MarkdownFile))
	fmt.Fprintf(w, "  - %s\n", filepath.Join(opts.OutputDir, report.CSVFile))
	return nil
}
