package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"marketlake/internal/domain"
)

// ListOptions holds the list command flags.
type ListOptions struct {
	*RootOptions
	Pipeline string
	Limit    int
}

// NewListCommand builds the pipeline and run listing command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipelines and recent runs",
		Long: `List the registered pipelines and the most recent runs from the run
log. With --pipeline the run listing narrows to one flow.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Pipeline, "pipeline", "p", "", "only show runs of this pipeline")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "number of runs to show")

	return cmd
}

func runList(cmd *cobra.Command, opts *ListOptions) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := opts.formatter(cmd)

	a, err := buildApp(ctx, opts.RootOptions, false)
	if err != nil {
		_ = out.Error(err)
		return err
	}
	defer a.Close()

	var runs []*domain.PipelineRun
	if opts.Pipeline != "" {
		runs, err = a.runs.ListByPipeline(ctx, opts.Pipeline, opts.Limit)
	} else {
		runs, err = a.runs.ListRecent(ctx, opts.Limit)
	}
	if err != nil {
		werr := WrapExitError(ExitFailure, "list runs", err)
		_ = out.Error(werr)
		return werr
	}

	if opts.Format == FormatJSON {
		return out.Success(map[string]any{
			"pipelines": a.runner.Names(),
			"runs":      runs,
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "pipelines:")
	for _, name := range a.runner.Names() {
		fmt.Fprintf(w, "  %s\n", name)
	}

	fmt.Fprintf(w, "recent runs (%d):\n", len(runs))
	if len(runs) == 0 {
		fmt.Fprintln(w, "  none recorded")
		return nil
	}
	for _, r := range runs {
		status := string(r.Status)
		if status == "" {
			status = "RUNNING"
		}
		dur := "-"
		if !r.EndTime.IsZero() {
			dur = r.Duration().Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "  %s  %-20s %-10s %-19s %s\n",
			r.StartTime.UTC().Format("2006-01-02 15:04:05"),
			r.Pipeline,
			r.Parameters["date"],
			status,
			dur,
		)
	}
	return nil
}
