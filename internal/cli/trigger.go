package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"marketlake/internal/domain"
)

// NewTriggerCommand builds the manual run command.
func NewTriggerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <pipeline> [date...]",
		Short: "Run one pipeline now",
		Long: `Run one pipeline for one or more ISO dates.

Without a date, end-of-day pipelines target the latest completed
trading session and intraday pipelines target today. Multiple dates
run sequentially in the order given, which is the backfill path.

Exit code 0 means every date completed cleanly. 1 means nothing
succeeded. 2 is partial: some dates failed while others succeeded, or
every date completed but at least one run carried degraded or failed
steps.`,
		Example: `  marketlaked trigger equity_daily
  marketlaked trigger equity_daily 2024-01-15
  marketlaked trigger bulk_block_deals 2024-01-01 2024-01-02 2024-01-03`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(cmd, rootOpts, args[0], args[1:])
		},
	}
}

func runTrigger(cmd *cobra.Command, opts *RootOptions, name string, dates []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := opts.formatter(cmd)

	a, err := buildApp(ctx, opts, true)
	if err != nil {
		_ = out.Error(err)
		return err
	}
	defer a.Close()

	if !a.runner.Has(name) {
		err := NewExitError(ExitFailure, fmt.Sprintf("unknown pipeline %q (known: %s)", name, strings.Join(a.runner.Names(), ", ")))
		_ = out.Error(err)
		return err
	}
	for _, d := range dates {
		if _, err := domain.ParseISODate(d); err != nil {
			werr := WrapExitError(ExitFailure, "invalid date", err)
			_ = out.Error(werr)
			return werr
		}
	}
	if len(dates) == 0 {
		s, err := a.newScheduler()
		if err != nil {
			_ = out.Error(err)
			return err
		}
		dates = []string{s.RunDateFor(name)}
	}

	var (
		runs      []*domain.PipelineRun
		succeeded int
		failed    int
		degraded  bool
		lastErr   error
	)
	for _, date := range dates {
		run, err := a.runner.Execute(ctx, name, date)
		if run != nil {
			runs = append(runs, run)
		}
		switch {
		case err != nil:
			failed++
			lastErr = err
		default:
			succeeded++
			if stepIssues(run) > 0 {
				degraded = true
			}
		}
		if opts.Format == FormatText {
			printRun(cmd, run, date, err)
		}
	}

	if opts.Format == FormatJSON {
		resp := Response{Status: "ok", Data: map[string]any{"pipeline": name, "runs": runs}}
		if failed > 0 {
			resp.Status = "error"
			resp.Error = &ResponseError{Code: errorCode(lastErr), Message: lastErr.Error()}
		}
		_ = out.encode(resp)
	}

	return triggerExit(succeeded, failed, degraded, lastErr)
}

// triggerExit folds per-date outcomes into the exit contract: zero when
// everything completed cleanly, one when nothing succeeded, two when
// some dates succeeded while others failed or when completed runs
// carried degraded or failed steps.
func triggerExit(succeeded, failed int, degraded bool, lastErr error) error {
	switch {
	case failed > 0 && succeeded == 0:
		return WrapExitError(ExitFailure, "run failed", lastErr)
	case failed > 0:
		return WrapExitError(ExitPartial, fmt.Sprintf("%d date(s) failed", failed), lastErr)
	case degraded:
		return NewExitError(ExitPartial, "completed with degraded or failed steps")
	}
	return nil
}

// stepIssues counts the steps that did not complete cleanly.
func stepIssues(run *domain.PipelineRun) int {
	if run == nil {
		return 0
	}
	n := 0
	for _, st := range run.Steps {
		if st.Status == domain.StepDegraded || st.Status == domain.StepFailed {
			n++
		}
	}
	return n
}

func printRun(cmd *cobra.Command, run *domain.PipelineRun, date string, err error) {
	w := cmd.OutOrStdout()
	if run == nil {
		fmt.Fprintf(w, "%s: FAILED: %v\n", date, err)
		return
	}
	dur := run.Duration().Round(time.Millisecond)
	switch {
	case err != nil:
		fmt.Fprintf(w, "%s %s: FAILED in %s: %v\n", run.Pipeline, date, dur, err)
	case run.Status == domain.RunSkippedIdempotent:
		fmt.Fprintf(w, "%s %s: SKIPPED (date already complete)\n", run.Pipeline, date)
	default:
		fmt.Fprintf(w, "%s %s: %s in %s (%d steps, %d rows)\n",
			run.Pipeline, date, run.Status, dur, len(run.Steps), run.TotalRows())
	}
	for _, st := range run.Steps {
		if st.Status == domain.StepDegraded || st.Status == domain.StepFailed {
			fmt.Fprintf(w, "  %s %s: %s\n", st.Status, st.Name, st.Error)
		}
	}
}
