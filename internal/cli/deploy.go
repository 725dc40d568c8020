package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDeployCommand builds the configuration check command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Validate configuration and print the schedule",
		Long: `Validate the configuration file and the schedule derived from it, then
print every entry with its next firing in exchange time. Nothing is
executed; a zero exit means serve would start cleanly on this config.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, rootOpts)
		},
	}
}

func runDeploy(cmd *cobra.Command, opts *RootOptions) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := opts.formatter(cmd)

	a, err := buildApp(ctx, opts, false)
	if err != nil {
		_ = out.Error(err)
		return err
	}
	defer a.Close()

	s, err := a.newScheduler()
	if err != nil {
		_ = out.Error(err)
		return err
	}
	plan := s.Plan()

	if opts.Format == FormatJSON {
		return out.Success(map[string]any{
			"pipelines": a.runner.Names(),
			"schedule":  plan,
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "configuration valid: %d pipelines registered, %d scheduled\n", len(a.runner.Names()), len(plan))
	fmt.Fprintln(w, "next firings (IST):")
	for _, e := range plan {
		mode := "eod"
		if e.Intraday {
			mode = "intraday"
		}
		fmt.Fprintf(w, "  %s  %-20s %-9s %q\n", e.Next.Format("2006-01-02 15:04"), e.Pipeline, mode, e.Spec)
	}
	return nil
}
