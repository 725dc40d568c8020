// Package cli wires the marketlake commands: the scheduler daemon and
// the operator verbs around it. Every command builds its dependencies
// from the same configuration file the daemon runs on, so a manual
// trigger and a scheduled firing behave identically.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Output formats accepted by --format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// RootOptions holds the global flags shared by all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string
}

// NewRootCommand builds the marketlaked command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "marketlaked",
		Short: "NSE and BSE market data lake daemon",
		Long: `marketlaked ingests Indian exchange feeds into a parquet lake and
loads the curated datasets into ClickHouse.

serve runs the scheduler; trigger, load, compact and report are the
operator verbs around it.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != FormatText && opts.Format != FormatJSON {
				return NewExitError(ExitFailure, fmt.Sprintf("invalid format %q (valid: %s, %s)", opts.Format, FormatText, FormatJSON))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (text|json)")

	cmd.AddCommand(
		NewServeCommand(opts),
		NewTriggerCommand(opts),
		NewDeployCommand(opts),
		NewListCommand(opts),
		NewLoadCommand(opts),
		NewCompactCommand(opts),
		NewReportCommand(opts),
	)

	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format: o.Format,
		Writer: cmd.OutOrStdout(),
	}
}
