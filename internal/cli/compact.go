package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"marketlake/internal/lake"
	"marketlake/internal/schema"
)

// CompactOptions holds the compact command flags.
type CompactOptions struct {
	*RootOptions
	TargetMB    int64
	ThresholdMB int64
	DryRun      bool
}

// NewCompactCommand builds the lake compaction command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compact <dataset>",
		Short: "Merge small parquet files of one dataset",
		Long: `Merge the small parquet files inside each partition directory of a
dataset into larger ones. Intraday datasets accumulate a file per
snapshot; compaction keeps warehouse scans and lake listings fast.

With --dry-run the planned merges are printed and nothing is touched.`,
		Example: `  marketlaked compact option_chain
  marketlaked compact option_chain --dry-run
  marketlaked compact equity_ohlc --target-mb 256`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(cmd, opts, args[0])
		},
	}

	cmd.Flags().Int64Var(&opts.TargetMB, "target-mb", 0, "max merged input per output file in MB (default 128)")
	cmd.Flags().Int64Var(&opts.ThresholdMB, "threshold-mb", 0, "files below this size in MB are merge candidates (default 10)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "plan only, do not rewrite files")

	return cmd
}

func runCompact(cmd *cobra.Command, opts *CompactOptions, dataset string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := opts.formatter(cmd)

	a, err := buildApp(ctx, opts.RootOptions, false)
	if err != nil {
		_ = out.Error(err)
		return err
	}
	defer a.Close()

	if _, ok := schema.ByName(dataset); !ok {
		werr := NewExitError(ExitFailure, fmt.Sprintf("unknown dataset %q (known: %s)", dataset, strings.Join(schema.Names(), ", ")))
		_ = out.Error(werr)
		return werr
	}

	res, err := a.writer.Coalesce(ctx, dataset, lake.CoalesceOptions{
		TargetBytes:    opts.TargetMB << 20,
		ThresholdBytes: opts.ThresholdMB << 20,
		Compression:    a.cfg.Writer.Compression,
		DryRun:         opts.DryRun,
	})
	if err != nil {
		werr := WrapExitError(ExitFailure, "compact "+dataset, err)
		_ = out.Error(werr)
		return werr
	}

	if opts.Format == FormatJSON {
		return out.Success(map[string]any{"dataset": dataset, "dry_run": opts.DryRun, "result": res})
	}

	w := cmd.OutOrStdout()
	if opts.DryRun {
		fmt.Fprintf(w, "%s: would merge %d group(s)\n", dataset, len(res.Groups))
	} else {
		fmt.Fprintf(w, "%s: merged %d group(s), %d file(s) in, %d file(s) out\n",
			dataset, len(res.Groups), res.FilesRemoved, res.FilesWritten)
	}
	for _, g := range res.Groups {
		fmt.Fprintf(w, "  %s: %d files, %.1f MB -> %s\n",
			g.Dir, len(g.Inputs), float64(g.InputBytes)/(1<<20), g.Output)
	}
	return nil
}
