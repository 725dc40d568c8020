package cli

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"marketlake/internal/domain"
	"marketlake/internal/lake"
	"marketlake/internal/schema"
	"marketlake/internal/warehouse"
)

var yearArg = regexp.MustCompile(`^\d{4}$`)

// NewLoadCommand builds the manual warehouse backfill command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <dataset> <date>",
		Short: "Load one lake partition into the warehouse",
		Long: `Read one committed lake partition and bulk-insert it into its
ClickHouse table. This is the recovery path after a run that landed
lake data but failed its load step; such runs are not re-run, only
re-loaded. The warehouse table is ReplacingMergeTree keyed on event
identity, so loading the same partition twice is safe.

trading_calendar partitions by year; pass the year (or any date in it)
instead of a day.`,
		Example: `  marketlaked load equity_ohlc 2024-01-15
  marketlaked load trading_calendar 2024`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, rootOpts, args[0], args[1])
		},
	}
}

func runLoad(cmd *cobra.Command, opts *RootOptions, dataset, date string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := opts.formatter(cmd)

	a, err := buildApp(ctx, opts, true)
	if err != nil {
		_ = out.Error(err)
		return err
	}
	defer a.Close()

	s, ok := schema.ByName(dataset)
	if !ok {
		werr := NewExitError(ExitFailure, fmt.Sprintf("unknown dataset %q (known: %s)", dataset, strings.Join(schema.Names(), ", ")))
		_ = out.Error(werr)
		return werr
	}
	table, ok := warehouse.TableForDataset(dataset)
	if !ok {
		werr := NewExitError(ExitFailure, fmt.Sprintf("dataset %q has no warehouse table", dataset))
		_ = out.Error(werr)
		return werr
	}
	if a.loader == nil {
		werr := NewExitError(ExitFailure, "warehouse unreachable, nothing to load into")
		_ = out.Error(werr)
		return werr
	}

	dir, err := a.partitionDirFor(dataset, date)
	if err != nil {
		_ = out.Error(err)
		return err
	}

	f, err := lake.ReadPartition(dir, s)
	if err != nil {
		werr := WrapExitError(ExitFailure, "read partition", err)
		_ = out.Error(werr)
		return werr
	}
	if f.Len() == 0 {
		werr := NewExitError(ExitFailure, fmt.Sprintf("no lake data under %s", dir))
		_ = out.Error(werr)
		return werr
	}

	res, err := a.loader.Load(ctx, f, table)
	if err != nil {
		werr := WrapExitError(ExitFailure, "load "+table, err)
		_ = out.Error(werr)
		return werr
	}

	if opts.Format == FormatJSON {
		return out.Success(map[string]any{"dataset": dataset, "partition": dir, "result": res})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: loaded %d rows into %s in %s (%d batches)\n",
		dataset, res.Rows, res.Table, res.Duration.Round(time.Millisecond), res.Batches)
	return nil
}

// partitionDirFor resolves the lake directory of one date partition.
// trading_calendar keys on year alone; everything else on full dates.
func (a *app) partitionDirFor(dataset, date string) (string, error) {
	if dataset == schema.DatasetTradingCalendar {
		year := date
		if !yearArg.MatchString(year) {
			t, err := domain.ParseISODate(date)
			if err != nil {
				return "", WrapExitError(ExitFailure, "invalid date", err)
			}
			year = t.Format("2006")
		}
		return filepath.Join(a.writer.DatasetDir(dataset), "year="+year), nil
	}

	year, month, day, err := domain.Partition(date)
	if err != nil {
		return "", WrapExitError(ExitFailure, "invalid date", err)
	}
	return a.writer.PartitionDir(dataset, year, month, day), nil
}
