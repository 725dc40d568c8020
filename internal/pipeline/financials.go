package pipeline

import (
	"context"

	"marketlake/internal/frame"
	"marketlake/internal/parse"
	"marketlake/internal/schema"
)

// QuarterlyFinancials pulls XBRL result filings for the configured
// symbols and flattens them into one row per reported fact. Rows
// partition by period end, not by run date, so there is no useful
// pre-check; the per-partition markers still make re-runs no-ops.
type QuarterlyFinancials struct{}

func (QuarterlyFinancials) Name() string { return "quarterly_financials" }

func (p QuarterlyFinancials) Run(ctx context.Context, rc *Run) error {
	sc, err := rc.source(srcXBRLFilings)
	if err != nil {
		return err
	}
	if len(sc.Symbols) == 0 {
		rc.record(stepSkippedMetric("fetch_"+srcXBRLFilings, "no symbols configured"))
		return nil
	}

	out := frame.New(schema.QuarterlyFinancials())
	if err := rc.fanOut(ctx, srcXBRLFilings, "symbol", sc.Symbols, func(string) parse.Parser {
		return parse.XBRLFinancials{}
	}, out); err != nil {
		return err
	}

	wr, err := rc.Write(ctx, out, rc.Date)
	if err != nil {
		return err
	}
	if wr.Rows > 0 {
		rc.Load(ctx, loadableFrame(out, wr))
	}
	return nil
}
