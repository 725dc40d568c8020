package pipeline

import (
	"context"
	"path/filepath"
	"strconv"

	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/lake"
	"marketlake/internal/parse"
	"marketlake/internal/schema"
)

// SymbolMaster ingests the NSE listed-equity master. The snapshot is
// date-keyed; enrichment always resolves against the freshest snapshot
// at or before the trade date.
type SymbolMaster struct{}

func (SymbolMaster) Name() string { return "symbol_master" }

func (p SymbolMaster) Run(ctx context.Context, rc *Run) error {
	return referenceDaily(ctx, rc, srcNSEMaster, schema.DatasetSymbolMaster, parse.SymbolMaster{})
}

// CorporateActions ingests NSE corporate action announcements for one
// date.
type CorporateActions struct{}

func (CorporateActions) Name() string { return "corporate_actions" }

func (p CorporateActions) Run(ctx context.Context, rc *Run) error {
	return referenceDaily(ctx, rc, srcNSECorpActions, schema.DatasetCorporateActions, parse.CorporateActions{})
}

// referenceDaily is the shared shape of single-source date-keyed
// reference ingestion.
func referenceDaily(ctx context.Context, rc *Run, src, dataset string, parser parse.Parser) error {
	if rc.skipIfComplete(dataset, rc.Date) {
		return nil
	}

	res, err := rc.Fetch(ctx, src)
	if err != nil {
		return err
	}
	if res.NotFound {
		return rc.SkipMissing(dataset, rc.Date, skipDownloadFailed)
	}

	pr, err := rc.Parse(src, parser, res.Body)
	if err != nil {
		return err
	}
	wr, err := rc.Write(ctx, pr.Frame, rc.Date)
	if err != nil {
		return err
	}
	if wr.Rows > 0 {
		rc.Load(ctx, loadableFrame(pr.Frame, wr))
	}
	return nil
}

// TradingCalendar refreshes the expanded trading calendar for the run
// date's year. Unlike date ingestion this is a refresh flow: a later
// run rewrites the year partition so mid-year holiday additions are
// picked up, while a same-day retrigger still skips.
type TradingCalendar struct{}

func (TradingCalendar) Name() string { return "trading_calendar" }

func (p TradingCalendar) Run(ctx context.Context, rc *Run) error {
	year := rc.Date[:4]
	dir := filepath.Join(rc.deps.Writer.DatasetDir(schema.DatasetTradingCalendar), "year="+year)
	if mk, _ := rc.deps.Writer.Markers.Read(dir, year); mk != nil && mk.Metadata["run_date"] == rc.Date {
		rc.skipped = true
		rc.log.Info().
			Str("dataset", schema.DatasetTradingCalendar).
			Str("key", year).
			Bool("idempotent_skip", true).
			Msg("calendar already refreshed today")
		return nil
	}

	res, err := rc.Fetch(ctx, srcNSECalendar)
	if err != nil {
		return err
	}
	if res.NotFound {
		// The holiday master must exist for a live year; a 404 here is
		// an outage, not an empty publication.
		return errs.Errorf(errs.KindIntegration, "holiday master not published for %s", year)
	}

	sc, err := rc.source(srcNSECalendar)
	if err != nil {
		return err
	}
	pr, err := rc.Parse(srcNSECalendar, parse.TradingCalendar{}, res.Body)
	if err != nil {
		return err
	}

	yr, err := strconv.Atoi(year)
	if err != nil {
		return errs.E(errs.KindValidation, err)
	}
	var expanded *frame.Frame
	if err := rc.step("expand", func() (int64, error) {
		f, err := parse.ExpandCalendar(yr, pr.Frame, rc.meta(sc))
		if err != nil {
			return 0, err
		}
		expanded = f
		return int64(f.Len()), nil
	}); err != nil {
		return err
	}

	wr, err := rc.WriteWith(ctx, expanded, lake.WriteOptions{
		Key:           year,
		PartitionCols: []string{"year"},
		Compression:   rc.deps.Config.Writer.Compression,
		Overwrite:     true,
	})
	if err != nil {
		return err
	}
	if wr.Rows > 0 {
		rc.Load(ctx, expanded)
	}
	return nil
}
