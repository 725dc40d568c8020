package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"marketlake/internal/config"
	"marketlake/internal/domain"
	"marketlake/internal/errs"
	"marketlake/internal/fetch"
	"marketlake/internal/frame"
	"marketlake/internal/parse"
	"marketlake/internal/resilience"
)

// Source names used in config, breaker registry and metrics labels.
const (
	srcNSEEquity      = "nse_equity"
	srcBSEEquity      = "bse_equity"
	srcNSEBulkDeals   = "nse_bulk_deals"
	srcNSEBlockDeals  = "nse_block_deals"
	srcNSEIndices     = "nse_constituents"
	srcNSEOptionChain = "nse_option_chain"
	srcNSEMaster      = "nse_symbol_master"
	srcNSECorpActions = "nse_corporate_actions"
	srcNSECalendar    = "nse_trading_calendar"
	srcXBRLFilings    = "nse_financials"
)

// defaultSources carries the built-in endpoint templates. A sources
// entry in the config file replaces the whole record for its name.
// URL tokens: {date} ISO, {compact} YYYYMMDD, {ddmmyyyy}, {legacy}
// DDMMMYYYY upper-cased, {year}; fan-out sources also substitute
// {index}, {underlying} or {symbol} per target.
var defaultSources = map[string]config.SourceConfig{
	srcNSEEquity: {
		URL:           "https://nsearchives.nseindia.com/content/cm/BhavCopy_NSE_CM_0_0_0_{compact}_F_0000.csv.zip",
		SchemaVersion: "1.1",
		Referer:       "https://www.nseindia.com/all-reports",
	},
	srcBSEEquity: {
		URL:           "https://www.bseindia.com/download/BhavCopy/Equity/BhavCopy_BSE_CM_0_0_0_{compact}_F_0000.CSV",
		SchemaVersion: "1.1",
		Referer:       "https://www.bseindia.com/markets/marketinfo/BhavCopy.aspx",
	},
	srcNSEBulkDeals: {
		URL:           "https://www.nseindia.com/api/historical/bulk-deals?from={ddmmyyyy}&to={ddmmyyyy}&csv=true",
		SchemaVersion: "1.0",
		Referer:       "https://www.nseindia.com/report-detail/display-bulk-and-block-deals",
	},
	srcNSEBlockDeals: {
		URL:           "https://www.nseindia.com/api/historical/block-deals?from={ddmmyyyy}&to={ddmmyyyy}&csv=true",
		SchemaVersion: "1.0",
		Referer:       "https://www.nseindia.com/report-detail/display-bulk-and-block-deals",
	},
	srcNSEIndices: {
		URL:           "https://www.nseindia.com/api/equity-stockIndices?index={index}",
		SchemaVersion: "1.0",
		Referer:       "https://www.nseindia.com/market-data/live-equity-market",
		Symbols:       []string{"NIFTY 50", "NIFTY BANK", "NIFTY NEXT 50"},
	},
	srcNSEOptionChain: {
		URL:           "https://www.nseindia.com/api/option-chain-indices?symbol={underlying}",
		SchemaVersion: "1.0",
		Referer:       "https://www.nseindia.com/option-chain",
		Symbols:       []string{"NIFTY", "BANKNIFTY"},
	},
	srcNSEMaster: {
		URL:           "https://nsearchives.nseindia.com/content/equities/EQUITY_L.csv",
		SchemaVersion: "1.0",
		Referer:       "https://www.nseindia.com/market-data/securities-available-for-trading",
	},
	srcNSECorpActions: {
		URL:           "https://www.nseindia.com/api/corporates-corporateActions?index=equities&csv=true",
		SchemaVersion: "1.0",
		Referer:       "https://www.nseindia.com/companies-listing/corporate-filings-actions",
	},
	srcNSECalendar: {
		URL:           "https://www.nseindia.com/api/holiday-master?type=trading",
		SchemaVersion: "1.0",
		Referer:       "https://www.nseindia.com/resources/exchange-communication-holidays",
	},
	srcXBRLFilings: {
		URL:           "https://www.nseindia.com/api/corporates-financial-results?symbol={symbol}&period=Quarterly&format=xbrl",
		SchemaVersion: "1.0",
		Referer:       "https://www.nseindia.com/companies-listing/corporate-filings-financial-results",
	},
}

// source resolves a source config by name, falling back to the
// built-in endpoints, and pins the source's breaker settings.
// Resolutions are cached per run.
func (rc *Run) source(name string) (config.SourceConfig, error) {
	rc.mu.Lock()
	if sc, ok := rc.sources[name]; ok {
		rc.mu.Unlock()
		return sc, nil
	}
	rc.mu.Unlock()

	sc, err := rc.deps.Config.Source(name)
	if err != nil {
		fallback, ok := defaultSources[name]
		if !ok {
			return config.SourceConfig{}, errs.E(errs.KindValidation, err)
		}
		sc = rc.deps.Config.FillSource(fallback)
	}
	rc.deps.Breakers.Configure(name, resilience.BreakerSettings{
		FailureThreshold: sc.FailureThreshold,
		RecoveryTimeout:  sc.RecoveryTimeout.Std(),
	})

	rc.mu.Lock()
	if rc.sources == nil {
		rc.sources = make(map[string]config.SourceConfig)
	}
	rc.sources[name] = sc
	rc.mu.Unlock()
	return sc, nil
}

// expandURL substitutes the date tokens of a source URL template.
func expandURL(tpl, isoDate string) (string, error) {
	if !strings.Contains(tpl, "{") {
		return tpl, nil
	}
	compact, err := domain.CompactDate(isoDate)
	if err != nil {
		return "", errs.E(errs.KindValidation, err)
	}
	ddmmyyyy, err := domain.DDMMYYYYDate(isoDate)
	if err != nil {
		return "", errs.E(errs.KindValidation, err)
	}
	legacy, err := domain.NSELegacyDate(isoDate)
	if err != nil {
		return "", errs.E(errs.KindValidation, err)
	}
	r := strings.NewReplacer(
		"{date}", isoDate,
		"{compact}", compact,
		"{ddmmyyyy}", ddmmyyyy,
		"{legacy}", legacy,
		"{year}", isoDate[:4],
	)
	return r.Replace(tpl), nil
}

// Fetch downloads the named source's file for the run date, going
// through the source's circuit breaker inside the retry loop. A 404
// surfaces as a NotFound result with the step recorded as skipped, so
// the caller can complete the date with a zero-row marker.
func (rc *Run) Fetch(ctx context.Context, src string) (*fetch.Result, error) {
	sc, err := rc.source(src)
	if err != nil {
		rc.record(domain.StepMetric{Name: "fetch_" + src, Status: domain.StepFailed, Error: err.Error()})
		return nil, err
	}
	u, err := expandURL(sc.URL, rc.Date)
	if err != nil {
		rc.record(domain.StepMetric{Name: "fetch_" + src, Status: domain.StepFailed, Error: err.Error()})
		return nil, err
	}

	var res *fetch.Result
	start := rc.deps.now()
	err = rc.fetchURL(ctx, src, sc, u, &res)
	m := domain.StepMetric{
		Name:       "fetch_" + src,
		DurationMs: rc.deps.now().Sub(start).Milliseconds(),
		Status:     domain.StepOK,
	}
	switch {
	case err != nil:
		m.Status = domain.StepFailed
		m.Error = err.Error()
	case res.NotFound:
		m.Status = domain.StepSkipped
		m.Error = "source published nothing for the date"
	}
	rc.record(m)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// fetchURL runs one download under the shared policy: the breaker
// check happens inside the retry loop, before the attempt, so an open
// breaker stops retrying immediately.
func (rc *Run) fetchURL(ctx context.Context, src string, sc config.SourceConfig, u string, out **fetch.Result) error {
	req := fetch.Request{Source: src, URL: u}
	if sc.Referer != "" {
		req.Header = map[string]string{"Referer": sc.Referer}
	}

	retryer := *rc.deps.Retryer
	if sc.MaxAttempts > 0 {
		retryer.Policy.MaxAttempts = sc.MaxAttempts
	}

	err := retryer.Do(ctx, "fetch_"+src, func() error {
		return rc.deps.Breakers.Do(src, func() error {
			res, err := rc.deps.Fetcher.Fetch(ctx, req)
			if err != nil {
				return err
			}
			*out = res
			return nil
		})
	})
	if err != nil {
		return err
	}
	if !(*out).NotFound {
		rc.deps.Metrics.RecordDownload(src)
	}
	return nil
}

// fanOut fetches one URL per target under the shared pool limit and
// appends every parsed row into out. A target that 404s or fails
// contributes nothing and degrades the step; the error return is
// non-nil only when no target produced data and at least one failed.
func (rc *Run) fanOut(ctx context.Context, src, token string, targets []string, mk func(string) parse.Parser, out *frame.Frame) error {
	sc, err := rc.source(src)
	if err != nil {
		rc.record(domain.StepMetric{Name: "fetch_" + src, Status: domain.StepFailed, Error: err.Error()})
		return err
	}
	base, err := expandURL(sc.URL, rc.Date)
	if err != nil {
		rc.record(domain.StepMetric{Name: "fetch_" + src, Status: domain.StepFailed, Error: err.Error()})
		return err
	}

	start := rc.deps.now()
	var (
		mu       sync.Mutex
		ok       int
		missing  int
		dropped  int64
		failures []string
	)

	var g errgroup.Group
	g.SetLimit(rc.deps.poolSize())
	for _, target := range targets {
		target := target
		g.Go(func() error {
			u := strings.ReplaceAll(base, "{"+token+"}", url.QueryEscape(target))

			var res *fetch.Result
			if err := rc.fetchURL(ctx, src, sc, u, &res); err != nil {
				rc.log.Warn().Err(err).Str("target", target).Msg("fan-out target failed")
				mu.Lock()
				failures = append(failures, target+": "+err.Error())
				mu.Unlock()
				return nil
			}
			if res.NotFound {
				rc.log.Info().Str("target", target).Msg("fan-out target published nothing")
				mu.Lock()
				missing++
				mu.Unlock()
				return nil
			}

			p := mk(target)
			pr, err := p.Parse(res.Body, rc.meta(sc))
			if err != nil {
				rc.log.Warn().Err(err).Str("target", target).Msg("fan-out target unparseable")
				mu.Lock()
				failures = append(failures, target+": "+err.Error())
				mu.Unlock()
				return nil
			}
			rc.deps.Metrics.RecordRowsParsed(string(p.Source()), "ok", int64(pr.Frame.Len()))

			mu.Lock()
			for _, r := range pr.Frame.Rows {
				out.Append(r)
			}
			dropped += int64(pr.Dropped)
			ok++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if dropped > 0 {
		rc.deps.Metrics.RecordRowsParsed(src, "dropped", dropped)
	}

	m := domain.StepMetric{
		Name:       "fetch_" + src,
		Rows:       int64(out.Len()),
		DurationMs: rc.deps.now().Sub(start).Milliseconds(),
		Status:     domain.StepOK,
	}
	if len(failures) > 0 || missing > 0 {
		m.Status = domain.StepDegraded
		m.Error = degradeNote(missing, failures)
	}
	if ok == 0 && len(failures) > 0 {
		m.Status = domain.StepFailed
		rc.record(m)
		return errs.Errorf(errs.KindIntegration, "%s: every target failed: %s", src, strings.Join(failures, "; "))
	}
	rc.record(m)
	return nil
}

func degradeNote(missing int, failures []string) string {
	var parts []string
	if missing > 0 {
		parts = append(parts, fmt.Sprintf("%d target(s) published nothing", missing))
	}
	if len(failures) > 0 {
		parts = append(parts, "failed: "+strings.Join(failures, "; "))
	}
	return strings.Join(parts, "; ")
}
