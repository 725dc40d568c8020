package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"marketlake/internal/domain"
	"marketlake/internal/frame"
	"marketlake/internal/lake"
	"marketlake/internal/parse"
	"marketlake/internal/schema"
)

// Marker metadata reasons for zero-row completions.
const (
	skipDownloadFailed = "download_failed"
	skipNoRows         = "no_rows"
)

// Normalized equity bars are sub-partitioned by exchange so the two
// equity flows can complete independently inside one date partition.
const (
	suffixNSE = ".nse"
	suffixBSE = ".bse"
)

// EquityDaily ingests the NSE daily bhavcopy: raw UDiFF columns into
// the raw layer, canonical bars into normalized/equity_ohlc, both
// loaded into the warehouse.
type EquityDaily struct{}

func (EquityDaily) Name() string { return "equity_daily" }

func (p EquityDaily) Run(ctx context.Context, rc *Run) error {
	key := rc.Date + suffixNSE
	if rc.skipIfComplete(schema.DatasetEquityOHLC, key) {
		return nil
	}

	res, err := rc.Fetch(ctx, srcNSEEquity)
	if err != nil {
		return err
	}
	if res.NotFound {
		// Holiday or not yet published. Complete the date so re-runs
		// short-circuit; the scheduler will not ask again.
		return rc.SkipMissing(schema.DatasetEquityOHLC, key, skipDownloadFailed)
	}

	pr, err := rc.Parse(srcNSEEquity, parse.NSEBhavcopy{}, res.Body)
	if err != nil {
		return err
	}

	// Raw rows are preserved and loaded as parsed; validation only
	// gates the normalized layer.
	rawWr, err := rc.WriteRaw(ctx, pr.Raw, rc.Date)
	if err != nil {
		return err
	}
	if rawWr.Rows > 0 {
		rc.Load(ctx, pr.Raw)
	}

	rc.Enrich(pr.Frame)
	wr, err := rc.Write(ctx, pr.Frame, key)
	if err != nil {
		return err
	}
	if wr.Rows > 0 {
		rc.Load(ctx, loadableFrame(pr.Frame, wr))
	}
	return nil
}

// EquityCombined ingests NSE and BSE bhavcopies in parallel, merges
// them by ISIN with NSE preferred, and writes the merged bars as
// per-exchange keyed files so a partition never holds the same
// instrument twice. One failing exchange degrades the run; both
// failing fails it.
type EquityCombined struct{}

func (EquityCombined) Name() string { return "equity_combined" }

type equityLeg struct {
	src    string
	parser parse.Parser
	key    string
}

func (p EquityCombined) Run(ctx context.Context, rc *Run) error {
	nseKey := rc.Date + suffixNSE
	bseKey := rc.Date + suffixBSE
	if rc.skipIfComplete(schema.DatasetEquityOHLC, nseKey, bseKey) {
		return nil
	}

	legs := []equityLeg{
		{src: srcNSEEquity, parser: parse.NSEBhavcopy{}, key: nseKey},
		{src: srcBSEEquity, parser: parse.BSEBhavcopy{}, key: bseKey},
	}

	frames := make([]*frame.Frame, len(legs))
	legErrs := make([]error, len(legs))
	var g errgroup.Group
	g.SetLimit(rc.deps.poolSize())
	for i, l := range legs {
		i, l := i, l
		g.Go(func() error {
			frames[i], legErrs[i] = p.leg(ctx, rc, l)
			return nil
		})
	}
	_ = g.Wait()

	bySource := make(map[string]*frame.Frame, len(legs))
	var failed []error
	for i, l := range legs {
		if legErrs[i] != nil {
			// A leg whose key an earlier run already completed is
			// reconstructed from the lake, so the other exchange's
			// remainder is still computed against the full ISIN set.
			if rc.keyComplete(schema.DatasetEquityOHLC, l.key) {
				if f := rc.lakeBars(l.key); f != nil && f.Len() > 0 {
					rc.log.Info().Str("source", l.src).Msg("leg recovered from completed lake key")
					bySource[string(l.parser.Source())] = f
					continue
				}
			}
			rc.log.Warn().Err(legErrs[i]).Str("source", l.src).Msg("exchange degraded")
			failed = append(failed, legErrs[i])
			continue
		}
		if frames[i] != nil && frames[i].Len() > 0 {
			bySource[string(l.parser.Source())] = frames[i]
		}
	}
	if len(failed) == len(legs) {
		return errors.Join(failed...)
	}
	if len(bySource) == 0 {
		// Nothing published on either exchange; the zero-row markers
		// are already recorded.
		return nil
	}

	preference := []string{
		string(domain.SourceNSEEquityBar),
		string(domain.SourceBSEEquityBar),
	}
	merged, err := rc.Dedup(bySource, preference, "isin")
	if err != nil {
		return err
	}
	rc.Enrich(merged)

	splits := splitBySource(merged)
	keyFor := map[string]string{
		string(domain.SourceNSEEquityBar): nseKey,
		string(domain.SourceBSEEquityBar): bseKey,
	}
	for _, src := range preference {
		sub := splits[src]
		if sub == nil || sub.Len() == 0 {
			continue
		}
		wr, err := rc.Write(ctx, sub, keyFor[src])
		if err != nil {
			return err
		}
		if wr.Rows > 0 {
			rc.Load(ctx, loadableFrame(sub, wr))
		}
	}
	return nil
}

// leg fetches and parses one exchange, persisting its raw layer. A 404
// completes the exchange's key with a zero-row marker and contributes
// no bars.
func (p EquityCombined) leg(ctx context.Context, rc *Run, l equityLeg) (*frame.Frame, error) {
	res, err := rc.Fetch(ctx, l.src)
	if err != nil {
		return nil, err
	}
	if res.NotFound {
		return nil, rc.SkipMissing(schema.DatasetEquityOHLC, l.key, skipDownloadFailed)
	}

	pr, err := rc.Parse(l.src, l.parser, res.Body)
	if err != nil {
		return nil, err
	}
	if pr.Raw != nil {
		rawWr, err := rc.WriteRaw(ctx, pr.Raw, rc.Date)
		if err != nil {
			return nil, err
		}
		if rawWr.Rows > 0 {
			rc.Load(ctx, pr.Raw)
		}
	}
	return pr.Frame, nil
}

// splitBySource groups a merged frame back into per-source frames so
// each exchange's rows land under its own idempotency key.
func splitBySource(f *frame.Frame) map[string]*frame.Frame {
	out := make(map[string]*frame.Frame)
	for _, r := range f.Rows {
		src, ok := frame.GetString(r, "source")
		if !ok {
			src = ""
		}
		sub, seen := out[src]
		if !seen {
			sub = frame.New(f.Schema)
			out[src] = sub
		}
		sub.Append(r)
	}
	return out
}

// loadableFrame drops the rows a validated write quarantined so the
// warehouse load matches the lake output exactly.
func loadableFrame(f *frame.Frame, wr *lake.WriteResult) *frame.Frame {
	if wr == nil || wr.Validation == nil || !wr.Validation.HasCritical() {
		return f
	}
	critical := make(map[int]bool)
	for _, i := range wr.Validation.CriticalRows() {
		critical[i] = true
	}
	out := frame.New(f.Schema)
	for i, r := range f.Rows {
		if !critical[i] {
			out.Append(r)
		}
	}
	return out
}
