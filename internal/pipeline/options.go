package pipeline

import (
	"context"

	"marketlake/internal/domain"
	"marketlake/internal/frame"
	"marketlake/internal/parse"
	"marketlake/internal/schema"
)

// OptionChainSnapshot captures the live NSE option chain for the
// configured underlyings. Each run is keyed by its IST capture time,
// so intraday snapshots accumulate side by side within the date
// partition instead of overwriting each other.
type OptionChainSnapshot struct{}

func (OptionChainSnapshot) Name() string { return "option_chain" }

func (p OptionChainSnapshot) Run(ctx context.Context, rc *Run) error {
	key := rc.Date + "." + rc.deps.now().In(domain.IST).Format("1504")
	if rc.skipIfComplete(schema.DatasetOptionChain, key) {
		return nil
	}

	sc, err := rc.source(srcNSEOptionChain)
	if err != nil {
		return err
	}
	if len(sc.Symbols) == 0 {
		rc.record(stepSkippedMetric("fetch_"+srcNSEOptionChain, "no underlyings configured"))
		return nil
	}

	out := frame.New(schema.OptionChain())
	if err := rc.fanOut(ctx, srcNSEOptionChain, "underlying", sc.Symbols, func(t string) parse.Parser {
		return parse.OptionChain{Underlying: t}
	}, out); err != nil {
		return err
	}

	wr, err := rc.Write(ctx, out, key)
	if err != nil {
		return err
	}
	if wr.Rows > 0 {
		rc.Load(ctx, loadableFrame(out, wr))
	}
	return nil
}
