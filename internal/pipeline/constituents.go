package pipeline

import (
	"context"

	"marketlake/internal/frame"
	"marketlake/internal/parse"
	"marketlake/internal/schema"
)

// IndexConstituents snapshots the membership of the configured NSE
// indices and diffs it against the previous snapshot in the lake, so
// the dataset carries ADD and REMOVE events alongside the full
// REBALANCE rows.
type IndexConstituents struct{}

func (IndexConstituents) Name() string { return "index_constituents" }

func (p IndexConstituents) Run(ctx context.Context, rc *Run) error {
	if rc.skipIfComplete(schema.DatasetIndexConstituents, rc.Date) {
		return nil
	}

	sc, err := rc.source(srcNSEIndices)
	if err != nil {
		return err
	}
	if len(sc.Symbols) == 0 {
		rc.record(stepSkippedMetric("fetch_"+srcNSEIndices, "no indices configured"))
		return nil
	}

	curr := frame.New(schema.IndexConstituents())
	if err := rc.fanOut(ctx, srcNSEIndices, "index", sc.Symbols, func(t string) parse.Parser {
		return parse.Constituents{IndexName: t}
	}, curr); err != nil {
		return err
	}

	if prev := rc.previousConstituents(); prev != nil && curr.Len() > 0 {
		if err := rc.step("diff", func() (int64, error) {
			diff, err := parse.DiffConstituents(prev, curr, rc.meta(sc))
			if err != nil {
				return 0, err
			}
			for _, r := range diff.Rows {
				curr.Append(r)
			}
			return int64(diff.Len()), nil
		}); err != nil {
			return err
		}
	}

	wr, err := rc.Write(ctx, curr, rc.Date)
	if err != nil {
		return err
	}
	if wr.Rows > 0 {
		rc.Load(ctx, loadableFrame(curr, wr))
	}
	return nil
}
