package pipeline

import (
	"context"
	"errors"
	"fmt"

	"marketlake/internal/parse"
	"marketlake/internal/schema"
)

// BulkBlockDeals ingests NSE bulk and block deal disclosures for one
// trade date. The two reports are independent endpoints keyed
// separately inside the shared dataset, so a failure on one side never
// loses the other.
type BulkBlockDeals struct{}

func (BulkBlockDeals) Name() string { return "bulk_block_deals" }

func (p BulkBlockDeals) Run(ctx context.Context, rc *Run) error {
	bulkKey := rc.Date + ".bulk"
	blockKey := rc.Date + ".block"
	if rc.skipIfComplete(schema.DatasetBulkBlockDeals, bulkKey, blockKey) {
		return nil
	}

	sides := []struct {
		src string
		typ string
		key string
	}{
		{src: srcNSEBulkDeals, typ: parse.DealBulk, key: bulkKey},
		{src: srcNSEBlockDeals, typ: parse.DealBlock, key: blockKey},
	}

	attempted := 0
	var failed []error
	for _, s := range sides {
		if rc.keyComplete(schema.DatasetBulkBlockDeals, s.key) {
			continue
		}
		attempted++
		if err := p.side(ctx, rc, s.src, s.typ, s.key); err != nil {
			rc.log.Warn().Err(err).Str("deal_type", s.typ).Msg("deal side degraded")
			failed = append(failed, fmt.Errorf("%s deals: %w", s.typ, err))
		}
	}
	if attempted > 0 && len(failed) == attempted {
		return errors.Join(failed...)
	}
	return nil
}

func (p BulkBlockDeals) side(ctx context.Context, rc *Run, src, typ, key string) error {
	res, err := rc.Fetch(ctx, src)
	if err != nil {
		return err
	}
	if res.NotFound {
		return rc.SkipMissing(schema.DatasetBulkBlockDeals, key, skipDownloadFailed)
	}

	pr, err := rc.Parse(src, parse.Deals{Type: typ}, res.Body)
	if err != nil {
		return err
	}
	wr, err := rc.Write(ctx, pr.Frame, key)
	if err != nil {
		return err
	}
	if wr.Rows > 0 {
		rc.Load(ctx, loadableFrame(pr.Frame, wr))
	}
	return nil
}
