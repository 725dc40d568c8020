package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"marketlake/internal/domain"
	"marketlake/internal/lake"
	"marketlake/internal/warehouse"
)

func dealsCSV(rows ...string) []byte {
	header := "Date,Symbol,Security Name,Client Name,Buy/Sell,Quantity Traded,Trade Price / Wght. Avg. Price,Remarks"
	out := header
	for _, r := range rows {
		out += "\n" + r
	}
	return []byte(out + "\n")
}

func TestBulkBlockDeals_WritesBothSides(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &stubFetcher{bySource: map[string]stubResponse{
		srcNSEBulkDeals:  {body: dealsCSV("15-Jan-2024,RELIANCE,Reliance Industries,ALPHA FUND,BUY,150000,2910.55,")},
		srcNSEBlockDeals: {body: dealsCSV("15-Jan-2024,TCS,Tata Consultancy,BETA LLP,SELL,80000,3890.00,")},
	}}
	deps, loader := testDeps(t, cfg, fetcher)
	runner := NewRunner(deps, BulkBlockDeals{})

	run, err := runner.Execute(context.Background(), "bulk_block_deals", "2024-01-15")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Status != domain.RunSuccess {
		t.Fatalf("Expected SUCCESS, got %s", run.Status)
	}

	partDir := filepath.Join(cfg.LakeRoot, "normalized", "bulk_block_deals", "year=2024", "month=01", "day=15")
	bulkMk, _ := lake.Markers{}.Read(partDir, "2024-01-15.bulk")
	if bulkMk == nil || bulkMk.Rows != 1 {
		t.Fatalf("Expected bulk marker with 1 row, got %+v", bulkMk)
	}
	blockMk, _ := lake.Markers{}.Read(partDir, "2024-01-15.block")
	if blockMk == nil || blockMk.Rows != 1 {
		t.Fatalf("Expected block marker with 1 row, got %+v", blockMk)
	}
	if got := loader.loaded(warehouse.TableBulkBlockDeals); got != 2 {
		t.Errorf("Expected 2 deal rows loaded, got %d", got)
	}
}

func TestBulkBlockDeals_MissingSideCompletesWithZeroRows(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &stubFetcher{bySource: map[string]stubResponse{
		srcNSEBulkDeals:  {body: dealsCSV("15-Jan-2024,RELIANCE,Reliance Industries,ALPHA FUND,BUY,150000,2910.55,")},
		srcNSEBlockDeals: {notFound: true},
	}}
	deps, _ := testDeps(t, cfg, fetcher)
	runner := NewRunner(deps, BulkBlockDeals{})

	run, err := runner.Execute(context.Background(), "bulk_block_deals", "2024-01-15")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Status != domain.RunSuccess {
		t.Fatalf("Expected SUCCESS, got %s", run.Status)
	}

	partDir := filepath.Join(cfg.LakeRoot, "normalized", "bulk_block_deals", "year=2024", "month=01", "day=15")
	blockMk, _ := lake.Markers{}.Read(partDir, "2024-01-15.block")
	if blockMk == nil || blockMk.Rows != 0 {
		t.Fatalf("Expected zero-row block marker, got %+v", blockMk)
	}
	if blockMk.Metadata["skipped"] != "download_failed" {
		t.Errorf("Expected skipped=download_failed, got %q", blockMk.Metadata["skipped"])
	}
}

func TestBulkBlockDeals_BothSidesFailingFailsRun(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &stubFetcher{bySource: map[string]stubResponse{
		srcNSEBulkDeals:  {err: errors.New("connection reset")},
		srcNSEBlockDeals: {err: errors.New("connection reset")},
	}}
	deps, _ := testDeps(t, cfg, fetcher)
	runner := NewRunner(deps, BulkBlockDeals{})

	run, err := runner.Execute(context.Background(), "bulk_block_deals", "2024-01-15")
	if err == nil {
		t.Fatal("Expected error when both deal endpoints fail")
	}
	if run.Status != domain.RunFailed {
		t.Errorf("Expected FAILED, got %s", run.Status)
	}
}

func TestBulkBlockDeals_CompletedSideIsNotRefetched(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &stubFetcher{bySource: map[string]stubResponse{
		srcNSEBulkDeals:  {body: dealsCSV("15-Jan-2024,RELIANCE,Reliance Industries,ALPHA FUND,BUY,150000,2910.55,")},
		srcNSEBlockDeals: {err: errors.New("connection reset")},
	}}
	deps, _ := testDeps(t, cfg, fetcher)
	runner := NewRunner(deps, BulkBlockDeals{})

	// First run: bulk lands, block degrades.
	run, err := runner.Execute(context.Background(), "bulk_block_deals", "2024-01-15")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Status != domain.RunSuccess {
		t.Fatalf("Expected degraded SUCCESS, got %s", run.Status)
	}

	// Second run: only the block side is retried.
	fetcher.mu.Lock()
	fetcher.bySource[srcNSEBlockDeals] = stubResponse{
		body: dealsCSV("15-Jan-2024,TCS,Tata Consultancy,BETA LLP,SELL,80000,3890.00,"),
	}
	fetcher.mu.Unlock()

	if _, err := runner.Execute(context.Background(), "bulk_block_deals", "2024-01-15"); err != nil {
		t.Fatalf("Second execute failed: %v", err)
	}
	if n := fetcher.fetchCount(srcNSEBulkDeals); n != 1 {
		t.Errorf("Expected the completed bulk side untouched, got %d fetches", n)
	}
	if n := fetcher.fetchCount(srcNSEBlockDeals); n != 2 {
		t.Errorf("Expected the block side retried, got %d fetches", n)
	}

	partDir := filepath.Join(cfg.LakeRoot, "normalized", "bulk_block_deals", "year=2024", "month=01", "day=15")
	blockMk, _ := lake.Markers{}.Read(partDir, "2024-01-15.block")
	if blockMk == nil || blockMk.Rows != 1 {
		t.Fatalf("Expected block marker after the retry, got %+v", blockMk)
	}
}
