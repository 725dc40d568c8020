package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"marketlake/internal/config"
	"marketlake/internal/domain"
	"marketlake/internal/lake"
	"marketlake/internal/warehouse"
)

// Single strike with both sides, snapshot stamped 15:30 IST.
const optionChainBody = `{
  "records": {
    "expiryDates": ["25-Jan-2024"],
    "timestamp": "15-Jan-2024 15:30:00",
    "underlyingValue": 21480.5,
    "data": [
      {
        "strikePrice": 21500,
        "expiryDate": "25-Jan-2024",
        "CE": {"underlying": "NIFTY", "openInterest": 5200, "changeinOpenInterest": 150,
               "totalTradedVolume": 88000, "impliedVolatility": 13.4, "lastPrice": 120.5,
               "bidprice": 120.0, "askPrice": 121.0, "underlyingValue": 21480.5},
        "PE": {"underlying": "NIFTY", "openInterest": 6100, "changeinOpenInterest": -300,
               "totalTradedVolume": 91000, "impliedVolatility": 12.1, "lastPrice": 140.2,
               "bidprice": 139.9, "askPrice": 141.0, "underlyingValue": 21480.5}
      }
    ]
  }
}`

func optionChainConfig(t *testing.T) *config.Config {
	cfg := testConfig(t)
	cfg.Sources = map[string]config.SourceConfig{
		srcNSEOptionChain: {URL: "https://stub/oc?symbol={underlying}", Symbols: []string{"NIFTY"}},
	}
	return cfg
}

func TestOptionChain_KeyCarriesISTSnapshotTime(t *testing.T) {
	cfg := optionChainConfig(t)
	fetcher := &stubFetcher{bySource: map[string]stubResponse{
		srcNSEOptionChain: {body: []byte(optionChainBody)},
	}}
	deps, loader := testDeps(t, cfg, fetcher)
	runner := NewRunner(deps, OptionChainSnapshot{})

	run, err := runner.Execute(context.Background(), "option_chain", "2024-01-15")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Status != domain.RunSuccess {
		t.Fatalf("Expected SUCCESS, got %s", run.Status)
	}

	// testClock is 14:30 UTC, 20:00 IST.
	partDir := filepath.Join(cfg.LakeRoot, "normalized", "option_chain", "year=2024", "month=01", "day=15")
	mk, _ := lake.Markers{}.Read(partDir, "2024-01-15.2000")
	if mk == nil || mk.Rows != 2 {
		t.Fatalf("Expected CE and PE rows under the 20:00 key, got %+v", mk)
	}
	if got := loader.loaded(warehouse.TableOptionChain); got != 2 {
		t.Errorf("Expected 2 option rows loaded, got %d", got)
	}

	// Same capture time skips without refetching.
	rerun, err := runner.Execute(context.Background(), "option_chain", "2024-01-15")
	if err != nil {
		t.Fatalf("Rerun failed: %v", err)
	}
	if rerun.Status != domain.RunSkippedIdempotent {
		t.Errorf("Expected SKIPPED_IDEMPOTENT, got %s", rerun.Status)
	}
	if n := fetcher.fetchCount(srcNSEOptionChain); n != 1 {
		t.Errorf("Expected a single fetch, got %d", n)
	}
}

func TestOptionChain_IntradaySnapshotsAccumulate(t *testing.T) {
	cfg := optionChainConfig(t)
	fetcher := &stubFetcher{bySource: map[string]stubResponse{
		srcNSEOptionChain: {body: []byte(optionChainBody)},
	}}
	deps, loader := testDeps(t, cfg, fetcher)

	first := NewRunner(deps, OptionChainSnapshot{})
	if _, err := first.Execute(context.Background(), "option_chain", "2024-01-15"); err != nil {
		t.Fatalf("First snapshot failed: %v", err)
	}

	deps.Clock = func() time.Time { return time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC) } // 20:30 IST
	second := NewRunner(deps, OptionChainSnapshot{})
	if _, err := second.Execute(context.Background(), "option_chain", "2024-01-15"); err != nil {
		t.Fatalf("Second snapshot failed: %v", err)
	}

	partDir := filepath.Join(cfg.LakeRoot, "normalized", "option_chain", "year=2024", "month=01", "day=15")
	for _, key := range []string{"2024-01-15.2000", "2024-01-15.2030"} {
		mk, _ := lake.Markers{}.Read(partDir, key)
		if mk == nil || mk.Rows != 2 {
			t.Fatalf("Expected marker for %s with 2 rows, got %+v", key, mk)
		}
	}
	if got := loader.loaded(warehouse.TableOptionChain); got != 4 {
		t.Errorf("Expected both snapshots loaded, got %d", got)
	}
}
