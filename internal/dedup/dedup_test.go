package dedup

import (
	"fmt"
	"testing"

	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/schema"
)

func barsSchema() schema.Schema {
	return schema.New("equity_ohlc",
		schema.Field{Name: "isin", Kind: schema.String, Nullable: true},
		schema.Field{Name: "symbol", Kind: schema.String},
		schema.Field{Name: "source", Kind: schema.String},
		schema.Field{Name: "close", Kind: schema.Float64},
	)
}

func barsFrame(source string, rows ...frame.Row) *frame.Frame {
	f := frame.New(barsSchema())
	for _, r := range rows {
		r["source"] = source
		f.Append(r)
	}
	return f
}

func row(isin any, symbol string, close float64) frame.Row {
	return frame.Row{"isin": isin, "symbol": symbol, "close": close}
}

func TestDeduplicate_PreferredSourceWins(t *testing.T) {
	nse := barsFrame("NSE",
		row("INE001", "RELIANCE", 2500),
		row("INE002", "TCS", 3700),
	)
	bse := barsFrame("BSE",
		row("INE001", "RELIANCE", 2499), // overlap, must lose to NSE
		row("INE003", "ONLYBSE", 150),
	)

	out, err := Deduplicate(map[string]*frame.Frame{"NSE": nse, "BSE": bse}, []string{"NSE", "BSE"}, "isin")
	if err != nil {
		t.Fatalf("Deduplicate failed: %v", err)
	}
	if out.Len() != 3 {
		t.Fatalf("Expected 3 rows, got %d", out.Len())
	}

	byISIN := make(map[string]frame.Row)
	for _, r := range out.Rows {
		isin, _ := frame.GetString(r, "isin")
		byISIN[isin] = r
	}
	if src, _ := frame.GetString(byISIN["INE001"], "source"); src != "NSE" {
		t.Fatalf("Expected overlapping ISIN to keep NSE row, got %q", src)
	}
	if v, _ := frame.GetFloat(byISIN["INE001"], "close"); v != 2500 {
		t.Fatalf("Expected NSE close 2500, got %v", v)
	}
	if _, ok := byISIN["INE003"]; !ok {
		t.Fatal("Expected BSE-only ISIN to be appended")
	}
}

func TestDeduplicate_LargeOverlapCounts(t *testing.T) {
	nse := frame.New(barsSchema())
	for i := 0; i < 5000; i++ {
		nse.Append(frame.Row{"isin": fmt.Sprintf("INE%06d", i), "symbol": fmt.Sprintf("S%d", i), "source": "NSE", "close": 100.0})
	}
	// 3500 overlapping ISINs plus 500 BSE-only ones.
	bse := frame.New(barsSchema())
	for i := 0; i < 3500; i++ {
		bse.Append(frame.Row{"isin": fmt.Sprintf("INE%06d", i), "symbol": fmt.Sprintf("S%d", i), "source": "BSE", "close": 99.0})
	}
	for i := 0; i < 500; i++ {
		bse.Append(frame.Row{"isin": fmt.Sprintf("BSE%06d", i), "symbol": fmt.Sprintf("B%d", i), "source": "BSE", "close": 50.0})
	}

	out, err := Deduplicate(map[string]*frame.Frame{"NSE": nse, "BSE": bse}, []string{"NSE", "BSE"}, "isin")
	if err != nil {
		t.Fatalf("Deduplicate failed: %v", err)
	}
	if out.Len() != 5500 {
		t.Fatalf("Expected 5500 rows (5000 + 4000 - 3500), got %d", out.Len())
	}

	seen := make(map[string]string, out.Len())
	for _, r := range out.Rows {
		isin, _ := frame.GetString(r, "isin")
		if prev, dup := seen[isin]; dup {
			t.Fatalf("Duplicate ISIN %s from %s", isin, prev)
		}
		src, _ := frame.GetString(r, "source")
		seen[isin] = src
		if isin[:3] == "INE" && src != "NSE" {
			t.Fatalf("Expected ISIN %s to carry NSE values, got %s", isin, src)
		}
	}
}

func TestDeduplicate_NullKeysAlwaysAppended(t *testing.T) {
	nse := barsFrame("NSE",
		row("INE001", "RELIANCE", 2500),
		row(nil, "NSENOKEY", 10),
	)
	bse := barsFrame("BSE",
		row(nil, "BSENOKEY1", 20),
		row(nil, "BSENOKEY2", 30),
	)

	out, err := Deduplicate(map[string]*frame.Frame{"NSE": nse, "BSE": bse}, []string{"NSE", "BSE"}, "isin")
	if err != nil {
		t.Fatalf("Deduplicate failed: %v", err)
	}
	if out.Len() != 4 {
		t.Fatalf("Expected all null-key rows kept, got %d rows", out.Len())
	}
}

func TestDeduplicate_SingleInputReturnedUnchanged(t *testing.T) {
	nse := barsFrame("NSE", row("INE001", "RELIANCE", 2500))

	out, err := Deduplicate(map[string]*frame.Frame{"NSE": nse, "BSE": nil}, []string{"NSE", "BSE"}, "isin")
	if err != nil {
		t.Fatalf("Deduplicate failed: %v", err)
	}
	if out != nse {
		t.Fatal("Expected the single present frame to be returned unchanged")
	}

	// Preference order does not matter when only one source delivered.
	out, err = Deduplicate(map[string]*frame.Frame{"BSE": nse}, []string{"NSE", "BSE"}, "isin")
	if err != nil {
		t.Fatalf("Deduplicate failed: %v", err)
	}
	if out != nse {
		t.Fatal("Expected the lower-preference frame to be returned unchanged")
	}
}

func TestDeduplicate_AllInputsMissingFails(t *testing.T) {
	_, err := Deduplicate(map[string]*frame.Frame{"NSE": nil, "BSE": nil}, []string{"NSE", "BSE"}, "isin")
	if err == nil {
		t.Fatal("Expected error when every input is missing")
	}
	if errs.KindOf(err) != errs.KindData {
		t.Fatalf("Expected data error kind, got %v", errs.KindOf(err))
	}
}

func TestDeduplicate_ThreeSourceChain(t *testing.T) {
	a := barsFrame("A", row("K1", "S1", 1))
	b := barsFrame("B", row("K1", "S1", 2), row("K2", "S2", 2))
	c := barsFrame("C", row("K2", "S2", 3), row("K3", "S3", 3))

	out, err := Deduplicate(map[string]*frame.Frame{"A": a, "B": b, "C": c}, []string{"A", "B", "C"}, "isin")
	if err != nil {
		t.Fatalf("Deduplicate failed: %v", err)
	}
	if out.Len() != 3 {
		t.Fatalf("Expected 3 rows, got %d", out.Len())
	}
	want := map[string]string{"K1": "A", "K2": "B", "K3": "C"}
	for _, r := range out.Rows {
		isin, _ := frame.GetString(r, "isin")
		src, _ := frame.GetString(r, "source")
		if want[isin] != src {
			t.Fatalf("Expected %s from %s, got %s", isin, want[isin], src)
		}
	}
}

func TestDeduplicate_UnknownSourceRejected(t *testing.T) {
	nse := barsFrame("NSE", row("INE001", "RELIANCE", 2500))

	_, err := Deduplicate(map[string]*frame.Frame{"MCX": nse}, []string{"NSE", "BSE"}, "isin")
	if err == nil {
		t.Fatal("Expected error for source missing from preference order")
	}
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("Expected validation error kind, got %v", errs.KindOf(err))
	}
}

func TestDeduplicate_SchemaMismatchRejected(t *testing.T) {
	nse := barsFrame("NSE", row("INE001", "RELIANCE", 2500))
	other := frame.New(schema.New("deals", schema.Field{Name: "isin", Kind: schema.String}))
	other.Append(frame.Row{"isin": "INE001"})

	_, err := Deduplicate(map[string]*frame.Frame{"NSE": nse, "BSE": other}, []string{"NSE", "BSE"}, "isin")
	if err == nil {
		t.Fatal("Expected error for mismatched schemas")
	}
	if errs.KindOf(err) != errs.KindSchemaDrift {
		t.Fatalf("Expected schema drift error kind, got %v", errs.KindOf(err))
	}
}
