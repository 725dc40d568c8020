package validate

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"marketlake/internal/frame"
	"marketlake/internal/schema"
)

var testClock = time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC)

func barSchema() schema.Schema {
	return schema.New("equity_ohlc",
		schema.Field{Name: "event_id", Kind: schema.String},
		schema.Field{Name: "event_time", Kind: schema.Int64},
		schema.Field{Name: "ingest_time", Kind: schema.Int64},
		schema.Field{Name: "source", Kind: schema.String},
		schema.Field{Name: "schema_version", Kind: schema.String},
		schema.Field{Name: "entity_id", Kind: schema.String},
		schema.Field{Name: "symbol", Kind: schema.String},
		schema.Field{Name: "trade_date", Kind: schema.String},
		schema.Field{Name: "prev_close", Kind: schema.Float64, Nullable: true},
		schema.Field{Name: "open", Kind: schema.Float64},
		schema.Field{Name: "high", Kind: schema.Float64},
		schema.Field{Name: "low", Kind: schema.Float64},
		schema.Field{Name: "close", Kind: schema.Float64},
		schema.Field{Name: "volume", Kind: schema.Int64},
		schema.Field{Name: "turnover", Kind: schema.Float64},
		schema.Field{Name: "trades", Kind: schema.Int64},
		schema.Field{Name: "adjustment_factor", Kind: schema.Float64},
		schema.Field{Name: "is_trading_day", Kind: schema.Bool},
		schema.Field{Name: "year", Kind: schema.Int64},
		schema.Field{Name: "month", Kind: schema.Int64},
		schema.Field{Name: "day", Kind: schema.Int64},
	)
}

// goodBar builds a violation-free row for 2024-01-15.
func goodBar(i int) frame.Row {
	return frame.Row{
		"event_id":          fmt.Sprintf("00000000-0000-5000-8000-%012d", i),
		"event_time":        int64(1705276800000), // 2024-01-15 00:00 UTC
		"ingest_time":       testClock.UnixMilli(),
		"source":            "NSE_EQ_BAR",
		"schema_version":    "1.0",
		"entity_id":         fmt.Sprintf("SYM%d:INE%06d:NSE", i, i),
		"symbol":            fmt.Sprintf("SYM%d", i),
		"trade_date":        "2024-01-15",
		"prev_close":        100.0,
		"open":              101.0,
		"high":              105.0,
		"low":               99.0,
		"close":             104.0,
		"volume":            int64(1000),
		"turnover":          104000.0,
		"trades":            int64(50),
		"adjustment_factor": 1.0,
		"is_trading_day":    true,
		"year":              int64(2024),
		"month":             int64(1),
		"day":               int64(15),
	}
}

func testEngine(opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return testClock })}, opts...)
	return NewEngine(opts...)
}

func TestRun_CleanFrame(t *testing.T) {
	f := frame.New(barSchema())
	for i := 0; i < 25; i++ {
		f.Append(goodBar(i))
	}

	res := testEngine().Run(f)

	if res.TotalRows != 25 || res.ValidRows != 25 {
		t.Errorf("Expected 25/25 valid, got %d/%d", res.ValidRows, res.TotalRows)
	}
	if res.CriticalFailures != 0 || res.Warnings != 0 {
		t.Errorf("Expected clean result, got %d critical %d warnings", res.CriticalFailures, res.Warnings)
	}
	if len(res.RulesApplied) != 14 {
		t.Errorf("Expected all 14 builtin rules applied, got %v", res.RulesApplied)
	}
}

func TestRun_OpenBelowLow(t *testing.T) {
	f := frame.New(barSchema())
	bad := goodBar(0)
	bad["open"] = 90.0
	bad["high"] = 110.0
	bad["low"] = 95.0
	bad["close"] = 105.0
	bad["turnover"] = 105000.0
	f.Append(bad)

	res := testEngine().Run(f)

	if res.CriticalFailures != 1 {
		t.Fatalf("Expected exactly one critical failure, got %d: %v", res.CriticalFailures, res.Errors)
	}
	d := res.Errors[0]
	if d.Field != "open" || d.Rule != "ohlc_open_in_range" {
		t.Errorf("Expected open/ohlc_open_in_range, got %s/%s", d.Field, d.Rule)
	}
	if res.ValidRows != 0 {
		t.Errorf("Expected 0 valid rows, got %d", res.ValidRows)
	}
}

func TestRun_HighBelowLow(t *testing.T) {
	f := frame.New(barSchema())
	bad := goodBar(0)
	bad["high"] = 98.0
	bad["low"] = 99.0
	bad["open"] = 98.5
	bad["close"] = 98.5
	bad["turnover"] = 98500.0
	f.Append(bad)

	res := testEngine().Run(f)

	found := false
	for _, d := range res.Errors {
		if d.Rule == "ohlc_high_low_consistency" && d.Severity == Critical {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected high/low violation, got %v", res.Errors)
	}
}

func TestRun_TurnoverWarningOnly(t *testing.T) {
	f := frame.New(barSchema())
	row := goodBar(0)
	row["turnover"] = 200000.0 // far from 1000 * 104
	f.Append(row)

	res := testEngine().Run(f)

	if res.CriticalFailures != 0 {
		t.Errorf("Turnover deviation must not be critical: %v", res.Errors)
	}
	if res.Warnings != 1 {
		t.Errorf("Expected 1 warning, got %d: %v", res.Warnings, res.Errors)
	}
	if res.ValidRows != 1 {
		t.Errorf("Warnings must not invalidate rows, got %d valid", res.ValidRows)
	}
}

func TestRun_VolumeWhenTrades(t *testing.T) {
	f := frame.New(barSchema())
	row := goodBar(0)
	row["volume"] = int64(0)
	row["trades"] = int64(5)
	row["turnover"] = 0.0
	f.Append(row)

	res := testEngine().Run(f)

	found := false
	for _, d := range res.Errors {
		if d.Rule == "volume_when_trades" && d.Severity == Critical {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected volume_when_trades violation, got %v", res.Errors)
	}
}

func TestRun_PriceContinuitySkipsAdjustedBars(t *testing.T) {
	f := frame.New(barSchema())

	jump := goodBar(0)
	jump["prev_close"] = 100.0
	jump["open"] = 45.0
	jump["low"] = 44.0
	jump["close"] = 50.0
	jump["high"] = 51.0
	jump["turnover"] = 50000.0
	f.Append(jump)

	adjusted := goodBar(1)
	adjusted["prev_close"] = 100.0
	adjusted["open"] = 45.0
	adjusted["low"] = 44.0
	adjusted["close"] = 50.0
	adjusted["high"] = 51.0
	adjusted["turnover"] = 50000.0
	adjusted["adjustment_factor"] = 0.5
	f.Append(adjusted)

	res := testEngine().Run(f)

	var continuity []Detail
	for _, d := range res.Errors {
		if d.Rule == "price_continuity" {
			continuity = append(continuity, d)
		}
	}
	if len(continuity) != 1 {
		t.Fatalf("Expected exactly one continuity warning, got %v", continuity)
	}
	if continuity[0].RowIndex != 0 {
		t.Errorf("Expected violation on row 0, got %d", continuity[0].RowIndex)
	}
}

func TestRun_FutureEventTime(t *testing.T) {
	f := frame.New(barSchema())
	row := goodBar(0)
	row["event_time"] = testClock.Add(time.Hour).UnixMilli()
	f.Append(row)

	res := testEngine().Run(f)

	found := false
	for _, d := range res.Errors {
		if d.Rule == "timestamp_not_future" && d.Severity == Critical {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected future timestamp violation, got %v", res.Errors)
	}
}

func TestRun_StaleEventTimeWarns(t *testing.T) {
	f := frame.New(barSchema())
	row := goodBar(0)
	row["event_time"] = testClock.Add(-72 * time.Hour).UnixMilli()
	f.Append(row)

	res := testEngine().Run(f)

	found := false
	for _, d := range res.Errors {
		if d.Rule == "ingest_freshness" && d.Severity == Warning {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected freshness warning, got %v", res.Errors)
	}
}

func TestRun_DateRange(t *testing.T) {
	f := frame.New(barSchema())
	row := goodBar(0)
	row["year"] = int64(1985)
	f.Append(row)

	res := testEngine().Run(f)

	found := false
	for _, d := range res.Errors {
		if d.Rule == "date_range" && d.Severity == Critical {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected date_range violation, got %v", res.Errors)
	}
}

func TestRun_ClockRulesSkipForwardLookingDatasets(t *testing.T) {
	for _, dataset := range []string{schema.DatasetTradingCalendar, schema.DatasetCorporateActions} {
		s := schema.New(dataset,
			schema.Field{Name: "event_time", Kind: schema.Int64},
			schema.Field{Name: "year", Kind: schema.Int64},
			schema.Field{Name: "month", Kind: schema.Int64},
			schema.Field{Name: "day", Kind: schema.Int64},
		)
		f := frame.New(s)
		// A December row validated in January: future by every clock rule.
		f.Append(frame.Row{
			"event_time": time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC).UnixMilli(),
			"year":       int64(2024),
			"month":      int64(12),
			"day":        int64(25),
		})

		res := testEngine().Run(f)

		if res.CriticalFailures != 0 || res.Warnings != 0 {
			t.Errorf("%s: expected forward-looking rows to pass, got %v", dataset, res.Errors)
		}
		for _, name := range res.RulesApplied {
			if name == "date_range" || name == "timestamp_not_future" || name == "ingest_freshness" {
				t.Errorf("%s: rule %s must not apply", dataset, name)
			}
		}
	}
}

func TestRun_UniquenessAcrossSlices(t *testing.T) {
	f := frame.New(barSchema())
	for i := 0; i < 6; i++ {
		f.Append(goodBar(i))
	}
	dup := goodBar(2) // same entity_id as row 2
	f.Append(dup)

	// Slice size 3 puts the duplicate in a different slice than the
	// original.
	res := testEngine(WithSliceSize(3)).Run(f)

	var dups []Detail
	for _, d := range res.Errors {
		if d.Rule == "uniqueness" {
			dups = append(dups, d)
		}
	}
	if len(dups) != 1 {
		t.Fatalf("Expected one uniqueness violation, got %v", dups)
	}
	if dups[0].RowIndex != 6 {
		t.Errorf("Expected frame-absolute row index 6, got %d", dups[0].RowIndex)
	}
}

func TestRun_SliceSizeEquivalence(t *testing.T) {
	f := frame.New(barSchema())
	for i := 0; i < 37; i++ {
		row := goodBar(i)
		switch i % 5 {
		case 1:
			row["open"] = 90.0 // below low
		case 3:
			row["turnover"] = 999999.0 // warning
		}
		f.Append(row)
	}
	f.Append(goodBar(4)) // duplicate entity

	whole := testEngine(WithSliceSize(1000)).Run(f)

	for _, k := range []int{1, 2, 3, 7, 10, 38, 100} {
		sliced := testEngine(WithSliceSize(k)).Run(f)
		if sliced.CriticalFailures != whole.CriticalFailures ||
			sliced.Warnings != whole.Warnings ||
			sliced.ValidRows != whole.ValidRows {
			t.Errorf("k=%d: counts diverge: %d/%d/%d vs %d/%d/%d", k,
				sliced.CriticalFailures, sliced.Warnings, sliced.ValidRows,
				whole.CriticalFailures, whole.Warnings, whole.ValidRows)
		}
		if !reflect.DeepEqual(sliced.Errors, whole.Errors) {
			t.Errorf("k=%d: violation sets diverge", k)
		}
	}
}

func TestRun_SkipsRulesForMissingColumns(t *testing.T) {
	s := schema.New("deals",
		schema.Field{Name: "symbol", Kind: schema.String},
		schema.Field{Name: "quantity", Kind: schema.Int64},
	)
	f := frame.New(s)
	f.Append(frame.Row{"symbol": "RELIANCE", "quantity": int64(100)})

	res := testEngine().Run(f)

	for _, name := range res.RulesApplied {
		if name == "ohlc_open_in_range" || name == "uniqueness" {
			t.Errorf("Rule %s should not apply to deals schema", name)
		}
	}
	if res.CriticalFailures != 0 {
		t.Errorf("Expected no failures, got %v", res.Errors)
	}
}

func TestCustomRule(t *testing.T) {
	f := frame.New(barSchema())
	f.Append(goodBar(0))
	row := goodBar(1)
	row["symbol"] = "TEST"
	f.Append(row)

	custom := &CustomRule{
		RuleName: "no_test_symbols",
		Sev:      Critical,
		Requires: []string{"symbol"},
		Fn: func(r frame.Row, idx int) []Detail {
			if sym, _ := frame.GetString(r, "symbol"); sym == "TEST" {
				return []Detail{{RowIndex: idx, Field: "symbol", Message: "placeholder symbol"}}
			}
			return nil
		},
	}

	res := testEngine(WithRules(custom)).Run(f)

	found := false
	for _, d := range res.Errors {
		if d.Rule == "no_test_symbols" && d.RowIndex == 1 && d.Severity == Critical {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected custom rule violation on row 1, got %v", res.Errors)
	}
}

func TestSchemaRule_Envelope(t *testing.T) {
	f := frame.New(barSchema())
	row := goodBar(0)
	row["event_id"] = "not-a-uuid"
	f.Append(row)

	res := testEngine(WithRules(EnvelopeRule())).Run(f)

	found := false
	for _, d := range res.Errors {
		if d.Rule == "envelope" && d.Field == "event_id" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected envelope schema violation on event_id, got %v", res.Errors)
	}
}

func TestResult_RowMessages(t *testing.T) {
	res := &Result{Errors: []Detail{
		{RowIndex: 3, Rule: "a", Message: "first"},
		{RowIndex: 3, Rule: "b", Message: "second"},
		{RowIndex: 5, Rule: "a", Message: "third"},
	}}

	msgs := res.RowMessages()
	if msgs[3] != "a: first; b: second" {
		t.Errorf("Row 3 messages = %q", msgs[3])
	}
	if msgs[5] != "a: third" {
		t.Errorf("Row 5 messages = %q", msgs[5])
	}
}

func TestResult_CriticalRows(t *testing.T) {
	res := &Result{Errors: []Detail{
		{RowIndex: 7, Severity: Critical},
		{RowIndex: 2, Severity: Critical},
		{RowIndex: 7, Severity: Critical},
		{RowIndex: 4, Severity: Warning},
	}}

	rows := res.CriticalRows()
	if !reflect.DeepEqual(rows, []int{2, 7}) {
		t.Errorf("CriticalRows = %v, want [2 7]", rows)
	}
}
