package lake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/schema"
	"marketlake/internal/validate"
)

func testWriter(t *testing.T) *Writer {
	t.Helper()
	return NewWriter(t.TempDir(), zerolog.Nop())
}

// barRow builds a complete equity_ohlc row for the given day of
// January 2024.
func barRow(symbol string, day int64, close float64) frame.Row {
	return frame.Row{
		"event_id":          fmt.Sprintf("evt-%s-%d", symbol, day),
		"event_time":        int64(1705276800000),
		"ingest_time":       int64(1705341000000),
		"source":            "NSE_EQ_BAR",
		"schema_version":    "1.0.0",
		"entity_id":         symbol + ":UNKNOWN:NSE",
		"symbol":            symbol,
		"exchange":          "NSE",
		"trade_date":        fmt.Sprintf("2024-01-%02d", day),
		"open":              close - 2,
		"high":              close + 1,
		"low":               close - 3,
		"close":             close,
		"volume":            int64(1000),
		"turnover":          close * 1000,
		"trades":            int64(50),
		"adjustment_factor": 1.0,
		"is_trading_day":    true,
		"year":              int64(2024),
		"month":             int64(1),
		"day":               day,
	}
}

func equityFrame(rows ...frame.Row) *frame.Frame {
	f := frame.New(schema.EquityOHLC())
	for _, r := range rows {
		f.Append(r)
	}
	return f
}

func TestWriter_WritesPartitionedParquet(t *testing.T) {
	w := testWriter(t)

	f := equityFrame(
		barRow("RELIANCE", 15, 2500),
		barRow("TCS", 15, 3700),
		barRow("INFY", 15, 1500),
	)

	res, err := w.Write(context.Background(), f, WriteOptions{Key: "2024-01-15"})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if res.Rows != 3 {
		t.Fatalf("Expected 3 rows written, got %d", res.Rows)
	}
	if len(res.Paths) != 1 {
		t.Fatalf("Expected 1 data file, got %d", len(res.Paths))
	}

	dir := w.PartitionDir(schema.DatasetEquityOHLC, 2024, 1, 15)
	wantPath := filepath.Join(dir, "part-2024-01-15-00000.snappy.parquet")
	if res.Paths[0] != wantPath {
		t.Fatalf("Expected data file %q, got %q", wantPath, res.Paths[0])
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("Expected data file on disk: %v", err)
	}

	var m Markers
	marker, err := m.Read(dir, "2024-01-15")
	if err != nil {
		t.Fatalf("Reading marker failed: %v", err)
	}
	if marker == nil || marker.Rows != 3 {
		t.Fatalf("Expected marker with 3 rows, got %+v", marker)
	}

	if _, err := os.Stat(filepath.Join(dir, dirMetadataName)); err != nil {
		t.Fatalf("Expected _metadata sidecar: %v", err)
	}
	if _, err := os.Stat(filepath.Join(w.DatasetDir(schema.DatasetEquityOHLC), commonMetadataName)); err != nil {
		t.Fatalf("Expected _common_metadata sidecar: %v", err)
	}
}

func TestWriter_RoundTripPreservesValues(t *testing.T) {
	w := testWriter(t)

	in := barRow("RELIANCE", 15, 2500.55)
	in["isin"] = "INE002A01018"
	// settlement_price stays absent and must come back as null.
	f := equityFrame(in)

	res, err := w.Write(context.Background(), f, WriteOptions{Key: "2024-01-15"})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := ReadParquet(res.Paths[0], f.Schema)
	if err != nil {
		t.Fatalf("Reading parquet back failed: %v", err)
	}
	if got.Len() != 1 {
		t.Fatalf("Expected 1 row, got %d", got.Len())
	}
	r := got.Rows[0]

	if v, _ := frame.GetString(r, "symbol"); v != "RELIANCE" {
		t.Fatalf("Expected symbol RELIANCE, got %q", v)
	}
	if v, _ := frame.GetString(r, "isin"); v != "INE002A01018" {
		t.Fatalf("Expected isin INE002A01018, got %q", v)
	}
	if v, _ := frame.GetFloat(r, "close"); v != 2500.55 {
		t.Fatalf("Expected close 2500.55, got %v", v)
	}
	if v, _ := frame.GetInt(r, "volume"); v != 1000 {
		t.Fatalf("Expected volume 1000, got %d", v)
	}
	if v, _ := frame.GetBool(r, "is_trading_day"); !v {
		t.Fatal("Expected is_trading_day true")
	}
	if !frame.IsNull(r, "settlement_price") {
		t.Fatalf("Expected null settlement_price, got %v", r["settlement_price"])
	}
	if v, _ := frame.GetInt(r, "event_time"); v != 1705276800000 {
		t.Fatalf("Expected event_time 1705276800000, got %d", v)
	}
}

func TestWriter_SplitsRowsAcrossPartitions(t *testing.T) {
	w := testWriter(t)

	f := equityFrame(
		barRow("RELIANCE", 15, 2500),
		barRow("RELIANCE", 16, 2510),
		barRow("TCS", 16, 3700),
	)

	res, err := w.Write(context.Background(), f, WriteOptions{Key: "backfill-jan"})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(res.Paths) != 2 {
		t.Fatalf("Expected 2 data files, got %d", len(res.Paths))
	}
	if res.Rows != 3 {
		t.Fatalf("Expected 3 rows written, got %d", res.Rows)
	}

	day15, err := ReadParquet(res.Paths[0], f.Schema)
	if err != nil {
		t.Fatalf("Reading day 15 failed: %v", err)
	}
	if day15.Len() != 1 {
		t.Fatalf("Expected 1 row on day 15, got %d", day15.Len())
	}
	day16, err := ReadParquet(res.Paths[1], f.Schema)
	if err != nil {
		t.Fatalf("Reading day 16 failed: %v", err)
	}
	if day16.Len() != 2 {
		t.Fatalf("Expected 2 rows on day 16, got %d", day16.Len())
	}
}

func TestWriter_SkipsCompletedPartitions(t *testing.T) {
	w := testWriter(t)

	f := equityFrame(barRow("RELIANCE", 15, 2500))
	if _, err := w.Write(context.Background(), f, WriteOptions{Key: "2024-01-15"}); err != nil {
		t.Fatalf("First write failed: %v", err)
	}

	res, err := w.Write(context.Background(), f, WriteOptions{Key: "2024-01-15"})
	if err != nil {
		t.Fatalf("Second write failed: %v", err)
	}
	if res.SkippedPartitions != 1 {
		t.Fatalf("Expected 1 skipped partition, got %d", res.SkippedPartitions)
	}
	if res.Rows != 0 {
		t.Fatalf("Expected no rows written on re-run, got %d", res.Rows)
	}
	if len(res.Paths) != 0 {
		t.Fatalf("Expected no new data files, got %v", res.Paths)
	}
}

func TestWriter_SubPartitionKeysShareDirectory(t *testing.T) {
	w := testWriter(t)

	f := frame.New(schema.BulkBlockDeals())
	f.Append(frame.Row{
		"event_id":         "evt-bulk-1",
		"event_time":       int64(1705276800000),
		"ingest_time":      int64(1705341000000),
		"source":           "NSE_BULK_DEALS",
		"schema_version":   "1.0.0",
		"entity_id":        "RELIANCE:UNKNOWN:NSE",
		"deal_date":        "2024-01-15",
		"symbol":           "RELIANCE",
		"client_name":      "SOME FUND",
		"deal_type":        "BULK",
		"transaction_type": "BUY",
		"quantity":         int64(150000),
		"trade_price":      2501.25,
		"year":             int64(2024),
		"month":            int64(1),
		"day":              int64(15),
	})

	if _, err := w.Write(context.Background(), f, WriteOptions{Key: "2024-01-15.bulk"}); err != nil {
		t.Fatalf("Bulk write failed: %v", err)
	}
	block := frame.New(f.Schema)
	row := frame.Row{}
	for k, v := range f.Rows[0] {
		row[k] = v
	}
	row["event_id"] = "evt-block-1"
	row["deal_type"] = "BLOCK"
	block.Append(row)
	if _, err := w.Write(context.Background(), block, WriteOptions{Key: "2024-01-15.block"}); err != nil {
		t.Fatalf("Block write failed: %v", err)
	}

	dir := w.PartitionDir(schema.DatasetBulkBlockDeals, 2024, 1, 15)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Listing partition dir failed: %v", err)
	}
	var dataFiles int
	for _, e := range entries {
		if isDataFile(e.Name()) {
			dataFiles++
		}
	}
	if dataFiles != 2 {
		t.Fatalf("Expected 2 data files for bulk and block keys, got %d", dataFiles)
	}

	var m Markers
	if !m.IsComplete(dir, "2024-01-15.bulk") || !m.IsComplete(dir, "2024-01-15.block") {
		t.Fatal("Expected independent completion markers for both keys")
	}
}

// negativeCloseRule flags rows whose close is zero or negative.
func negativeCloseRule() validate.Rule {
	return &validate.CustomRule{
		RuleName: "close_positive",
		Sev:      validate.Critical,
		Requires: []string{"close"},
		Fn: func(row frame.Row, idx int) []validate.Detail {
			if v, ok := frame.GetFloat(row, "close"); ok && v <= 0 {
				return []validate.Detail{{
					RowIndex: idx,
					Field:    "close",
					Message:  fmt.Sprintf("close %v must be positive", v),
				}}
			}
			return nil
		},
	}
}

func TestWriter_QuarantineAbortsWhenConfigured(t *testing.T) {
	w := testWriter(t)

	bad := barRow("BADCO", 15, -10)
	f := equityFrame(barRow("RELIANCE", 15, 2500), bad)

	engine := validate.NewEngine(validate.WithRules(negativeCloseRule()))
	res, err := w.Write(context.Background(), f, WriteOptions{
		Key:                    "2024-01-15",
		Engine:                 engine,
		FailOnValidationErrors: true,
	})
	if err == nil {
		t.Fatal("Expected write to abort on critical validation failure")
	}
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("Expected validation error kind, got %v", errs.KindOf(err))
	}
	if res.Quarantined != 1 {
		t.Fatalf("Expected 1 quarantined row, got %d", res.Quarantined)
	}

	// The bad row landed in quarantine with its violation message.
	q, qerr := ReadParquet(res.QuarantinePath, quarantineSchema(f.Schema))
	if qerr != nil {
		t.Fatalf("Reading quarantine file failed: %v", qerr)
	}
	if q.Len() != 1 {
		t.Fatalf("Expected 1 quarantined row, got %d", q.Len())
	}
	if v, _ := frame.GetString(q.Rows[0], "symbol"); v != "BADCO" {
		t.Fatalf("Expected quarantined symbol BADCO, got %q", v)
	}
	if v, _ := frame.GetString(q.Rows[0], "validation_errors"); v == "" {
		t.Fatal("Expected a validation message on the quarantined row")
	}

	// No partition output may exist after an aborted write.
	dir := w.PartitionDir(schema.DatasetEquityOHLC, 2024, 1, 15)
	if _, statErr := os.Stat(dir); !os.IsNotExist(statErr) {
		t.Fatalf("Expected no partition directory after abort, stat err %v", statErr)
	}
}

func TestWriter_QuarantineKeepsValidRowsWhenNotAborting(t *testing.T) {
	w := testWriter(t)

	f := equityFrame(
		barRow("RELIANCE", 15, 2500),
		barRow("BADCO", 15, -10),
		barRow("TCS", 15, 3700),
	)

	engine := validate.NewEngine(validate.WithRules(negativeCloseRule()))
	res, err := w.Write(context.Background(), f, WriteOptions{
		Key:    "2024-01-15",
		Engine: engine,
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if res.Quarantined != 1 {
		t.Fatalf("Expected 1 quarantined row, got %d", res.Quarantined)
	}
	if res.Rows != 2 {
		t.Fatalf("Expected 2 valid rows written, got %d", res.Rows)
	}

	got, err := ReadParquet(res.Paths[0], f.Schema)
	if err != nil {
		t.Fatalf("Reading partition file failed: %v", err)
	}
	for _, r := range got.Rows {
		if sym, _ := frame.GetString(r, "symbol"); sym == "BADCO" {
			t.Fatal("Expected quarantined row to be excluded from partition output")
		}
	}
}

func TestWriter_RejectsEmptyKey(t *testing.T) {
	w := testWriter(t)
	f := equityFrame(barRow("RELIANCE", 15, 2500))

	_, err := w.Write(context.Background(), f, WriteOptions{})
	if err == nil {
		t.Fatal("Expected error for empty idempotency key")
	}
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("Expected validation error kind, got %v", errs.KindOf(err))
	}
}

func TestWriter_RejectsUnknownCompression(t *testing.T) {
	w := testWriter(t)
	f := equityFrame(barRow("RELIANCE", 15, 2500))

	_, err := w.Write(context.Background(), f, WriteOptions{Key: "2024-01-15", Compression: "lz77"})
	if err == nil {
		t.Fatal("Expected error for unknown compression codec")
	}
}

func TestWriter_RejectsRowsMissingPartitionColumns(t *testing.T) {
	w := testWriter(t)

	r := barRow("RELIANCE", 15, 2500)
	delete(r, "day")
	f := equityFrame(r)

	_, err := w.Write(context.Background(), f, WriteOptions{Key: "2024-01-15"})
	if err == nil {
		t.Fatal("Expected error for missing partition column")
	}
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("Expected validation error kind, got %v", errs.KindOf(err))
	}
}

func TestWriter_GzipCodecProducesReadableFile(t *testing.T) {
	w := testWriter(t)
	f := equityFrame(barRow("RELIANCE", 15, 2500))

	res, err := w.Write(context.Background(), f, WriteOptions{Key: "2024-01-15", Compression: CompressionGzip})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if filepath.Base(res.Paths[0]) != "part-2024-01-15-00000.gzip.parquet" {
		t.Fatalf("Expected gzip file name, got %q", filepath.Base(res.Paths[0]))
	}
	got, err := ReadParquet(res.Paths[0], f.Schema)
	if err != nil {
		t.Fatalf("Reading gzip parquet failed: %v", err)
	}
	if got.Len() != 1 {
		t.Fatalf("Expected 1 row, got %d", got.Len())
	}
}
