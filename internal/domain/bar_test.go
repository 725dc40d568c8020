package domain

import "testing"

func ptr[T any](v T) *T { return &v }

func TestEquityBar_Row(t *testing.T) {
	b := &EquityBar{
		EventID:          "e1",
		EventTimeMs:      1705276800000,
		IngestTimeMs:     1705300000000,
		Source:           SourceNSEEquityBar,
		SchemaVersion:    "1.0",
		EntityID:         "RELIANCE:INE002A01018:NSE",
		InstrumentID:     ptr("INE002A01018"),
		Symbol:           "RELIANCE",
		Exchange:         ExchangeNSE,
		ISIN:             ptr("INE002A01018"),
		Series:           ptr("EQ"),
		TradeDate:        "2024-01-15",
		PrevClose:        ptr(2810.0),
		Open:             2820.0,
		High:             2865.0,
		Low:              2815.5,
		Close:            2850.5,
		Volume:           1200000,
		Turnover:         3.4e9,
		Trades:           85000,
		AdjustmentFactor: 1.0,
		IsTradingDay:     true,
		Year:             2024,
		Month:            1,
		Day:              15,
	}

	r := b.Row()

	if r["symbol"] != "RELIANCE" || r["exchange"] != "NSE" {
		t.Errorf("identity columns wrong: %v %v", r["symbol"], r["exchange"])
	}
	if r["close"] != 2850.5 {
		t.Errorf("close = %v", r["close"])
	}
	if r["volume"] != int64(1200000) {
		t.Errorf("volume = %v (%T)", r["volume"], r["volume"])
	}
	if r["isin"] != "INE002A01018" {
		t.Errorf("isin = %v", r["isin"])
	}
	if r["instrument_type"] != nil {
		t.Errorf("nil pointer should map to null, got %v", r["instrument_type"])
	}
	if r["settlement_price"] != nil {
		t.Errorf("nil settlement_price should map to null, got %v", r["settlement_price"])
	}
	if r["year"] != int64(2024) || r["month"] != int64(1) || r["day"] != int64(15) {
		t.Errorf("partition columns wrong: %v %v %v", r["year"], r["month"], r["day"])
	}
	if r["source"] != "NSE_EQ_BAR" {
		t.Errorf("source = %v", r["source"])
	}
}

func TestSource_IsValid(t *testing.T) {
	valid := []Source{
		SourceNSEEquityBar, SourceBSEEquityBar, SourceNSEBulkDeals,
		SourceNSEConstituents, SourceNSEOptionChain, SourceNSEMaster,
		SourceNSECorpActions, SourceNSETradingHoliday, SourceXBRLFinancials,
	}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Source("UNKNOWN").IsValid() {
		t.Error("UNKNOWN should be invalid")
	}
}

func TestPipelineRun_Totals(t *testing.T) {
	r := &PipelineRun{
		Steps: []StepMetric{
			{Name: "fetch", Rows: 0, Status: StepOK},
			{Name: "parse", Rows: 3, Status: StepOK},
			{Name: "write", Rows: 3, Status: StepOK},
		},
	}
	if r.TotalRows() != 6 {
		t.Errorf("TotalRows = %d", r.TotalRows())
	}
}
