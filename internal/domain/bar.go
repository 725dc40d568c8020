package domain

// EquityBar is the canonical daily OHLC row shared by NSE and BSE.
// Field names correspond to the equity_ohlc dataset columns.
type EquityBar struct {
	EventID       string // UUIDv5 of source + trade date + business key
	EventTimeMs   int64  // trade date 00:00 UTC in milliseconds
	IngestTimeMs  int64  // wall clock at parse time (ms)
	Source        Source
	SchemaVersion string
	EntityID      string // SYMBOL:INSTRUMENT_ID:EXCHANGE

	InstrumentID   *string
	Symbol         string
	Exchange       string // "NSE" | "BSE"
	ISIN           *string
	InstrumentType *string
	Series         *string
	TradeDate      string // ISO YYYY-MM-DD

	PrevClose       *float64
	Open            float64
	High            float64
	Low             float64
	Close           float64
	LastPrice       *float64
	SettlementPrice *float64

	Volume   int64
	Turnover float64
	Trades   int64

	AdjustmentFactor float64 // 1.0 unless a corporate action applies
	AdjustmentDate   *string
	IsTradingDay     bool

	Year  int
	Month int
	Day   int
}

// Row converts the bar to a canonical frame row. Nil pointers become
// null cells.
func (b *EquityBar) Row() map[string]any {
	r := map[string]any{
		"event_id":          b.EventID,
		"event_time":        b.EventTimeMs,
		"ingest_time":       b.IngestTimeMs,
		"source":            string(b.Source),
		"schema_version":    b.SchemaVersion,
		"entity_id":         b.EntityID,
		"symbol":            b.Symbol,
		"exchange":          b.Exchange,
		"trade_date":        b.TradeDate,
		"open":              b.Open,
		"high":              b.High,
		"low":               b.Low,
		"close":             b.Close,
		"volume":            b.Volume,
		"turnover":          b.Turnover,
		"trades":            b.Trades,
		"adjustment_factor": b.AdjustmentFactor,
		"is_trading_day":    b.IsTradingDay,
		"year":              int64(b.Year),
		"month":             int64(b.Month),
		"day":               int64(b.Day),
	}
	putString(r, "instrument_id", b.InstrumentID)
	putString(r, "isin", b.ISIN)
	putString(r, "instrument_type", b.InstrumentType)
	putString(r, "series", b.Series)
	putString(r, "adjustment_date", b.AdjustmentDate)
	putFloat(r, "prev_close", b.PrevClose)
	putFloat(r, "last_price", b.LastPrice)
	putFloat(r, "settlement_price", b.SettlementPrice)
	return r
}

func putString(r map[string]any, col string, v *string) {
	if v == nil {
		r[col] = nil
		return
	}
	r[col] = *v
}

func putFloat(r map[string]any, col string, v *float64) {
	if v == nil {
		r[col] = nil
		return
	}
	r[col] = *v
}
