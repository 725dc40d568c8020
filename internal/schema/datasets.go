package schema

// Canonical dataset names used across the lake and the warehouse.
const (
	DatasetEquityOHLC          = "equity_ohlc"
	DatasetBulkBlockDeals      = "bulk_block_deals"
	DatasetIndexConstituents   = "index_constituents"
	DatasetOptionChain         = "option_chain"
	DatasetCorporateActions    = "corporate_actions"
	DatasetSymbolMaster        = "symbol_master"
	DatasetQuarterlyFinancials = "quarterly_financials"
	DatasetTradingCalendar     = "trading_calendar"
	DatasetNSEBhavcopyRaw      = "nse_bhavcopy"
	DatasetBSEBhavcopyRaw      = "bse_bhavcopy"
)

// Lake layers. Every dataset lives under exactly one layer directory.
const (
	LayerRaw        = "raw"
	LayerNormalized = "normalized"
	LayerReference  = "reference"
	LayerFeatures   = "features"
)

// Layer returns the lake layer a dataset belongs to. Unknown datasets
// default to normalized.
func Layer(name string) string {
	switch name {
	case DatasetNSEBhavcopyRaw, DatasetBSEBhavcopyRaw:
		return LayerRaw
	case DatasetSymbolMaster, DatasetTradingCalendar, DatasetCorporateActions:
		return LayerReference
	default:
		return LayerNormalized
	}
}

// envelope returns the event envelope columns shared by every
// normalized dataset.
func envelope() []Field {
	return []Field{
		{Name: "event_id", Kind: String},
		{Name: "event_time", Kind: Int64},
		{Name: "ingest_time", Kind: Int64},
		{Name: "source", Kind: String},
		{Name: "schema_version", Kind: String},
		{Name: "entity_id", Kind: String},
	}
}

// partition returns the Hive partition columns derived from the trade date.
func partition() []Field {
	return []Field{
		{Name: "year", Kind: Int64},
		{Name: "month", Kind: Int64},
		{Name: "day", Kind: Int64},
	}
}

// EquityOHLC is the canonical daily bar layout shared by NSE and BSE.
func EquityOHLC() Schema {
	fields := envelope()
	fields = append(fields,
		Field{Name: "instrument_id", Kind: String, Nullable: true},
		Field{Name: "symbol", Kind: String},
		Field{Name: "exchange", Kind: String},
		Field{Name: "isin", Kind: String, Nullable: true},
		Field{Name: "instrument_type", Kind: String, Nullable: true},
		Field{Name: "series", Kind: String, Nullable: true},
		Field{Name: "trade_date", Kind: String},
		Field{Name: "prev_close", Kind: Float64, Nullable: true},
		Field{Name: "open", Kind: Float64},
		Field{Name: "high", Kind: Float64},
		Field{Name: "low", Kind: Float64},
		Field{Name: "close", Kind: Float64},
		Field{Name: "last_price", Kind: Float64, Nullable: true},
		Field{Name: "settlement_price", Kind: Float64, Nullable: true},
		Field{Name: "volume", Kind: Int64},
		Field{Name: "turnover", Kind: Float64},
		Field{Name: "trades", Kind: Int64},
		Field{Name: "adjustment_factor", Kind: Float64},
		Field{Name: "adjustment_date", Kind: String, Nullable: true},
		Field{Name: "is_trading_day", Kind: Bool},
	)
	fields = append(fields, partition()...)
	return New(DatasetEquityOHLC, fields...)
}

// BulkBlockDeals is one row per disclosed deal side.
func BulkBlockDeals() Schema {
	fields := envelope()
	fields = append(fields,
		Field{Name: "deal_date", Kind: String},
		Field{Name: "symbol", Kind: String},
		Field{Name: "security_name", Kind: String, Nullable: true},
		Field{Name: "client_name", Kind: String},
		Field{Name: "deal_type", Kind: String},
		Field{Name: "transaction_type", Kind: String},
		Field{Name: "quantity", Kind: Int64},
		Field{Name: "trade_price", Kind: Float64},
		Field{Name: "remarks", Kind: String, Nullable: true},
	)
	fields = append(fields, partition()...)
	return New(DatasetBulkBlockDeals, fields...)
}

// IndexConstituents is one row per (index, symbol, effective date) action.
func IndexConstituents() Schema {
	fields := envelope()
	fields = append(fields,
		Field{Name: "index_name", Kind: String},
		Field{Name: "symbol", Kind: String},
		Field{Name: "series", Kind: String},
		Field{Name: "isin", Kind: String, Nullable: true},
		Field{Name: "action", Kind: String},
		Field{Name: "effective_date", Kind: String},
		Field{Name: "weight", Kind: Float64, Nullable: true},
	)
	fields = append(fields, partition()...)
	return New(DatasetIndexConstituents, fields...)
}

// OptionChain is one row per (underlying, expiry, strike, side) quote
// in a snapshot.
func OptionChain() Schema {
	fields := envelope()
	fields = append(fields,
		Field{Name: "underlying", Kind: String},
		Field{Name: "snapshot_time", Kind: String},
		Field{Name: "trade_date", Kind: String},
		Field{Name: "expiry", Kind: String},
		Field{Name: "strike", Kind: Float64},
		Field{Name: "option_type", Kind: String},
		Field{Name: "last_price", Kind: Float64, Nullable: true},
		Field{Name: "bid", Kind: Float64, Nullable: true},
		Field{Name: "ask", Kind: Float64, Nullable: true},
		Field{Name: "volume", Kind: Int64},
		Field{Name: "open_interest", Kind: Int64},
		Field{Name: "change_in_oi", Kind: Int64},
		Field{Name: "implied_volatility", Kind: Float64, Nullable: true},
		Field{Name: "underlying_value", Kind: Float64},
	)
	fields = append(fields, partition()...)
	return New(DatasetOptionChain, fields...)
}

// CorporateActions is one row per announced action per symbol.
func CorporateActions() Schema {
	fields := envelope()
	fields = append(fields,
		Field{Name: "symbol", Kind: String},
		Field{Name: "series", Kind: String, Nullable: true},
		Field{Name: "isin", Kind: String, Nullable: true},
		Field{Name: "ex_date", Kind: String},
		Field{Name: "record_date", Kind: String, Nullable: true},
		Field{Name: "bc_start_date", Kind: String, Nullable: true},
		Field{Name: "bc_end_date", Kind: String, Nullable: true},
		Field{Name: "action_type", Kind: String},
		Field{Name: "purpose", Kind: String, Nullable: true},
		Field{Name: "face_value", Kind: Float64, Nullable: true},
	)
	fields = append(fields, partition()...)
	return New(DatasetCorporateActions, fields...)
}

// SymbolMaster is one row per listed security.
func SymbolMaster() Schema {
	fields := envelope()
	fields = append(fields,
		Field{Name: "symbol", Kind: String},
		Field{Name: "company_name", Kind: String, Nullable: true},
		Field{Name: "series", Kind: String},
		Field{Name: "isin", Kind: String},
		Field{Name: "instrument_id", Kind: String},
		Field{Name: "date_of_listing", Kind: String, Nullable: true},
		Field{Name: "paid_up_value", Kind: Float64, Nullable: true},
		Field{Name: "market_lot", Kind: Int64, Nullable: true},
		Field{Name: "face_value", Kind: Float64, Nullable: true},
	)
	fields = append(fields, partition()...)
	return New(DatasetSymbolMaster, fields...)
}

// QuarterlyFinancials is one row per reported fact in a filing.
func QuarterlyFinancials() Schema {
	fields := envelope()
	fields = append(fields,
		Field{Name: "symbol", Kind: String, Nullable: true},
		Field{Name: "isin", Kind: String, Nullable: true},
		Field{Name: "period_start", Kind: String},
		Field{Name: "period_end", Kind: String},
		Field{Name: "field", Kind: String},
		Field{Name: "value", Kind: Float64},
		Field{Name: "unit", Kind: String, Nullable: true},
		Field{Name: "rounding", Kind: String, Nullable: true},
	)
	fields = append(fields, partition()...)
	return New(DatasetQuarterlyFinancials, fields...)
}

// TradingCalendar is one row per (exchange, date).
func TradingCalendar() Schema {
	fields := envelope()
	fields = append(fields,
		Field{Name: "date", Kind: String},
		Field{Name: "exchange", Kind: String},
		Field{Name: "is_trading_day", Kind: Bool},
		Field{Name: "holiday_name", Kind: String, Nullable: true},
	)
	fields = append(fields, partition()...)
	return New(DatasetTradingCalendar, fields...)
}

// NSEBhavcopyRaw preserves the price-relevant source-native UDiFF
// bhavcopy columns for the raw layer. Reserved and session columns are
// dropped here.
func NSEBhavcopyRaw() Schema {
	return New(DatasetNSEBhavcopyRaw,
		Field{Name: "trad_dt", Kind: String},
		Field{Name: "tckr_symb", Kind: String},
		Field{Name: "scty_srs", Kind: String, Nullable: true},
		Field{Name: "fin_instrm_id", Kind: String, Nullable: true},
		Field{Name: "fin_instrm_tp", Kind: String, Nullable: true},
		Field{Name: "isin", Kind: String, Nullable: true},
		Field{Name: "opn_pric", Kind: Float64, Nullable: true},
		Field{Name: "hgh_pric", Kind: Float64, Nullable: true},
		Field{Name: "lw_pric", Kind: Float64, Nullable: true},
		Field{Name: "cls_pric", Kind: Float64, Nullable: true},
		Field{Name: "last_pric", Kind: Float64, Nullable: true},
		Field{Name: "prvs_clsg_pric", Kind: Float64, Nullable: true},
		Field{Name: "sttlm_pric", Kind: Float64, Nullable: true},
		Field{Name: "ttl_tradg_vol", Kind: Int64, Nullable: true},
		Field{Name: "ttl_trf_val", Kind: Float64, Nullable: true},
		Field{Name: "ttl_nb_of_txs_exctd", Kind: Int64, Nullable: true},
		Field{Name: "trade_date", Kind: String},
		Field{Name: "year", Kind: Int64},
		Field{Name: "month", Kind: Int64},
		Field{Name: "day", Kind: Int64},
	)
}

// BSEBhavcopyRaw preserves the source-native BSE bhavcopy columns for
// the raw layer.
func BSEBhavcopyRaw() Schema {
	return New(DatasetBSEBhavcopyRaw,
		Field{Name: "sc_code", Kind: String},
		Field{Name: "sc_name", Kind: String},
		Field{Name: "sc_group", Kind: String, Nullable: true},
		Field{Name: "sc_type", Kind: String, Nullable: true},
		Field{Name: "open", Kind: Float64, Nullable: true},
		Field{Name: "high", Kind: Float64, Nullable: true},
		Field{Name: "low", Kind: Float64, Nullable: true},
		Field{Name: "close", Kind: Float64, Nullable: true},
		Field{Name: "last", Kind: Float64, Nullable: true},
		Field{Name: "prevclose", Kind: Float64, Nullable: true},
		Field{Name: "no_trades", Kind: Int64, Nullable: true},
		Field{Name: "no_of_shrs", Kind: Int64, Nullable: true},
		Field{Name: "net_turnov", Kind: Float64, Nullable: true},
		Field{Name: "tdcloindi", Kind: String, Nullable: true},
		Field{Name: "isin_code", Kind: String, Nullable: true},
		Field{Name: "trade_date", Kind: String},
		Field{Name: "year", Kind: Int64},
		Field{Name: "month", Kind: Int64},
		Field{Name: "day", Kind: Int64},
	)
}

// ByName resolves a dataset schema from its canonical name.
func ByName(name string) (Schema, bool) {
	switch name {
	case DatasetEquityOHLC:
		return EquityOHLC(), true
	case DatasetBulkBlockDeals:
		return BulkBlockDeals(), true
	case DatasetIndexConstituents:
		return IndexConstituents(), true
	case DatasetOptionChain:
		return OptionChain(), true
	case DatasetCorporateActions:
		return CorporateActions(), true
	case DatasetSymbolMaster:
		return SymbolMaster(), true
	case DatasetQuarterlyFinancials:
		return QuarterlyFinancials(), true
	case DatasetTradingCalendar:
		return TradingCalendar(), true
	case DatasetNSEBhavcopyRaw:
		return NSEBhavcopyRaw(), true
	case DatasetBSEBhavcopyRaw:
		return BSEBhavcopyRaw(), true
	default:
		return Schema{}, false
	}
}

// Names lists every dataset name ByName resolves.
func Names() []string {
	return []string{
		DatasetEquityOHLC,
		DatasetBulkBlockDeals,
		DatasetIndexConstituents,
		DatasetOptionChain,
		DatasetCorporateActions,
		DatasetSymbolMaster,
		DatasetQuarterlyFinancials,
		DatasetTradingCalendar,
		DatasetNSEBhavcopyRaw,
		DatasetBSEBhavcopyRaw,
	}
}
