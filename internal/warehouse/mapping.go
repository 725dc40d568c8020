package warehouse

import "marketlake/internal/schema"

// TableMapping binds a warehouse table to the canonical dataset that
// feeds it. Columns maps warehouse column name to frame column name;
// Constants supplies fixed values for columns the frame does not carry.
type TableMapping struct {
	Table     string
	Dataset   string
	Columns   map[string]string
	Constants map[string]any
}

// Warehouse table names. The DDL lives under migrations/.
const (
	TableRawEquityOHLC     = "raw_equity_ohlc"
	TableEquityOHLC        = "normalized_equity_ohlc"
	TableEquityIndicators  = "features_equity_indicators"
	TableBulkBlockDeals    = "bulk_block_deals"
	TableIndexConstituents = "index_constituents"
	TableOptionChain       = "option_chain"
	TableTradingCalendar   = "trading_calendar"
	TableCorporateActions  = "corporate_actions"
	TableSymbolMaster      = "symbol_master"
	TableFinancials        = "quarterly_financials"
)

// envelopeColumns are shared by every normalized table.
var envelopeColumns = []string{
	"event_id", "event_time", "ingest_time", "source", "schema_version", "entity_id",
}

// identity maps each named column to the frame column of the same name.
func identity(cols ...string) map[string]string {
	m := make(map[string]string, len(cols)+len(envelopeColumns))
	for _, c := range envelopeColumns {
		m[c] = c
	}
	for _, c := range cols {
		m[c] = c
	}
	return m
}

var mappings = []TableMapping{
	{
		Table:   TableRawEquityOHLC,
		Dataset: schema.DatasetNSEBhavcopyRaw,
		Columns: map[string]string{
			"trade_date":       "trade_date",
			"symbol":           "tckr_symb",
			"native_code":      "fin_instrm_id",
			"series":           "scty_srs",
			"instrument_type":  "fin_instrm_tp",
			"isin":             "isin",
			"open":             "opn_pric",
			"high":             "hgh_pric",
			"low":              "lw_pric",
			"close":            "cls_pric",
			"last_price":       "last_pric",
			"prev_close":       "prvs_clsg_pric",
			"settlement_price": "sttlm_pric",
			"volume":           "ttl_tradg_vol",
			"turnover":         "ttl_trf_val",
			"trades":           "ttl_nb_of_txs_exctd",
		},
		Constants: map[string]any{"source": "NSE"},
	},
	{
		Table:   TableRawEquityOHLC,
		Dataset: schema.DatasetBSEBhavcopyRaw,
		Columns: map[string]string{
			"trade_date":      "trade_date",
			"symbol":          "sc_name",
			"native_code":     "sc_code",
			"series":          "sc_group",
			"instrument_type": "sc_type",
			"isin":            "isin_code",
			"open":            "open",
			"high":            "high",
			"low":             "low",
			"close":           "close",
			"last_price":      "last",
			"prev_close":      "prevclose",
			"volume":          "no_of_shrs",
			"turnover":        "net_turnov",
			"trades":          "no_trades",
		},
		Constants: map[string]any{"source": "BSE"},
	},
	{
		Table:   TableEquityOHLC,
		Dataset: schema.DatasetEquityOHLC,
		Columns: identity(
			"instrument_id", "symbol", "exchange", "isin", "instrument_type",
			"series", "trade_date", "prev_close", "open", "high", "low",
			"close", "last_price", "settlement_price", "volume", "turnover",
			"trades", "adjustment_factor", "adjustment_date", "is_trading_day",
		),
	},
	{
		Table:   TableEquityIndicators,
		Dataset: "equity_indicators",
		Columns: map[string]string{
			"trade_date": "trade_date",
			"symbol":     "symbol",
			"indicator":  "indicator",
			"window":     "window",
			"value":      "value",
		},
	},
	{
		Table:   TableBulkBlockDeals,
		Dataset: schema.DatasetBulkBlockDeals,
		Columns: identity(
			"deal_date", "symbol", "security_name", "client_name",
			"deal_type", "transaction_type", "quantity", "trade_price", "remarks",
		),
	},
	{
		Table:   TableIndexConstituents,
		Dataset: schema.DatasetIndexConstituents,
		Columns: identity(
			"index_name", "symbol", "series", "isin", "action",
			"effective_date", "weight",
		),
	},
	{
		Table:   TableOptionChain,
		Dataset: schema.DatasetOptionChain,
		Columns: identity(
			"underlying", "snapshot_time", "trade_date", "expiry", "strike",
			"option_type", "last_price", "bid", "ask", "volume",
			"open_interest", "change_in_oi", "implied_volatility", "underlying_value",
		),
	},
	{
		Table:   TableTradingCalendar,
		Dataset: schema.DatasetTradingCalendar,
		Columns: identity("date", "exchange", "is_trading_day", "holiday_name"),
	},
	{
		Table:   TableCorporateActions,
		Dataset: schema.DatasetCorporateActions,
		Columns: identity(
			"symbol", "series", "isin", "ex_date", "record_date",
			"bc_start_date", "bc_end_date", "action_type", "purpose", "face_value",
		),
	},
	{
		Table:   TableSymbolMaster,
		Dataset: schema.DatasetSymbolMaster,
		Columns: identity(
			"symbol", "company_name", "series", "isin", "instrument_id",
			"date_of_listing", "paid_up_value", "market_lot", "face_value",
		),
	},
	{
		Table:   TableFinancials,
		Dataset: schema.DatasetQuarterlyFinancials,
		Columns: identity(
			"symbol", "isin", "period_start", "period_end",
			"field", "value", "unit", "rounding",
		),
	},
}

// MappingFor returns the column mapping that loads the given dataset
// into the given table.
func MappingFor(table, dataset string) (TableMapping, bool) {
	for _, m := range mappings {
		if m.Table == table && m.Dataset == dataset {
			return m, true
		}
	}
	return TableMapping{}, false
}

// TableForDataset returns the default destination table for a dataset.
func TableForDataset(dataset string) (string, bool) {
	for _, m := range mappings {
		if m.Dataset == dataset {
			return m.Table, true
		}
	}
	return "", false
}
