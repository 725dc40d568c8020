package domain

// Source identifies an external data provider feeding the lake.
type Source string

const (
	SourceNSEEquityBar      Source = "NSE_EQ_BAR"
	SourceBSEEquityBar      Source = "BSE_EQ_BAR"
	SourceNSEBulkDeals      Source = "NSE_BULK_DEALS"
	SourceNSEConstituents   Source = "NSE_INDEX_CONSTITUENT"
	SourceNSEOptionChain    Source = "NSE_OPTION_CHAIN"
	SourceNSEMaster         Source = "NSE_MASTER"
	SourceNSECorpActions    Source = "NSE_CORP_ACTION"
	SourceNSETradingHoliday Source = "NSE_TRADING_HOLIDAY"
	SourceXBRLFinancials    Source = "XBRL_FINANCIALS"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is a known value.
func (s Source) IsValid() bool {
	switch s {
	case SourceNSEEquityBar, SourceBSEEquityBar, SourceNSEBulkDeals,
		SourceNSEConstituents, SourceNSEOptionChain, SourceNSEMaster,
		SourceNSECorpActions, SourceNSETradingHoliday, SourceXBRLFinancials:
		return true
	}
	return false
}

// Exchange codes used in the canonical exchange column and as
// deduplication preference keys.
const (
	ExchangeNSE = "NSE"
	ExchangeBSE = "BSE"
)
