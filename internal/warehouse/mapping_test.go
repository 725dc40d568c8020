package warehouse

import (
	"testing"

	"github.com/stretchr/testify/require"

	"marketlake/internal/schema"
)

// Every mapped frame column must exist in the dataset schema it claims
// to read from, otherwise the plan builder reports it missing at load
// time for every single run.
func TestMappings_FrameColumnsExist(t *testing.T) {
	for _, m := range mappings {
		s, ok := schema.ByName(m.Dataset)
		if !ok {
			// Derived datasets (indicator features) are produced by
			// downstream jobs and carry their own frame schema.
			continue
		}
		for whCol, frameCol := range m.Columns {
			require.True(t, s.Has(frameCol),
				"table %s column %s reads frame column %s which dataset %s does not declare",
				m.Table, whCol, frameCol, m.Dataset)
		}
	}
}

func TestMappings_EveryCanonicalDatasetHasATable(t *testing.T) {
	datasets := []string{
		schema.DatasetEquityOHLC,
		schema.DatasetBulkBlockDeals,
		schema.DatasetIndexConstituents,
		schema.DatasetOptionChain,
		schema.DatasetCorporateActions,
		schema.DatasetSymbolMaster,
		schema.DatasetQuarterlyFinancials,
		schema.DatasetTradingCalendar,
		schema.DatasetNSEBhavcopyRaw,
		schema.DatasetBSEBhavcopyRaw,
	}
	for _, d := range datasets {
		table, ok := TableForDataset(d)
		require.True(t, ok, "dataset %s has no destination table", d)
		require.NotEmpty(t, table)
	}
}

func TestMappingFor_BothExchangesFeedRawTable(t *testing.T) {
	nse, ok := MappingFor(TableRawEquityOHLC, schema.DatasetNSEBhavcopyRaw)
	require.True(t, ok)
	require.Equal(t, "NSE", nse.Constants["source"])
	require.Equal(t, "tckr_symb", nse.Columns["symbol"])

	bse, ok := MappingFor(TableRawEquityOHLC, schema.DatasetBSEBhavcopyRaw)
	require.True(t, ok)
	require.Equal(t, "BSE", bse.Constants["source"])
	require.Equal(t, "sc_name", bse.Columns["symbol"])

	_, ok = MappingFor(TableRawEquityOHLC, schema.DatasetEquityOHLC)
	require.False(t, ok, "canonical bars do not load into the raw table")
}

func TestMappings_EnvelopeCoveredForNormalizedTables(t *testing.T) {
	for _, m := range mappings {
		if m.Table == TableRawEquityOHLC || m.Table == TableEquityIndicators {
			continue
		}
		for _, c := range envelopeColumns {
			_, mapped := m.Columns[c]
			require.True(t, mapped, "table %s does not map envelope column %s", m.Table, c)
		}
	}
}
