package parse

import (
	"fmt"

	"marketlake/internal/domain"
	"marketlake/internal/frame"
	"marketlake/internal/idhash"
	"marketlake/internal/schema"
)

// symbolMasterHeader is the EQUITY_L layout of the NSE listed-security
// master.
var symbolMasterHeader = []string{
	"SYMBOL", "NAME OF COMPANY", "SERIES", "DATE OF LISTING",
	"PAID UP VALUE", "MARKET LOT", "ISIN NUMBER", "FACE VALUE",
}

const (
	masterColSymbol = iota
	masterColCompanyName
	masterColSeries
	masterColDateOfListing
	masterColPaidUpValue
	masterColMarketLot
	masterColISIN
	masterColFaceValue
)

// SymbolMaster parses the NSE listed-security master CSV. The ISIN
// doubles as the canonical instrument_id since it is the only stable
// cross-exchange identifier the master carries.
type SymbolMaster struct{}

func (SymbolMaster) Source() domain.Source { return domain.SourceNSEMaster }

func (SymbolMaster) Schema() schema.Schema { return schema.SymbolMaster() }

func (p SymbolMaster) Parse(raw []byte, meta Meta) (*Result, error) {
	header, records, err := readCSV(raw)
	if err != nil {
		return nil, fmt.Errorf("symbol master: %w", err)
	}
	if err := checkHeader(header, symbolMasterHeader); err != nil {
		return nil, fmt.Errorf("symbol master: %w", err)
	}

	out := frame.New(schema.SymbolMaster())
	dropped := 0

	for i, rec := range records {
		symbol := parseString(cell(rec, masterColSymbol))
		isin := parseString(cell(rec, masterColISIN))
		if symbol == nil || isin == nil {
			dropped++
			continue
		}
		row, err := p.mapSecurity(rec, *symbol, *isin, meta)
		if err != nil {
			return nil, fmt.Errorf("symbol master: %w", rowError(i+1, err))
		}
		out.Append(row)
	}

	return &Result{Frame: out, Dropped: dropped}, nil
}

func (p SymbolMaster) mapSecurity(rec []string, symbol, isin string, meta Meta) (frame.Row, error) {
	series := "EQ"
	if v := parseString(cell(rec, masterColSeries)); v != nil {
		series = *v
	}

	paidUp, err := parseFloat(cell(rec, masterColPaidUpValue))
	if err != nil {
		return nil, err
	}
	marketLot, err := parseInt(cell(rec, masterColMarketLot))
	if err != nil {
		return nil, err
	}
	faceValue, err := parseFloat(cell(rec, masterColFaceValue))
	if err != nil {
		return nil, err
	}

	row := frame.Row{
		"symbol":        symbol,
		"series":        series,
		"isin":          isin,
		"instrument_id": isin,
	}
	putStringCell(row, "company_name", cell(rec, masterColCompanyName))
	if v := parseString(cell(rec, masterColDateOfListing)); v != nil {
		listed, err := domain.ParseFlexibleDate(*v)
		if err != nil {
			return nil, err
		}
		row["date_of_listing"] = listed
	} else {
		row["date_of_listing"] = nil
	}
	if paidUp == nil {
		row["paid_up_value"] = nil
	} else {
		row["paid_up_value"] = *paidUp
	}
	if marketLot == nil {
		row["market_lot"] = nil
	} else {
		row["market_lot"] = *marketLot
	}
	if faceValue == nil {
		row["face_value"] = nil
	} else {
		row["face_value"] = *faceValue
	}

	key := fmt.Sprintf("%s:%s", symbol, series)
	entityID := idhash.ComputeEntityID(symbol, &isin, domain.ExchangeNSE)
	if err := stampEnvelope(row, domain.SourceNSEMaster, meta.TradeDate, key, entityID, meta); err != nil {
		return nil, err
	}
	return row, nil
}

var _ Parser = SymbolMaster{}
