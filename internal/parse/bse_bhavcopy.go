package parse

import (
	"fmt"

	"marketlake/internal/domain"
	"marketlake/internal/frame"
	"marketlake/internal/idhash"
	"marketlake/internal/schema"
)

// bseBhavcopyHeader is the EQ_ISINCODE bhavcopy layout BSE ships inside
// its daily ZIP.
var bseBhavcopyHeader = []string{
	"SC_CODE", "SC_NAME", "SC_GROUP", "SC_TYPE", "OPEN", "HIGH", "LOW",
	"CLOSE", "LAST", "PREVCLOSE", "NO_TRADES", "NO_OF_SHRS", "NET_TURNOV",
	"TDCLOINDI", "ISIN_CODE",
}

const (
	bseColScCode = iota
	bseColScName
	bseColScGroup
	bseColScType
	bseColOpen
	bseColHigh
	bseColLow
	bseColClose
	bseColLast
	bseColPrevClose
	bseColNoTrades
	bseColNoOfShrs
	bseColNetTurnov
	bseColTdCloIndi
	bseColISINCode
)

// BSEBhavcopy parses the daily BSE equity bhavcopy ZIP. BSE columns are
// renamed into the shared canonical layout; fields BSE does not publish
// stay null.
type BSEBhavcopy struct{}

func (BSEBhavcopy) Source() domain.Source { return domain.SourceBSEEquityBar }

func (BSEBhavcopy) Schema() schema.Schema { return schema.EquityOHLC() }

func (p BSEBhavcopy) Parse(raw []byte, meta Meta) (*Result, error) {
	payload, err := MaybeUnzip(raw)
	if err != nil {
		return nil, fmt.Errorf("bse bhavcopy: %w", err)
	}
	header, records, err := readCSV(payload)
	if err != nil {
		return nil, fmt.Errorf("bse bhavcopy: %w", err)
	}
	if err := checkHeader(header, bseBhavcopyHeader); err != nil {
		return nil, fmt.Errorf("bse bhavcopy: %w", err)
	}

	out := frame.New(schema.EquityOHLC())
	rawFrame := frame.New(schema.BSEBhavcopyRaw())
	dropped := 0

	for i, rec := range records {
		scrip := parseString(cell(rec, bseColScName))
		if scrip == nil {
			dropped++
			continue
		}

		bar, err := p.mapBar(rec, *scrip, meta)
		if err != nil {
			return nil, fmt.Errorf("bse bhavcopy: %w", rowError(i+1, err))
		}
		if bar == nil {
			dropped++
			continue
		}
		out.Append(bar.Row())

		rawRow, err := p.mapRaw(rec, *scrip, meta)
		if err != nil {
			return nil, fmt.Errorf("bse bhavcopy: %w", rowError(i+1, err))
		}
		rawFrame.Append(rawRow)
	}

	return &Result{Frame: out, Raw: rawFrame, Dropped: dropped}, nil
}

func (p BSEBhavcopy) mapBar(rec []string, name string, meta Meta) (*domain.EquityBar, error) {
	open, err := parseFloat(cell(rec, bseColOpen))
	if err != nil {
		return nil, err
	}
	high, err := parseFloat(cell(rec, bseColHigh))
	if err != nil {
		return nil, err
	}
	low, err := parseFloat(cell(rec, bseColLow))
	if err != nil {
		return nil, err
	}
	cls, err := parseFloat(cell(rec, bseColClose))
	if err != nil {
		return nil, err
	}
	if open == nil || high == nil || low == nil || cls == nil {
		return nil, nil
	}

	prevClose, err := parseFloat(cell(rec, bseColPrevClose))
	if err != nil {
		return nil, err
	}
	lastPrice, err := parseFloat(cell(rec, bseColLast))
	if err != nil {
		return nil, err
	}
	volume, err := parseInt(cell(rec, bseColNoOfShrs))
	if err != nil {
		return nil, err
	}
	turnover, err := parseFloat(cell(rec, bseColNetTurnov))
	if err != nil {
		return nil, err
	}
	trades, err := parseInt(cell(rec, bseColNoTrades))
	if err != nil {
		return nil, err
	}

	scCode := parseString(cell(rec, bseColScCode))
	entityID := idhash.ComputeEntityID(name, scCode, domain.ExchangeBSE)
	year, month, day, err := domain.Partition(meta.TradeDate)
	if err != nil {
		return nil, err
	}
	eventTime, err := domain.MidnightMs(meta.TradeDate)
	if err != nil {
		return nil, err
	}

	return &domain.EquityBar{
		EventID:          idhash.ComputeEventID(domain.SourceBSEEquityBar, meta.TradeDate, entityID),
		EventTimeMs:      eventTime,
		IngestTimeMs:     meta.now().UnixMilli(),
		Source:           domain.SourceBSEEquityBar,
		SchemaVersion:    meta.SchemaVersion,
		EntityID:         entityID,
		InstrumentID:     scCode,
		Symbol:           name,
		Exchange:         domain.ExchangeBSE,
		ISIN:             parseString(cell(rec, bseColISINCode)),
		InstrumentType:   parseString(cell(rec, bseColScType)),
		Series:           parseString(cell(rec, bseColScGroup)),
		TradeDate:        meta.TradeDate,
		PrevClose:        prevClose,
		Open:             *open,
		High:             *high,
		Low:              *low,
		Close:            *cls,
		LastPrice:        lastPrice,
		SettlementPrice:  nil,
		Volume:           orZeroInt(volume),
		Turnover:         orZero(turnover),
		Trades:           orZeroInt(trades),
		AdjustmentFactor: 1.0,
		IsTradingDay:     true,
		Year:             year,
		Month:            month,
		Day:              day,
	}, nil
}

func (p BSEBhavcopy) mapRaw(rec []string, name string, meta Meta) (frame.Row, error) {
	year, month, day, err := domain.Partition(meta.TradeDate)
	if err != nil {
		return nil, err
	}
	row := frame.Row{
		"sc_code":    cellOr(rec, bseColScCode, "UNKNOWN"),
		"sc_name":    name,
		"trade_date": meta.TradeDate,
		"year":       int64(year),
		"month":      int64(month),
		"day":        int64(day),
	}
	putStringCell(row, "sc_group", cell(rec, bseColScGroup))
	putStringCell(row, "sc_type", cell(rec, bseColScType))
	putStringCell(row, "tdcloindi", cell(rec, bseColTdCloIndi))
	putStringCell(row, "isin_code", cell(rec, bseColISINCode))

	floatCols := []struct {
		name string
		col  int
	}{
		{"open", bseColOpen}, {"high", bseColHigh}, {"low", bseColLow},
		{"close", bseColClose}, {"last", bseColLast},
		{"prevclose", bseColPrevClose}, {"net_turnov", bseColNetTurnov},
	}
	for _, fc := range floatCols {
		v, err := parseFloat(cell(rec, fc.col))
		if err != nil {
			return nil, err
		}
		if v == nil {
			row[fc.name] = nil
		} else {
			row[fc.name] = *v
		}
	}
	intCols := []struct {
		name string
		col  int
	}{
		{"no_trades", bseColNoTrades}, {"no_of_shrs", bseColNoOfShrs},
	}
	for _, ic := range intCols {
		v, err := parseInt(cell(rec, ic.col))
		if err != nil {
			return nil, err
		}
		if v == nil {
			row[ic.name] = nil
		} else {
			row[ic.name] = *v
		}
	}
	return row, nil
}

var _ Parser = BSEBhavcopy{}
