package parse

import (
	"fmt"

	"marketlake/internal/domain"
	"marketlake/internal/frame"
	"marketlake/internal/idhash"
	"marketlake/internal/schema"
)

// nseBhavcopyHeader is the UDiFF capital-market bhavcopy layout NSE has
// published since July 2024. Column order is part of the contract; any
// divergence is schema drift.
var nseBhavcopyHeader = []string{
	"TradDt", "BizDt", "Sgmt", "Src", "FinInstrmTp", "FinInstrmId", "ISIN",
	"TckrSymb", "SctySrs", "XpryDt", "FininstrmActlXpryDt", "StrkPric",
	"OptnTp", "FinInstrmNm", "OpnPric", "HghPric", "LwPric", "ClsPric",
	"LastPric", "PrvsClsgPric", "UndrlygPric", "SttlmPric", "OpnIntrst",
	"ChngInOpnIntrst", "TtlTradgVol", "TtlTrfVal", "TtlNbOfTxsExctd",
	"SsnId", "NewBrdLotQty", "Rmks", "Rsvd1", "Rsvd2", "Rsvd3", "Rsvd4",
}

// Positions of the columns the canonical mapping consumes.
const (
	nseColTradDt = iota
	nseColBizDt
	nseColSgmt
	nseColSrc
	nseColFinInstrmTp
	nseColFinInstrmId
	nseColISIN
	nseColTckrSymb
	nseColSctySrs
	nseColXpryDt
	nseColActlXpryDt
	nseColStrkPric
	nseColOptnTp
	nseColFinInstrmNm
	nseColOpnPric
	nseColHghPric
	nseColLwPric
	nseColClsPric
	nseColLastPric
	nseColPrvsClsgPric
	nseColUndrlygPric
	nseColSttlmPric
	nseColOpnIntrst
	nseColChngInOpnIntrst
	nseColTtlTradgVol
	nseColTtlTrfVal
	nseColTtlNbOfTxsExctd
)

// NSEBhavcopy parses the daily NSE equity bhavcopy ZIP into canonical
// equity bars plus the raw-layer projection.
type NSEBhavcopy struct{}

func (NSEBhavcopy) Source() domain.Source { return domain.SourceNSEEquityBar }

func (NSEBhavcopy) Schema() schema.Schema { return schema.EquityOHLC() }

func (p NSEBhavcopy) Parse(raw []byte, meta Meta) (*Result, error) {
	payload, err := MaybeUnzip(raw)
	if err != nil {
		return nil, fmt.Errorf("nse bhavcopy: %w", err)
	}
	header, records, err := readCSV(payload)
	if err != nil {
		return nil, fmt.Errorf("nse bhavcopy: %w", err)
	}
	if err := checkHeader(header, nseBhavcopyHeader); err != nil {
		return nil, fmt.Errorf("nse bhavcopy: %w", err)
	}

	out := frame.New(schema.EquityOHLC())
	rawFrame := frame.New(schema.NSEBhavcopyRaw())
	dropped := 0

	for i, rec := range records {
		symbol := parseString(cell(rec, nseColTckrSymb))
		if symbol == nil {
			dropped++
			continue
		}

		bar, err := p.mapBar(rec, *symbol, meta)
		if err != nil {
			return nil, fmt.Errorf("nse bhavcopy: %w", rowError(i+1, err))
		}
		if bar == nil {
			dropped++
			continue
		}
		out.Append(bar.Row())

		rawRow, err := p.mapRaw(rec, *symbol, bar.TradeDate, bar.Year, bar.Month, bar.Day)
		if err != nil {
			return nil, fmt.Errorf("nse bhavcopy: %w", rowError(i+1, err))
		}
		rawFrame.Append(rawRow)
	}

	return &Result{Frame: out, Raw: rawFrame, Dropped: dropped}, nil
}

// mapBar converts one UDiFF record to a canonical bar. Rows without a
// complete OHLC set, such as suspended instruments, map to nil and are
// dropped rather than failing the file.
func (p NSEBhavcopy) mapBar(rec []string, symbol string, meta Meta) (*domain.EquityBar, error) {
	open, err := parseFloat(cell(rec, nseColOpnPric))
	if err != nil {
		return nil, err
	}
	high, err := parseFloat(cell(rec, nseColHghPric))
	if err != nil {
		return nil, err
	}
	low, err := parseFloat(cell(rec, nseColLwPric))
	if err != nil {
		return nil, err
	}
	cls, err := parseFloat(cell(rec, nseColClsPric))
	if err != nil {
		return nil, err
	}
	if open == nil || high == nil || low == nil || cls == nil {
		return nil, nil
	}

	tradeDate := meta.TradeDate
	if d := parseString(cell(rec, nseColTradDt)); d != nil {
		iso, err := domain.ParseFlexibleDate(*d)
		if err != nil {
			return nil, err
		}
		tradeDate = iso
	}

	prevClose, err := parseFloat(cell(rec, nseColPrvsClsgPric))
	if err != nil {
		return nil, err
	}
	lastPrice, err := parseFloat(cell(rec, nseColLastPric))
	if err != nil {
		return nil, err
	}
	settlement, err := parseFloat(cell(rec, nseColSttlmPric))
	if err != nil {
		return nil, err
	}
	volume, err := parseInt(cell(rec, nseColTtlTradgVol))
	if err != nil {
		return nil, err
	}
	turnover, err := parseFloat(cell(rec, nseColTtlTrfVal))
	if err != nil {
		return nil, err
	}
	trades, err := parseInt(cell(rec, nseColTtlNbOfTxsExctd))
	if err != nil {
		return nil, err
	}

	instrumentID := parseString(cell(rec, nseColFinInstrmId))
	entityID := idhash.ComputeEntityID(symbol, instrumentID, domain.ExchangeNSE)
	year, month, day, err := domain.Partition(tradeDate)
	if err != nil {
		return nil, err
	}
	eventTime, err := domain.MidnightMs(tradeDate)
	if err != nil {
		return nil, err
	}

	return &domain.EquityBar{
		EventID:          idhash.ComputeEventID(domain.SourceNSEEquityBar, tradeDate, entityID),
		EventTimeMs:      eventTime,
		IngestTimeMs:     meta.now().UnixMilli(),
		Source:           domain.SourceNSEEquityBar,
		SchemaVersion:    meta.SchemaVersion,
		EntityID:         entityID,
		InstrumentID:     instrumentID,
		Symbol:           symbol,
		Exchange:         domain.ExchangeNSE,
		ISIN:             parseString(cell(rec, nseColISIN)),
		InstrumentType:   parseString(cell(rec, nseColFinInstrmTp)),
		Series:           parseString(cell(rec, nseColSctySrs)),
		TradeDate:        tradeDate,
		PrevClose:        prevClose,
		Open:             *open,
		High:             *high,
		Low:              *low,
		Close:            *cls,
		LastPrice:        lastPrice,
		SettlementPrice:  settlement,
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

// mapRaw projects the price-relevant source columns for the raw layer.
func (p NSEBhavcopy) mapRaw(rec []string, symbol, tradeDate string, year, month, day int) (frame.Row, error) {
	row := frame.Row{
		"trad_dt":    cellOr(rec, nseColTradDt, tradeDate),
		"tckr_symb":  symbol,
		"trade_date": tradeDate,
		"year":       int64(year),
		"month":      int64(month),
		"day":        int64(day),
	}
	putStringCell(row, "scty_srs", cell(rec, nseColSctySrs))
	putStringCell(row, "fin_instrm_id", cell(rec, nseColFinInstrmId))
	putStringCell(row, "fin_instrm_tp", cell(rec, nseColFinInstrmTp))
	putStringCell(row, "isin", cell(rec, nseColISIN))

	floatCols := []struct {
		name string
		col  int
	}{
		{"opn_pric", nseColOpnPric}, {"hgh_pric", nseColHghPric},
		{"lw_pric", nseColLwPric}, {"cls_pric", nseColClsPric},
		{"last_pric", nseColLastPric}, {"prvs_clsg_pric", nseColPrvsClsgPric},
		{"sttlm_pric", nseColSttlmPric}, {"ttl_trf_val", nseColTtlTrfVal},
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
		{"ttl_tradg_vol", nseColTtlTradgVol}, {"ttl_nb_of_txs_exctd", nseColTtlNbOfTxsExctd},
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

func cellOr(rec []string, col int, fallback string) string {
	if v := parseString(cell(rec, col)); v != nil {
		return *v
	}
	return fallback
}

func putStringCell(row frame.Row, name, raw string) {
	if v := parseString(raw); v != nil {
		row[name] = *v
		return
	}
	row[name] = nil
}

var _ Parser = NSEBhavcopy{}
