package parse

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"marketlake/internal/domain"
	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/idhash"
	"marketlake/internal/schema"
)

// optionChainPayload mirrors the NSE option chain endpoint. The odd
// field casing (bidprice vs askPrice) is what NSE actually serves.
type optionChainPayload struct {
	Records struct {
		Data            []optionStrike `json:"data"`
		Timestamp       string         `json:"timestamp"`
		UnderlyingValue float64        `json:"underlyingValue"`
	} `json:"records"`
}

type optionStrike struct {
	StrikePrice float64    `json:"strikePrice"`
	ExpiryDate  string     `json:"expiryDate"`
	CE          *optionLeg `json:"CE"`
	PE          *optionLeg `json:"PE"`
}

type optionLeg struct {
	Underlying           string  `json:"underlying"`
	OpenInterest         float64 `json:"openInterest"`
	ChangeInOpenInterest float64 `json:"changeinOpenInterest"`
	TotalTradedVolume    float64 `json:"totalTradedVolume"`
	ImpliedVolatility    float64 `json:"impliedVolatility"`
	LastPrice            float64 `json:"lastPrice"`
	BidPrice             float64 `json:"bidprice"`
	AskPrice             float64 `json:"askPrice"`
	UnderlyingValue      float64 `json:"underlyingValue"`
}

// OptionChain parses an NSE option chain snapshot into one row per
// (underlying, expiry, strike, side).
type OptionChain struct {
	// Underlying names the instrument when per-leg data omits it,
	// e.g. "NIFTY".
	Underlying string
}

func (OptionChain) Source() domain.Source { return domain.SourceNSEOptionChain }

func (OptionChain) Schema() schema.Schema { return schema.OptionChain() }

func (p OptionChain) Parse(raw []byte, meta Meta) (*Result, error) {
	var payload optionChainPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errs.Errorf(errs.KindData, "option chain: decode json: %w", err)
	}
	if payload.Records.Data == nil {
		return nil, errs.Errorf(errs.KindSchemaDrift, "option chain: payload has no records.data")
	}

	snapshot, err := domain.ParseISTTimestamp(payload.Records.Timestamp)
	if err != nil {
		return nil, errs.Errorf(errs.KindSchemaDrift, "option chain: %w", err)
	}
	snapshotISO := snapshot.Format(time.RFC3339)
	tradeDate := snapshot.Format("2006-01-02")

	out := frame.New(schema.OptionChain())
	dropped := 0

	for _, strike := range payload.Records.Data {
		expiry, err := domain.ParseDDMMMYYYY(strike.ExpiryDate)
		if err != nil {
			return nil, errs.Errorf(errs.KindData, "option chain: strike %.2f: %w", strike.StrikePrice, err)
		}
		legs := []struct {
			side string
			leg  *optionLeg
		}{
			{"CE", strike.CE},
			{"PE", strike.PE},
		}
		for _, l := range legs {
			if l.leg == nil {
				continue
			}
			row, err := p.mapLeg(strike.StrikePrice, expiry, l.side, l.leg,
				payload.Records.UnderlyingValue, snapshot, snapshotISO, tradeDate, meta)
			if err != nil {
				return nil, fmt.Errorf("option chain: %w", err)
			}
			if row == nil {
				dropped++
				continue
			}
			out.Append(row)
		}
	}

	return &Result{Frame: out, Dropped: dropped}, nil
}

func (p OptionChain) mapLeg(strike float64, expiry, side string, leg *optionLeg,
	chainValue float64, snapshot time.Time, snapshotISO, tradeDate string, meta Meta) (frame.Row, error) {

	underlying := strings.TrimSpace(leg.Underlying)
	if underlying == "" {
		underlying = p.Underlying
	}
	if underlying == "" {
		return nil, nil
	}
	underlyingValue := chainValue
	if underlyingValue == 0 {
		underlyingValue = leg.UnderlyingValue
	}

	row := frame.Row{
		"underlying":       underlying,
		"snapshot_time":    snapshotISO,
		"trade_date":       tradeDate,
		"expiry":           expiry,
		"strike":           strike,
		"option_type":      side,
		"volume":           int64(leg.TotalTradedVolume),
		"open_interest":    int64(leg.OpenInterest),
		"change_in_oi":     int64(leg.ChangeInOpenInterest),
		"underlying_value": underlyingValue,
	}
	// NSE writes zero for unquoted sides; zero is not a price.
	putPositive(row, "last_price", leg.LastPrice)
	putPositive(row, "bid", leg.BidPrice)
	putPositive(row, "ask", leg.AskPrice)
	putPositive(row, "implied_volatility", leg.ImpliedVolatility)

	year, month, day, err := domain.Partition(tradeDate)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s:%s:%.2f:%s:%s", underlying, expiry, strike, side, snapshotISO)
	entityID := idhash.ComputeEntityID(underlying, nil, domain.ExchangeNSE)

	row["event_id"] = idhash.ComputeEventID(domain.SourceNSEOptionChain, tradeDate, key)
	row["event_time"] = snapshot.UnixMilli()
	row["ingest_time"] = meta.now().UnixMilli()
	row["source"] = string(domain.SourceNSEOptionChain)
	row["schema_version"] = meta.SchemaVersion
	row["entity_id"] = entityID
	row["year"] = int64(year)
	row["month"] = int64(month)
	row["day"] = int64(day)
	return row, nil
}

func putPositive(row frame.Row, col string, v float64) {
	if v > 0 {
		row[col] = v
		return
	}
	row[col] = nil
}

var _ Parser = OptionChain{}
