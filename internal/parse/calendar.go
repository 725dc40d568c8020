package parse

import (
	"encoding/json"
	"fmt"
	"time"

	"marketlake/internal/domain"
	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/idhash"
	"marketlake/internal/schema"
)

// holidayPayload mirrors the NSE holiday master endpoint. CM is the
// capital market segment; other segments are ignored.
type holidayPayload struct {
	CM []holidayItem `json:"CM"`
}

type holidayItem struct {
	TradingDate string `json:"tradingDate"`
	Description string `json:"description"`
}

// TradingCalendar parses the NSE trading holiday list into one
// non-trading-day row per holiday. ExpandCalendar turns the holiday
// rows into a full-year calendar.
type TradingCalendar struct{}

func (TradingCalendar) Source() domain.Source { return domain.SourceNSETradingHoliday }

func (TradingCalendar) Schema() schema.Schema { return schema.TradingCalendar() }

func (p TradingCalendar) Parse(raw []byte, meta Meta) (*Result, error) {
	var payload holidayPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errs.Errorf(errs.KindData, "trading calendar: decode json: %w", err)
	}
	if payload.CM == nil {
		return nil, errs.Errorf(errs.KindSchemaDrift, "trading calendar: payload has no CM segment")
	}

	out := frame.New(schema.TradingCalendar())
	dropped := 0

	for _, item := range payload.CM {
		date, err := domain.ParseFlexibleDate(item.TradingDate)
		if err != nil {
			dropped++
			continue
		}
		name := item.Description
		row, err := calendarRow(date, false, &name, meta)
		if err != nil {
			return nil, fmt.Errorf("trading calendar: %w", err)
		}
		out.Append(row)
	}

	return &Result{Frame: out, Dropped: dropped}, nil
}

func calendarRow(date string, isTradingDay bool, holidayName *string, meta Meta) (frame.Row, error) {
	row := frame.Row{
		"date":           date,
		"exchange":       domain.ExchangeNSE,
		"is_trading_day": isTradingDay,
	}
	if holidayName == nil {
		row["holiday_name"] = nil
	} else {
		row["holiday_name"] = *holidayName
	}

	key := fmt.Sprintf("%s:%s", domain.ExchangeNSE, date)
	entityID := idhash.ComputeEntityID(domain.ExchangeNSE, nil, domain.ExchangeNSE)
	if err := stampEnvelope(row, domain.SourceNSETradingHoliday, date, key, entityID, meta); err != nil {
		return nil, err
	}
	return row, nil
}

// ExpandCalendar turns a holiday frame into a complete calendar for one
// year: every date gets a row, weekends and listed holidays are
// non-trading. Holiday rows outside the year are ignored.
func ExpandCalendar(year int, holidays *frame.Frame, meta Meta) (*frame.Frame, error) {
	names := make(map[string]string)
	if holidays != nil {
		for _, r := range holidays.Rows {
			date, ok := frame.GetString(r, "date")
			if !ok {
				continue
			}
			name, _ := frame.GetString(r, "holiday_name")
			names[date] = name
		}
	}

	out := frame.New(schema.TradingCalendar())
	day := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	for day.Year() == year {
		date := day.Format("2006-01-02")
		weekend := day.Weekday() == time.Saturday || day.Weekday() == time.Sunday

		var holidayName *string
		if name, isHoliday := names[date]; isHoliday {
			holidayName = &name
		}
		trading := !weekend && holidayName == nil

		row, err := calendarRow(date, trading, holidayName, meta)
		if err != nil {
			return nil, fmt.Errorf("expand calendar: %w", err)
		}
		out.Append(row)
		day = day.AddDate(0, 0, 1)
	}
	return out, nil
}

var _ Parser = TradingCalendar{}
