package parse

import (
	"fmt"
	"strings"

	"marketlake/internal/domain"
	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/idhash"
	"marketlake/internal/schema"
)

// Deal categories. Bulk deals cross 0.5% of equity in a session, block
// deals go through the block window; NSE discloses them in separate
// files with the same layout.
const (
	DealBulk  = "BULK"
	DealBlock = "BLOCK"
)

var dealsHeader = []string{
	"Date", "Symbol", "Security Name", "Client Name", "Buy/Sell",
	"Quantity Traded", "Trade Price / Wght. Avg. Price", "Remarks",
}

const (
	dealColDate = iota
	dealColSymbol
	dealColSecurityName
	dealColClientName
	dealColBuySell
	dealColQuantity
	dealColTradePrice
	dealColRemarks
)

// Deals parses the NSE bulk or block deal disclosure CSV. A disclosure
// row carrying both sides is split into separate BUY and SELL events.
type Deals struct {
	Type string // DealBulk or DealBlock
}

func (d Deals) Source() domain.Source { return domain.SourceNSEBulkDeals }

func (Deals) Schema() schema.Schema { return schema.BulkBlockDeals() }

func (d Deals) Parse(raw []byte, meta Meta) (*Result, error) {
	if d.Type != DealBulk && d.Type != DealBlock {
		return nil, errs.Errorf(errs.KindValidation, "deals: unknown deal type %q", d.Type)
	}
	header, records, err := readCSV(raw)
	if err != nil {
		return nil, fmt.Errorf("%s deals: %w", strings.ToLower(d.Type), err)
	}
	if err := checkHeader(header, dealsHeader); err != nil {
		return nil, fmt.Errorf("%s deals: %w", strings.ToLower(d.Type), err)
	}

	out := frame.New(schema.BulkBlockDeals())
	dropped := 0

	for i, rec := range records {
		symbol := parseString(cell(rec, dealColSymbol))
		if symbol == nil {
			dropped++
			continue
		}
		sides, err := dealSides(cell(rec, dealColBuySell))
		if err != nil {
			return nil, fmt.Errorf("%s deals: %w", strings.ToLower(d.Type), rowError(i+1, err))
		}
		for _, side := range sides {
			row, err := d.mapDeal(rec, *symbol, side, meta)
			if err != nil {
				return nil, fmt.Errorf("%s deals: %w", strings.ToLower(d.Type), rowError(i+1, err))
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

// dealSides normalizes the Buy/Sell cell. NSE writes BUY or SELL per
// side; combined disclosures carry both tokens and yield two events.
func dealSides(raw string) ([]string, error) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	hasBuy := strings.Contains(v, "BUY") || v == "B"
	hasSell := strings.Contains(v, "SELL") || v == "S"
	switch {
	case hasBuy && hasSell:
		return []string{"BUY", "SELL"}, nil
	case hasBuy:
		return []string{"BUY"}, nil
	case hasSell:
		return []string{"SELL"}, nil
	default:
		return nil, fmt.Errorf("unrecognized deal side %q", raw)
	}
}

func (d Deals) mapDeal(rec []string, symbol, side string, meta Meta) (frame.Row, error) {
	dealDate := meta.TradeDate
	if v := parseString(cell(rec, dealColDate)); v != nil {
		iso, err := domain.ParseFlexibleDate(*v)
		if err != nil {
			return nil, err
		}
		dealDate = iso
	}

	qty, err := parseInt(cell(rec, dealColQuantity))
	if err != nil {
		return nil, err
	}
	price, err := parseFloat(cell(rec, dealColTradePrice))
	if err != nil {
		return nil, err
	}
	if qty == nil || price == nil {
		return nil, nil
	}

	clientName := "UNKNOWN"
	if v := parseString(cell(rec, dealColClientName)); v != nil {
		clientName = *v
	}

	row := frame.Row{
		"deal_date":        dealDate,
		"symbol":           symbol,
		"client_name":      clientName,
		"deal_type":        d.Type,
		"transaction_type": side,
		"quantity":         *qty,
		"trade_price":      *price,
	}
	putStringCell(row, "security_name", cell(rec, dealColSecurityName))
	putStringCell(row, "remarks", cell(rec, dealColRemarks))

	key := fmt.Sprintf("%s:%s:%s", symbol, d.Type, side)
	entityID := idhash.ComputeEntityID(symbol, nil, domain.ExchangeNSE)
	if err := stampEnvelope(row, domain.SourceNSEBulkDeals, dealDate, key, entityID, meta); err != nil {
		return nil, err
	}
	return row, nil
}

var _ Parser = Deals{}
