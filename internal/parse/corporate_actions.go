package parse

import (
	"fmt"
	"strings"

	"marketlake/internal/domain"
	"marketlake/internal/frame"
	"marketlake/internal/idhash"
	"marketlake/internal/schema"
)

// corpActionsHeader is the CF-CA equities layout of the NSE corporate
// action disclosures. The no-delivery columns are part of the contract
// but unused in the canonical mapping.
var corpActionsHeader = []string{
	"SYMBOL", "SERIES", "FACE VALUE", "ISIN", "PURPOSE", "EX-DATE",
	"RECORD DATE", "BC START DATE", "BC END DATE", "ND START DATE",
	"ND END DATE",
}

const (
	caColSymbol = iota
	caColSeries
	caColFaceValue
	caColISIN
	caColPurpose
	caColExDate
	caColRecordDate
	caColBCStart
	caColBCEnd
)

// Corporate action classes derived from the free-text purpose.
const (
	CorpActionDividend = "DIVIDEND"
	CorpActionBonus    = "BONUS"
	CorpActionSplit    = "SPLIT"
	CorpActionRights   = "RIGHTS"
	CorpActionBuyback  = "BUYBACK"
	CorpActionOther    = "OTHER"
)

// CorporateActions parses the NSE corporate action CSV. The free-text
// purpose is classified into a small action taxonomy; rows without an
// ex-date carry no adjustable event and are dropped.
type CorporateActions struct{}

func (CorporateActions) Source() domain.Source { return domain.SourceNSECorpActions }

func (CorporateActions) Schema() schema.Schema { return schema.CorporateActions() }

func (p CorporateActions) Parse(raw []byte, meta Meta) (*Result, error) {
	header, records, err := readCSV(raw)
	if err != nil {
		return nil, fmt.Errorf("corporate actions: %w", err)
	}
	if err := checkHeader(header, corpActionsHeader); err != nil {
		return nil, fmt.Errorf("corporate actions: %w", err)
	}

	out := frame.New(schema.CorporateActions())
	dropped := 0

	for i, rec := range records {
		symbol := parseString(cell(rec, caColSymbol))
		exDateRaw := parseString(cell(rec, caColExDate))
		if symbol == nil || exDateRaw == nil {
			dropped++
			continue
		}
		row, err := p.mapAction(rec, *symbol, *exDateRaw, meta)
		if err != nil {
			return nil, fmt.Errorf("corporate actions: %w", rowError(i+1, err))
		}
		out.Append(row)
	}

	return &Result{Frame: out, Dropped: dropped}, nil
}

func (p CorporateActions) mapAction(rec []string, symbol, exDateRaw string, meta Meta) (frame.Row, error) {
	exDate, err := domain.ParseFlexibleDate(exDateRaw)
	if err != nil {
		return nil, err
	}

	purpose := parseString(cell(rec, caColPurpose))
	actionType := ClassifyCorpAction(purpose)

	faceValue, err := parseFloat(cell(rec, caColFaceValue))
	if err != nil {
		return nil, err
	}

	row := frame.Row{
		"symbol":      symbol,
		"ex_date":     exDate,
		"action_type": actionType,
	}
	putStringCell(row, "series", cell(rec, caColSeries))
	putStringCell(row, "isin", cell(rec, caColISIN))
	if purpose == nil {
		row["purpose"] = nil
	} else {
		row["purpose"] = *purpose
	}
	if faceValue == nil {
		row["face_value"] = nil
	} else {
		row["face_value"] = *faceValue
	}
	for _, dc := range []struct {
		name string
		col  int
	}{
		{"record_date", caColRecordDate},
		{"bc_start_date", caColBCStart},
		{"bc_end_date", caColBCEnd},
	} {
		if v := parseString(cell(rec, dc.col)); v != nil {
			iso, err := domain.ParseFlexibleDate(*v)
			if err != nil {
				return nil, err
			}
			row[dc.name] = iso
		} else {
			row[dc.name] = nil
		}
	}

	isin := parseString(cell(rec, caColISIN))
	key := fmt.Sprintf("%s:%s:%s", symbol, actionType, exDate)
	entityID := idhash.ComputeEntityID(symbol, isin, domain.ExchangeNSE)
	if err := stampEnvelope(row, domain.SourceNSECorpActions, exDate, key, entityID, meta); err != nil {
		return nil, err
	}
	return row, nil
}

// ClassifyCorpAction maps NSE's free-text purpose to an action class.
// Purposes mix spellings ("Bonus 1:1", "FACE VALUE SPLIT", "Spl Div"),
// so matching is on upper-cased substrings with split checked before
// dividend to keep "SPLIT CUM DIVIDEND" out of the dividend bucket.
func ClassifyCorpAction(purpose *string) string {
	if purpose == nil {
		return CorpActionOther
	}
	v := strings.ToUpper(*purpose)
	switch {
	case strings.Contains(v, "BONUS"):
		return CorpActionBonus
	case strings.Contains(v, "SPLIT") || strings.Contains(v, "SUB-DIVISION") || strings.Contains(v, "SUBDIVISION"):
		return CorpActionSplit
	case strings.Contains(v, "RIGHTS"):
		return CorpActionRights
	case strings.Contains(v, "BUYBACK") || strings.Contains(v, "BUY BACK") || strings.Contains(v, "BUY-BACK"):
		return CorpActionBuyback
	case strings.Contains(v, "DIVIDEND") || strings.Contains(v, "DIV"):
		return CorpActionDividend
	default:
		return CorpActionOther
	}
}

var _ Parser = CorporateActions{}
