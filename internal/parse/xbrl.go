package parse

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"marketlake/internal/domain"
	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/idhash"
	"marketlake/internal/schema"
)

// Rounding multipliers stated by the filer. Indian filings report
// monetary amounts in Crores or Lakhs; the stated level applies to
// monetary facts only, never to per-share or count facts.
var roundingMultipliers = map[string]float64{
	"CRORES":    1e7,
	"CRORE":     1e7,
	"LAKHS":     1e5,
	"LAKH":      1e5,
	"THOUSANDS": 1e3,
	"THOUSAND":  1e3,
	"ACTUAL":    1,
	"UNITS":     1,
}

// xbrlFieldMap maps taxonomy element local names to canonical field
// names. Multiple element spellings across taxonomy versions fold into
// one canonical field.
var xbrlFieldMap = map[string]string{
	"RevenueFromOperations":                       "revenue_from_operations",
	"OtherIncome":                                 "other_income",
	"Income":                                      "total_income",
	"Expenses":                                    "total_expenses",
	"CostOfMaterialsConsumed":                     "cost_of_materials",
	"PurchasesOfStockInTrade":                     "purchases_of_stock_in_trade",
	"EmployeeBenefitExpense":                      "employee_benefit_expense",
	"FinanceCosts":                                "finance_costs",
	"DepreciationDepletionAndAmortisationExpense": "depreciation_amortisation",
	"OtherExpenses":                               "other_expenses",
	"ProfitBeforeExceptionalItemsAndTax":          "profit_before_exceptional_items",
	"ExceptionalItemsBeforeTax":                   "exceptional_items",
	"ProfitBeforeTax":                             "profit_before_tax",
	"CurrentTax":                                  "current_tax",
	"DeferredTax":                                 "deferred_tax",
	"TaxExpense":                                  "tax_expense",
	"ProfitLossForPeriodFromContinuingOperations": "profit_continuing_operations",
	"ProfitLossForPeriod":                         "net_profit",
	"ComprehensiveIncomeForThePeriod":             "comprehensive_income",
	"PaidUpValueOfEquityShareCapital":             "paid_up_equity_capital",
	"FaceValueOfEquityShareCapital":               "face_value",

	// EPS element names vary across taxonomy versions.
	"BasicEarningsLossPerShareFromContinuingOperations":                  "eps_basic",
	"BasicEarningsLossPerShareFromContinuingAndDiscontinuedOperations":   "eps_basic",
	"DilutedEarningsLossPerShareFromContinuingOperations":                "eps_diluted",
	"DilutedEarningsLossPerShareFromContinuingAndDiscontinuedOperations": "eps_diluted",
}

// Identity and rounding elements pulled from the instance before fact
// mapping.
const (
	xbrlElemSymbol   = "Symbol"
	xbrlElemISIN     = "ISIN"
	xbrlElemRounding = "LevelOfRoundingUsedInFinancialStatements"
)

type xbrlPeriod struct {
	Start string
	End   string
}

type xbrlFact struct {
	Name       string
	ContextRef string
	UnitRef    string
	Value      string
}

// XBRLFinancials parses a quarterly financial-results XBRL instance
// into one row per reported fact. The filer's stated rounding level is
// applied to monetary facts so every stored value is in rupees.
type XBRLFinancials struct{}

func (XBRLFinancials) Source() domain.Source { return domain.SourceXBRLFinancials }

func (XBRLFinancials) Schema() schema.Schema { return schema.QuarterlyFinancials() }

func (p XBRLFinancials) Parse(raw []byte, meta Meta) (*Result, error) {
	contexts, units, facts, err := scanXBRL(raw)
	if err != nil {
		return nil, fmt.Errorf("xbrl: %w", err)
	}
	if len(contexts) == 0 {
		return nil, errs.Errorf(errs.KindSchemaDrift, "xbrl: instance has no contexts")
	}

	symbol := factValue(facts, xbrlElemSymbol)
	isin := factValue(facts, xbrlElemISIN)
	if symbol == nil && isin == nil {
		return nil, errs.Errorf(errs.KindData, "xbrl: instance has no symbol or isin")
	}

	rounding, multiplier := roundingLevel(facts)

	out := frame.New(schema.QuarterlyFinancials())
	dropped := 0

	for _, fact := range facts {
		field, mapped := xbrlFieldMap[fact.Name]
		if !mapped {
			continue
		}
		value, err := parseFloat(fact.Value)
		if err != nil || value == nil {
			dropped++
			continue
		}
		period, ok := contexts[fact.ContextRef]
		if !ok || period.End == "" {
			dropped++
			continue
		}

		unit := units[fact.UnitRef]
		v := *value
		if isMonetaryFact(fact.Name, unit) {
			v *= multiplier
		}

		row, err := p.mapFact(symbol, isin, period, field, v, unit, rounding, meta)
		if err != nil {
			return nil, fmt.Errorf("xbrl: fact %s: %w", fact.Name, err)
		}
		out.Append(row)
	}

	return &Result{Frame: out, Dropped: dropped}, nil
}

func (p XBRLFinancials) mapFact(symbol, isin *string, period xbrlPeriod,
	field string, value float64, unit, rounding string, meta Meta) (frame.Row, error) {

	start := period.Start
	if start == "" {
		start = period.End
	}
	row := frame.Row{
		"period_start": start,
		"period_end":   period.End,
		"field":        field,
		"value":        value,
	}
	if symbol == nil {
		row["symbol"] = nil
	} else {
		row["symbol"] = *symbol
	}
	if isin == nil {
		row["isin"] = nil
	} else {
		row["isin"] = *isin
	}
	if unit == "" {
		row["unit"] = nil
	} else {
		row["unit"] = unit
	}
	if rounding == "" {
		row["rounding"] = nil
	} else {
		row["rounding"] = rounding
	}

	identity := "UNKNOWN"
	if symbol != nil {
		identity = *symbol
	} else if isin != nil {
		identity = *isin
	}
	key := fmt.Sprintf("%s:%s:%s", identity, period.End, field)
	entityID := idhash.ComputeEntityID(identity, isin, domain.ExchangeNSE)
	if err := stampEnvelope(row, domain.SourceXBRLFinancials, period.End, key, entityID, meta); err != nil {
		return nil, err
	}
	return row, nil
}

// scanXBRL walks the instance token stream collecting contexts, units
// and facts. A fact is any element outside the xbrli namespace carrying
// a contextRef attribute.
func scanXBRL(raw []byte) (map[string]xbrlPeriod, map[string]string, []xbrlFact, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	contexts := make(map[string]xbrlPeriod)
	units := make(map[string]string)
	var facts []xbrlFact

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, errs.Errorf(errs.KindData, "decode xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "context":
			id := attr(start, "id")
			period, err := scanContext(dec, start)
			if err != nil {
				return nil, nil, nil, err
			}
			if id != "" {
				contexts[id] = period
			}
		case "unit":
			id := attr(start, "id")
			measure, err := scanUnit(dec, start)
			if err != nil {
				return nil, nil, nil, err
			}
			if id != "" {
				units[id] = measure
			}
		default:
			ctxRef := attr(start, "contextRef")
			if ctxRef == "" {
				continue
			}
			value, err := scanText(dec, start)
			if err != nil {
				return nil, nil, nil, err
			}
			facts = append(facts, xbrlFact{
				Name:       start.Name.Local,
				ContextRef: ctxRef,
				UnitRef:    attr(start, "unitRef"),
				Value:      value,
			})
		}
	}
	return contexts, units, facts, nil
}

// scanContext reads a context element, returning its period. An
// instant period maps to equal start and end.
func scanContext(dec *xml.Decoder, start xml.StartElement) (xbrlPeriod, error) {
	var period xbrlPeriod
	var field string
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return period, errs.Errorf(errs.KindData, "decode context: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			field = t.Name.Local
		case xml.EndElement:
			depth--
			field = ""
		case xml.CharData:
			v := strings.TrimSpace(string(t))
			if v == "" {
				continue
			}
			switch field {
			case "startDate":
				period.Start = v
			case "endDate":
				period.End = v
			case "instant":
				period.Start, period.End = v, v
			}
		}
	}
	return period, nil
}

// scanUnit reads a unit element, joining its measures so a divide unit
// like INR per share renders as "iso4217:INR/xbrli:shares".
func scanUnit(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var measures []string
	var inMeasure bool
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", errs.Errorf(errs.KindData, "decode unit: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			inMeasure = t.Name.Local == "measure"
		case xml.EndElement:
			depth--
			inMeasure = false
		case xml.CharData:
			if !inMeasure {
				continue
			}
			v := strings.TrimSpace(string(t))
			if v != "" {
				measures = append(measures, v)
			}
		}
	}
	return strings.Join(measures, "/"), nil
}

// scanText collects the character data of one element.
func scanText(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", errs.Errorf(errs.KindData, "decode fact %s: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(t)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func attr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func factValue(facts []xbrlFact, name string) *string {
	for _, f := range facts {
		if f.Name == name {
			return parseString(f.Value)
		}
	}
	return nil
}

// roundingLevel resolves the filer's stated rounding. Unstated or
// unknown levels mean values are taken as reported.
func roundingLevel(facts []xbrlFact) (string, float64) {
	v := factValue(facts, xbrlElemRounding)
	if v == nil {
		return "", 1
	}
	if m, ok := roundingMultipliers[strings.ToUpper(*v)]; ok {
		return *v, m
	}
	return *v, 1
}

// isMonetaryFact reports whether the rounding multiplier applies: the
// fact is in rupees and not a per-share figure.
func isMonetaryFact(name, unit string) bool {
	u := strings.ToUpper(unit)
	if !strings.Contains(u, "INR") {
		return false
	}
	if strings.Contains(u, "SHARE") {
		return false
	}
	return !strings.Contains(strings.ToUpper(name), "PERSHARE")
}

var _ Parser = XBRLFinancials{}
