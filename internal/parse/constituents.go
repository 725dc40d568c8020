package parse

import (
	"encoding/json"
	"fmt"
	"strings"

	"marketlake/internal/domain"
	"marketlake/internal/errs"
	"marketlake/internal/frame"
	"marketlake/internal/idhash"
	"marketlake/internal/schema"
)

// Constituent membership actions.
const (
	ActionAdd       = "ADD"
	ActionRemove    = "REMOVE"
	ActionRebalance = "REBALANCE"
)

// constituentsPayload mirrors the NSE index snapshot endpoint. Only the
// fields the mapping consumes are declared.
type constituentsPayload struct {
	Name string            `json:"name"`
	Data []constituentItem `json:"data"`
}

type constituentItem struct {
	Symbol string  `json:"symbol"`
	Series string  `json:"series"`
	Weight float64 `json:"ffmc"` // free-float market cap, proxy for weight
	Meta   struct {
		ISIN string `json:"isin"`
	} `json:"meta"`
}

// Constituents parses an NSE index membership snapshot. Every current
// member maps to a REBALANCE event for the snapshot date; ADD and
// REMOVE events come from diffing snapshots, see DiffConstituents.
type Constituents struct {
	// IndexName overrides the payload name, used when the endpoint
	// omits it.
	IndexName string
}

func (Constituents) Source() domain.Source { return domain.SourceNSEConstituents }

func (Constituents) Schema() schema.Schema { return schema.IndexConstituents() }

func (c Constituents) Parse(raw []byte, meta Meta) (*Result, error) {
	var payload constituentsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errs.Errorf(errs.KindData, "constituents: decode json: %w", err)
	}
	if payload.Data == nil {
		return nil, errs.Errorf(errs.KindSchemaDrift, "constituents: payload has no data key")
	}
	indexName := strings.TrimSpace(payload.Name)
	if indexName == "" {
		indexName = c.IndexName
	}
	if indexName == "" {
		return nil, errs.Errorf(errs.KindSchemaDrift, "constituents: payload has no index name")
	}

	out := frame.New(schema.IndexConstituents())
	dropped := 0

	for _, item := range payload.Data {
		symbol := strings.TrimSpace(item.Symbol)
		series := strings.ToUpper(strings.TrimSpace(item.Series))
		// The index's own summary row and non-equity series are not
		// membership facts.
		if symbol == "" || (series != "EQ" && series != "BE") {
			dropped++
			continue
		}
		row, err := constituentRow(indexName, symbol, series, item.Meta.ISIN, item.Weight, ActionRebalance, meta)
		if err != nil {
			return nil, fmt.Errorf("constituents: %w", err)
		}
		out.Append(row)
	}

	return &Result{Frame: out, Dropped: dropped}, nil
}

func constituentRow(indexName, symbol, series, isin string, weight float64, action string, meta Meta) (frame.Row, error) {
	row := frame.Row{
		"index_name":     indexName,
		"symbol":         symbol,
		"series":         series,
		"action":         action,
		"effective_date": meta.TradeDate,
	}
	if v := parseString(isin); v != nil {
		row["isin"] = *v
	} else {
		row["isin"] = nil
	}
	if weight > 0 {
		row["weight"] = weight
	} else {
		row["weight"] = nil
	}

	key := fmt.Sprintf("%s:%s:%s", indexName, symbol, action)
	entityID := idhash.ComputeEntityID(symbol, nil, domain.ExchangeNSE)
	if err := stampEnvelope(row, domain.SourceNSEConstituents, meta.TradeDate, key, entityID, meta); err != nil {
		return nil, err
	}
	return row, nil
}

// DiffConstituents compares two membership snapshots of the same index
// and emits ADD events for symbols present only in curr and REMOVE
// events for symbols present only in prev. Both frames must hold
// index_constituents rows; meta keys the emitted events to the current
// snapshot date.
func DiffConstituents(prev, curr *frame.Frame, meta Meta) (*frame.Frame, error) {
	out := frame.New(schema.IndexConstituents())
	prevSet := membershipSet(prev)
	currSet := membershipSet(curr)

	for _, r := range curr.Rows {
		k, ok := membershipKey(r)
		if !ok {
			continue
		}
		if _, existed := prevSet[k]; existed {
			continue
		}
		row, err := diffRow(r, ActionAdd, meta)
		if err != nil {
			return nil, err
		}
		out.Append(row)
	}
	for _, r := range prev.Rows {
		k, ok := membershipKey(r)
		if !ok {
			continue
		}
		if _, still := currSet[k]; still {
			continue
		}
		row, err := diffRow(r, ActionRemove, meta)
		if err != nil {
			return nil, err
		}
		out.Append(row)
	}
	return out, nil
}

func diffRow(r frame.Row, action string, meta Meta) (frame.Row, error) {
	indexName, _ := frame.GetString(r, "index_name")
	symbol, _ := frame.GetString(r, "symbol")
	series, _ := frame.GetString(r, "series")
	isin, _ := frame.GetString(r, "isin")
	weight, _ := frame.GetFloat(r, "weight")
	return constituentRow(indexName, symbol, series, isin, weight, action, meta)
}

type membership struct {
	index  string
	symbol string
}

func membershipKey(r frame.Row) (membership, bool) {
	index, ok := frame.GetString(r, "index_name")
	if !ok {
		return membership{}, false
	}
	symbol, ok := frame.GetString(r, "symbol")
	if !ok {
		return membership{}, false
	}
	return membership{index: index, symbol: symbol}, true
}

func membershipSet(f *frame.Frame) map[membership]struct{} {
	set := make(map[membership]struct{}, f.Len())
	if f == nil {
		return set
	}
	for _, r := range f.Rows {
		if k, ok := membershipKey(r); ok {
			set[k] = struct{}{}
		}
	}
	return set
}

var _ Parser = Constituents{}
