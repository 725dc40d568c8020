// Package refdata builds an in-memory index over the symbol master and
// enriches equity bars with instrument identifiers.
package refdata

import (
	"fmt"

	"marketlake/internal/errs"
	"marketlake/internal/frame"
)

type listing struct {
	instrumentID string
	isin         string
	series       string
}

// Index resolves instrument identities from a symbol master frame.
// Lookups try the exact (symbol, isin) pair first and fall back to the
// symbol alone.
type Index struct {
	bySymbolISIN map[string]listing
	bySymbol     map[string]listing
}

// NewIndex builds an index from a symbol master frame. When one symbol
// is listed under several series, the EQ listing wins the symbol-only
// slot.
func NewIndex(master *frame.Frame) (*Index, error) {
	if master == nil {
		return nil, errs.Errorf(errs.KindData, "refdata: nil symbol master")
	}
	if !master.Schema.HasAll("symbol", "isin", "instrument_id", "series") {
		return nil, errs.Errorf(errs.KindSchemaDrift,
			"refdata: frame %s is not a symbol master", master.Schema.Name)
	}

	ix := &Index{
		bySymbolISIN: make(map[string]listing, master.Len()),
		bySymbol:     make(map[string]listing, master.Len()),
	}
	for _, r := range master.Rows {
		symbol, ok := frame.GetString(r, "symbol")
		if !ok {
			continue
		}
		isin, _ := frame.GetString(r, "isin")
		instrumentID, _ := frame.GetString(r, "instrument_id")
		series, _ := frame.GetString(r, "series")
		l := listing{instrumentID: instrumentID, isin: isin, series: series}

		if isin != "" {
			ix.bySymbolISIN[pairKey(symbol, isin)] = l
		}
		prev, seen := ix.bySymbol[symbol]
		if !seen || (prev.series != "EQ" && series == "EQ") {
			ix.bySymbol[symbol] = l
		}
	}
	return ix, nil
}

// Len returns the number of symbols indexed.
func (ix *Index) Len() int {
	return len(ix.bySymbol)
}

// Lookup resolves a symbol, preferring the exact (symbol, isin) pair
// when an ISIN is supplied. The second return is the listing's ISIN.
func (ix *Index) Lookup(symbol string, isin *string) (string, string, bool) {
	if isin != nil && *isin != "" {
		if l, ok := ix.bySymbolISIN[pairKey(symbol, *isin)]; ok {
			return l.instrumentID, l.isin, true
		}
	}
	if l, ok := ix.bySymbol[symbol]; ok {
		return l.instrumentID, l.isin, true
	}
	return "", "", false
}

func pairKey(symbol, isin string) string {
	return fmt.Sprintf("%s|%s", symbol, isin)
}

// Stats counts what one enrichment pass did.
type Stats struct {
	Rows     int
	Enriched int
	Missed   int
}

// Enrich fills null instrument_id and isin columns in place from the
// index. Rows the master cannot resolve are left as they are; identity
// gaps never reject a bar.
func Enrich(f *frame.Frame, ix *Index) Stats {
	var st Stats
	if f == nil || ix == nil {
		return st
	}
	if !f.Schema.HasAll("symbol", "instrument_id") {
		return st
	}
	hasISIN := f.Schema.Has("isin")
	st.Rows = f.Len()

	for _, r := range f.Rows {
		idSet := !frame.IsNull(r, "instrument_id")
		isinSet := hasISIN && !frame.IsNull(r, "isin")
		if idSet && (isinSet || !hasISIN) {
			continue
		}
		symbol, ok := frame.GetString(r, "symbol")
		if !ok {
			st.Missed++
			continue
		}
		var isin *string
		if isinSet {
			v, _ := frame.GetString(r, "isin")
			isin = &v
		}
		instrumentID, resolvedISIN, ok := ix.Lookup(symbol, isin)
		if !ok {
			st.Missed++
			continue
		}
		if !idSet && instrumentID != "" {
			r["instrument_id"] = instrumentID
		}
		if hasISIN && !isinSet && resolvedISIN != "" {
			r["isin"] = resolvedISIN
		}
		st.Enriched++
	}
	return st
}
