// Package idhash computes the deterministic identifiers stamped on
// every normalized event.
package idhash

import (
	"fmt"

	"github.com/google/uuid"

	"marketlake/internal/domain"
)

// ComputeEventID computes a deterministic event_id as a UUIDv5 in the
// DNS namespace.
// Formula: UUIDv5(DNS, "{source}:{trade_date}:{business_key}")
// Returns the canonical 36-character UUID string.
func ComputeEventID(source domain.Source, tradeDate, businessKey string) string {
	name := fmt.Sprintf("%s:%s:%s", source, tradeDate, businessKey)
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

// ComputeEntityID builds the stable instrument identity carried in the
// event envelope.
// Formula: "{symbol}:{instrument_id}:{exchange}", with "UNKNOWN" in
// place of a missing instrument_id.
func ComputeEntityID(symbol string, instrumentID *string, exchange string) string {
	id := "UNKNOWN"
	if instrumentID != nil && *instrumentID != "" {
		id = *instrumentID
	}
	return fmt.Sprintf("%s:%s:%s", symbol, id, exchange)
}
