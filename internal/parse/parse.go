// Package parse turns raw source bytes into canonical frames. Each
// parser declares its expected source layout and fails fast with a
// schema drift error when the upstream format changes.
package parse

import (
	"time"

	"marketlake/internal/domain"
	"marketlake/internal/frame"
	"marketlake/internal/idhash"
	"marketlake/internal/schema"
)

// Meta carries the run-scoped inputs every parser needs.
type Meta struct {
	TradeDate     string // ISO date keying the run
	SchemaVersion string
	Now           func() time.Time // ingest clock, nil means time.Now
}

func (m Meta) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Result is what a parser produces from one raw payload.
type Result struct {
	// Frame holds the canonical rows.
	Frame *frame.Frame
	// Raw holds the source-native projection for the raw lake layer.
	// Nil for sources without a raw dataset.
	Raw *frame.Frame
	// Dropped counts source rows skipped for unmappable values. Header
	// drift is not counted here, it fails the whole parse.
	Dropped int
}

// Parser converts raw bytes into canonical frames.
type Parser interface {
	Source() domain.Source
	Schema() schema.Schema
	Parse(raw []byte, meta Meta) (*Result, error)
}

// stampEnvelope fills the shared envelope and partition columns on a
// canonical row.
func stampEnvelope(r frame.Row, source domain.Source, tradeDate, businessKey, entityID string, meta Meta) error {
	eventTime, err := domain.MidnightMs(tradeDate)
	if err != nil {
		return err
	}
	year, month, day, err := domain.Partition(tradeDate)
	if err != nil {
		return err
	}
	r["event_id"] = idhash.ComputeEventID(source, tradeDate, businessKey)
	r["event_time"] = eventTime
	r["ingest_time"] = meta.now().UnixMilli()
	r["source"] = string(source)
	r["schema_version"] = meta.SchemaVersion
	r["entity_id"] = entityID
	r["year"] = int64(year)
	r["month"] = int64(month)
	r["day"] = int64(day)
	return nil
}
