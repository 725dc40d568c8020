// Package lake owns the on-disk columnar store: idempotency markers,
// the partition-aware parquet writer, quarantine output, metadata
// sidecars and the small-file coalescer.
package lake

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"marketlake/internal/errs"
)

// Marker is the completion record written next to a partition's data
// files. A present, well-formed marker means the keyed write finished;
// re-runs skip the work.
type Marker struct {
	Key       string            `json:"key"`
	Rows      int64             `json:"rows"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Markers reads and writes completion markers. Markers live as JSON
// sidecars inside the partition directory they describe.
type Markers struct{}

// MarkerPath returns the sidecar path for a key inside dir.
func MarkerPath(dir, key string) string {
	return filepath.Join(dir, fmt.Sprintf("_marker.%s.json", key))
}

// IsComplete reports whether a well-formed marker exists for the key.
// A corrupt marker reads as incomplete so the step re-runs.
func (m Markers) IsComplete(dir, key string) bool {
	marker, err := m.Read(dir, key)
	return err == nil && marker != nil
}

// Read loads the marker for a key. Missing and corrupt markers both
// return nil without error; the distinction does not matter to callers,
// either way the write must run.
func (m Markers) Read(dir, key string) (*Marker, error) {
	raw, err := os.ReadFile(MarkerPath(dir, key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.E(errs.KindData, fmt.Errorf("read marker: %w", err))
	}
	var marker Marker
	if err := json.Unmarshal(raw, &marker); err != nil {
		return nil, nil
	}
	if marker.Key != key {
		return nil, nil
	}
	return &marker, nil
}

// RecordComplete writes the marker for a finished keyed write. The
// sidecar is written to a temp name and renamed so readers never see a
// partial marker.
func (m Markers) RecordComplete(dir, key string, rows int64, metadata map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.E(errs.KindData, fmt.Errorf("create partition dir: %w", err))
	}
	marker := Marker{
		Key:       key,
		Rows:      rows,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	raw, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return errs.E(errs.KindData, fmt.Errorf("encode marker: %w", err))
	}

	path := MarkerPath(dir, key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errs.E(errs.KindData, fmt.Errorf("write marker: %w", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.E(errs.KindData, fmt.Errorf("publish marker: %w", err))
	}
	return nil
}
