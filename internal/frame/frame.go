// Package frame provides the in-memory tabular unit passed between
// pipeline steps. Cell values use a closed set of Go types: nil,
// string, int64, float64, bool.
package frame

import (
	"fmt"

	"marketlake/internal/schema"
)

// Row is one record keyed by column name.
type Row = map[string]any

// Frame couples an ordered schema with its rows. The schema is
// authoritative for column order, type and nullability; rows may omit
// nullable columns.
type Frame struct {
	Schema schema.Schema
	Rows   []Row
}

// New creates an empty frame for the given schema.
func New(s schema.Schema) *Frame {
	return &Frame{Schema: s}
}

// Append adds a row.
func (f *Frame) Append(r Row) {
	f.Rows = append(f.Rows, r)
}

// Len returns the row count. Nil frames have zero rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Slice returns a view over rows [i, j). The view shares row storage
// with the parent.
func (f *Frame) Slice(i, j int) *Frame {
	return &Frame{Schema: f.Schema, Rows: f.Rows[i:j]}
}

// CheckRow verifies a row's values against the schema: required columns
// present and non-nil, every value within the closed type set matching
// the declared kind. Unknown columns are rejected.
func (f *Frame) CheckRow(r Row) error {
	for name := range r {
		if !f.Schema.Has(name) {
			return fmt.Errorf("column %q not in schema %s", name, f.Schema.Name)
		}
	}
	for _, fd := range f.Schema.Fields {
		v, ok := r[fd.Name]
		if !ok || v == nil {
			if !fd.Nullable {
				return fmt.Errorf("column %q is required in schema %s", fd.Name, f.Schema.Name)
			}
			continue
		}
		if !kindMatches(fd.Kind, v) {
			return fmt.Errorf("column %q: value %T does not match %s", fd.Name, v, fd.Kind)
		}
	}
	return nil
}

func kindMatches(k schema.Kind, v any) bool {
	switch k {
	case schema.String:
		_, ok := v.(string)
		return ok
	case schema.Int64:
		_, ok := v.(int64)
		return ok
	case schema.Float64:
		switch v.(type) {
		case float64, int64:
			return true
		}
		return false
	case schema.Bool:
		_, ok := v.(bool)
		return ok
	}
	return false
}

// IsNull reports whether the column is absent or nil in the row.
func IsNull(r Row, col string) bool {
	v, ok := r[col]
	return !ok || v == nil
}

// GetString returns the column as a string. The second result is false
// when the value is absent, nil, or not a string.
func GetString(r Row, col string) (string, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt returns the column as int64. Float values with no fractional
// part are accepted.
func GetInt(r Row, col string) (int64, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// GetFloat returns the column as float64, promoting int64.
func GetFloat(r Row, col string) (float64, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// GetBool returns the column as bool.
func GetBool(r Row, col string) (bool, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
