package parse

import (
	"fmt"
	"strconv"
	"strings"
)

// IsNullToken reports whether a raw cell is one of the null sentinels
// the feeds use: "-", empty string, "null", "NULL", "N/A", "NA".
func IsNullToken(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "-", "null", "NULL", "N/A", "NA":
		return true
	}
	return false
}

// cleanNumber trims a raw numeric cell and strips the thousands commas
// NSE puts in deal quantities.
func cleanNumber(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ",", "")
}

// parseFloat parses a raw cell into a float pointer. Null sentinels
// yield nil.
func parseFloat(s string) (*float64, error) {
	if IsNullToken(s) {
		return nil, nil
	}
	v, err := strconv.ParseFloat(cleanNumber(s), 64)
	if err != nil {
		return nil, fmt.Errorf("parse number %q: %w", s, err)
	}
	return &v, nil
}

// parseInt parses a raw cell into an int pointer. Whole-valued floats
// such as "120.0" are accepted; null sentinels yield nil.
func parseInt(s string) (*int64, error) {
	if IsNullToken(s) {
		return nil, nil
	}
	cleaned := cleanNumber(s)
	if v, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		return &v, nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil, fmt.Errorf("parse integer %q: %w", s, err)
	}
	if f != float64(int64(f)) {
		return nil, fmt.Errorf("parse integer %q: fractional value", s)
	}
	v := int64(f)
	return &v, nil
}

// parseString trims a raw cell into a string pointer. Null sentinels
// yield nil.
func parseString(s string) *string {
	if IsNullToken(s) {
		return nil
	}
	v := strings.TrimSpace(s)
	return &v
}

// orZero dereferences a float pointer with zero for nil.
func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// orZeroInt dereferences an int pointer with zero for nil.
func orZeroInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
