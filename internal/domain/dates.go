package domain

import (
	"fmt"
	"strings"
	"time"
)

// Date layouts seen across NSE and BSE feeds.
const (
	layoutISO       = "2006-01-02"
	layoutCompact   = "20060102"
	layoutDDMMYYYY  = "02012006"
	layoutNSELegacy = "02Jan2006"   // 15JAN2024 after upper-casing
	layoutDDMMMYYYY = "02-Jan-2006" // 25-Jan-2024
)

// ParseISODate parses YYYY-MM-DD into a UTC midnight time.
func ParseISODate(s string) (time.Time, error) {
	t, err := time.Parse(layoutISO, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse trade date %q: %w", s, err)
	}
	return t, nil
}

// MidnightMs returns the UTC midnight of an ISO date in epoch
// milliseconds. This is the canonical event_time of daily events.
func MidnightMs(isoDate string) (int64, error) {
	t, err := ParseISODate(isoDate)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// Partition splits an ISO date into its Hive partition parts.
func Partition(isoDate string) (year, month, day int, err error) {
	t, err := ParseISODate(isoDate)
	if err != nil {
		return 0, 0, 0, err
	}
	return t.Year(), int(t.Month()), t.Day(), nil
}

// CompactDate renders an ISO date as YYYYMMDD for URL building.
func CompactDate(isoDate string) (string, error) {
	t, err := ParseISODate(isoDate)
	if err != nil {
		return "", err
	}
	return t.Format(layoutCompact), nil
}

// DDMMYYYYDate renders an ISO date as DDMMYYYY for URL building.
func DDMMYYYYDate(isoDate string) (string, error) {
	t, err := ParseISODate(isoDate)
	if err != nil {
		return "", err
	}
	return t.Format(layoutDDMMYYYY), nil
}

// NSELegacyDate renders an ISO date as the upper-cased DDMMMYYYY used
// by the legacy NSE archive paths, e.g. 15JAN2024.
func NSELegacyDate(isoDate string) (string, error) {
	t, err := ParseISODate(isoDate)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(t.Format(layoutNSELegacy)), nil
}

// ParseDDMMMYYYY parses dates like 25-Jan-2024 into ISO form. Case of
// the month abbreviation is normalized first since NSE mixes JAN and Jan.
func ParseDDMMMYYYY(s string) (string, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) == 3 && len(parts[1]) == 3 {
		m := strings.ToUpper(parts[1][:1]) + strings.ToLower(parts[1][1:])
		s = parts[0] + "-" + m + "-" + parts[2]
	}
	t, err := time.Parse(layoutDDMMMYYYY, s)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	return t.Format(layoutISO), nil
}

// ParseFlexibleDate accepts the date spellings that appear across the
// feeds: ISO, DD-MMM-YYYY, and compact YYYYMMDD.
func ParseFlexibleDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(layoutISO, s); err == nil {
		return s, nil
	}
	if iso, err := ParseDDMMMYYYY(s); err == nil {
		return iso, nil
	}
	if t, err := time.Parse(layoutCompact, s); err == nil {
		return t.Format(layoutISO), nil
	}
	return "", fmt.Errorf("unrecognized date %q", s)
}

// IST is the exchange timezone. Both NSE and BSE stamp feeds in
// Asia/Kolkata local time with no offset marker.
var IST = time.FixedZone("IST", 5*3600+30*60)

// ParseISTTimestamp parses the "15-Jan-2024 15:30:00" timestamps NSE
// puts on intraday snapshots, interpreting them in IST.
func ParseISTTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.ParseInLocation("02-Jan-2006 15:04:05", s, IST)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
