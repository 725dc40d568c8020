package sched

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"marketlake/internal/errs"
	"marketlake/internal/lake"
	"marketlake/internal/schema"
)

// TradingDays answers whether a date had, or has, a trading session.
// The second return is false when the source carries no row for the
// date; callers then fall back to weekday checks.
type TradingDays interface {
	IsTradingDay(date string) (trading, ok bool)
}

// calendarTTL bounds how long a cached year is trusted. Exchanges
// announce ad-hoc holidays mid-year, and a long-lived scheduler must
// see the refreshed partition without a restart.
const calendarTTL = 24 * time.Hour

// LakeCalendar resolves trading days from the trading_calendar dataset
// in the lake. Loaded years are cached; misses are not, so a calendar
// written after startup becomes visible on the next lookup.
type LakeCalendar struct {
	writer *lake.Writer
	clock  func() time.Time

	mu    sync.Mutex
	years map[string]yearDays
}

type yearDays struct {
	days     map[string]bool
	loadedAt time.Time
}

// NewLakeCalendar reads from the given lake.
func NewLakeCalendar(w *lake.Writer) *LakeCalendar {
	return &LakeCalendar{writer: w, clock: time.Now, years: make(map[string]yearDays)}
}

// IsTradingDay implements TradingDays for ISO dates.
func (c *LakeCalendar) IsTradingDay(date string) (bool, bool) {
	if len(date) < 4 {
		return false, false
	}
	year := date[:4]

	c.mu.Lock()
	defer c.mu.Unlock()

	cached, loaded := c.years[year]
	if !loaded || c.clock().Sub(cached.loadedAt) > calendarTTL {
		days, err := c.loadYear(year)
		if err != nil {
			if !loaded {
				return false, false
			}
			// Reload failure keeps serving the stale year.
		} else {
			cached = yearDays{days: days, loadedAt: c.clock()}
			c.years[year] = cached
		}
	}

	trading, ok := cached.days[date]
	return trading, ok
}

func (c *LakeCalendar) loadYear(year string) (map[string]bool, error) {
	dir := filepath.Join(c.writer.DatasetDir(schema.DatasetTradingCalendar), "year="+year)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	days := make(map[string]bool, 366)
	var found bool
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "part-") || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		f, err := lake.ReadParquet(filepath.Join(dir, e.Name()), schema.TradingCalendar())
		if err != nil {
			return nil, err
		}
		found = true
		for _, r := range f.Rows {
			d, _ := r["date"].(string)
			trading, _ := r["is_trading_day"].(bool)
			if d != "" {
				days[d] = trading
			}
		}
	}
	if !found {
		return nil, errs.Errorf(errs.KindNotFound, "no calendar data for %s", year)
	}
	return days, nil
}

var _ TradingDays = (*LakeCalendar)(nil)
