package validate

import (
	"fmt"
	"math"
	"time"

	"marketlake/internal/frame"
	"marketlake/internal/schema"
)

// priceColumns are the canonical price-bearing columns checked by
// non_negative_prices across all datasets.
var priceColumns = []string{
	"prev_close", "open", "high", "low", "close",
	"last_price", "settlement_price", "trade_price",
	"strike", "bid", "ask", "underlying_value",
}

// BusinessRule is a declarative row-level rule identified by name.
type BusinessRule struct {
	RuleName string
	// Requires lists the columns that must all exist in the schema for
	// the rule to run.
	Requires []string
	// Open returns a fresh per-run checker.
	OpenFn func(cfg Config) Check
	// AppliesFn overrides the Requires check when set.
	AppliesFn func(s schema.Schema) bool
}

func (r *BusinessRule) Name() string { return r.RuleName }

func (r *BusinessRule) Applies(s schema.Schema) bool {
	if r.AppliesFn != nil {
		return r.AppliesFn(s)
	}
	return s.HasAll(r.Requires...)
}

func (r *BusinessRule) Open(cfg Config) Check { return r.OpenFn(cfg) }

var _ Rule = (*BusinessRule)(nil)

// violation builds a single-violation slice for row checks.
func violation(idx int, field, rule, msg string, sev Severity) []Detail {
	return []Detail{{RowIndex: idx, Field: field, Message: msg, Rule: rule, Severity: sev}}
}

// forwardLooking lists datasets whose event dates legitimately run
// ahead of the clock: the full-year trading calendar, and corporate
// actions keyed by upcoming ex-dates.
var forwardLooking = map[string]bool{
	schema.DatasetTradingCalendar:  true,
	schema.DatasetCorporateActions: true,
}

// pastEventsOnly gates rules that compare event dates against the run
// clock.
func pastEventsOnly(requires ...string) func(s schema.Schema) bool {
	return func(s schema.Schema) bool {
		return !forwardLooking[s.Name] && s.HasAll(requires...)
	}
}

// BuiltinRules returns the built-in business rules in their canonical
// order. Each engine run opens fresh checkers, so the returned rules
// are safe to share.
func BuiltinRules() []Rule {
	return []Rule{
		ohlcHighLowConsistency(),
		ohlcOpenInRange(),
		ohlcCloseInRange(),
		nonNegativePrices(),
		nonNegativeVolume(),
		volumeWhenTrades(),
		turnoverReasonableness(),
		priceContinuity(),
		timestampNotFuture(),
		ingestFreshness(),
		dateRange(),
		tradingDayCompleteness(),
		adjustmentFactorPositive(),
		uniqueness(),
	}
}

func ohlcHighLowConsistency() Rule {
	return &BusinessRule{
		RuleName: "ohlc_high_low_consistency",
		Requires: []string{"high", "low"},
		OpenFn: func(Config) Check {
			return func(row frame.Row, idx int) []Detail {
				high, okH := frame.GetFloat(row, "high")
				low, okL := frame.GetFloat(row, "low")
				if okH && okL && high < low {
					return violation(idx, "high", "ohlc_high_low_consistency",
						fmt.Sprintf("high %.4f below low %.4f", high, low), Critical)
				}
				return nil
			}
		},
	}
}

func ohlcOpenInRange() Rule {
	return &BusinessRule{
		RuleName: "ohlc_open_in_range",
		Requires: []string{"open", "high", "low"},
		OpenFn: func(Config) Check {
			return func(row frame.Row, idx int) []Detail {
				open, ok := frame.GetFloat(row, "open")
				high, okH := frame.GetFloat(row, "high")
				low, okL := frame.GetFloat(row, "low")
				if ok && okH && okL && (open < low || open > high) {
					return violation(idx, "open", "ohlc_open_in_range",
						fmt.Sprintf("open %.4f outside [%.4f, %.4f]", open, low, high), Critical)
				}
				return nil
			}
		},
	}
}

func ohlcCloseInRange() Rule {
	return &BusinessRule{
		RuleName: "ohlc_close_in_range",
		Requires: []string{"close", "high", "low"},
		OpenFn: func(Config) Check {
			return func(row frame.Row, idx int) []Detail {
				cl, ok := frame.GetFloat(row, "close")
				high, okH := frame.GetFloat(row, "high")
				low, okL := frame.GetFloat(row, "low")
				if ok && okH && okL && (cl < low || cl > high) {
					return violation(idx, "close", "ohlc_close_in_range",
						fmt.Sprintf("close %.4f outside [%.4f, %.4f]", cl, low, high), Critical)
				}
				return nil
			}
		},
	}
}

func nonNegativePrices() Rule {
	return &BusinessRule{
		RuleName: "non_negative_prices",
		AppliesFn: func(s schema.Schema) bool {
			for _, col := range priceColumns {
				if s.Has(col) {
					return true
				}
			}
			return false
		},
		OpenFn: func(Config) Check {
			return func(row frame.Row, idx int) []Detail {
				var out []Detail
				for _, col := range priceColumns {
					if v, ok := frame.GetFloat(row, col); ok && v < 0 {
						out = append(out, Detail{
							RowIndex: idx, Field: col, Rule: "non_negative_prices",
							Message:  fmt.Sprintf("negative price %.4f", v),
							Severity: Critical,
						})
					}
				}
				return out
			}
		},
	}
}

func nonNegativeVolume() Rule {
	return &BusinessRule{
		RuleName: "non_negative_volume",
		Requires: []string{"volume"},
		OpenFn: func(Config) Check {
			return func(row frame.Row, idx int) []Detail {
				if v, ok := frame.GetInt(row, "volume"); ok && v < 0 {
					return violation(idx, "volume", "non_negative_volume",
						fmt.Sprintf("negative volume %d", v), Critical)
				}
				return nil
			}
		},
	}
}

func volumeWhenTrades() Rule {
	return &BusinessRule{
		RuleName: "volume_when_trades",
		Requires: []string{"trades", "volume"},
		OpenFn: func(Config) Check {
			return func(row frame.Row, idx int) []Detail {
				trades, okT := frame.GetInt(row, "trades")
				vol, okV := frame.GetInt(row, "volume")
				if okT && okV && trades > 0 && vol <= 0 {
					return violation(idx, "volume", "volume_when_trades",
						fmt.Sprintf("%d trades with volume %d", trades, vol), Critical)
				}
				return nil
			}
		},
	}
}

func turnoverReasonableness() Rule {
	return &BusinessRule{
		RuleName: "turnover_reasonableness",
		Requires: []string{"turnover", "volume", "close"},
		OpenFn: func(Config) Check {
			return func(row frame.Row, idx int) []Detail {
				turnover, okT := frame.GetFloat(row, "turnover")
				vol, okV := frame.GetInt(row, "volume")
				cl, okC := frame.GetFloat(row, "close")
				if !okT || !okV || !okC || vol <= 0 || cl <= 0 {
					return nil
				}
				expected := float64(vol) * cl
				if math.Abs(turnover-expected)/expected > 0.01 {
					return violation(idx, "turnover", "turnover_reasonableness",
						fmt.Sprintf("turnover %.2f deviates more than 1%% from volume*close %.2f", turnover, expected), Warning)
				}
				return nil
			}
		},
	}
}

func priceContinuity() Rule {
	return &BusinessRule{
		RuleName: "price_continuity",
		Requires: []string{"prev_close", "close"},
		OpenFn: func(cfg Config) Check {
			limit := cfg.maxPriceChange()
			return func(row frame.Row, idx int) []Detail {
				prev, okP := frame.GetFloat(row, "prev_close")
				cl, okC := frame.GetFloat(row, "close")
				if !okP || !okC || prev <= 0 {
					return nil
				}
				// An adjusted bar legitimately jumps; skip it.
				if af, ok := frame.GetFloat(row, "adjustment_factor"); ok && af != 1.0 {
					return nil
				}
				if math.Abs(cl-prev)/prev > limit {
					return violation(idx, "close", "price_continuity",
						fmt.Sprintf("close %.4f moved more than %.0f%% from prev_close %.4f", cl, limit*100, prev), Warning)
				}
				return nil
			}
		},
	}
}

func timestampNotFuture() Rule {
	return &BusinessRule{
		RuleName:  "timestamp_not_future",
		Requires:  []string{"event_time"},
		AppliesFn: pastEventsOnly("event_time"),
		OpenFn: func(cfg Config) Check {
			limit := cfg.Now.Add(60 * time.Second).UnixMilli()
			return func(row frame.Row, idx int) []Detail {
				if ts, ok := frame.GetInt(row, "event_time"); ok && ts > limit {
					return violation(idx, "event_time", "timestamp_not_future",
						fmt.Sprintf("event_time %d is in the future", ts), Critical)
				}
				return nil
			}
		},
	}
}

func ingestFreshness() Rule {
	return &BusinessRule{
		RuleName:  "ingest_freshness",
		Requires:  []string{"event_time"},
		AppliesFn: pastEventsOnly("event_time"),
		OpenFn: func(cfg Config) Check {
			floor := cfg.Now.Add(-48 * time.Hour).UnixMilli()
			return func(row frame.Row, idx int) []Detail {
				if ts, ok := frame.GetInt(row, "event_time"); ok && ts < floor {
					return violation(idx, "event_time", "ingest_freshness",
						fmt.Sprintf("event_time %d is older than 48h", ts), Warning)
				}
				return nil
			}
		},
	}
}

func dateRange() Rule {
	floorDate := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	return &BusinessRule{
		RuleName:  "date_range",
		Requires:  []string{"year", "month", "day"},
		AppliesFn: pastEventsOnly("year", "month", "day"),
		OpenFn: func(cfg Config) Check {
			today := cfg.Now.UTC().Truncate(24 * time.Hour)
			return func(row frame.Row, idx int) []Detail {
				year, okY := frame.GetInt(row, "year")
				month, okM := frame.GetInt(row, "month")
				day, okD := frame.GetInt(row, "day")
				if !okY || !okM || !okD {
					return nil
				}
				d := time.Date(int(year), time.Month(month), int(day), 0, 0, 0, 0, time.UTC)
				if d.Before(floorDate) || d.After(today) {
					return violation(idx, "year", "date_range",
						fmt.Sprintf("partition date %s outside [1990-01-01, today]", d.Format("2006-01-02")), Critical)
				}
				return nil
			}
		},
	}
}

func tradingDayCompleteness() Rule {
	return &BusinessRule{
		RuleName: "trading_day_completeness",
		Requires: []string{"is_trading_day", "volume"},
		OpenFn: func(Config) Check {
			return func(row frame.Row, idx int) []Detail {
				trading, okT := frame.GetBool(row, "is_trading_day")
				vol, okV := frame.GetInt(row, "volume")
				if okT && okV && trading && vol <= 0 {
					return violation(idx, "volume", "trading_day_completeness",
						"trading day with zero volume", Warning)
				}
				return nil
			}
		},
	}
}

func adjustmentFactorPositive() Rule {
	return &BusinessRule{
		RuleName: "adjustment_factor_positive",
		Requires: []string{"adjustment_factor"},
		OpenFn: func(Config) Check {
			return func(row frame.Row, idx int) []Detail {
				if af, ok := frame.GetFloat(row, "adjustment_factor"); ok && af <= 0 {
					return violation(idx, "adjustment_factor", "adjustment_factor_positive",
						fmt.Sprintf("adjustment_factor %.4f must be positive", af), Critical)
				}
				return nil
			}
		},
	}
}

// uniqueness keys rows on (source, entity_id, trade_date). The seen map
// lives in the opened checker so duplicates are caught across slices.
func uniqueness() Rule {
	return &BusinessRule{
		RuleName: "uniqueness",
		Requires: []string{"source", "entity_id", "trade_date"},
		OpenFn: func(Config) Check {
			type key struct{ source, entity, date string }
			seen := make(map[key]int)
			return func(row frame.Row, idx int) []Detail {
				source, _ := frame.GetString(row, "source")
				entity, _ := frame.GetString(row, "entity_id")
				date, _ := frame.GetString(row, "trade_date")
				k := key{source, entity, date}
				if first, dup := seen[k]; dup {
					return violation(idx, "entity_id", "uniqueness",
						fmt.Sprintf("duplicate of row %d for (%s, %s, %s)", first, source, entity, date), Critical)
				}
				seen[k] = idx
				return nil
			}
		},
	}
}

// CustomRule wraps a caller-supplied check under a name. The severity
// applies to every violation the check reports with an empty severity.
type CustomRule struct {
	RuleName string
	Sev      Severity
	Requires []string
	Fn       func(row frame.Row, idx int) []Detail
}

func (r *CustomRule) Name() string { return r.RuleName }

func (r *CustomRule) Applies(s schema.Schema) bool {
	return s.HasAll(r.Requires...)
}

func (r *CustomRule) Open(Config) Check {
	return func(row frame.Row, idx int) []Detail {
		details := r.Fn(row, idx)
		for i := range details {
			if details[i].Rule == "" {
				details[i].Rule = r.RuleName
			}
			if details[i].Severity == "" {
				details[i].Severity = r.Sev
			}
		}
		return details
	}
}

var _ Rule = (*CustomRule)(nil)
