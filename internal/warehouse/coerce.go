package warehouse

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketlake/internal/errs"
)

// Coerce converts a frame value into the Go type the ClickHouse driver
// expects for the column type. Date and DateTime columns are normalized
// to UTC time.Time values; the driver encodes days and sub-second ticks
// on the wire.
func Coerce(v any, t ColumnType) (any, error) {
	if v == nil {
		if t.Nullable {
			return nil, nil
		}
		return zeroValue(t), nil
	}

	switch t.Class {
	case ClassString:
		return coerceString(v)
	case ClassInt:
		return coerceInt(v, t)
	case ClassUInt:
		return coerceUInt(v, t)
	case ClassFloat:
		return coerceFloat(v, t)
	case ClassDecimal:
		return coerceDecimal(v, t)
	case ClassDate:
		return coerceDate(v, t)
	case ClassDateTime:
		return coerceDateTime(v, t)
	case ClassBool:
		return coerceBool(v, t)
	case ClassArray:
		return coerceArray(v, t)
	case ClassMap:
		return coerceMap(v, t)
	default:
		return v, nil
	}
}

func zeroValue(t ColumnType) any {
	switch t.Class {
	case ClassString:
		return ""
	case ClassInt:
		return int64(0)
	case ClassUInt:
		return uint64(0)
	case ClassFloat:
		return float64(0)
	case ClassDecimal:
		return decimal.Zero
	case ClassDate, ClassDateTime:
		return time.Unix(0, 0).UTC()
	case ClassBool:
		return false
	case ClassArray:
		return emptyArray(t)
	case ClassMap:
		return emptyMap(t)
	default:
		return nil
	}
}

// coerceErr is a validation failure: the value can never fit the
// column, so the caller must not retry the insert.
func coerceErr(v any, t ColumnType) error {
	return errs.Errorf(errs.KindValidation, "cannot coerce %T(%v) into %s", v, v, t.Raw)
}

func coerceString(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func coerceInt(v any, t ColumnType) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, coerceErr(v, t)
		}
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil && !math.IsNaN(f) {
			return int64(f), nil
		}
		return nil, coerceErr(v, t)
	default:
		return nil, coerceErr(v, t)
	}
}

func coerceUInt(v any, t ColumnType) (any, error) {
	n, err := coerceInt(v, t)
	if err != nil {
		return nil, err
	}
	i := n.(int64)
	if i < 0 {
		return nil, coerceErr(v, t)
	}
	return uint64(i), nil
}

func coerceFloat(v any, t ColumnType) (any, error) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			if t.Nullable {
				return nil, nil
			}
			return float64(0), nil
		}
		return x, nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case bool:
		if x {
			return float64(1), nil
		}
		return float64(0), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, coerceErr(v, t)
		}
		return f, nil
	default:
		return nil, coerceErr(v, t)
	}
}

func coerceDecimal(v any, t ColumnType) (any, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, coerceErr(v, t)
		}
		return decimal.NewFromFloat(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return nil, coerceErr(v, t)
		}
		return d, nil
	default:
		return nil, coerceErr(v, t)
	}
}

func coerceDate(v any, t ColumnType) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		d, err := time.Parse("2006-01-02", strings.TrimSpace(x))
		if err != nil {
			return nil, coerceErr(v, t)
		}
		return d.UTC(), nil
	case int64:
		// Dates arrive from some feeds as YYYYMMDD integers.
		y, m, d := int(x/10000), int(x/100%100), int(x%100)
		if y < 1900 || y > 2299 || m < 1 || m > 12 || d < 1 || d > 31 {
			return nil, coerceErr(v, t)
		}
		return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), nil
	default:
		return nil, coerceErr(v, t)
	}
}

func coerceDateTime(v any, t ColumnType) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case int64:
		return epochToTime(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, coerceErr(v, t)
		}
		return epochToTime(int64(x)), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range []string{
			time.RFC3339Nano,
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05",
			"2006-01-02",
		} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return nil, coerceErr(v, t)
	default:
		return nil, coerceErr(v, t)
	}
}

// epochToTime treats values above 1e12 as epoch milliseconds and the
// rest as epoch seconds. Millisecond timestamps stayed above 1e12 from
// 2001 onward; second timestamps stay below it until the year 33658.
func epochToTime(v int64) time.Time {
	if v > 1_000_000_000_000 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

func coerceBool(v any, t ColumnType) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, coerceErr(v, t)
		}
		return b, nil
	default:
		return nil, coerceErr(v, t)
	}
}

func emptyArray(t ColumnType) any {
	if t.Elem != nil && t.Elem.Class == ClassString {
		return []string{}
	}
	return []any{}
}

func emptyMap(t ColumnType) any {
	if t.Elem != nil && t.Elem.Class == ClassString {
		return map[string]string{}
	}
	return map[string]any{}
}

func coerceArray(v any, t ColumnType) (any, error) {
	var elems []any
	switch x := v.(type) {
	case []string:
		return x, nil
	case []any:
		elems = x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return emptyArray(t), nil
		}
		if err := json.Unmarshal([]byte(s), &elems); err != nil {
			return nil, coerceErr(v, t)
		}
	default:
		return nil, coerceErr(v, t)
	}
	if t.Elem == nil {
		return elems, nil
	}
	if t.Elem.Class == ClassString {
		out := make([]string, 0, len(elems))
		for _, e := range elems {
			s, err := coerceString(e)
			if err != nil {
				return nil, err
			}
			out = append(out, s.(string))
		}
		return out, nil
	}
	out := make([]any, 0, len(elems))
	for _, e := range elems {
		c, err := Coerce(e, *t.Elem)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func coerceMap(v any, t ColumnType) (any, error) {
	var m map[string]any
	switch x := v.(type) {
	case map[string]string:
		return x, nil
	case map[string]any:
		m = x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return emptyMap(t), nil
		}
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, coerceErr(v, t)
		}
	default:
		return nil, coerceErr(v, t)
	}
	if t.Elem != nil && t.Elem.Class == ClassString {
		out := make(map[string]string, len(m))
		for k, e := range m {
			s, err := coerceString(e)
			if err != nil {
				return nil, err
			}
			out[k] = s.(string)
		}
		return out, nil
	}
	if t.Elem == nil {
		return m, nil
	}
	out := make(map[string]any, len(m))
	for k, e := range m {
		c, err := Coerce(e, *t.Elem)
		if err != nil {
			return nil, err
		}
		out[k] = c
	}
	return out, nil
}
