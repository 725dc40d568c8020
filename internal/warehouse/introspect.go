package warehouse

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"marketlake/internal/errs"
)

// Class is the coercion family of a ClickHouse column type.
type Class int

const (
	ClassOther Class = iota
	ClassString
	ClassInt
	ClassUInt
	ClassFloat
	ClassDecimal
	ClassDate
	ClassDateTime
	ClassBool
	ClassArray
	ClassMap
)

func (c Class) String() string {
	switch c {
	case ClassString:
		return "String"
	case ClassInt:
		return "Int"
	case ClassUInt:
		return "UInt"
	case ClassFloat:
		return "Float"
	case ClassDecimal:
		return "Decimal"
	case ClassDate:
		return "Date"
	case ClassDateTime:
		return "DateTime"
	case ClassBool:
		return "Bool"
	case ClassArray:
		return "Array"
	case ClassMap:
		return "Map"
	default:
		return "Other"
	}
}

// ColumnType is a parsed ClickHouse type string. Nullable and
// LowCardinality wrappers are unwrapped into flags.
type ColumnType struct {
	Raw            string
	Class          Class
	Nullable       bool
	LowCardinality bool
	// Precision and Scale are set for Decimal types; Scale doubles as
	// the sub-second precision of DateTime64.
	Precision int
	Scale     int
	// Elem is the element type of Array columns, Value of Map columns.
	Elem *ColumnType
}

// Column is one column of a warehouse table, in catalog order.
type Column struct {
	Name       string
	Type       ColumnType
	Position   uint64
	HasDefault bool
}

// TableColumns introspects the target table's columns from
// system.columns in position order.
func TableColumns(ctx context.Context, conn *Conn, table string) ([]Column, error) {
	rows, err := conn.Query(ctx, `
		SELECT name, type, position, default_kind
		FROM system.columns
		WHERE database = currentDatabase() AND table = ?
		ORDER BY position
	`, table)
	if err != nil {
		return nil, errs.E(errs.KindIntegration, fmt.Errorf("introspect %s: %w", table, err))
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			name, typeStr, defaultKind string
			position                   uint64
		)
		if err := rows.Scan(&name, &typeStr, &position, &defaultKind); err != nil {
			return nil, errs.E(errs.KindIntegration, fmt.Errorf("scan system.columns: %w", err))
		}
		cols = append(cols, Column{
			Name:       name,
			Type:       ParseColumnType(typeStr),
			Position:   position,
			HasDefault: defaultKind != "",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.E(errs.KindIntegration, fmt.Errorf("read system.columns: %w", err))
	}
	if len(cols) == 0 {
		return nil, errs.Errorf(errs.KindIntegration, "table %s does not exist", table)
	}
	return cols, nil
}

// ParseColumnType parses a ClickHouse type string such as
// "LowCardinality(Nullable(String))" or "Decimal(18, 4)".
func ParseColumnType(raw string) ColumnType {
	t := ColumnType{Raw: raw}
	s := strings.TrimSpace(raw)

	for {
		switch {
		case strings.HasPrefix(s, "Nullable(") && strings.HasSuffix(s, ")"):
			t.Nullable = true
			s = s[len("Nullable(") : len(s)-1]
		case strings.HasPrefix(s, "LowCardinality(") && strings.HasSuffix(s, ")"):
			t.LowCardinality = true
			s = s[len("LowCardinality(") : len(s)-1]
		default:
			t.classify(s)
			return t
		}
	}
}

func (t *ColumnType) classify(s string) {
	base, args := splitTypeArgs(s)
	switch base {
	case "String", "FixedString", "UUID", "Enum8", "Enum16", "IPv4", "IPv6":
		t.Class = ClassString
	case "Int8", "Int16", "Int32", "Int64", "Int128", "Int256":
		t.Class = ClassInt
	case "UInt8", "UInt16", "UInt32", "UInt64", "UInt128", "UInt256":
		t.Class = ClassUInt
	case "Float32", "Float64":
		t.Class = ClassFloat
	case "Decimal":
		t.Class = ClassDecimal
		if len(args) == 2 {
			t.Precision, _ = strconv.Atoi(args[0])
			t.Scale, _ = strconv.Atoi(args[1])
		}
	case "Decimal32", "Decimal64", "Decimal128", "Decimal256":
		t.Class = ClassDecimal
		if len(args) == 1 {
			t.Scale, _ = strconv.Atoi(args[0])
		}
	case "Date", "Date32":
		t.Class = ClassDate
	case "DateTime":
		t.Class = ClassDateTime
	case "DateTime64":
		t.Class = ClassDateTime
		if len(args) >= 1 {
			t.Scale, _ = strconv.Atoi(args[0])
		}
	case "Bool":
		t.Class = ClassBool
	case "Array":
		t.Class = ClassArray
		if len(args) == 1 {
			elem := ParseColumnType(args[0])
			t.Elem = &elem
		}
	case "Map":
		t.Class = ClassMap
		if len(args) == 2 {
			elem := ParseColumnType(args[1])
			t.Elem = &elem
		}
	default:
		t.Class = ClassOther
	}
}

// splitTypeArgs splits "Decimal(18, 4)" into base "Decimal" and args
// ["18", "4"], respecting nested parentheses and quoted strings.
func splitTypeArgs(s string) (string, []string) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return s, nil
	}
	base := s[:open]
	inner := s[open+1 : len(s)-1]

	var args []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '\'':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				args = append(args, strings.TrimSpace(inner[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(inner[start:]); rest != "" {
		args = append(args, rest)
	}
	return base, args
}
