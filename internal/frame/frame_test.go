package frame

import (
	"testing"

	"marketlake/internal/schema"
)

func testSchema() schema.Schema {
	return schema.New("t",
		schema.Field{Name: "symbol", Kind: schema.String},
		schema.Field{Name: "close", Kind: schema.Float64},
		schema.Field{Name: "volume", Kind: schema.Int64},
		schema.Field{Name: "isin", Kind: schema.String, Nullable: true},
		schema.Field{Name: "is_trading_day", Kind: schema.Bool},
	)
}

func TestCheckRow_Valid(t *testing.T) {
	f := New(testSchema())
	row := Row{
		"symbol":         "RELIANCE",
		"close":          2850.5,
		"volume":         int64(120000),
		"isin":           nil,
		"is_trading_day": true,
	}
	if err := f.CheckRow(row); err != nil {
		t.Fatalf("Expected valid row, got %v", err)
	}
}

func TestCheckRow_MissingRequired(t *testing.T) {
	f := New(testSchema())
	row := Row{
		"symbol":         "TCS",
		"volume":         int64(100),
		"is_trading_day": true,
	}
	if err := f.CheckRow(row); err == nil {
		t.Fatal("Expected error for missing required column close")
	}
}

func TestCheckRow_WrongType(t *testing.T) {
	f := New(testSchema())
	row := Row{
		"symbol":         "TCS",
		"close":          "not a number",
		"volume":         int64(100),
		"is_trading_day": true,
	}
	if err := f.CheckRow(row); err == nil {
		t.Fatal("Expected type mismatch error")
	}
}

func TestCheckRow_UnknownColumn(t *testing.T) {
	f := New(testSchema())
	row := Row{
		"symbol":         "TCS",
		"close":          100.0,
		"volume":         int64(100),
		"is_trading_day": true,
		"extra":          "x",
	}
	if err := f.CheckRow(row); err == nil {
		t.Fatal("Expected error for unknown column")
	}
}

func TestSlice_SharesRows(t *testing.T) {
	f := New(testSchema())
	for i := 0; i < 10; i++ {
		f.Append(Row{"volume": int64(i)})
	}

	view := f.Slice(3, 7)
	if view.Len() != 4 {
		t.Fatalf("Expected 4 rows in slice, got %d", view.Len())
	}
	if v, _ := GetInt(view.Rows[0], "volume"); v != 3 {
		t.Errorf("Expected first slice row volume=3, got %d", v)
	}
}

func TestAccessors(t *testing.T) {
	row := Row{
		"s":  "NSE",
		"f":  12.5,
		"i":  int64(7),
		"fi": 7.0,
		"b":  true,
		"n":  nil,
	}

	if v, ok := GetString(row, "s"); !ok || v != "NSE" {
		t.Errorf("GetString = %q, %v", v, ok)
	}
	if v, ok := GetFloat(row, "f"); !ok || v != 12.5 {
		t.Errorf("GetFloat = %v, %v", v, ok)
	}
	if v, ok := GetFloat(row, "i"); !ok || v != 7.0 {
		t.Errorf("GetFloat(int64) = %v, %v", v, ok)
	}
	if v, ok := GetInt(row, "fi"); !ok || v != 7 {
		t.Errorf("GetInt(whole float) = %d, %v", v, ok)
	}
	if _, ok := GetInt(row, "f"); ok {
		t.Error("GetInt should reject fractional floats")
	}
	if v, ok := GetBool(row, "b"); !ok || !v {
		t.Errorf("GetBool = %v, %v", v, ok)
	}
	if !IsNull(row, "n") || !IsNull(row, "absent") {
		t.Error("IsNull should be true for nil and absent columns")
	}
	if IsNull(row, "s") {
		t.Error("IsNull should be false for present values")
	}
}

func TestLen_NilFrame(t *testing.T) {
	var f *Frame
	if f.Len() != 0 {
		t.Error("Nil frame should have zero length")
	}
}
