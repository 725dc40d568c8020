package schema

import "testing"

func TestField_Lookup(t *testing.T) {
	s := EquityOHLC()

	f, ok := s.Field("close")
	if !ok {
		t.Fatal("Expected close column in equity schema")
	}
	if f.Kind != Float64 || f.Nullable {
		t.Errorf("close: expected required float64, got %v nullable=%v", f.Kind, f.Nullable)
	}

	if _, ok := s.Field("no_such_column"); ok {
		t.Error("Expected lookup miss for unknown column")
	}
}

func TestEnvelope_PresentOnNormalizedDatasets(t *testing.T) {
	datasets := []Schema{
		EquityOHLC(),
		BulkBlockDeals(),
		IndexConstituents(),
		OptionChain(),
		CorporateActions(),
		SymbolMaster(),
		QuarterlyFinancials(),
		TradingCalendar(),
	}

	for _, s := range datasets {
		if !s.HasAll("event_id", "event_time", "ingest_time", "source", "schema_version", "entity_id") {
			t.Errorf("%s: envelope columns missing", s.Name)
		}
		if !s.HasAll("year", "month", "day") {
			t.Errorf("%s: partition columns missing", s.Name)
		}
	}
}

func TestEqual(t *testing.T) {
	a := EquityOHLC()
	b := EquityOHLC()
	if !a.Equal(b) {
		t.Error("Two constructions of the same dataset should be equal")
	}

	c := a.WithFields(Field{Name: "validation_errors", Kind: String})
	if a.Equal(c) {
		t.Error("Extended schema should not equal the original")
	}
	if len(a.Fields)+1 != len(c.Fields) {
		t.Errorf("WithFields: expected %d fields, got %d", len(a.Fields)+1, len(c.Fields))
	}
}

func TestByName(t *testing.T) {
	s, ok := ByName(DatasetOptionChain)
	if !ok || s.Name != DatasetOptionChain {
		t.Fatalf("ByName(option_chain) = %q, %v", s.Name, ok)
	}
	if _, ok := ByName("unknown_dataset"); ok {
		t.Error("Expected miss for unknown dataset name")
	}
}

func TestNames_Order(t *testing.T) {
	s := New("t",
		Field{Name: "a", Kind: String},
		Field{Name: "b", Kind: Int64},
		Field{Name: "c", Kind: Bool},
	)
	names := s.Names()
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Errorf("Names() = %v, want [a b c]", names)
	}
}
