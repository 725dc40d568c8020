package parse

import (
	"strings"
	"testing"

	"marketlake/internal/frame"
)

func corpActionsCSV(rows ...string) []byte {
	lines := append([]string{strings.Join(corpActionsHeader, ",")}, rows...)
	return []byte(strings.Join(lines, "\n") + "\n")
}

func TestCorporateActions_Parse(t *testing.T) {
	raw := corpActionsCSV(
		"RELIANCE,EQ,10,INE002A01018,Dividend - Rs 9 Per Share,18-Jan-2024,19-Jan-2024,,,,",
		"TATAMOTORS,EQ,2,INE155A01022,Face Value Split From Rs 2 To Re 1,22-Jan-2024,,24-Jan-2024,25-Jan-2024,,",
	)
	res, err := CorporateActions{}.Parse(raw, testMeta())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if res.Frame.Len() != 2 {
		t.Fatalf("Expected 2 rows, got %d", res.Frame.Len())
	}

	div := res.Frame.Rows[0]
	if err := res.Frame.CheckRow(div); err != nil {
		t.Fatalf("Row fails schema check: %v", err)
	}
	if got, _ := frame.GetString(div, "action_type"); got != "DIVIDEND" {
		t.Errorf("Expected DIVIDEND, got %q", got)
	}
	if got, _ := frame.GetString(div, "ex_date"); got != "2024-01-18" {
		t.Errorf("Expected ISO ex_date, got %q", got)
	}
	if got, _ := frame.GetString(div, "record_date"); got != "2024-01-19" {
		t.Errorf("Expected ISO record_date, got %q", got)
	}
	// Partitioned by the ex-date, not the run date.
	if got, _ := frame.GetInt(div, "day"); got != 18 {
		t.Errorf("Expected partition day 18, got %v", got)
	}

	split := res.Frame.Rows[1]
	if got, _ := frame.GetString(split, "action_type"); got != "SPLIT" {
		t.Errorf("Expected SPLIT, got %q", got)
	}
	if got, _ := frame.GetString(split, "bc_start_date"); got != "2024-01-24" {
		t.Errorf("Expected ISO bc_start_date, got %q", got)
	}
}

func TestCorporateActions_DropsRowsWithoutExDate(t *testing.T) {
	raw := corpActionsCSV(
		"RELIANCE,EQ,10,INE002A01018,Dividend - Rs 9 Per Share,18-Jan-2024,,,,,",
		"PENDINGCO,EQ,10,INE000000011,Annual General Meeting,-,,,,,",
	)
	res, err := CorporateActions{}.Parse(raw, testMeta())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if res.Frame.Len() != 1 || res.Dropped != 1 {
		t.Fatalf("Expected 1 kept and 1 dropped, got kept=%d dropped=%d", res.Frame.Len(), res.Dropped)
	}
}

func TestClassifyCorpAction(t *testing.T) {
	cases := []struct {
		purpose string
		want    string
	}{
		{"Dividend - Rs 9 Per Share", "DIVIDEND"},
		{"Interim Dividend", "DIVIDEND"},
		{"Bonus 1:1", "BONUS"},
		{"Face Value Split From Rs 10 To Rs 2", "SPLIT"},
		{"Sub-Division Of Shares", "SPLIT"},
		{"Split Cum Dividend", "SPLIT"},
		{"Rights 1:4 @ Premium Rs 50", "RIGHTS"},
		{"Buyback Of Shares", "BUYBACK"},
		{"Buy Back Of Shares", "BUYBACK"},
		{"Annual General Meeting", "OTHER"},
	}
	for _, tc := range cases {
		p := tc.purpose
		if got := ClassifyCorpAction(&p); got != tc.want {
			t.Errorf("ClassifyCorpAction(%q) = %q, want %q", tc.purpose, got, tc.want)
		}
	}
	if got := ClassifyCorpAction(nil); got != "OTHER" {
		t.Errorf("ClassifyCorpAction(nil) = %q, want OTHER", got)
	}
}
