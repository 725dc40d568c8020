package parse

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"marketlake/internal/errs"
)

// readCSV decodes raw bytes into header + records. Cells keep their raw
// text; callers trim as they map. A UTF-8 BOM on the first cell is
// stripped, ragged rows are tolerated so a short trailer line does not
// kill the whole file.
func readCSV(raw []byte) ([]string, [][]string, error) {
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, errs.Errorf(errs.KindData, "read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, errs.Errorf(errs.KindData, "read csv: empty file")
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	return header, records[1:], nil
}

// checkHeader verifies that a parsed header carries exactly the expected
// column names in order. Any mismatch is schema drift and the whole
// file is rejected.
func checkHeader(got, want []string) error {
	if headerEqual(got, want) {
		return nil
	}
	missing, extra := headerDiff(got, want)
	return errs.Errorf(errs.KindSchemaDrift,
		"header mismatch: missing=%v extra=%v", missing, extra)
}

func headerEqual(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if !strings.EqualFold(got[i], want[i]) {
			return false
		}
	}
	return true
}

func headerDiff(got, want []string) (missing, extra []string) {
	gotSet := make(map[string]bool, len(got))
	for _, c := range got {
		gotSet[strings.ToUpper(c)] = true
	}
	wantSet := make(map[string]bool, len(want))
	for _, c := range want {
		wantSet[strings.ToUpper(c)] = true
	}
	for _, c := range want {
		if !gotSet[strings.ToUpper(c)] {
			missing = append(missing, c)
		}
	}
	for _, c := range got {
		if !wantSet[strings.ToUpper(c)] {
			extra = append(extra, c)
		}
	}
	return missing, extra
}

// cell returns record[i] or empty when the row is ragged.
func cell(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}

// rowError decorates a per-row mapping failure with its position. Rows
// are counted from 1 excluding the header so the number matches what an
// operator sees opening the file.
func rowError(row int, err error) error {
	return fmt.Errorf("row %d: %w", row, err)
}
