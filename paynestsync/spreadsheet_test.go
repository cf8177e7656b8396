package paynestsync

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	header := []interface{}{"Reference", "Date", "Amount", "Description", "Property ID", "Category"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("write row %d: %v", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return &buf
}

func TestParseHistoricalWorkbook_GoodRows(t *testing.T) {
	buf := buildWorkbook(t, [][]interface{}{
		{"STMT-001", "2025-06-01", "850.00", "June rent", "P-1", "Rent"},
		{"STMT-002", "14/06/2025", "-120.50", "Boiler repair", "P-1", "Maintenance"},
	})

	rows, problems, err := ParseHistoricalWorkbook(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	if rows[0].Reference != "STMT-001" || !rows[0].Amount.Equal(mustDecimal(t, "850.00")) {
		t.Fatalf("row 1 mismatch: %+v", rows[0])
	}
	if rows[0].TransactionDate != time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("row 1 date = %s", rows[0].TransactionDate)
	}
	// dd/mm/yyyy layout.
	if rows[1].TransactionDate.Day() != 14 || rows[1].TransactionDate.Month() != time.June {
		t.Fatalf("row 2 date = %s", rows[1].TransactionDate)
	}
	if !rows[1].Amount.IsNegative() {
		t.Fatalf("row 2 amount = %s, want negative", rows[1].Amount)
	}
}

func TestParseHistoricalWorkbook_BadRowsReported(t *testing.T) {
	buf := buildWorkbook(t, [][]interface{}{
		{"", "2025-06-01", "850.00", "no reference", "P-1", "Rent"},
		{"STMT-003", "not a date", "850.00", "bad date", "P-1", "Rent"},
		{"STMT-004", "2025-06-03", "lots", "bad amount", "P-1", "Rent"},
		{"STMT-005", "2025-06-04", "850.00", "fine", "P-1", "Rent"},
	})

	rows, problems, err := ParseHistoricalWorkbook(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want only the valid row", len(rows))
	}
	if rows[0].Reference != "STMT-005" {
		t.Fatalf("kept row = %+v", rows[0])
	}
	if len(problems) != 3 {
		t.Fatalf("problems = %d (%v), want 3", len(problems), problems)
	}
	// Problem messages carry the sheet row number for the operator.
	if !strings.Contains(problems[0], "row 2") {
		t.Fatalf("problem lacks row number: %q", problems[0])
	}
}

func TestParseHistoricalWorkbook_EmptyWorkbook(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	if _, _, err := ParseHistoricalWorkbook(&buf); err == nil {
		t.Fatal("header-only workbook must error")
	}
}

func TestParseStatementDate_Layouts(t *testing.T) {
	for _, raw := range []string{"2025-06-14", "14/06/2025", "14-06-2025", "14-Jun-25"} {
		got, err := parseStatementDate(raw)
		if err != nil {
			t.Errorf("%q: %v", raw, err)
			continue
		}
		if got.Day() != 14 || got.Month() != time.June {
			t.Errorf("%q parsed to %s", raw, got)
		}
	}
	if _, err := parseStatementDate(""); err == nil {
		t.Fatal("empty date must error")
	}
}
