package importer

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/edumetrics/attain/internal/outcome"
)

// gradesSheet is the workbook sheet holding grade rows.
const gradesSheet = "grades"

// ParseWorkbook extracts grade records from an uploaded xlsx workbook.
// Expected layout: a "grades" sheet (or the first sheet) whose header row
// is student_id followed by one column per assessment ID; empty cells mean
// "no grade", not zero.
func ParseWorkbook(data []byte) ([]outcome.GradeRecord, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}
	sheet, ok := f.Sheet[gradesSheet]
	if !ok {
		if len(f.Sheets) == 0 {
			return nil, eris.New("xlsx: workbook has no sheets")
		}
		sheet = f.Sheets[0]
	}

	var table [][]string
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		table = append(table, cells)
	}
	return recordsFromTable(table)
}

// ParseCSV is the plain-text fallback for the same layout.
func ParseCSV(r io.Reader) ([]outcome.GradeRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	table, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "csv: read")
	}
	return recordsFromTable(table)
}

func recordsFromTable(table [][]string) ([]outcome.GradeRecord, error) {
	if len(table) < 2 {
		return nil, eris.New("import: need a header row and at least one data row")
	}
	header := table[0]
	if len(header) < 2 || !strings.EqualFold(strings.TrimSpace(header[0]), "student_id") {
		return nil, eris.New(`import: header must start with "student_id" followed by assessment columns`)
	}
	assessmentIDs := make([]string, len(header))
	for j := 1; j < len(header); j++ {
		assessmentIDs[j] = strings.TrimSpace(header[j])
	}

	var records []outcome.GradeRecord
	for i, row := range table[1:] {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		studentID := strings.TrimSpace(row[0])
		for j := 1; j < len(row) && j < len(header); j++ {
			cell := strings.TrimSpace(row[j])
			if cell == "" || assessmentIDs[j] == "" {
				continue
			}
			raw, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, eris.Errorf("import: row %d column %q: not a number: %q", i+2, assessmentIDs[j], cell)
			}
			records = append(records, outcome.GradeRecord{
				StudentID:    studentID,
				AssessmentID: assessmentIDs[j],
				RawScore:     raw,
			})
		}
	}
	return records, nil
}
