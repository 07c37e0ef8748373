// Package sheet decodes uploaded plan spreadsheets (.xlsx or .csv) into
// domain.PlanRow values. The first row is a header naming the period,
// category and sum columns, in any order and case.
package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/credits-report-go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Column names expected in the header row.
const (
	ColumnPeriod   = "period"
	ColumnCategory = "category"
	ColumnSum      = "sum"
)

var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Serial dates outside these years are rejected.
const (
	minSerialYear = 1900
	maxSerialYear = 9999
)

var requiredColumns = []string{ColumnPeriod, ColumnCategory, ColumnSum}

// Accepted textual date layouts, tried in order.
var dateLayouts = []string{
	domain.DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02.01.2006",
}

// Decode reads every data row from the upload. The format is chosen by the
// file extension, falling back to content sniffing when the name carries none.
func Decode(filename string, r io.Reader) ([]domain.PlanRow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &domain.ErrValidation{Field: "file", Message: "uploaded file is empty"}
	}

	var (
		records   [][]string
		parseDate = ParseCellDate
	)
	switch format(filename, data) {
	case "xlsx":
		records, err = readXLSX(data)
		parseDate = parseXLSXDate
	case "csv":
		records, err = readCSV(data)
	case "xls":
		return nil, &domain.ErrValidation{
			Field:   "file",
			Message: "legacy .xls workbooks are not supported: save the file as .xlsx or .csv",
		}
	default:
		return nil, &domain.ErrValidation{
			Field:   "file",
			Message: fmt.Sprintf("unsupported file type %q: expected .xlsx or .csv", filepath.Ext(filename)),
		}
	}
	if err != nil {
		return nil, err
	}
	return parseRecords(records, parseDate)
}

func format(filename string, data []byte) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return "xlsx"
	case ".csv", ".txt":
		return "csv"
	case ".xls":
		return "xls"
	case "":
		// xlsx is a zip container, xls an OLE2 compound file
		switch {
		case bytes.HasPrefix(data, []byte("PK\x03\x04")):
			return "xlsx"
		case bytes.HasPrefix(data, oleSignature):
			return "xls"
		}
		return "csv"
	}
	return ""
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &domain.ErrValidation{Field: "file", Message: fmt.Sprintf("cannot open spreadsheet: %v", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &domain.ErrValidation{Field: "file", Message: "spreadsheet has no sheets"}
	}

	// Raw values keep dates as serial numbers regardless of the cell style.
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comma = sniffDelimiter(data)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, &domain.ErrValidation{Field: "file", Message: fmt.Sprintf("malformed csv: %v", err)}
	}
	return records, nil
}

// sniffDelimiter picks ';' when the header uses it instead of ','.
func sniffDelimiter(data []byte) rune {
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}
	if bytes.Count(header, []byte(";")) > bytes.Count(header, []byte(",")) {
		return ';'
	}
	return ','
}

func parseRecords(records [][]string, parseDate func(string) (domain.Date, error)) ([]domain.PlanRow, error) {
	if len(records) == 0 {
		return nil, &domain.ErrValidation{Field: "file", Message: "uploaded file has no header row"}
	}

	index := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, &domain.ErrValidation{Field: col, Message: fmt.Sprintf("missing column %q in header", col)}
		}
	}

	rows := make([]domain.PlanRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		line := i + 2

		row, err := parseRow(line, rec, index, parseDate)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, &domain.ErrValidation{Field: "file", Message: "uploaded file has no plan rows"}
	}
	return rows, nil
}

func parseRow(line int, rec []string, index map[string]int, parseDate func(string) (domain.Date, error)) (domain.PlanRow, error) {
	rawPeriod := cell(rec, index[ColumnPeriod])
	period, err := parseDate(rawPeriod)
	if err != nil {
		return domain.PlanRow{}, &domain.ErrValidation{
			Field:   ColumnPeriod,
			Message: fmt.Sprintf("line %d: invalid period %q", line, rawPeriod),
		}
	}

	category := cell(rec, index[ColumnCategory])
	if category == "" {
		return domain.PlanRow{}, &domain.ErrValidation{
			Field:   ColumnCategory,
			Message: fmt.Sprintf("line %d: category is empty", line),
		}
	}

	rawSum := cell(rec, index[ColumnSum])
	sum, err := decimal.NewFromString(strings.ReplaceAll(rawSum, " ", ""))
	if err != nil {
		return domain.PlanRow{}, &domain.ErrValidation{
			Field:   ColumnSum,
			Message: fmt.Sprintf("line %d: invalid sum %q", line, rawSum),
		}
	}

	return domain.PlanRow{Line: line, Period: period, Category: category, Sum: sum}, nil
}

// ParseCellDate parses one of the textual date layouts and returns the
// calendar day. Bare numbers such as 20240101 are not dates.
func ParseCellDate(s string) (domain.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Date{}, fmt.Errorf("empty date")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.DateOf(t), nil
		}
	}
	return domain.Date{}, fmt.Errorf("unrecognized date %q", s)
}

// parseXLSXDate also accepts spreadsheet serial numbers, which is how raw
// cell values carry dates.
func parseXLSXDate(s string) (domain.Date, error) {
	serial, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return ParseCellDate(s)
	}

	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return domain.Date{}, err
	}
	if t.Year() < minSerialYear || t.Year() > maxSerialYear {
		return domain.Date{}, fmt.Errorf("serial date %s out of range", s)
	}
	return domain.DateOf(t), nil
}

func cell(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
