package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Row is one parsed line of a class list. Columns are positional:
// reg number, surname, first name, department name, level, option.
type Row struct {
	Line      int
	RegNo     string
	Surname   string
	FirstName string
	DeptName  string
	Level     string
	Option    string
}

// ErrUnsupportedFormat is returned for files that are neither csv nor xlsx.
var ErrUnsupportedFormat = errors.New("unsupported file type, upload .csv or .xlsx")

// Parse reads a class list, choosing the decoder from the file extension. The
// header row is skipped and blank rows are ignored.
func Parse(filename string, r io.Reader) ([]Row, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		records, err = readCSV(r)
	case ".xlsx", ".xlsm":
		records, err = readXLSX(r)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	return toRows(records), nil
}

func readCSV(r io.Reader) ([][]string, error) {
	// Spreadsheet exports often carry a UTF-8 BOM.
	dec := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(dec)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("xlsx has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func toRows(records [][]string) []Row {
	out := make([]Row, 0, len(records))
	for i, rec := range records {
		if i == 0 {
			continue
		}
		cell := func(n int) string {
			if n < len(rec) {
				return strings.TrimSpace(rec[n])
			}
			return ""
		}
		row := Row{
			Line:      i + 1,
			RegNo:     strings.ToUpper(cell(0)),
			Surname:   cell(1),
			FirstName: cell(2),
			DeptName:  cell(3),
			Level:     cell(4),
			Option:    cell(5),
		}
		if row == (Row{Line: row.Line}) {
			continue
		}
		out = append(out, row)
	}
	return out
}
