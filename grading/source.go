// Package grading turns a directory of per-student grading spreadsheets
// into LMS comment attachments and grades.
package grading

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	. "github.com/russross/gradesync/types"
)

// Table is a score source: a header row and the rows beneath it.
// The first column holds row labels.
type Table struct {
	Header []string
	Rows   [][]string
}

// sourceExtensions are the file types ReadTable understands.
var sourceExtensions = map[string]bool{".xlsx": true, ".xlsm": true, ".csv": true, ".tsv": true}

// ReadTable loads a score source. .xlsx and .xlsm files are read from their first
// sheet; .csv and .tsv files are read as delimited text.
func ReadTable(path string) (*Table, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readSheet(path)
	case ".csv":
		rows, err = readDelimited(path, ',')
	case ".tsv":
		rows, err = readDelimited(path, '\t')
	default:
		err = fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, NewError(ErrSourceParse, path, err)
	}
	if len(rows) == 0 {
		return nil, NewError(ErrSourceParse, path, fmt.Errorf("no header row"))
	}
	return &Table{Header: rows[0], Rows: rows[1:]}, nil
}

func readSheet(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrapf(err, "reading sheet %q", sheets[0])
	}
	return rows, nil
}

func readDelimited(path string, comma rune) ([][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(raw))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parsing delimited text")
	}
	return rows, nil
}

func normalise(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}

// Column returns the index of the named column, matching names without
// regard to case or spaces, or -1.
func (t *Table) Column(name string) int {
	want := normalise(name)
	for i, h := range t.Header {
		if normalise(h) == want {
			return i
		}
	}
	return -1
}

// Cell returns the value at row, col, or "" when the row is short.
func (t *Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// CSV renders the table, header included, as comma separated text.
func (t *Table) CSV() (string, error) {
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	if err := w.Write(t.Header); err != nil {
		return "", err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return "", err
	}
	return buf.String(), nil
}
