// Package ingest converts spreadsheets to batch rows and builds input
// workbooks for templates.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/yourorg/config-generator/pkg/batch"
)

// Ingest errors
var (
	ErrNoHeader      = errors.New("spreadsheet has no header row")
	ErrSheetNotFound = errors.New("sheet not found")
)

// ReadRows reads the first sheet of an xlsx workbook. The first non-empty
// row is the header; every later non-empty row becomes one batch.Row with
// the columns in sheet order and cell values as text.
func ReadRows(r io.Reader) ([]batch.Row, error) {
	return ReadSheet(r, "")
}

// ReadSheet is ReadRows for a named sheet. An empty name selects the first
// sheet.
func ReadSheet(r io.Reader, sheet string) ([]batch.Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}
	if sheet == "" {
		sheet = sheets[0]
	} else if !contains(sheets, sheet) {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	cells, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return rowsFromCells(cells)
}

func rowsFromCells(cells [][]string) ([]batch.Row, error) {
	var header []string
	rows := []batch.Row{}

	for _, line := range cells {
		if blank(line) {
			continue
		}
		if header == nil {
			header = make([]string, len(line))
			for i, cell := range line {
				header[i] = HeaderKey(cell)
			}
			continue
		}

		var row batch.Row
		for i, key := range header {
			if key == "" {
				continue
			}
			value := ""
			if i < len(line) {
				value = line[i]
			}
			row.Set(key, value)
		}
		rows = append(rows, row)
	}

	if header == nil {
		return nil, ErrNoHeader
	}
	return rows, nil
}

// HeaderKey normalizes a header cell: trimmed, lower case, inner spaces
// replaced by underscores.
func HeaderKey(cell string) string {
	return strings.Join(strings.Fields(strings.ToLower(cell)), "_")
}

func blank(line []string) bool {
	for _, cell := range line {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
