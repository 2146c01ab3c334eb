// Package tabular turns raw spreadsheet exports into typed row records.
//
// A Grid holds heterogeneous cells exactly as a source delivers them: nil for
// blanks, string for text, float64 for numbers (including spreadsheet serial
// dates), time.Time for native dates. Parsers never fail on a single cell;
// only a missing data region aborts a file.
package tabular

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/possync/reconcile/internal/domain/models"
)

// Grid is a rectangular-ish sheet of raw cells, row-major.
type Grid [][]interface{}

// Cell returns the value at (row, col) or nil when out of range.
func (g Grid) Cell(row, col int) interface{} {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return nil
	}
	return g[row][col]
}

// RowBlank reports whether every cell of the row is blank.
func (g Grid) RowBlank(row int) bool {
	if row < 0 || row >= len(g) {
		return true
	}
	for _, v := range g[row] {
		if !isBlank(v) {
			return false
		}
	}
	return true
}

// ReadXLSX loads the first sheet of an xlsx workbook, keeping numeric cells
// numeric and text cells (such as zero-padded terminal numbers) as text.
func ReadXLSX(r io.Reader) (Grid, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}

	grid := make(Grid, len(rows))
	for r, cols := range rows {
		row := make([]interface{}, len(cols))
		for c, raw := range cols {
			row[c] = typedCell(f, sheet, r, c, raw)
		}
		grid[r] = row
	}
	return grid, nil
}

func typedCell(f *excelize.File, sheet string, r, c int, raw string) interface{} {
	if raw == "" {
		return nil
	}

	axis, err := excelize.CoordinatesToCellName(c+1, r+1)
	if err != nil {
		return raw
	}
	cellType, err := f.GetCellType(sheet, axis)
	if err != nil {
		return raw
	}

	switch cellType {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeBool,
		excelize.CellTypeError, excelize.CellTypeDate:
		return raw
	}

	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}

// File is one uploaded export workbook.
type File struct {
	Name   string
	Reader io.Reader
}

// Grid reads the workbook of f. Failures are reported as parse errors.
func (f File) Grid() (Grid, error) {
	grid, err := ReadXLSX(f.Reader)
	if err != nil {
		return nil, &models.ParseError{File: f.Name, Reason: err.Error()}
	}
	return grid, nil
}
