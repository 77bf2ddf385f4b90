package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/tableapi/internal/core"
)

// parseXLSX reads the first sheet. Cells are taken as raw values so numbers
// keep full precision regardless of display format; boolean cells become Go
// bools. Date-formatted cells keep their serial number.
func parseXLSX(r io.Reader) (*File, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("invalid spreadsheet: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	sheet := sheets[0]

	grid, err := wb.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("invalid spreadsheet: %w", err)
	}

	start := 0
	for start < len(grid) && blankStrings(grid[start]) {
		start++
	}
	if start == len(grid) {
		return nil, ErrEmptyFile
	}
	header := core.NormalizeHeader(grid[start])

	records := make([][]any, 0, len(grid)-start-1)
	for y := start + 1; y < len(grid); y++ {
		cells := make([]any, len(grid[y]))
		for x, raw := range grid[y] {
			cells[x] = cellValue(wb, sheet, x+1, y+1, strings.TrimSpace(raw))
		}
		records = append(records, cells)
	}

	return &File{Header: header, Rows: buildRows(header, records)}, nil
}

func cellValue(wb *excelize.File, sheet string, col, row int, raw string) any {
	if raw != "0" && raw != "1" {
		return raw
	}
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return raw
	}
	if typ, err := wb.GetCellType(sheet, ref); err == nil && typ == excelize.CellTypeBool {
		return raw == "1"
	}
	return raw
}

func blankStrings(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
