// Package xlsx reads spreadsheet exports into a raw string grid.
package xlsx

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"deviceetl/internal/config"
)

// ReadGrid reads one sheet of an .xlsx workbook as raw strings.
//
// Options:
//
//	"sheet" sheet name; default is the workbook's first sheet
//
// Cell values come back as excelize renders them, so date cells formatted as
// numbers surface as serial-date strings; the value normalizer resolves
// those. Metadata banner rows common in device exports are left in place for
// the header stage to skip.
func ReadGrid(path string, opt config.Options) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := opt.String("sheet", "")
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}
