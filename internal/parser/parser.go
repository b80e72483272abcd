// Package parser selects a file reader by extension and normalizes reader
// failures into ErrUnreadableFile. Every reader produces a raw string grid;
// header detection and typing happen downstream.
package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deviceetl/internal/config"
	"deviceetl/internal/parser/csv"
	"deviceetl/internal/parser/htmltable"
	"deviceetl/internal/parser/xlsx"
)

// ErrUnreadableFile marks a file that could not be parsed into tabular form
// at all. Fatal for that file only; the run continues.
var ErrUnreadableFile = errors.New("parser: unreadable file")

// ReadFile parses one input file into a raw grid.
//
// Formats by extension: .csv/.txt delimited text, .xlsx spreadsheet,
// .html/.htm exported HTML table. Unknown extensions are unreadable.
func ReadFile(path string, opt config.Options) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
		defer f.Close()
		grid, err := csv.ReadGrid(f, opt)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
		return grid, nil

	case ".xlsx":
		grid, err := xlsx.ReadGrid(path, opt)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
		return grid, nil

	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
		defer f.Close()
		grid, err := htmltable.ReadGrid(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
		return grid, nil
	}
	return nil, fmt.Errorf("%w: unsupported extension %q", ErrUnreadableFile, filepath.Ext(path))
}
