// Package csv reads delimited text exports into a raw string grid.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"deviceetl/internal/config"
)

// ReadGrid reads the whole input as a grid of raw strings.
//
// Options:
//
//	"comma"       one-character delimiter, default ","
//	"lazy_quotes" tolerate stray quotes, default true (exports are sloppy)
//	"charset"     source charset when not UTF-8: "windows-1250",
//	              "windows-1252", "latin1"
//
// Records may have varying field counts; the grid keeps them ragged and the
// header stage re-aligns. A UTF-8 BOM on the first cell survives here and is
// stripped during header canonicalization.
func ReadGrid(r io.Reader, opt config.Options) ([][]string, error) {
	if cs := opt.String("charset", ""); cs != "" {
		enc, err := lookupCharset(cs)
		if err != nil {
			return nil, err
		}
		r = transform.NewReader(r, enc.NewDecoder())
	}

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", true)
	cr.FieldsPerRecord = -1

	var grid [][]string
	line := 0
	for {
		line++
		rec, err := cr.Read()
		if err == io.EOF {
			return grid, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv read line %d: %w", line, err)
		}
		grid = append(grid, append([]string(nil), rec...))
	}
}

func lookupCharset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "windows-1250", "cp1250":
		return charmap.Windows1250, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	case "utf-8", "utf8":
		return encoding.Nop, nil
	}
	return nil, fmt.Errorf("unsupported charset %q", name)
}
