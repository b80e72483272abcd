// Command inspect is the dry-run companion to cmd/import: it reads each
// input file, locates the header row, classifies the column set against the
// known schemas and prints the result without touching any store.
//
// It is meant for answering "why did this file not load" questions: for a
// file that matches no schema, the output lists per schema which required
// columns were missing.
//
// Usage:
//
//	inspect [-config configs/run.json] [-pretty] file.csv other.xlsx ...
//
// The config is optional and only supplies parser options (charset,
// delimiter, sheet). Storage settings in it are ignored.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"deviceetl/internal/config"
	"deviceetl/internal/header"
	"deviceetl/internal/parser"
	"deviceetl/internal/schema"
)

// fileInspection is the per-file diagnostic printed on stdout.
type fileInspection struct {
	Path    string   `json:"path"`
	Status  string   `json:"status"`
	Schema  string   `json:"schema,omitempty"`
	Columns []string `json:"columns,omitempty"`
	Rows    int      `json:"rows"`
	Error   string   `json:"error,omitempty"`

	// Missing lists, per candidate schema, the required columns the file
	// lacked. Only set when no schema matched.
	Missing map[string][]string `json:"missing,omitempty"`
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "optional run config JSON path (parser options only)")
	pretty := flag.Bool("pretty", true, "pretty-print JSON output")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "no input files")
		flag.Usage()
		os.Exit(2)
	}

	var opts config.Options
	if cfgPath != "" {
		run, err := config.LoadRun(cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		opts = run.Parser
	}

	vocab := schema.Vocabulary()
	out := make([]fileInspection, 0, flag.NArg())
	failed := false
	for _, path := range flag.Args() {
		fi := inspect(path, opts, vocab)
		if fi.Status != "match" && fi.Status != "empty" {
			failed = true
		}
		out = append(out, fi)
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode: %v", err)
	}
	if failed {
		os.Exit(1)
	}
}

func inspect(path string, opts config.Options, vocab map[string]struct{}) fileInspection {
	fi := fileInspection{Path: path}

	grid, err := parser.ReadFile(path, opts)
	if err != nil {
		fi.Status = "unreadable"
		fi.Error = err.Error()
		return fi
	}

	t, err := header.Canonicalize(grid, vocab)
	if err != nil {
		if errors.Is(err, header.ErrEmptyGrid) {
			fi.Status = "empty"
			return fi
		}
		fi.Status = "unreadable"
		fi.Error = err.Error()
		return fi
	}
	fi.Columns = t.Columns
	fi.Rows = t.Len()

	desc, err := schema.Identify(t.Columns)
	if err != nil {
		fi.Status = "no-match"
		var nm *schema.NoMatch
		if errors.As(err, &nm) {
			fi.Missing = nm.Missing
		} else {
			fi.Error = err.Error()
		}
		return fi
	}

	fi.Status = "match"
	fi.Schema = desc.Name
	if extra := extraColumns(t.Columns, desc); len(extra) > 0 {
		// Extra columns are harmless (the import drops them) but worth
		// surfacing during inspection.
		fi.Error = "ignored columns: " + strings.Join(extra, ", ")
	}
	return fi
}

// extraColumns lists file columns the matched schema will not carry.
func extraColumns(columns []string, d schema.Descriptor) []string {
	known := map[string]struct{}{}
	for _, c := range d.Columns() {
		known[c] = struct{}{}
	}
	for a := range d.Aliases {
		known[a] = struct{}{}
	}

	var extra []string
	for _, c := range columns {
		if _, ok := known[strings.ToLower(strings.TrimSpace(c))]; !ok {
			extra = append(extra, c)
		}
	}
	return extra
}
