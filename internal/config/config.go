// Package config defines the run configuration for the import binaries and a
// loosely-typed Options bag used by the file parsers.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Options is a JSON object with typed accessors. Parsers read their knobs from
// it so new options never require a struct change across packages.
type Options map[string]any

func (o Options) Bool(key string, def bool) bool {
	if o == nil {
		return def
	}
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func (o Options) String(key string, def string) string {
	if o == nil {
		return def
	}
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func (o Options) Int(key string, def int) int {
	if o == nil {
		return def
	}
	if v, ok := o[key]; ok {
		switch t := v.(type) {
		case float64:
			return int(t)
		case int:
			return t
		}
	}
	return def
}

// Rune returns the first rune of a one-character string option.
func (o Options) Rune(key string, def rune) rune {
	s := o.String(key, "")
	if s == "" {
		return def
	}
	return []rune(s)[0]
}

func (o Options) StringMap(key string) map[string]string {
	if o == nil {
		return nil
	}
	v, ok := o[key]
	if !ok {
		return nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, vv := range raw {
		if s, ok := vv.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Run is the top-level configuration for cmd/import.
type Run struct {
	Job     string  `json:"job"`
	Storage Storage `json:"storage"`

	// Timezone used to localize naive timestamps (IANA name). Default UTC.
	Timezone string `json:"timezone,omitempty"`

	// Parser holds reader options (charset, delimiter, sheet, ...).
	Parser Options `json:"parser,omitempty"`

	Metrics Metrics `json:"metrics,omitempty"`
}

type Storage struct {
	// Kind selects a registered backend: "sqlite" | "postgres" | "mssql".
	Kind string `json:"kind"`
	// DSN is passed through to the backend; env vars are expanded.
	DSN string `json:"dsn"`
}

type Metrics struct {
	// Backend: "datadog" | "none". Empty means none.
	Backend string   `json:"backend,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// LoadRun reads and validates a Run config from a JSON file.
func LoadRun(path string) (Run, error) {
	var r Run
	raw, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("parse config: %w", err)
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	r.Storage.DSN = os.ExpandEnv(r.Storage.DSN)
	return r, nil
}

func (r Run) Validate() error {
	if r.Storage.Kind == "" {
		return fmt.Errorf("storage.kind must be set")
	}
	if r.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn must be set")
	}
	return nil
}
