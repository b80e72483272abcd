// Package process holds the per-schema cleaning rules: column renaming, type
// coercion, enum and required-field enforcement, deduplication and
// referential filtering. Rules are deterministic functions from a raw record
// set to a cleaned one; every dropped row is counted under a reason, never
// reported as an error.
package process

import (
	"strings"
	"time"

	"deviceetl/internal/normalize"
	"deviceetl/internal/records"
	"deviceetl/internal/schema"
	"deviceetl/internal/storage"
)

// Reason classifies why a row was dropped.
type Reason string

const (
	ReasonInvalidTimestamp Reason = "invalid-timestamp"
	ReasonInvalidNumber    Reason = "invalid-number"
	ReasonInvalidEnum      Reason = "invalid-enum"
	ReasonMissingRequired  Reason = "missing-required-field"
	ReasonDuplicateInFile  Reason = "duplicate-in-file"
	ReasonDuplicateInStore Reason = "duplicate-in-store"
	ReasonUnresolvedRef    Reason = "unresolved-reference"
)

// Reasons lists every drop reason in report order.
func Reasons() []Reason {
	return []Reason{
		ReasonInvalidTimestamp,
		ReasonInvalidNumber,
		ReasonInvalidEnum,
		ReasonMissingRequired,
		ReasonDuplicateInFile,
		ReasonDuplicateInStore,
		ReasonUnresolvedRef,
	}
}

// Counts accounts for one rule application.
type Counts struct {
	RowsIn  int
	RowsOut int
	Dropped map[Reason]int
}

func (c *Counts) drop(r Reason) {
	if c.Dropped == nil {
		c.Dropped = map[Reason]int{}
	}
	c.Dropped[r]++
}

// DroppedTotal sums drops across reasons.
func (c Counts) DroppedTotal() int {
	n := 0
	for _, v := range c.Dropped {
		n += v
	}
	return n
}

// Env carries the run-scoped context a rule needs beyond the record set
// itself. The rule never talks to the store; the orchestrator resolves key
// spaces up front and passes them in.
type Env struct {
	// Location localizes naive timestamps; nil means UTC.
	Location *time.Location

	// Now anchors year-less timestamps ("Jun 7, 1:28 PM") to a year.
	Now time.Time

	// StoreKeys is the unique-key set already persisted for this rule's
	// table (storage.CompositeKey form). Rows matching it are
	// duplicate-in-store skips.
	StoreKeys map[string]struct{}

	// RefKeys maps a referenced table name to its known key space, for
	// referential filtering.
	RefKeys map[string]map[string]struct{}
}

// Rule is the processing rule for one schema. Zero value is unusable; get
// rules from a Registry.
type Rule struct {
	Desc schema.Descriptor
}

// Registry maps schema names to their rules. Built once at startup,
// read-only afterwards; the orchestrator receives it explicitly rather than
// reaching into package state.
type Registry struct {
	rules map[string]Rule
}

// NewRegistry builds a rule per declared schema.
func NewRegistry() *Registry {
	r := &Registry{rules: make(map[string]Rule)}
	for _, d := range schema.Descriptors() {
		r.rules[d.Name] = Rule{Desc: d}
	}
	return r
}

// Rule returns the rule for a schema name.
func (r *Registry) Rule(name string) (Rule, bool) {
	rule, ok := r.rules[name]
	return rule, ok
}

// Apply cleans a canonicalized record set. Steps run in a fixed order:
// rename, timestamp coercion, numeric coercion, enum enforcement,
// required-field enforcement, in-file dedupe (first occurrence wins),
// duplicate-in-store filtering, referential filtering.
//
// Dedupe happens here, before any insert, by design: relying on the
// database constraint to reject in-file duplicates would turn them into
// transaction errors instead of accounted skips.
func (rl Rule) Apply(t *records.Table, env Env) (*records.Table, Counts) {
	d := rl.Desc

	// 1. Rename alias headers to canonical names, then restrict to the
	// schema's columns. Extra columns are dropped; absent optional columns
	// stay as null.
	t = t.Rename(d.CanonicalizeColumns(t.Columns)).Project(d.Columns())

	counts := Counts{RowsIn: t.Len()}
	tsCols := columnIndexes(t, d.TimestampColumns)
	numCols := columnIndexes(t, d.NumericColumns)
	notNull := toSet(d.NotNull)
	typed := map[int]bool{}
	for _, i := range tsCols {
		typed[i] = true
	}
	for _, i := range numCols {
		typed[i] = true
	}

	out := records.New(t.Columns)
	seen := map[string]struct{}{}

	keyIdx := columnIndexes(t, d.UniqueKey)

rows:
	for _, row := range t.Rows {
		// 2./3. Type coercion. String cells are normalized in the same pass
		// so enum and required checks see clean values.
		for i := range t.Columns {
			if typed[i] {
				continue
			}
			if s, ok := normalize.String(row[i]); ok {
				row[i] = s
			} else {
				row[i] = nil
			}
		}

		for _, i := range tsCols {
			if row[i] == nil {
				continue
			}
			ts, err := normalize.Timestamp(row[i], env.Location, env.Now)
			if err != nil {
				if notNull[t.Columns[i]] {
					counts.drop(ReasonInvalidTimestamp)
					continue rows
				}
				row[i] = nil
				continue
			}
			row[i] = ts
		}

		for _, i := range numCols {
			if row[i] == nil {
				if dv, ok := d.NumericDefaults[t.Columns[i]]; ok {
					row[i] = dv
				}
				continue
			}
			n, ok := normalize.Int64(row[i])
			if !ok {
				if notNull[t.Columns[i]] {
					counts.drop(ReasonInvalidNumber)
					continue rows
				}
				// Null unless the column declares a default (Calls.duration).
				if dv, ok := d.NumericDefaults[t.Columns[i]]; ok {
					row[i] = dv
				} else {
					row[i] = nil
				}
				continue
			}
			row[i] = n
		}

		// 4. Enum enforcement.
		for col, allowed := range d.Enums {
			i := t.Index(col)
			if i < 0 || row[i] == nil {
				continue
			}
			canon, ok := enumMember(row[i], allowed)
			if !ok {
				counts.drop(ReasonInvalidEnum)
				continue rows
			}
			row[i] = canon
		}

		// 5. Required fields.
		for _, col := range d.NotNull {
			i := t.Index(col)
			if i >= 0 && row[i] == nil {
				counts.drop(ReasonMissingRequired)
				continue rows
			}
		}

		// 6. In-file dedupe, then store dupes. First occurrence wins.
		if len(keyIdx) > 0 {
			key := rowKey(row, keyIdx)
			if _, dup := seen[key]; dup {
				counts.drop(ReasonDuplicateInFile)
				continue rows
			}
			seen[key] = struct{}{}
			if _, dup := env.StoreKeys[key]; dup {
				counts.drop(ReasonDuplicateInStore)
				continue rows
			}
		}

		// 7. Referential filtering.
		for _, fk := range d.ForeignKeys {
			i := t.Index(fk.Column)
			if i < 0 || row[i] == nil {
				continue
			}
			keys := env.RefKeys[fk.RefTable]
			if _, ok := keys[storage.NormalizeKey(row[i])]; !ok {
				counts.drop(ReasonUnresolvedRef)
				continue rows
			}
		}

		_ = out.AppendRow(row)
	}

	counts.RowsOut = out.Len()
	return out, counts
}

// rowKey builds the in-file/in-store dedupe key, canonical across value
// types so a string "42" and an int64 42 collide as intended.
func rowKey(row []any, keyIdx []int) string {
	vals := make([]any, len(keyIdx))
	for i, ki := range keyIdx {
		vals[i] = row[ki]
	}
	return storage.CompositeKey(vals...)
}

// enumMember checks membership case-insensitively and returns the canonical
// (declared) spelling for storage.
func enumMember(v any, allowed []string) (string, bool) {
	s, ok := normalize.String(v)
	if !ok {
		return "", false
	}
	s = strings.ToLower(s)
	for _, a := range allowed {
		if s == a {
			return a, true
		}
	}
	return "", false
}

func columnIndexes(t *records.Table, cols []string) []int {
	var out []int
	for _, c := range cols {
		if i := t.Index(c); i >= 0 {
			out = append(out, i)
		}
	}
	return out
}

func toSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		out[s] = true
	}
	return out
}
