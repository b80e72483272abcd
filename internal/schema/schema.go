// Package schema declares the closed set of target table schemas and the
// header-set matcher that classifies a file against them.
//
// The schema list is fixed and ordered. Order is a load-bearing contract:
// the matcher returns the first schema whose required columns are a subset of
// the file's columns, so more specific schemas must be declared before less
// specific ones. Descriptors() verifies that property at construction.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Descriptor is the declarative contract for one target table.
type Descriptor struct {
	// Name is both the schema name and the destination table name.
	Name string

	// Required lists canonical column names that must all be present for the
	// schema to match. Matching is alias-aware (see Aliases).
	Required []string

	// Optional lists canonical columns that are carried when present.
	Optional []string

	// Aliases maps normalized presentation headers ("phone number",
	// "duration (sec)") to canonical column names. Device exports use either
	// form; both satisfy Required.
	Aliases map[string]string

	// TimestampColumns are coerced by the value normalizer; NotNull membership
	// decides whether an unparseable value drops the row.
	TimestampColumns []string

	// NumericColumns are coerced to integers; invalid values become null
	// unless the column is in NotNull.
	NumericColumns []string

	// NumericDefaults substitutes a value for a numeric column that is null
	// or unparseable after coercion, matching the destination DDL default so
	// the stored value is the default, not NULL.
	NumericDefaults map[string]int64

	// Enums restricts a column to a closed value set; out-of-set rows drop.
	Enums map[string][]string

	// NotNull lists columns that must be non-null after coercion.
	NotNull []string

	// UniqueKey declares the in-file and in-store deduplication key.
	// Empty means the schema has no uniqueness contract.
	UniqueKey []string

	// ForeignKeys lists enforced references; rows that cannot be resolved
	// against the referenced key space drop.
	ForeignKeys []ForeignKey
}

// ForeignKey declares that Column must resolve against RefTable.RefColumn.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// Columns returns required plus optional column names, in declaration order.
func (d Descriptor) Columns() []string {
	out := make([]string, 0, len(d.Required)+len(d.Optional))
	out = append(out, d.Required...)
	out = append(out, d.Optional...)
	return out
}

// descriptors is the fixed declaration-order list. Most-specific-first:
// no earlier entry may have a required set that is a subset of a later one,
// or the later schema could never match.
var descriptors = []Descriptor{
	{
		Name:     "Contacts",
		Required: []string{"name", "phone_number", "email", "last_contacted"},
		Aliases: map[string]string{
			"name":           "name",
			"phone number":   "phone_number",
			"email id":       "email",
			"last contacted": "last_contacted",
		},
		TimestampColumns: []string{"last_contacted"},
		NotNull:          []string{"name"},
		UniqueKey:        []string{"name"},
	},
	{
		Name:     "ContactDetails",
		Required: []string{"contact_id", "type", "value"},
		Aliases: map[string]string{
			"contact id": "contact_id",
			"type":       "type",
			"value":      "value",
		},
		NumericColumns: []string{"contact_id"},
		Enums:          map[string][]string{"type": {"phone", "email"}},
		NotNull:        []string{"contact_id", "type", "value"},
		UniqueKey:      []string{"contact_id", "type", "value"},
		ForeignKeys: []ForeignKey{
			{Column: "contact_id", RefTable: "Contacts", RefColumn: "contact_id"},
		},
	},
	{
		Name:     "InstalledApps",
		Required: []string{"application_name", "package_name", "install_date"},
		Aliases: map[string]string{
			"application name": "application_name",
			"package name":     "package_name",
			"installed date":   "install_date",
		},
		TimestampColumns: []string{"install_date"},
		NotNull:          []string{"application_name", "package_name"},
		UniqueKey:        []string{"package_name"},
	},
	{
		Name:     "Calls",
		Required: []string{"call_type", "time", "from_to", "duration", "location"},
		Aliases: map[string]string{
			"call type":      "call_type",
			"time":           "time",
			"from/to":        "from_to",
			"duration (sec)": "duration",
			"location":       "location",
		},
		TimestampColumns: []string{"time"},
		NumericColumns:   []string{"duration"},
		NumericDefaults:  map[string]int64{"duration": 0},
		NotNull:          []string{"call_type", "time"},
	},
	{
		Name:     "SMS",
		Required: []string{"sms_type", "time", "from_to", "text", "location"},
		Aliases: map[string]string{
			"sms type": "sms_type",
			"time":     "time",
			"from/to":  "from_to",
			"text":     "text",
			"location": "location",
		},
		TimestampColumns: []string{"time"},
		NotNull:          []string{"sms_type", "time"},
	},
	{
		Name:     "ChatMessages",
		Required: []string{"sender", "time", "text"},
		Optional: []string{"messenger"},
		Aliases: map[string]string{
			"sender":    "sender",
			"time":      "time",
			"text":      "text",
			"messenger": "messenger",
		},
		TimestampColumns: []string{"time"},
		NotNull:          []string{"sender", "time"},
	},
	{
		Name:     "Keylogs",
		Required: []string{"application", "time", "text"},
		Aliases: map[string]string{
			"application": "application",
			"time":        "time",
			"text":        "text",
		},
		TimestampColumns: []string{"time"},
		NotNull:          []string{"application", "time"},
	},
}

// Descriptors returns the ordered schema list after verifying the
// most-specific-first ordering invariant. The panic is deliberate: a bad
// ordering is a programming error that silently misclassifies files.
func Descriptors() []Descriptor {
	orderingOnce.Do(func() {
		if err := checkOrdering(descriptors); err != nil {
			panic(err)
		}
	})
	return descriptors
}

var orderingOnce sync.Once

// checkOrdering rejects lists where an earlier schema's required set is a
// subset of a later schema's required set: the earlier entry would shadow the
// later one for every file that matches it.
func checkOrdering(ds []Descriptor) error {
	for i := 0; i < len(ds); i++ {
		earlier := toSet(ds[i].Required)
		for j := i + 1; j < len(ds); j++ {
			if isSubset(earlier, toSet(ds[j].Required)) {
				return fmt.Errorf(
					"schema: %s (pos %d) shadows %s (pos %d): required set is a subset",
					ds[i].Name, i, ds[j].Name, j,
				)
			}
		}
	}
	return nil
}

// Vocabulary returns every header name the matcher understands (canonical
// names and aliases of all schemas, lowercased). The header canonicalizer
// uses it to recognize a header row inside leading metadata noise.
func Vocabulary() map[string]struct{} {
	out := map[string]struct{}{}
	for _, d := range descriptors {
		for _, c := range d.Columns() {
			out[strings.ToLower(c)] = struct{}{}
		}
		for a := range d.Aliases {
			out[strings.ToLower(a)] = struct{}{}
		}
	}
	return out
}

// NoMatch describes a failed classification: for every candidate schema, the
// required columns the file was missing.
type NoMatch struct {
	Missing map[string][]string
}

func (n *NoMatch) Error() string {
	names := make([]string, 0, len(n.Missing))
	for k := range n.Missing {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("schema: no match")
	for _, name := range names {
		fmt.Fprintf(&b, "; %s missing [%s]", name, strings.Join(n.Missing[name], ", "))
	}
	return b.String()
}

// Identify maps a canonical (lowercase, trimmed) column set to the first
// schema whose required set it satisfies. Column order in the file is
// irrelevant. On failure it returns a *NoMatch with per-schema diagnostics.
func Identify(columns []string) (Descriptor, error) {
	have := map[string]struct{}{}
	for _, c := range columns {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		have[c] = struct{}{}
	}

	missing := map[string][]string{}
	for _, d := range Descriptors() {
		miss := missingColumns(d, have)
		if len(miss) == 0 {
			return d, nil
		}
		missing[d.Name] = miss
	}
	return Descriptor{}, &NoMatch{Missing: missing}
}

// CanonicalizeColumns renames alias headers to the descriptor's canonical
// column names. Unknown columns keep their name; the processor projects them
// away later.
func (d Descriptor) CanonicalizeColumns(columns []string) map[string]string {
	out := map[string]string{}
	for _, c := range columns {
		key := strings.ToLower(strings.TrimSpace(c))
		if canon, ok := d.Aliases[key]; ok && canon != c {
			out[c] = canon
		}
	}
	return out
}

// missingColumns returns required columns not present in have, where a
// column counts as present under its canonical name or any alias.
func missingColumns(d Descriptor, have map[string]struct{}) []string {
	aliasFor := map[string][]string{}
	for alias, canon := range d.Aliases {
		aliasFor[canon] = append(aliasFor[canon], alias)
	}

	var miss []string
	for _, req := range d.Required {
		if _, ok := have[req]; ok {
			continue
		}
		found := false
		for _, alias := range aliasFor[req] {
			if _, ok := have[alias]; ok {
				found = true
				break
			}
		}
		if !found {
			miss = append(miss, req)
		}
	}
	sort.Strings(miss)
	return miss
}

func toSet(ss []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		out[s] = struct{}{}
	}
	return out
}

func isSubset(sub, super map[string]struct{}) bool {
	for k := range sub {
		if _, ok := super[k]; !ok {
			return false
		}
	}
	return true
}
