package postgres

import (
	"strings"
	"testing"

	"deviceetl/internal/storage"
)

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		table  string
		cols   []string
		dedupe []string
		want   string
	}{
		{
			name:  "plain_insert",
			table: "Keylogs",
			cols:  []string{"application", "time", "text"},
			want:  `INSERT INTO "Keylogs" ("application", "time", "text") VALUES ($1, $2, $3)`,
		},
		{
			name:   "on_conflict_single",
			table:  "InstalledApps",
			cols:   []string{"application_name", "package_name"},
			dedupe: []string{"package_name"},
			want:   `INSERT INTO "InstalledApps" ("application_name", "package_name") VALUES ($1, $2) ON CONFLICT ("package_name") DO NOTHING`,
		},
		{
			name:   "on_conflict_composite",
			table:  "ContactDetails",
			cols:   []string{"contact_id", "type", "value"},
			dedupe: []string{"contact_id", "type", "value"},
			want:   `INSERT INTO "ContactDetails" ("contact_id", "type", "value") VALUES ($1, $2, $3) ON CONFLICT ("contact_id", "type", "value") DO NOTHING`,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := buildInsertSQL(tc.table, tc.cols, tc.dedupe); got != tc.want {
				t.Fatalf("buildInsertSQL=\n%s\nwant\n%s", got, tc.want)
			}
		})
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	spec, ok := storage.TableByName("ContactDetails")
	if !ok {
		t.Fatalf("spec not found")
	}
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "ContactDetails"`,
		`"detail_id" BIGSERIAL PRIMARY KEY`,
		`"contact_id" BIGINT NOT NULL REFERENCES "Contacts"("contact_id")`,
		`UNIQUE ("contact_id", "type", "value")`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}

	if _, err := buildCreateTableSQL(storage.TableSpec{}); err == nil {
		t.Fatalf("empty spec accepted")
	}
}

func TestBuildCreateTableSQLTimestampAndDefault(t *testing.T) {
	t.Parallel()

	spec, ok := storage.TableByName("Calls")
	if !ok {
		t.Fatalf("spec not found")
	}
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	for _, want := range []string{
		`"time" TIMESTAMPTZ NOT NULL`,
		`"duration" BIGINT DEFAULT 0`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}
}

// Mixed-case table names must stay quoted or Postgres folds them to
// lowercase and the reference dangles.
func TestQuoteReference(t *testing.T) {
	t.Parallel()

	if got := quoteReference("Contacts(contact_id)"); got != `"Contacts"("contact_id")` {
		t.Fatalf("quoteReference=%q", got)
	}
	if got := quoteReference("Contacts"); got != `"Contacts"` {
		t.Fatalf("quoteReference=%q", got)
	}
}
