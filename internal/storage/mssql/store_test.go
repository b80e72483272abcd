package mssql

import (
	"strings"
	"testing"

	"deviceetl/internal/storage"
)

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	t.Run("plain_insert", func(t *testing.T) {
		t.Parallel()
		got := buildInsertSQL("Keylogs", []string{"application", "time", "text"}, nil)
		want := "INSERT INTO [Keylogs] ([application], [time], [text]) VALUES (@p1, @p2, @p3)"
		if got != want {
			t.Fatalf("buildInsertSQL=\n%s\nwant\n%s", got, want)
		}
	})

	t.Run("not_exists_dedupe", func(t *testing.T) {
		t.Parallel()
		got := buildInsertSQL("InstalledApps", []string{"application_name", "package_name", "install_date"}, []string{"package_name"})
		for _, want := range []string{
			"INSERT INTO [InstalledApps] ([application_name], [package_name], [install_date])",
			"SELECT @p1, @p2, @p3",
			"WHERE NOT EXISTS (SELECT 1 FROM [InstalledApps] AS t WHERE t.[package_name] = @p2)",
		} {
			if !strings.Contains(got, want) {
				t.Fatalf("sql missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("composite_dedupe_uses_matching_placeholders", func(t *testing.T) {
		t.Parallel()
		got := buildInsertSQL("ContactDetails", []string{"contact_id", "type", "value"}, []string{"contact_id", "type", "value"})
		want := "WHERE t.[contact_id] = @p1 AND t.[type] = @p2 AND t.[value] = @p3"
		if !strings.Contains(got, want) {
			t.Fatalf("sql missing %q:\n%s", want, got)
		}
	})
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
		"IF OBJECT_ID(N'ContactDetails', N'U') IS NULL CREATE TABLE [ContactDetails]",
		"[detail_id] BIGINT IDENTITY(1,1) PRIMARY KEY",
		"[contact_id] BIGINT NOT NULL REFERENCES [Contacts]([contact_id])",
		"UNIQUE ([contact_id], [type], [value])",
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}
}

// Text columns inside a UNIQUE constraint must be bounded; NVARCHAR(MAX)
// cannot be an index key.
func TestMSTypeUniqueMembers(t *testing.T) {
	t.Parallel()

	if got := msType(storage.ColText, 450); got != "NVARCHAR(450)" {
		t.Fatalf("unique text type=%s", got)
	}
	if got := msType(storage.ColText, 0); got != "NVARCHAR(MAX)" {
		t.Fatalf("plain text type=%s", got)
	}
	if got := msType(storage.ColInteger, 0); got != "BIGINT" {
		t.Fatalf("integer type=%s", got)
	}
	if got := msType(storage.ColTimestamp, 0); got != "DATETIMEOFFSET" {
		t.Fatalf("timestamp type=%s", got)
	}

	spec, ok := storage.TableByName("InstalledApps")
	if !ok {
		t.Fatalf("spec not found")
	}
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	if !strings.Contains(ddl, "[package_name] NVARCHAR(450) NOT NULL") {
		t.Fatalf("ddl does not bound unique text column:\n%s", ddl)
	}
	if !strings.Contains(ddl, "[application_name] NVARCHAR(MAX) NOT NULL") {
		t.Fatalf("ddl bounds a non-unique column:\n%s", ddl)
	}
}

// Every UNIQUE constraint's key must fit the 1700-byte nonclustered index
// limit; a composite key of two NVARCHAR(450) columns plus a BIGINT would not.
func TestUniqueKeysFitIndexLimit(t *testing.T) {
	t.Parallel()

	for _, spec := range storage.Tables() {
		bounds := uniqueTextBounds(spec)
		colType := map[string]storage.ColType{}
		for _, c := range spec.Columns {
			colType[c.Name] = c.Type
		}
		for _, u := range spec.Uniques {
			total := 0
			for _, cn := range u {
				switch colType[cn] {
				case storage.ColInteger:
					total += bigintBytes
				case storage.ColTimestamp:
					total += datetimeOffsetBytes
				default:
					b := bounds[cn]
					if b <= 0 {
						t.Fatalf("%s: unique text column %s has no bound", spec.Name, cn)
					}
					total += 2 * b
				}
			}
			if total > indexKeyBytes {
				t.Fatalf("%s: unique key %v needs %d bytes, limit %d", spec.Name, u, total, indexKeyBytes)
			}
		}
	}

	spec, ok := storage.TableByName("ContactDetails")
	if !ok {
		t.Fatalf("spec not found")
	}
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	// (1700 - 8) / 4 for the two text members alongside the BIGINT.
	if !strings.Contains(ddl, "[type] NVARCHAR(423) NOT NULL") ||
		!strings.Contains(ddl, "[value] NVARCHAR(423) NOT NULL") {
		t.Fatalf("composite unique text columns not sized to the key budget:\n%s", ddl)
	}
}
