// TableSpec lives here so backends can translate the fixed DDL without
// importing schema-matching code.
package storage

// ColType is a backend-neutral column type; each backend maps it to its own
// DDL type (sqlite TEXT timestamps, postgres TIMESTAMPTZ, mssql
// DATETIMEOFFSET).
type ColType string

const (
	ColText      ColType = "text"
	ColInteger   ColType = "integer"
	ColTimestamp ColType = "timestamp"
)

type TableSpec struct {
	Name       string
	PrimaryKey string // autoincrement integer surrogate key
	Columns    []ColumnSpec
	Uniques    [][]string
}

type ColumnSpec struct {
	Name    string
	Type    ColType
	NotNull bool
	// References is "Table(column)" or empty. Enforcement varies by backend;
	// the pipeline filters unresolved references before insert regardless.
	References string
	// Default is a literal SQL default or empty.
	Default string
}

// Tables is the fixed target table set. Order matters: referenced tables
// come before their referrers so EnsureTables can create in sequence.
func Tables() []TableSpec {
	return []TableSpec{
		{
			Name:       "Contacts",
			PrimaryKey: "contact_id",
			Columns: []ColumnSpec{
				{Name: "name", Type: ColText, NotNull: true},
				{Name: "phone_number", Type: ColText},
				{Name: "email", Type: ColText},
				{Name: "last_contacted", Type: ColTimestamp},
			},
			Uniques: [][]string{{"name"}},
		},
		{
			Name:       "ContactDetails",
			PrimaryKey: "detail_id",
			Columns: []ColumnSpec{
				{Name: "contact_id", Type: ColInteger, NotNull: true, References: "Contacts(contact_id)"},
				{Name: "type", Type: ColText, NotNull: true},
				{Name: "value", Type: ColText, NotNull: true},
			},
			Uniques: [][]string{{"contact_id", "type", "value"}},
		},
		{
			Name:       "InstalledApps",
			PrimaryKey: "app_id",
			Columns: []ColumnSpec{
				{Name: "application_name", Type: ColText, NotNull: true},
				{Name: "package_name", Type: ColText, NotNull: true},
				{Name: "install_date", Type: ColTimestamp},
			},
			Uniques: [][]string{{"package_name"}},
		},
		{
			Name:       "Calls",
			PrimaryKey: "call_id",
			Columns: []ColumnSpec{
				{Name: "call_type", Type: ColText, NotNull: true},
				{Name: "time", Type: ColTimestamp, NotNull: true},
				{Name: "from_to", Type: ColText},
				{Name: "duration", Type: ColInteger, Default: "0"},
				{Name: "location", Type: ColText},
			},
		},
		{
			Name:       "SMS",
			PrimaryKey: "sms_id",
			Columns: []ColumnSpec{
				{Name: "sms_type", Type: ColText, NotNull: true},
				{Name: "time", Type: ColTimestamp, NotNull: true},
				{Name: "from_to", Type: ColText},
				{Name: "text", Type: ColText},
				{Name: "location", Type: ColText},
			},
		},
		{
			Name:       "ChatMessages",
			PrimaryKey: "message_id",
			Columns: []ColumnSpec{
				{Name: "messenger", Type: ColText},
				{Name: "time", Type: ColTimestamp, NotNull: true},
				{Name: "sender", Type: ColText, NotNull: true},
				{Name: "text", Type: ColText},
			},
		},
		{
			Name:       "Keylogs",
			PrimaryKey: "keylog_id",
			Columns: []ColumnSpec{
				{Name: "application", Type: ColText, NotNull: true},
				{Name: "time", Type: ColTimestamp, NotNull: true},
				{Name: "text", Type: ColText},
			},
		},
	}
}

// TableByName returns the spec for a table, or false when unknown.
func TableByName(name string) (TableSpec, bool) {
	for _, t := range Tables() {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}
