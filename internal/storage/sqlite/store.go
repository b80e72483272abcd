// Package sqlite implements storage.Store on modernc.org/sqlite.
//
// Key design points vs Postgres:
//   - SQLite has no timezone-aware timestamp type; time.Time values are
//     stored as RFC3339Nano TEXT for reliable round trips and easy debugging.
//   - Idempotent inserts use INSERT OR IGNORE, which relies on the UNIQUE
//     constraints created by EnsureTables.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"deviceetl/internal/storage"
)

type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", withForeignKeys(cfg.DSN))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// withForeignKeys appends the per-connection foreign_keys pragma. A plain
// "PRAGMA foreign_keys = ON" would only apply to whichever pooled connection
// executed it; the _pragma DSN parameter covers every connection the pool
// opens.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_pragma=foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

func (s *Store) Close() { _ = s.db.Close() }

// EnsureTables creates the fixed target tables. Idempotent via
// CREATE TABLE IF NOT EXISTS, mirroring startup behavior of the other
// backends.
func (s *Store) EnsureTables(ctx context.Context) error {
	for _, t := range storage.Tables() {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%w: create table %s: %v", storage.ErrStoreFailure, t.Name, err)
		}
	}
	return nil
}

func (s *Store) ExistingKeys(ctx context.Context, table string, keyColumns []string) (map[string]struct{}, error) {
	cols := make([]string, len(keyColumns))
	for i, c := range keyColumns {
		cols[i] = sqlIdent(c)
	}
	q := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(cols, ", "), sqlIdent(table))

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: select keys %s: %v", storage.ErrStoreFailure, table, err)
	}
	defer rows.Close()

	out := map[string]struct{}{}
	vals := make([]any, len(keyColumns))
	scan := make([]any, len(keyColumns))
	for i := range vals {
		scan[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("%w: scan keys %s: %v", storage.ErrStoreFailure, table, err)
		}
		out[storage.CompositeKey(vals...)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStoreFailure, err)
	}
	return out, nil
}

// insertChunk keeps multi-row VALUES lists under SQLite's bind variable
// limit (999 in older builds) for the widest table.
const insertChunk = 150

// InsertRows appends rows within one transaction.
//
// With dedupeColumns set, INSERT OR IGNORE makes a constraint conflict a
// silent skip; the UNIQUE constraint matching those columns must exist on
// the destination table (EnsureTables creates it).
func (s *Store) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", storage.ErrStoreFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	insertPrefix := "INSERT INTO "
	if len(dedupeColumns) > 0 {
		insertPrefix = "INSERT OR IGNORE INTO "
	}

	colList := make([]string, len(columns))
	for i, c := range columns {
		colList[i] = sqlIdent(c)
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var inserted int64
	for start := 0; start < len(rows); start += insertChunk {
		end := start + insertChunk
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		var b strings.Builder
		b.WriteString(insertPrefix)
		b.WriteString(sqlIdent(table))
		b.WriteString(" (")
		b.WriteString(strings.Join(colList, ", "))
		b.WriteString(") VALUES ")

		args := make([]any, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(placeholders)
			for _, v := range row {
				args = append(args, bindValue(v))
			}
		}

		res, err := tx.ExecContext(ctx, b.String(), args...)
		if err != nil {
			return 0, fmt.Errorf("%w: insert %s: %v", storage.ErrStoreFailure, table, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit %s: %v", storage.ErrStoreFailure, table, err)
	}
	return inserted, nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// bindValue converts values the driver cannot bind portably. Timestamps are
// stored as RFC3339Nano text (see package comment).
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	if t.PrimaryKey != "" {
		// "INTEGER PRIMARY KEY" is special in sqlite: it aliases the rowid
		// and auto-generates values.
		parts = append(parts, fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", sqlIdent(t.PrimaryKey)))
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), sqliteType(c.Type))
		if c.NotNull {
			col += " NOT NULL"
		}
		if c.Default != "" {
			col += " DEFAULT " + c.Default
		}
		// Enforcement requires the foreign_keys pragma, set via the DSN.
		if c.References != "" {
			col += " REFERENCES " + c.References
		}
		parts = append(parts, col)
	}

	for _, u := range t.Uniques {
		cols := make([]string, len(u))
		for i, c := range u {
			cols[i] = sqlIdent(c)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func sqliteType(t storage.ColType) string {
	switch t {
	case storage.ColInteger:
		return "INTEGER"
	case storage.ColTimestamp:
		// TEXT affinity; values are RFC3339Nano strings.
		return "TEXT"
	default:
		return "TEXT"
	}
}
