// Package mssql implements storage.Store on SQL Server.
//
// SQL Server has no INSERT ... ON CONFLICT; idempotent inserts use
// INSERT ... SELECT ... WHERE NOT EXISTS against the dedupe columns inside
// the per-file transaction, which is race-free under the pipeline's
// single-writer model.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"deviceetl/internal/storage"
)

type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

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

// InsertRows appends rows one statement at a time inside a single
// transaction. Many small statements per transaction is the reliable shape
// for go-mssqldb; multi-row VALUES hits the 2100 parameter cap quickly.
func (s *Store) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", storage.ErrStoreFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	q := buildInsertSQL(table, columns, dedupeColumns)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare %s: %v", storage.ErrStoreFailure, table, err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		args := make([]any, len(row))
		for i, v := range row {
			args[i] = sql.Named(fmt.Sprintf("p%d", i+1), v)
		}
		res, err := stmt.ExecContext(ctx, args...)
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
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

// buildInsertSQL builds a single-row insert; with dedupeColumns it becomes
// INSERT ... SELECT ... WHERE NOT EXISTS so an existing key is a no-op.
func buildInsertSQL(table string, columns []string, dedupeColumns []string) string {
	colList := make([]string, len(columns))
	ph := make([]string, len(columns))
	phByCol := make(map[string]string, len(columns))
	for i, c := range columns {
		colList[i] = sqlIdent(c)
		ph[i] = fmt.Sprintf("@p%d", i+1)
		phByCol[c] = ph[i]
	}

	var b strings.Builder
	if len(dedupeColumns) == 0 {
		fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
			sqlIdent(table), strings.Join(colList, ", "), strings.Join(ph, ", "))
		return b.String()
	}

	conds := make([]string, len(dedupeColumns))
	for i, c := range dedupeColumns {
		conds[i] = fmt.Sprintf("t.%s = %s", sqlIdent(c), phByCol[c])
	}
	fmt.Fprintf(&b,
		"INSERT INTO %s (%s) SELECT %s WHERE NOT EXISTS (SELECT 1 FROM %s AS t WHERE %s)",
		sqlIdent(table), strings.Join(colList, ", "), strings.Join(ph, ", "),
		sqlIdent(table), strings.Join(conds, " AND "),
	)
	return b.String()
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	if t.PrimaryKey != "" {
		parts = append(parts, fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", sqlIdent(t.PrimaryKey)))
	}
	textBound := uniqueTextBounds(t)

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), msType(c.Type, textBound[c.Name]))
		if c.NotNull {
			col += " NOT NULL"
		}
		if c.Default != "" {
			col += " DEFAULT " + c.Default
		}
		if c.References != "" {
			col += " REFERENCES " + quoteReference(c.References)
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

	// No CREATE TABLE IF NOT EXISTS in T-SQL; gate on sys.objects.
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (\n  %s\n);",
		t.Name, sqlIdent(t.Name), strings.Join(parts, ",\n  "),
	), nil
}

func quoteReference(ref string) string {
	open := strings.IndexByte(ref, '(')
	if open < 0 || !strings.HasSuffix(ref, ")") {
		return sqlIdent(ref)
	}
	table := ref[:open]
	column := strings.TrimSuffix(ref[open+1:], ")")
	return fmt.Sprintf("%s(%s)", sqlIdent(table), sqlIdent(column))
}

// Index key size limits: 1700 bytes for the nonclustered index backing a
// UNIQUE constraint, fixed-size member widths per T-SQL docs, NVARCHAR at two
// bytes per character.
const (
	indexKeyBytes       = 1700
	bigintBytes         = 8
	datetimeOffsetBytes = 10
	maxTextBound        = 450
)

// uniqueTextBounds sizes the text columns of each UNIQUE constraint so the
// whole key fits in an index. Fixed-size members are subtracted from the
// budget and the remainder is split evenly across the text members; a column
// in several constraints gets the tightest bound.
func uniqueTextBounds(t storage.TableSpec) map[string]int {
	colType := map[string]storage.ColType{}
	for _, c := range t.Columns {
		colType[c.Name] = c.Type
	}

	bounds := map[string]int{}
	for _, u := range t.Uniques {
		fixed := 0
		var textCols []string
		for _, cn := range u {
			switch colType[cn] {
			case storage.ColInteger:
				fixed += bigintBytes
			case storage.ColTimestamp:
				fixed += datetimeOffsetBytes
			default:
				textCols = append(textCols, cn)
			}
		}
		if len(textCols) == 0 {
			continue
		}
		bound := (indexKeyBytes - fixed) / (2 * len(textCols))
		if bound > maxTextBound {
			bound = maxTextBound
		}
		for _, cn := range textCols {
			if b, ok := bounds[cn]; !ok || bound < b {
				bounds[cn] = bound
			}
		}
	}
	return bounds
}

// msType picks the T-SQL type. Text columns in a UNIQUE constraint must be
// bounded (textBound > 0): NVARCHAR(MAX) cannot be part of an index key.
func msType(t storage.ColType, textBound int) string {
	switch t {
	case storage.ColInteger:
		return "BIGINT"
	case storage.ColTimestamp:
		return "DATETIMEOFFSET"
	default:
		if textBound > 0 {
			return fmt.Sprintf("NVARCHAR(%d)", textBound)
		}
		return "NVARCHAR(MAX)"
	}
}
