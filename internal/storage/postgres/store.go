// Package postgres implements storage.Store on pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deviceetl/internal/storage"
)

type Store struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) EnsureTables(ctx context.Context) error {
	for _, t := range storage.Tables() {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
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

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: select keys %s: %v", storage.ErrStoreFailure, table, err)
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		// Standard pgx pattern for a dynamic column list: scan into a slice
		// of pointers.
		vals := make([]any, len(keyColumns))
		scan := make([]any, len(keyColumns))
		for i := range vals {
			scan[i] = &vals[i]
		}
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

// InsertRows appends rows in one transaction using a pgx.Batch: one
// round-trip pattern per chunk, ON CONFLICT DO NOTHING on the dedupe target
// so constraint conflicts are skips, not errors.
func (s *Store) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", storage.ErrStoreFailure, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := buildInsertSQL(table, columns, dedupeColumns)

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(q, row...)
	}

	br := tx.SendBatch(ctx, batch)
	var inserted int64
	var batchErr error
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			batchErr = err
			break
		}
		inserted += tag.RowsAffected()
	}
	if err := br.Close(); err != nil && batchErr == nil {
		batchErr = err
	}
	if batchErr != nil {
		return 0, fmt.Errorf("%w: insert %s: %v", storage.ErrStoreFailure, table, batchErr)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit %s: %v", storage.ErrStoreFailure, table, err)
	}
	return inserted, nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// buildInsertSQL builds a single-row insert with $n placeholders and an
// optional ON CONFLICT DO NOTHING clause. Kept separate so the SQL shape is
// testable without a database.
func buildInsertSQL(table string, columns []string, dedupeColumns []string) string {
	colList := make([]string, len(columns))
	ph := make([]string, len(columns))
	for i, c := range columns {
		colList[i] = sqlIdent(c)
		ph[i] = fmt.Sprintf("$%d", i+1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		sqlIdent(table), strings.Join(colList, ", "), strings.Join(ph, ", "))

	if len(dedupeColumns) > 0 {
		conflict := make([]string, len(dedupeColumns))
		for i, c := range dedupeColumns {
			conflict[i] = sqlIdent(c)
		}
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", strings.Join(conflict, ", "))
	}
	return b.String()
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	if t.PrimaryKey != "" {
		parts = append(parts, fmt.Sprintf("%s BIGSERIAL PRIMARY KEY", sqlIdent(t.PrimaryKey)))
	}
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), pgType(c.Type))
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

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

// quoteReference turns `Table(column)` into quoted form; table names are
// mixed-case, which Postgres folds to lowercase unless quoted.
func quoteReference(ref string) string {
	open := strings.IndexByte(ref, '(')
	if open < 0 || !strings.HasSuffix(ref, ")") {
		return sqlIdent(ref)
	}
	table := ref[:open]
	column := strings.TrimSuffix(ref[open+1:], ")")
	return fmt.Sprintf("%s(%s)", sqlIdent(table), sqlIdent(column))
}

func pgType(t storage.ColType) string {
	switch t {
	case storage.ColInteger:
		return "BIGINT"
	case storage.ColTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}
