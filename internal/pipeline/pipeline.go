// Package pipeline drives the per-file import: read, canonicalize headers,
// classify against the schema list, clean, insert, report. A run processes
// many files; every failure is scoped to its file and the run keeps going.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"deviceetl/internal/config"
	"deviceetl/internal/header"
	"deviceetl/internal/metrics"
	"deviceetl/internal/parser"
	"deviceetl/internal/process"
	"deviceetl/internal/schema"
	"deviceetl/internal/storage"
)

// Logger is the minimal logging surface the pipeline needs. *log.Logger
// satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// FileStatus classifies the outcome of one file.
type FileStatus string

const (
	// StatusLoaded: the file was classified and its surviving rows inserted
	// (possibly zero of them).
	StatusLoaded FileStatus = "loaded"

	// StatusEmpty: the file parsed but held no usable rows or columns.
	StatusEmpty FileStatus = "empty"

	// StatusUnreadable: the file could not be parsed into tabular form.
	StatusUnreadable FileStatus = "unreadable"

	// StatusNoMatch: no schema's required columns were satisfied.
	StatusNoMatch FileStatus = "no-match"

	// StatusStoreFailure: the insert transaction failed and rolled back.
	StatusStoreFailure FileStatus = "store-failure"
)

// FileReport is the per-file accounting surfaced to the operator.
type FileReport struct {
	Path   string     `json:"path"`
	Status FileStatus `json:"status"`
	Schema string     `json:"schema,omitempty"`
	Error  string     `json:"error,omitempty"`

	// RowsRead counts data rows after header detection, before cleaning.
	RowsRead int `json:"rows_read"`

	// RowsLoaded counts rows the store actually inserted.
	RowsLoaded int64 `json:"rows_loaded"`

	// Skipped breaks dropped rows down by reason.
	Skipped map[process.Reason]int `json:"skipped,omitempty"`
}

// RunReport aggregates a whole run.
type RunReport struct {
	Files       []FileReport `json:"files"`
	FilesTotal  int          `json:"files_total"`
	FilesLoaded int          `json:"files_loaded"`
	FilesFailed int          `json:"files_failed"`
	RowsLoaded  int64        `json:"rows_loaded"`
}

func (r *RunReport) add(f FileReport) {
	r.Files = append(r.Files, f)
	r.FilesTotal++
	switch f.Status {
	case StatusLoaded, StatusEmpty:
		r.FilesLoaded++
	default:
		r.FilesFailed++
	}
	r.RowsLoaded += f.RowsLoaded
}

// Options configures a Pipeline.
type Options struct {
	// Parser options are passed through to the file readers.
	Parser config.Options

	// Location localizes naive timestamps; nil means UTC.
	Location *time.Location

	// Logger receives stage-level progress lines; nil discards them.
	Logger Logger

	// now is a test seam for year-less timestamp anchoring.
	now func() time.Time
}

// Pipeline imports device-export files into a Store. Not safe for concurrent
// Run calls: the key-space cache assumes a single writer, which is also what
// the idempotent-insert semantics of the backends are built around.
type Pipeline struct {
	store storage.Store
	rules *process.Registry
	opts  config.Options
	loc   *time.Location
	log   Logger
	now   func() time.Time

	vocab map[string]struct{}

	// keys caches ExistingKeys results per table and column set. Entries for
	// a table are invalidated after inserting into it, so later files in the
	// same run see keys loaded earlier.
	keys map[string]map[string]struct{}
}

// New builds a Pipeline over an open store.
func New(store storage.Store, opts Options) *Pipeline {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	lg := opts.Logger
	if lg == nil {
		lg = nopLogger{}
	}
	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Pipeline{
		store: store,
		rules: process.NewRegistry(),
		opts:  opts.Parser,
		loc:   loc,
		log:   lg,
		now:   nowFn,
		vocab: schema.Vocabulary(),
		keys:  map[string]map[string]struct{}{},
	}
}

// Run ensures the target tables exist and imports each path in order.
// The returned error covers run-fatal conditions only (table creation,
// context cancellation); per-file outcomes live in the report.
func (p *Pipeline) Run(ctx context.Context, paths []string) (RunReport, error) {
	var report RunReport

	if err := p.store.EnsureTables(ctx); err != nil {
		return report, err
	}
	p.log.Printf("stage=ensure-tables status=ok")

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fr := p.ImportFile(ctx, path)
		report.add(fr)
	}

	metrics.IncCounter("import.files.total", float64(report.FilesTotal))
	metrics.IncCounter("import.files.failed", float64(report.FilesFailed))
	p.log.Printf("stage=run status=done files=%d loaded=%d failed=%d rows=%d",
		report.FilesTotal, report.FilesLoaded, report.FilesFailed, report.RowsLoaded)
	return report, nil
}

// ImportFile runs the full state machine for one file. It never returns an
// error: every failure mode is a terminal FileStatus in the report.
func (p *Pipeline) ImportFile(ctx context.Context, path string) FileReport {
	start := p.now()
	fr := FileReport{Path: path}

	grid, err := parser.ReadFile(path, p.opts)
	if err != nil {
		p.log.Printf("stage=read file=%s status=unreadable err=%v", path, err)
		return fail(fr, StatusUnreadable, err)
	}

	t, err := header.Canonicalize(grid, p.vocab)
	if err != nil {
		if errors.Is(err, header.ErrEmptyGrid) {
			fr.Status = StatusEmpty
			p.log.Printf("stage=header file=%s status=empty", path)
			return fr
		}
		p.log.Printf("stage=header file=%s status=unreadable err=%v", path, err)
		return fail(fr, StatusUnreadable, err)
	}
	p.log.Printf("stage=header file=%s columns=%d rows=%d", path, len(t.Columns), t.Len())

	desc, err := schema.Identify(t.Columns)
	if err != nil {
		p.log.Printf("stage=identify file=%s status=no-match err=%v", path, err)
		return fail(fr, StatusNoMatch, err)
	}
	fr.Schema = desc.Name
	p.log.Printf("stage=identify file=%s schema=%s", path, desc.Name)

	rule, ok := p.rules.Rule(desc.Name)
	if !ok {
		// Descriptors and rules come from the same list; a miss here is a
		// programming error, not a data problem.
		return fail(fr, StatusNoMatch, errors.New("no rule for schema "+desc.Name))
	}

	env, err := p.buildEnv(ctx, desc)
	if err != nil {
		p.log.Printf("stage=keys file=%s schema=%s status=store-failure err=%v", path, desc.Name, err)
		return fail(fr, StatusStoreFailure, err)
	}

	cleaned, counts := rule.Apply(t, env)
	fr.RowsRead = counts.RowsIn
	fr.Skipped = counts.Dropped
	p.log.Printf("stage=process file=%s schema=%s in=%d out=%d dropped=%d",
		path, desc.Name, counts.RowsIn, counts.RowsOut, counts.DroppedTotal())

	inserted, err := p.store.InsertRows(ctx, desc.Name, cleaned.Columns, cleaned.Rows, desc.UniqueKey)
	if err != nil {
		p.log.Printf("stage=insert file=%s schema=%s status=store-failure err=%v", path, desc.Name, err)
		return fail(fr, StatusStoreFailure, err)
	}
	fr.RowsLoaded = inserted
	fr.Status = StatusLoaded
	if inserted > 0 {
		p.invalidateKeys(desc.Name)
	}

	p.log.Printf("stage=insert file=%s schema=%s rows=%d", path, desc.Name, inserted)
	p.emitFileMetrics(fr, p.now().Sub(start))
	return fr
}

func fail(fr FileReport, status FileStatus, err error) FileReport {
	fr.Status = status
	fr.Error = err.Error()
	metrics.IncCounter("import.files.failed_by_status", 1, "status:"+string(status))
	return fr
}

// buildEnv resolves the key spaces a rule needs: the table's own unique-key
// space for the duplicate-in-store pre-check and each referenced table's key
// space for referential filtering.
func (p *Pipeline) buildEnv(ctx context.Context, desc schema.Descriptor) (process.Env, error) {
	env := process.Env{Location: p.loc, Now: p.now()}

	if len(desc.UniqueKey) > 0 {
		keys, err := p.keySpace(ctx, desc.Name, desc.UniqueKey)
		if err != nil {
			return env, err
		}
		env.StoreKeys = keys
	}

	for _, fk := range desc.ForeignKeys {
		keys, err := p.keySpace(ctx, fk.RefTable, []string{fk.RefColumn})
		if err != nil {
			return env, err
		}
		if env.RefKeys == nil {
			env.RefKeys = map[string]map[string]struct{}{}
		}
		env.RefKeys[fk.RefTable] = keys
	}
	return env, nil
}

// keySpace fetches (or serves from cache) the existing keys for one table
// and column set.
func (p *Pipeline) keySpace(ctx context.Context, table string, cols []string) (map[string]struct{}, error) {
	ck := table + "|" + strings.Join(cols, ",")
	if keys, ok := p.keys[ck]; ok {
		return keys, nil
	}
	keys, err := p.store.ExistingKeys(ctx, table, cols)
	if err != nil {
		return nil, err
	}
	p.keys[ck] = keys
	return keys, nil
}

// invalidateKeys drops cached key spaces for a table after inserting into it.
// Referenced-key spaces include store-assigned ids, so recomputing them
// client-side is not possible; the next file re-fetches instead.
func (p *Pipeline) invalidateKeys(table string) {
	for ck := range p.keys {
		if strings.HasPrefix(ck, table+"|") {
			delete(p.keys, ck)
		}
	}
}

func (p *Pipeline) emitFileMetrics(fr FileReport, elapsed time.Duration) {
	tags := []string{"schema:" + fr.Schema}
	metrics.IncCounter("import.rows.loaded", float64(fr.RowsLoaded), tags...)
	for reason, n := range fr.Skipped {
		metrics.IncCounter("import.rows.skipped", float64(n), "schema:"+fr.Schema, "reason:"+string(reason))
	}
	metrics.ObserveDuration("import.file.duration_seconds", elapsed, tags...)
}
