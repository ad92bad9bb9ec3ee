package planner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
)

// EntityUpdates maps table -> record id -> column -> new value.
type EntityUpdates map[string]map[string]map[string]metastore.Value

// Records returns the number of records with pending rewrites.
func (e EntityUpdates) Records() int {
	n := 0
	for _, recs := range e {
		n += len(recs)
	}
	return n
}

func (e EntityUpdates) set(table, record, column string, v metastore.Value) {
	recs, ok := e[table]
	if !ok {
		recs = map[string]map[string]metastore.Value{}
		e[table] = recs
	}
	cols, ok := recs[record]
	if !ok {
		cols = map[string]metastore.Value{}
		recs[record] = cols
	}
	cols[column] = v
}

// AttributeUpdates maps workspace attribute name -> new value.
type AttributeUpdates map[string]metastore.Value

// Result is the outcome of planning a workspace.
type Result struct {
	Refs       *ReferenceMap
	Entities   EntityUpdates
	Attributes AttributeUpdates

	// Errors holds local planning errors. Each one skipped a single cell.
	Errors []error
}

// Summary reports the plan's size.
func (r *Result) Summary() archtypes.PlanSummary {
	return archtypes.PlanSummary{
		References:       r.Refs.Len(),
		NewReferences:    r.Refs.Added(),
		EntityUpdates:    r.Entities.Records(),
		AttributeUpdates: len(r.Attributes),
		Errors:           r.Errors,
	}
}

// Planner scans a workspace for references into its source container.
type Planner struct {
	source    objstore.URI
	archive   objstore.URI
	workspace string
	refs      *ReferenceMap
	logger    *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithReferenceMap resumes planning against an existing map.
func WithReferenceMap(refs *ReferenceMap) Option {
	return func(p *Planner) {
		if refs != nil {
			p.refs = refs
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

// New creates a Planner moving references from the source container into
// <archive>/<workspace>/.
func New(source, archive objstore.URI, workspace string, opts ...Option) *Planner {
	p := &Planner{
		source:    objstore.URI{Scheme: source.Scheme, Container: source.Container},
		archive:   archive,
		workspace: workspace,
		refs:      NewReferenceMap(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p
}

// Refs returns the planner's reference map.
func (p *Planner) Refs() *ReferenceMap {
	return p.refs
}

// Plan scans the workspace attributes and every table. Malformed cells are
// recorded in Result.Errors and the scan continues; only record store
// failures abort planning.
func (p *Planner) Plan(ctx context.Context, rs metastore.RecordStore) (*Result, error) {
	res := &Result{
		Refs:       p.refs,
		Entities:   EntityUpdates{},
		Attributes: AttributeUpdates{},
	}

	attrs, err := rs.WorkspaceAttributes(ctx)
	if err != nil {
		return nil, arkerrors.NewError("plan", err).WithMessage("read workspace attributes")
	}
	for _, col := range sortedColumns(attrs) {
		v, ok, err := p.PlanCell(AttributesTable, "", col, attrs[col])
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		if ok {
			res.Attributes[col] = v
		}
	}

	tables, err := rs.ListTables(ctx)
	if err != nil {
		return nil, arkerrors.NewError("plan", err).WithMessage("list tables")
	}
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := rs.GetTable(ctx, table)
		if err != nil {
			return nil, arkerrors.NewError("plan", err).WithTable(table)
		}
		for _, rec := range records {
			for _, col := range sortedColumns(rec.Attributes) {
				v, ok, err := p.PlanCell(table, rec.ID, col, rec.Attributes[col])
				if err != nil {
					res.Errors = append(res.Errors, err)
					continue
				}
				if ok {
					res.Entities.set(table, rec.ID, col, v)
				}
			}
		}
		p.logger.Debug("planned table", "table", table, "records", len(records),
			"updates", len(res.Entities[table]))
	}

	for _, err := range res.Errors {
		p.logger.Warn("planning error", "error", err)
	}
	p.logger.Info("plan complete", "references", p.refs.Len(), "new", p.refs.Added(),
		"records", res.Entities.Records(), "attributes", len(res.Attributes), "errors", len(res.Errors))
	return res, nil
}

// PlanCell plans one cell and returns its rewritten value when it holds at
// least one reference.
func (p *Planner) PlanCell(table, record, column string, v metastore.Value) (metastore.Value, bool, error) {
	if v == nil {
		return nil, false, nil
	}
	rw := &cellRewriter{p: p, table: table, record: record, column: column}
	out, ok, err := v.Plan(rw)
	if err != nil {
		return nil, false, arkerrors.NewRecordError("plan", table, record, err).WithMessage("column " + column)
	}
	return out, ok, nil
}

// cellRewriter scopes destination computation to one cell.
type cellRewriter struct {
	p      *Planner
	table  string
	record string
	column string
}

func (c *cellRewriter) Rewrite(s string, index *int) (string, metastore.Match) {
	prefix := c.p.source.Prefix()
	if !strings.HasPrefix(s, prefix) || len(s) == len(prefix) {
		return "", metastore.NoMatch
	}
	if d, ok := c.p.refs.Lookup(s); ok {
		return d, metastore.Reused
	}
	dest := Destination(c.p.archive, c.p.workspace, c.table, c.record, c.column, index, s)
	d, added := c.p.refs.Insert(s, dest.String())
	if !added {
		return d, metastore.Reused
	}
	return d, metastore.Planned
}

// SweepResult is the outcome of planning a bucket sweep.
type SweepResult struct {
	Refs *ReferenceMap

	// Filtered lists object URIs skipped because they matched an exclusion
	Filtered []string
}

// Summary reports the sweep plan's size.
func (r *SweepResult) Summary() archtypes.PlanSummary {
	return archtypes.PlanSummary{
		References:    r.Refs.Len(),
		NewReferences: r.Refs.Added(),
		Filtered:      r.Filtered,
	}
}

// CompileExcludes compiles sweep exclusion patterns.
func CompileExcludes(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: exclude pattern %q: %v", arkerrors.ErrInvalidInput, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// PlanSweep plans every object under the source container (optionally
// restricted to prefix) into <archive>/<workspace>/misc_files/<key>. Keys
// matching any exclusion are reported as filtered.
func (p *Planner) PlanSweep(ctx context.Context, store objstore.Store, prefix string, excludes []*regexp.Regexp) (*SweepResult, error) {
	objects, err := store.List(ctx, p.source.Join(prefix))
	if err != nil {
		return nil, arkerrors.NewObjectError("sweep", p.source.String(), err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].URI.Path < objects[j].URI.Path })

	// an archive sharing the source container already holds this
	// workspace's moved objects under <workspace>/
	var archived string
	if p.source.SameContainer(p.archive) {
		archived = p.archive.Join(p.workspace).Path + "/"
	}

	res := &SweepResult{Refs: p.refs}
	for _, obj := range objects {
		key := obj.URI.Path
		if archived != "" && strings.HasPrefix(key, archived) {
			continue
		}
		if matchesAny(excludes, key) {
			res.Filtered = append(res.Filtered, obj.URI.String())
			continue
		}
		p.refs.Insert(obj.URI.String(), SweepDestination(p.archive, p.workspace, key).String())
	}
	p.logger.Info("sweep planned", "objects", len(objects), "filtered", len(res.Filtered),
		"references", p.refs.Len())
	return res, nil
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func sortedColumns(m map[string]metastore.Value) []string {
	cols := make([]string, 0, len(m))
	for k := range m {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
