// Package memory provides an in-memory record store with fault injection.
package memory

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore"
)

// TSVContentType is the content type of exported tables.
const TSVContentType = "text/tab-separated-values"

type fault struct {
	status int
	times  int // remaining failures; negative fails forever
}

func (f *fault) fire() (int, bool) {
	if f == nil || f.times == 0 {
		return 0, false
	}
	if f.times > 0 {
		f.times--
	}
	return f.status, true
}

// Store is an in-memory metastore.RecordStore. It is safe for concurrent use
// and every Factory call returns the same underlying store.
type Store struct {
	mu sync.Mutex

	ws     metastore.Workspace
	attrs  map[string]metastore.Value
	tables map[string]*table

	recordFaults map[string]*fault
	attrFault    *fault
	readErr      error

	onUpdate func(table, id string)

	recordCalls int
	attrCalls   int
}

type table struct {
	ids  []string
	rows map[string]map[string]metastore.Value
}

// New creates an empty store for the given workspace.
func New(namespace, name, bucket string) *Store {
	return &Store{
		ws: metastore.Workspace{
			Namespace: namespace,
			Name:      name,
			Bucket:    bucket,
			Metadata:  map[string]any{"namespace": namespace, "name": name, "bucketName": bucket},
		},
		attrs:        map[string]metastore.Value{},
		tables:       map[string]*table{},
		recordFaults: map[string]*fault{},
	}
}

// Factory returns a metastore.Factory handing out this store.
func (s *Store) Factory() metastore.Factory {
	return func(context.Context) (metastore.RecordStore, error) {
		return s, nil
	}
}

// SetAttribute sets one workspace attribute.
func (s *Store) SetAttribute(name string, v metastore.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[name] = v
	if name == "description" {
		if d, ok := v.(metastore.Scalar); ok {
			s.ws.Description, _ = d.V.(string)
		}
	}
}

// Attribute returns one workspace attribute.
func (s *Store) Attribute(name string) (metastore.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[name]
	return v, ok
}

// AddRecord inserts or replaces a record.
func (s *Store) AddRecord(tableName, id string, attrs map[string]metastore.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	if !ok {
		t = &table{rows: map[string]map[string]metastore.Value{}}
		s.tables[tableName] = t
	}
	if _, exists := t.rows[id]; !exists {
		t.ids = append(t.ids, id)
	}
	row := make(map[string]metastore.Value, len(attrs))
	for k, v := range attrs {
		row[k] = v
	}
	t.rows[id] = row
}

// Record returns a copy of a record's attributes.
func (s *Store) Record(tableName, id string) (map[string]metastore.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	if !ok {
		return nil, false
	}
	row, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	out := make(map[string]metastore.Value, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out, true
}

// FailRecord makes the next times updates of a record return status.
// A negative times fails forever; zero clears the fault.
func (s *Store) FailRecord(tableName, id string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if times == 0 {
		delete(s.recordFaults, tableName+"/"+id)
		return
	}
	s.recordFaults[tableName+"/"+id] = &fault{status: status, times: times}
}

// FailAttributes makes the next times workspace attribute updates return status.
func (s *Store) FailAttributes(status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if times == 0 {
		s.attrFault = nil
		return
	}
	s.attrFault = &fault{status: status, times: times}
}

// FailReads makes every read return err. Nil clears it.
func (s *Store) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// OnUpdate registers a callback run after each record update attempt.
func (s *Store) OnUpdate(fn func(table, id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// Calls reports how many record and attribute updates were attempted.
func (s *Store) Calls() (records, attributes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordCalls, s.attrCalls
}

// Workspace implements metastore.RecordStore.
func (s *Store) Workspace(ctx context.Context) (*metastore.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	ws := s.ws
	ws.Metadata = make(map[string]any, len(s.ws.Metadata))
	for k, v := range s.ws.Metadata {
		ws.Metadata[k] = v
	}
	return &ws, nil
}

// WorkspaceAttributes implements metastore.RecordStore.
func (s *Store) WorkspaceAttributes(ctx context.Context) (map[string]metastore.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]metastore.Value, len(s.attrs))
	for k, v := range s.attrs {
		out[k] = v
	}
	return out, nil
}

// ListTables implements metastore.RecordStore.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// GetTable implements metastore.RecordStore.
func (s *Store) GetTable(ctx context.Context, name string) ([]metastore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	t, ok := s.tables[name]
	if !ok {
		return nil, arkerrors.NewError("GetTable", arkerrors.ErrInvalidInput).WithTable(name)
	}
	out := make([]metastore.Record, 0, len(t.ids))
	for _, id := range t.ids {
		row := make(map[string]metastore.Value, len(t.rows[id]))
		for k, v := range t.rows[id] {
			row[k] = v
		}
		out = append(out, metastore.Record{ID: id, Attributes: row})
	}
	return out, nil
}

// UpdateRecord implements metastore.RecordStore. Unknown records are
// reported with status 404.
func (s *Store) UpdateRecord(ctx context.Context, tableName, id string, values map[string]metastore.Value) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	status := s.updateRecord(tableName, id, values)

	s.mu.Lock()
	hook := s.onUpdate
	s.mu.Unlock()
	if hook != nil {
		hook(tableName, id)
	}
	return status, nil
}

func (s *Store) updateRecord(tableName, id string, values map[string]metastore.Value) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordCalls++
	if status, ok := s.recordFaults[tableName+"/"+id].fire(); ok {
		return status
	}
	t, ok := s.tables[tableName]
	if !ok {
		return 404
	}
	row, ok := t.rows[id]
	if !ok {
		return 404
	}
	for k, v := range values {
		row[k] = v
	}
	return metastore.StatusOK
}

// SetWorkspaceAttributes implements metastore.RecordStore.
func (s *Store) SetWorkspaceAttributes(ctx context.Context, values map[string]metastore.Value) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrCalls++
	if status, ok := s.attrFault.fire(); ok {
		return status, nil
	}
	for k, v := range values {
		s.attrs[k] = v
	}
	return metastore.StatusOK, nil
}

// ExportAttributes implements metastore.RecordStore. The export is a two
// row TSV: attribute names, then values.
func (s *Store) ExportAttributes(ctx context.Context) (*metastore.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	names := sortedKeys(s.attrs)
	header := make([]string, len(names))
	values := make([]string, len(names))
	for i, n := range names {
		header[i] = n
		values[i] = cell(s.attrs[n])
	}
	if len(header) > 0 {
		header[0] = "workspace:" + header[0]
	}
	data, err := writeTSV([][]string{header, values})
	if err != nil {
		return nil, err
	}
	return &metastore.Attachment{
		Name:        s.ws.Name + "-workspace-attributes.tsv",
		ContentType: TSVContentType,
		Data:        data,
	}, nil
}

// ExportTable implements metastore.RecordStore.
func (s *Store) ExportTable(ctx context.Context, name string) (*metastore.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	t, ok := s.tables[name]
	if !ok {
		return nil, arkerrors.NewError("ExportTable", arkerrors.ErrInvalidInput).WithTable(name)
	}

	colSet := map[string]metastore.Value{}
	for _, row := range t.rows {
		for k, v := range row {
			colSet[k] = v
		}
	}
	cols := sortedKeys(colSet)

	rows := [][]string{append([]string{"entity:" + name + "_id"}, cols...)}
	for _, id := range t.ids {
		line := []string{id}
		for _, c := range cols {
			v, ok := t.rows[id][c]
			if !ok {
				line = append(line, "")
				continue
			}
			line = append(line, cell(v))
		}
		rows = append(rows, line)
	}
	data, err := writeTSV(rows)
	if err != nil {
		return nil, err
	}
	return &metastore.Attachment{Name: name + ".tsv", ContentType: TSVContentType, Data: data}, nil
}

func (s *Store) readable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.readErr
}

func sortedKeys(m map[string]metastore.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cell(v metastore.Value) string {
	if sc, ok := v.(metastore.Scalar); ok {
		if str, ok := sc.V.(string); ok {
			return str
		}
	}
	b, err := json.Marshal(v.Wire())
	if err != nil {
		return fmt.Sprint(v.Wire())
	}
	return string(b)
}

func writeTSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
