package planner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore/memory"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore/memstore"
)

var (
	src     = objstore.MustParseURI("gs://src")
	archive = objstore.MustParseURI("gs://archive")
)

func intp(i int) *int { return &i }

func TestDestination(t *testing.T) {
	tests := []struct {
		name   string
		table  string
		record string
		column string
		index  *int
		source string
		want   string
	}{
		{
			name: "scalar cell", table: "sample", record: "s1", column: "cram",
			source: "gs://src/a.bam", want: "gs://archive/ws/sample/s1/cram/a.bam",
		},
		{
			name: "list element", table: "sample", record: "s1", column: "reads", index: intp(2),
			source: "gs://src/dir/b.txt", want: "gs://archive/ws/sample/s1/reads/2/b.txt",
		},
		{
			name: "index zero is kept", table: "sample", record: "s1", column: "reads", index: intp(0),
			source: "gs://src/a.txt", want: "gs://archive/ws/sample/s1/reads/0/a.txt",
		},
		{
			name: "workspace attribute", table: AttributesTable, column: "ref",
			source: "gs://src/refs/hg38.fa", want: "gs://archive/ws/attributes/ref/hg38.fa",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Destination(archive, "ws", tt.table, tt.record, tt.column, tt.index, tt.source)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func scenarioA() *memory.Store {
	rs := memory.New("ns", "ws", "src")
	rs.AddRecord("sample", "s1", map[string]metastore.Value{
		"cram": metastore.Scalar{V: "gs://src/a.bam"},
	})
	return rs
}

func TestPlan_ScenarioA(t *testing.T) {
	res, err := New(src, archive, "ws").Plan(context.Background(), scenarioA())
	require.NoError(t, err)

	dest := "gs://archive/ws/sample/s1/cram/a.bam"
	assert.Equal(t, map[string]string{"gs://src/a.bam": dest}, res.Refs.Entries())
	assert.Equal(t, EntityUpdates{
		"sample": {"s1": {"cram": metastore.Scalar{V: dest}}},
	}, res.Entities)
	assert.Empty(t, res.Attributes)
	assert.Empty(t, res.Errors)
}

func TestPlan_ScenarioD(t *testing.T) {
	rs := memory.New("ns", "ws", "src")
	rs.AddRecord("sample", "s1", map[string]metastore.Value{
		"files": metastore.List{Items: []any{"gs://src/a.txt", "not-a-uri", "gs://src/b.txt"}},
	})

	res, err := New(src, archive, "ws").Plan(context.Background(), rs)
	require.NoError(t, err)

	require.Len(t, res.Entities["sample"]["s1"], 1)
	assert.Equal(t, metastore.List{Items: []any{
		"gs://archive/ws/sample/s1/files/0/a.txt",
		"not-a-uri",
		"gs://archive/ws/sample/s1/files/2/b.txt",
	}}, res.Entities["sample"]["s1"]["files"])
	assert.Equal(t, 2, res.Refs.Len())
}

func TestPlan_SourceScopedAndAttributes(t *testing.T) {
	rs := memory.New("ns", "ws", "src")
	rs.SetAttribute("reference", metastore.Scalar{V: "gs://src/refs/hg38.fa"})
	rs.SetAttribute("other", metastore.Scalar{V: "gs://elsewhere/x.fa"})
	rs.SetAttribute("count", metastore.Scalar{V: 3.0})
	rs.AddRecord("sample", "s1", map[string]metastore.Value{
		"public":      metastore.Scalar{V: "gs://gcp-public-data/x.vcf"},
		"participant": metastore.References{EntityType: "participant", Names: []string{"p1"}},
	})

	res, err := New(src, archive, "ws").Plan(context.Background(), rs)
	require.NoError(t, err)

	assert.Equal(t, AttributeUpdates{
		"reference": metastore.Scalar{V: "gs://archive/ws/attributes/reference/hg38.fa"},
	}, res.Attributes)
	assert.Empty(t, res.Entities)
}

func TestPlan_MalformedCellDoesNotStopScan(t *testing.T) {
	rs := memory.New("ns", "ws", "src")
	rs.AddRecord("sample", "s1", map[string]metastore.Value{
		"bad":  metastore.List{Items: []any{"gs://src/a", []any{"gs://src/b"}}},
		"good": metastore.Scalar{V: "gs://src/c.bam"},
	})
	rs.AddRecord("sample", "s2", map[string]metastore.Value{
		"cram": metastore.Scalar{V: "gs://src/d.bam"},
	})

	res, err := New(src, archive, "ws").Plan(context.Background(), rs)
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], arkerrors.ErrMalformedValue)
	assert.Contains(t, res.Errors[0].Error(), "sample/s1")
	assert.Equal(t, 2, res.Refs.Len())
	assert.Equal(t, 2, res.Entities.Records())
}

func TestPlan_SharedReferenceReused(t *testing.T) {
	rs := memory.New("ns", "ws", "src")
	rs.AddRecord("sample", "s1", map[string]metastore.Value{"cram": metastore.Scalar{V: "gs://src/a.bam"}})
	rs.AddRecord("sample", "s2", map[string]metastore.Value{"cram": metastore.Scalar{V: "gs://src/a.bam"}})

	res, err := New(src, archive, "ws").Plan(context.Background(), rs)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Refs.Len())
	assert.Equal(t, res.Entities["sample"]["s1"]["cram"], res.Entities["sample"]["s2"]["cram"])
}

func TestPlan_Idempotent(t *testing.T) {
	rs := scenarioA()
	rs.AddRecord("sample", "s2", map[string]metastore.Value{
		"doc": metastore.Document{V: map[string]any{"x": []any{"gs://src/x.txt", "gs://src/y.txt"}}},
	})

	first, err := New(src, archive, "ws").Plan(context.Background(), rs)
	require.NoError(t, err)
	second, err := New(src, archive, "ws").Plan(context.Background(), rs)
	require.NoError(t, err)

	a, err := json.Marshal(first.Refs)
	require.NoError(t, err)
	b, err := json.Marshal(second.Refs)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPlan_ResumedMapGrowsByNewReferences(t *testing.T) {
	rs := scenarioA()
	first, err := New(src, archive, "ws").Plan(context.Background(), rs)
	require.NoError(t, err)
	old := first.Refs.Entries()

	rs.AddRecord("sample", "s2", map[string]metastore.Value{"cram": metastore.Scalar{V: "gs://src/b.bam"}})
	rs.AddRecord("sample", "s3", map[string]metastore.Value{"cram": metastore.Scalar{V: "gs://src/c.bam"}})

	resumed := LoadReferenceMap(old)
	second, err := New(src, archive, "ws", WithReferenceMap(resumed)).Plan(context.Background(), rs)
	require.NoError(t, err)

	assert.Equal(t, len(old)+2, second.Refs.Len())
	assert.Equal(t, 2, second.Refs.Added())
	for k, v := range old {
		got, ok := second.Refs.Lookup(k)
		require.True(t, ok)
		assert.Equal(t, v, got)
	}
}

func TestReferenceMap_InsertOnce(t *testing.T) {
	r := NewReferenceMap()
	d, added := r.Insert("gs://src/a", "gs://dst/1")
	assert.True(t, added)
	assert.Equal(t, "gs://dst/1", d)

	d, added = r.Insert("gs://src/a", "gs://dst/2")
	assert.False(t, added)
	assert.Equal(t, "gs://dst/1", d)

	r.Insert("gs://src/0", "gs://dst/0")
	pairs := r.Pairs()
	require.Len(t, pairs, 2)
	assert.Equal(t, "gs://src/0", pairs[0].Source)
}

func TestPlanSweep(t *testing.T) {
	store := memstore.New()
	store.Put("gs://src/a.bam", []byte("a"))
	store.Put("gs://src/logs/run.log", []byte("log"))
	store.Put("gs://src/sub/b.bam", []byte("b"))
	store.Put("gs://other/c.bam", []byte("c"))

	excludes, err := CompileExcludes([]string{`\.log$`})
	require.NoError(t, err)

	res, err := New(src, archive, "ws").PlanSweep(context.Background(), store, "", excludes)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"gs://src/a.bam":     "gs://archive/ws/misc_files/a.bam",
		"gs://src/sub/b.bam": "gs://archive/ws/misc_files/sub/b.bam",
	}, res.Refs.Entries())
	assert.Equal(t, []string{"gs://src/logs/run.log"}, res.Filtered)

	_, err = CompileExcludes([]string{"("})
	assert.ErrorIs(t, err, arkerrors.ErrInvalidInput)
}

func TestPlanSweep_ArchiveInSourceContainer(t *testing.T) {
	store := memstore.New()
	store.Put("gs://src/a.bam", []byte("a"))
	store.Put("gs://src/archive/ws/sample/s1/cram/b.bam", []byte("b"))
	store.Put("gs://src/archive/other/c.bam", []byte("c"))

	shared := objstore.URI{Scheme: "gs", Container: "src", Path: "archive"}
	res, err := New(src, shared, "ws").PlanSweep(context.Background(), store, "", nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"gs://src/a.bam":               "gs://src/archive/ws/misc_files/a.bam",
		"gs://src/archive/other/c.bam": "gs://src/archive/ws/misc_files/archive/other/c.bam",
	}, res.Refs.Entries())
}
