package terra

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   []byte
}

func newServer(t *testing.T, patchStatus int) (*httptest.Server, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded

	mux := http.NewServeMux()
	mux.HandleFunc("GET /workspaces/ns/ws", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"workspace": {
			"bucketName": "fc-src",
			"createdBy": "someone",
			"attributes": {
				"description": "cohort 1",
				"ref": "gs://fc-src/ref.fa",
				"tags": {"itemsType": "AttributeValue", "items": ["a", "b"]}
			}
		}}`)
	})
	mux.HandleFunc("GET /workspaces/ns/ws/entities", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"sample": {"count": 1}, "participant": {"count": 3}}`)
	})
	mux.HandleFunc("GET /workspaces/ns/ws/entities/sample", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"name": "s1", "entityType": "sample", "attributes": {
			"cram": "gs://fc-src/a.bam",
			"participant": {"itemsType": "EntityReference", "items": [{"entityType": "participant", "entityName": "p1"}]}
		}}]`)
	})
	mux.HandleFunc("GET /workspaces/ns/ws/entities/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such table", http.StatusNotFound)
	})
	mux.HandleFunc("GET /workspaces/ns/ws/entities/sample/tsv", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "flexible", r.URL.Query().Get("model"))
		w.Header().Set("Content-Disposition", `attachment; filename="sample_export.tsv"`)
		w.Header().Set("Content-Type", "text/tab-separated-values; charset=utf-8")
		_, _ = io.WriteString(w, "entity:sample_id\tcram\ns1\tgs://fc-src/a.bam\n")
	})
	mux.HandleFunc("GET /workspaces/ns/ws/exportAttributesTSV", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "workspace:ref\ngs://fc-src/ref.fa\n")
	})
	patch := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recorded{r.Method, r.URL.Path, r.Header.Get("Authorization"), body})
		mu.Unlock()
		w.WriteHeader(patchStatus)
	}
	mux.HandleFunc("PATCH /workspaces/ns/ws/entities/sample/s1", patch)
	mux.HandleFunc("PATCH /workspaces/ns/ws/updateAttributes", patch)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClient_Reads(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK)
	c, err := New(srv.URL, "ns", "ws", "tok")
	require.NoError(t, err)
	ctx := context.Background()

	ws, err := c.Workspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fc-src", ws.Bucket)
	assert.Equal(t, "cohort 1", ws.Description)
	assert.Equal(t, "someone", ws.Metadata["createdBy"])
	assert.NotContains(t, ws.Metadata, "attributes")

	attrs, err := c.WorkspaceAttributes(ctx)
	require.NoError(t, err)
	assert.Equal(t, metastore.Scalar{V: "gs://fc-src/ref.fa"}, attrs["ref"])
	assert.Equal(t, metastore.List{Items: []any{"a", "b"}}, attrs["tags"])

	tables, err := c.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"participant", "sample"}, tables)

	rows, err := c.GetTable(ctx, "sample")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0].ID)
	assert.Equal(t, metastore.References{EntityType: "participant", Names: []string{"p1"}},
		rows[0].Attributes["participant"])

	_, err = c.GetTable(ctx, "broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, arkerrors.ErrBadStatus)
	assert.Contains(t, err.Error(), "table broken")
}

func TestClient_Exports(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK)
	c, err := New(srv.URL, "ns", "ws", "")
	require.NoError(t, err)

	tbl, err := c.ExportTable(context.Background(), "sample")
	require.NoError(t, err)
	assert.Equal(t, "sample_export.tsv", tbl.Name)
	assert.Equal(t, "text/tab-separated-values", tbl.ContentType)

	attrs, err := c.ExportAttributes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ws-workspace-attributes.tsv", attrs.Name)
	assert.Equal(t, "workspace:ref\ngs://fc-src/ref.fa\n", string(attrs.Data))
}

func TestClient_Updates(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "ok", status: http.StatusOK},
		{name: "server error", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := newServer(t, tt.status)
			c, err := New(srv.URL, "ns", "ws", "tok")
			require.NoError(t, err)

			status, err := c.UpdateRecord(context.Background(), "sample", "s1", map[string]metastore.Value{
				"cram": metastore.Scalar{V: "gs://archive/ws/sample/s1/cram/a.bam"},
				"list": metastore.List{Items: []any{"x"}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.status, status)

			status, err = c.SetWorkspaceAttributes(context.Background(), map[string]metastore.Value{
				"ref": metastore.Scalar{V: "gs://archive/ws/attributes/ref/ref.fa"},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.status, status)

			require.Len(t, *calls, 2)
			first := (*calls)[0]
			assert.Equal(t, "Bearer tok", first.auth)

			var ops []map[string]any
			require.NoError(t, json.Unmarshal(first.body, &ops))
			assert.Equal(t, []map[string]any{
				{"op": "AddUpdateAttribute", "attributeName": "cram",
					"addUpdateAttribute": "gs://archive/ws/sample/s1/cram/a.bam"},
				{"op": "AddUpdateAttribute", "attributeName": "list",
					"addUpdateAttribute": map[string]any{"itemsType": "AttributeValue", "items": []any{"x"}}},
			}, ops)
			assert.Equal(t, "/workspaces/ns/ws/updateAttributes", (*calls)[1].path)
		})
	}
}

func TestNew_ValidatesWorkspace(t *testing.T) {
	_, err := New("", "bad ns", "ws", "")
	assert.ErrorIs(t, err, arkerrors.ErrInvalidInput)
}

func TestAttachmentName(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		want        string
	}{
		{name: "plain", disposition: `attachment; filename="sample.tsv"`, want: "sample.tsv"},
		{name: "no header", disposition: "", want: "fallback.tsv"},
		{name: "no filename", disposition: "attachment", want: "fallback.tsv"},
		{name: "malformed", disposition: `attachment; filename="x`, want: "fallback.tsv"},
		{name: "parent traversal", disposition: `attachment; filename="../../etc/cron.d/x"`, want: "x"},
		{name: "absolute", disposition: `attachment; filename="/tmp/x.tsv"`, want: "x.tsv"},
		{name: "windows separators", disposition: `attachment; filename="..\\..\\x.tsv"`, want: "x.tsv"},
		{name: "dot dot only", disposition: `attachment; filename=".."`, want: "fallback.tsv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, attachmentName(tt.disposition, "fallback.tsv"))
		})
	}
}
