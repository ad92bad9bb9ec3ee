// Package terra implements metastore.RecordStore against the Terra
// (FireCloud) workspace API.
package terra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/validation"
)

// DefaultAPIRoot is the public FireCloud orchestration API.
const DefaultAPIRoot = "https://api.firecloud.org/api"

// DefaultTimeout bounds a single request.
const DefaultTimeout = 60 * time.Second

// Client is a Terra workspace client bound to one workspace.
type Client struct {
	root      string
	namespace string
	name      string
	token     string
	http      *http.Client
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets a logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for namespace/name. An empty root selects DefaultAPIRoot.
func New(root, namespace, name, token string, opts ...Option) (*Client, error) {
	if err := validation.ValidateWorkspace(namespace, name); err != nil {
		return nil, err
	}
	if root == "" {
		root = DefaultAPIRoot
	}
	c := &Client{
		root:      strings.TrimRight(root, "/"),
		namespace: namespace,
		name:      name,
		token:     token,
		http:      &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// Factory returns a metastore.Factory that builds one client per worker,
// each with its own HTTP transport.
func Factory(root, namespace, name, token string, opts ...Option) metastore.Factory {
	return func(context.Context) (metastore.RecordStore, error) {
		perWorker := append([]Option{WithHTTPClient(&http.Client{
			Timeout:   DefaultTimeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		})}, opts...)
		return New(root, namespace, name, token, perWorker...)
	}
}

// attributeOp is one element of an attribute update request.
type attributeOp struct {
	Op                 string `json:"op"`
	AttributeName      string `json:"attributeName"`
	AddUpdateAttribute any    `json:"addUpdateAttribute"`
}

type workspaceResponse struct {
	Workspace map[string]any `json:"workspace"`
}

type entity struct {
	Name       string         `json:"name"`
	EntityType string         `json:"entityType"`
	Attributes map[string]any `json:"attributes"`
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, 0, len(parts)+3)
	escaped = append(escaped, "workspaces", url.PathEscape(c.namespace), url.PathEscape(c.name))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return c.root + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("terra request", "method", method, "url", endpoint,
		"status", resp.StatusCode, "elapsed", time.Since(start))
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) *arkerrors.Error {
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return arkerrors.NewError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != metastore.StatusOK {
		return arkerrors.NewError(op, badStatus(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return arkerrors.NewError(op, err).WithMessage("decode response")
	}
	return nil
}

func badStatus(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: %d %s", arkerrors.ErrBadStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
}

// Workspace implements metastore.RecordStore.
func (c *Client) Workspace(ctx context.Context) (*metastore.Workspace, error) {
	var wr workspaceResponse
	if err := c.getJSON(ctx, "Workspace", c.endpoint(), &wr); err != nil {
		return nil, err
	}
	ws := &metastore.Workspace{Namespace: c.namespace, Name: c.name, Metadata: map[string]any{}}
	for k, v := range wr.Workspace {
		if k == "attributes" {
			continue
		}
		ws.Metadata[k] = v
	}
	ws.Bucket, _ = wr.Workspace["bucketName"].(string)
	if attrs, ok := wr.Workspace["attributes"].(map[string]any); ok {
		ws.Description, _ = attrs["description"].(string)
	}
	return ws, nil
}

// WorkspaceAttributes implements metastore.RecordStore.
func (c *Client) WorkspaceAttributes(ctx context.Context) (map[string]metastore.Value, error) {
	var wr workspaceResponse
	if err := c.getJSON(ctx, "WorkspaceAttributes", c.endpoint(), &wr); err != nil {
		return nil, err
	}
	raw, _ := wr.Workspace["attributes"].(map[string]any)
	return decodeAttributes(raw), nil
}

// ListTables implements metastore.RecordStore.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	var types map[string]json.RawMessage
	if err := c.getJSON(ctx, "ListTables", c.endpoint("entities"), &types); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(types))
	for n := range types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// GetTable implements metastore.RecordStore.
func (c *Client) GetTable(ctx context.Context, table string) ([]metastore.Record, error) {
	var entities []entity
	if err := c.getJSON(ctx, "GetTable", c.endpoint("entities", table), &entities); err != nil {
		return nil, err.WithTable(table)
	}
	out := make([]metastore.Record, 0, len(entities))
	for _, e := range entities {
		out = append(out, metastore.Record{ID: e.Name, Attributes: decodeAttributes(e.Attributes)})
	}
	return out, nil
}

// UpdateRecord implements metastore.RecordStore.
func (c *Client) UpdateRecord(ctx context.Context, table, id string, values map[string]metastore.Value) (int, error) {
	return c.patch(ctx, c.endpoint("entities", table, id), values)
}

// SetWorkspaceAttributes implements metastore.RecordStore.
func (c *Client) SetWorkspaceAttributes(ctx context.Context, values map[string]metastore.Value) (int, error) {
	return c.patch(ctx, c.endpoint("updateAttributes"), values)
}

func (c *Client) patch(ctx context.Context, endpoint string, values map[string]metastore.Value) (int, error) {
	resp, err := c.do(ctx, http.MethodPatch, endpoint, updateOps(values))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// ExportAttributes implements metastore.RecordStore.
func (c *Client) ExportAttributes(ctx context.Context) (*metastore.Attachment, error) {
	a, err := c.download(ctx, "ExportAttributes", c.endpoint("exportAttributesTSV"),
		c.name+"-workspace-attributes.tsv")
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ExportTable implements metastore.RecordStore.
func (c *Client) ExportTable(ctx context.Context, table string) (*metastore.Attachment, error) {
	a, err := c.download(ctx, "ExportTable", c.endpoint("entities", table, "tsv")+"?model=flexible", table+".tsv")
	if err != nil {
		return nil, err.WithTable(table)
	}
	return a, nil
}

func (c *Client) download(ctx context.Context, op, endpoint, fallback string) (*metastore.Attachment, *arkerrors.Error) {
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, arkerrors.NewError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != metastore.StatusOK {
		return nil, arkerrors.NewError(op, badStatus(resp))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, arkerrors.NewError(op, err)
	}

	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	return &metastore.Attachment{
		Name:        attachmentName(resp.Header.Get("Content-Disposition"), fallback),
		ContentType: ct,
		Data:        data,
	}, nil
}

func attachmentName(disposition, fallback string) string {
	if disposition == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return fallback
	}
	// keep only the last path element
	name := path.Base(strings.ReplaceAll(params["filename"], `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return fallback
	}
	return name
}

func decodeAttributes(raw map[string]any) map[string]metastore.Value {
	out := make(map[string]metastore.Value, len(raw))
	for k, v := range raw {
		out[k] = metastore.DecodeWire(v)
	}
	return out
}

func updateOps(values map[string]metastore.Value) []attributeOp {
	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	sort.Strings(names)

	ops := make([]attributeOp, 0, len(names))
	for _, n := range names {
		ops = append(ops, attributeOp{
			Op:                 "AddUpdateAttribute",
			AttributeName:      n,
			AddUpdateAttribute: values[n].Wire(),
		})
	}
	return ops
}
