// Package metastore defines the external record service contract: a
// workspace with one attribute set and named tables of records, each a
// mapping of column to attribute value.
package metastore

import (
	"context"
)

// StatusOK is the only status code that counts as success.
const StatusOK = 200

// Record is one row of a table.
type Record struct {
	ID         string
	Attributes map[string]Value
}

// Workspace describes the workspace being archived.
type Workspace struct {
	Namespace string
	Name      string

	// Bucket is the workspace's storage container name
	Bucket string

	// Description is the workspace "description" attribute, if any
	Description string

	// Metadata is the workspace object as returned by the service, without
	// its attributes
	Metadata map[string]any
}

// Attachment is an exported file.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// RecordStore is the record service contract.
//
// UpdateRecord and SetWorkspaceAttributes return the service status code;
// callers compare it against StatusOK. A non-nil error means the request
// never produced a status.
type RecordStore interface {
	Workspace(ctx context.Context) (*Workspace, error)
	WorkspaceAttributes(ctx context.Context) (map[string]Value, error)
	ListTables(ctx context.Context) ([]string, error)
	GetTable(ctx context.Context, table string) ([]Record, error)
	UpdateRecord(ctx context.Context, table, id string, values map[string]Value) (int, error)
	SetWorkspaceAttributes(ctx context.Context, values map[string]Value) (int, error)
	ExportAttributes(ctx context.Context) (*Attachment, error)
	ExportTable(ctx context.Context, table string) (*Attachment, error)
}

// Factory builds a RecordStore for one worker.
type Factory func(ctx context.Context) (RecordStore, error)
