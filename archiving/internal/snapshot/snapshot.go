// Package snapshot exports a point-in-time copy of a workspace's metadata
// into the archive container.
package snapshot

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"

	"github.com/gabriel-vasile/mimetype"
	"github.com/opencontainers/go-digest"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
)

// Archive layout under <archive>/<workspace>/.
const (
	MetaFile     = "workspace_meta.json"
	ManifestFile = "snapshot_manifest.json"
	TSVDir       = "_tsv"
	DescKey      = "_desc_"
)

// File is an extra file archived alongside the snapshot.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Object describes one archived object.
type Object struct {
	URI         string `json:"uri"`
	Size        int64  `json:"size"`
	Digest      string `json:"digest"`
	ContentType string `json:"content_type"`
}

// Manifest is the content of snapshot_manifest.json.
type Manifest struct {
	Workspace string   `json:"workspace"`
	Objects   []Object `json:"objects"`
}

// Snapshotter writes snapshots.
type Snapshotter struct {
	store     objstore.Store
	archive   objstore.URI
	workspace string
	logger    *slog.Logger
}

// New creates a Snapshotter writing to <archive>/<workspace>/.
func New(store objstore.Store, archive objstore.URI, workspace string, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Snapshotter{store: store, archive: archive, workspace: workspace, logger: logger}
}

// Run exports the workspace metadata, the workspace attribute table and
// every entity table, uploads them with the extra files, and finally uploads
// a manifest of everything written. Existing objects are replaced.
func (s *Snapshotter) Run(ctx context.Context, rs metastore.RecordStore, extra []File) (*Manifest, error) {
	m := &Manifest{Workspace: s.workspace}
	root := s.archive.Join(s.workspace)

	ws, err := rs.Workspace(ctx)
	if err != nil {
		return nil, arkerrors.NewError("snapshot", err).WithMessage("read workspace")
	}
	meta := make(map[string]any, len(ws.Metadata)+1)
	for k, v := range ws.Metadata {
		meta[k] = v
	}
	meta[DescKey] = ws.Description
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, arkerrors.NewError("snapshot", err)
	}
	if err := s.put(ctx, m, root.Join(MetaFile), "application/json", metaJSON); err != nil {
		return nil, err
	}

	attrs, err := rs.ExportAttributes(ctx)
	if err != nil {
		return nil, arkerrors.NewError("snapshot", err).WithMessage("export attributes")
	}
	if err := s.putAttachment(ctx, m, root.Join(TSVDir, attrs.Name), attrs); err != nil {
		return nil, err
	}

	tables, err := rs.ListTables(ctx)
	if err != nil {
		return nil, arkerrors.NewError("snapshot", err).WithMessage("list tables")
	}
	for _, table := range tables {
		a, err := rs.ExportTable(ctx, table)
		if err != nil {
			return nil, arkerrors.NewError("snapshot", err).WithTable(table)
		}
		if err := s.putAttachment(ctx, m, root.Join(TSVDir, a.Name), a); err != nil {
			return nil, err
		}
	}

	for _, f := range extra {
		ct := f.ContentType
		if ct == "" {
			ct = mimetype.Detect(f.Data).String()
		}
		if err := s.put(ctx, m, root.Join(f.Name), ct, f.Data); err != nil {
			return nil, err
		}
	}

	sort.Slice(m.Objects, func(i, j int) bool { return m.Objects[i].URI < m.Objects[j].URI })
	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, arkerrors.NewError("snapshot", err)
	}
	if err := s.replace(ctx, root.Join(ManifestFile), "application/json", manifest); err != nil {
		return nil, err
	}

	s.logger.Info("snapshot archived", "objects", len(m.Objects), "location", root.String())
	return m, nil
}

func (s *Snapshotter) putAttachment(ctx context.Context, m *Manifest, u objstore.URI, a *metastore.Attachment) error {
	ct := a.ContentType
	if ct == "" {
		ct = mimetype.Detect(a.Data).String()
	}
	return s.put(ctx, m, u, ct, a.Data)
}

func (s *Snapshotter) put(ctx context.Context, m *Manifest, u objstore.URI, contentType string, data []byte) error {
	if err := s.replace(ctx, u, contentType, data); err != nil {
		return err
	}
	m.Objects = append(m.Objects, Object{
		URI:         u.String(),
		Size:        int64(len(data)),
		Digest:      digest.FromBytes(data).String(),
		ContentType: contentType,
	})
	s.logger.Debug("archived", "object", u.String(), "size", len(data))
	return nil
}

// replace deletes any existing object before uploading.
func (s *Snapshotter) replace(ctx context.Context, u objstore.URI, contentType string, data []byte) error {
	if err := s.store.Delete(ctx, u); err != nil && !arkerrors.IsObjectNotFound(err) {
		return arkerrors.NewObjectError("snapshot", u.String(), err).WithMessage("delete previous")
	}
	if err := s.store.Upload(ctx, u, data, contentType); err != nil {
		return arkerrors.NewObjectError("snapshot", u.String(), err)
	}
	return nil
}
