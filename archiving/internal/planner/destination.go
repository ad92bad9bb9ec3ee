package planner

import (
	"path"
	"strconv"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
)

// AttributesTable is the pseudo table workspace attributes are planned under.
const AttributesTable = "attributes"

// MiscFilesDir holds objects moved by a bucket sweep.
const MiscFilesDir = "misc_files"

// Destination computes where source moves:
//
//	<archive>/<workspace>/<table>/<record>/<column>/[<index>/]<base name of source>
//
// Empty components collapse, so workspace attributes (empty record) land in
// <archive>/<workspace>/attributes/<column>/<base>. A nil index is omitted;
// index 0 is kept.
func Destination(archive objstore.URI, workspace, table, record, column string, index *int, source string) objstore.URI {
	idx := ""
	if index != nil {
		idx = strconv.Itoa(*index)
	}
	base := path.Base(source)
	if u, err := objstore.ParseURI(source); err == nil {
		base = u.Base()
	}
	return archive.Join(workspace, table, record, column, idx, base)
}

// SweepDestination is where a swept object with the given key moves.
func SweepDestination(archive objstore.URI, workspace, key string) objstore.URI {
	return archive.Join(workspace, MiscFilesDir, key)
}
