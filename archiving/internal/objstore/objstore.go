// Package objstore defines the object store contract used by the transfer,
// finalize and snapshot phases, plus URI handling and per-scheme routing.
package objstore

import (
	"context"
	"fmt"
	"path"
	"strings"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
)

// URI identifies an object as <scheme>://<container>/<path>.
type URI struct {
	Scheme    string
	Container string
	Path      string
}

// ParseURI splits s into scheme, container and path. The path may be empty
// when s names a container.
func ParseURI(s string) (URI, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || scheme == "" {
		return URI{}, fmt.Errorf("%w: %q", arkerrors.ErrInvalidURI, s)
	}
	container, p, _ := strings.Cut(rest, "/")
	if container == "" {
		return URI{}, fmt.Errorf("%w: %q has no container", arkerrors.ErrInvalidURI, s)
	}
	return URI{Scheme: scheme, Container: container, Path: p}, nil
}

// MustParseURI is ParseURI for literals known to be valid.
func MustParseURI(s string) URI {
	u, err := ParseURI(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String renders the URI.
func (u URI) String() string {
	return u.Scheme + "://" + u.Container + "/" + u.Path
}

// Prefix returns <scheme>://<container>/, the prefix every object in the
// container starts with.
func (u URI) Prefix() string {
	return u.Scheme + "://" + u.Container + "/"
}

// Join appends path components. Empty components collapse.
func (u URI) Join(parts ...string) URI {
	elems := make([]string, 0, len(parts)+1)
	if u.Path != "" {
		elems = append(elems, u.Path)
	}
	for _, p := range parts {
		if p != "" {
			elems = append(elems, p)
		}
	}
	u.Path = strings.TrimPrefix(path.Join(elems...), "/")
	return u
}

// Base returns the last path element.
func (u URI) Base() string {
	if u.Path == "" {
		return ""
	}
	return path.Base(u.Path)
}

// SameContainer reports whether both URIs live in one container.
func (u URI) SameContainer(o URI) bool {
	return u.Scheme == o.Scheme && u.Container == o.Container
}

// ObjectInfo describes a listed object.
type ObjectInfo struct {
	URI  URI
	Size int64
}

// Store is the object store contract.
type Store interface {
	// Exists reports whether the object exists.
	Exists(ctx context.Context, u URI) (bool, error)

	// Size returns the object size. A missing object yields ErrObjectNotFound.
	Size(ctx context.Context, u URI) (int64, error)

	// Copy performs one step of a server-side copy. An empty token starts
	// the copy. A non-empty returned token means the copy is incomplete and
	// must be resumed with it.
	Copy(ctx context.Context, src, dst URI, token string) (string, error)

	// Delete removes the object.
	Delete(ctx context.Context, u URI) error

	// Upload writes data as the object, replacing any existing one.
	Upload(ctx context.Context, u URI, data []byte, contentType string) error

	// List returns every object under prefix (container plus path prefix).
	List(ctx context.Context, prefix URI) ([]ObjectInfo, error)
}

// Factory builds a Store for one worker. Stores are not assumed to be safe to
// share across workers.
type Factory func(ctx context.Context) (Store, error)

// CopyAll drives a resumable copy to completion.
func CopyAll(ctx context.Context, s Store, src, dst URI) (int, error) {
	steps := 0
	token := ""
	for {
		next, err := s.Copy(ctx, src, dst, token)
		steps++
		if err != nil {
			return steps, err
		}
		if next == "" {
			return steps, nil
		}
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		token = next
	}
}
