// Package memstore provides an in-memory object store. Copies proceed in
// fixed-size chunks and hand back a continuation token between chunks, the
// way a rewrite-style service copy does.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
)

// DefaultChunkSize is the number of bytes copied per Copy call.
const DefaultChunkSize = 1 << 20

// Op names a store operation for fault injection and hooks.
type Op string

// Store operations
const (
	OpExists Op = "exists"
	OpSize   Op = "size"
	OpCopy   Op = "copy"
	OpDelete Op = "delete"
	OpUpload Op = "upload"
	OpList   Op = "list"
)

// Hook runs before an operation. It may mutate the store.
type Hook func(op Op, u objstore.URI)

type object struct {
	data        []byte
	contentType string
}

type pending struct {
	src    string
	dst    string
	buf    []byte
	offset int
}

// Store is an in-memory objstore.Store safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	objects   map[string]object
	pending   map[string]*pending
	faults    map[string]error
	hooks     []Hook
	chunkSize int
	nextToken int
	stats     Stats
}

// Stats counts calls that reached the store.
type Stats struct {
	CopyCalls   int
	CopiedBytes int64
	Deletes     int
	Uploads     int
}

// Option configures a Store.
type Option func(*Store)

// WithChunkSize sets the bytes copied per Copy call.
func WithChunkSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		objects:   make(map[string]object),
		pending:   make(map[string]*pending),
		faults:    make(map[string]error),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Factory returns an objstore.Factory that hands every worker this store.
func (s *Store) Factory() objstore.Factory {
	return func(context.Context) (objstore.Store, error) {
		return s, nil
	}
}

// canonical renders uri the way the Store methods key objects, so
// "gs://bucket" and "gs://bucket/" name the same entry. uri must be valid.
func canonical(uri string) string {
	return objstore.MustParseURI(uri).String()
}

// Put stores an object directly, bypassing hooks and faults.
func (s *Store) Put(uri string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[canonical(uri)] = object{data: append([]byte(nil), data...)}
}

// Get returns an object's content.
func (s *Store) Get(uri string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[canonical(uri)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), o.data...), true
}

// ContentType returns the content type an object was uploaded with.
func (s *Store) ContentType(uri string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[canonical(uri)].contentType
}

// Has reports whether an object exists.
func (s *Store) Has(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[canonical(uri)]
	return ok
}

// Remove deletes an object directly, bypassing hooks and faults.
func (s *Store) Remove(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, canonical(uri))
}

// Keys returns every stored URI in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fail makes every op on uri return err until cleared with a nil err.
func (s *Store) Fail(op Op, uri string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(op) + " " + canonical(uri)
	if err == nil {
		delete(s.faults, key)
		return
	}
	s.faults[key] = err
}

// OnOp registers a hook run before every operation.
func (s *Store) OnOp(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Stats returns a snapshot of the call counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// enter runs hooks outside the lock, then checks injected faults.
func (s *Store) enter(op Op, u objstore.URI) error {
	s.mu.Lock()
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.Unlock()

	for _, h := range hooks {
		h(op, u)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.faults[string(op)+" "+u.String()]; ok {
		return arkerrors.NewObjectError(string(op), u.String(), err)
	}
	return nil
}

// Exists implements objstore.Store.
func (s *Store) Exists(ctx context.Context, u objstore.URI) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.enter(OpExists, u); err != nil {
		return false, err
	}
	return s.Has(u.String()), nil
}

// Size implements objstore.Store.
func (s *Store) Size(ctx context.Context, u objstore.URI) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.enter(OpSize, u); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[u.String()]
	if !ok {
		return 0, arkerrors.NewObjectError("size", u.String(), arkerrors.ErrObjectNotFound)
	}
	return int64(len(o.data)), nil
}

// Copy implements objstore.Store. The source content is captured on the
// first call; each call moves at most one chunk.
func (s *Store) Copy(ctx context.Context, src, dst objstore.URI, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.enter(OpCopy, src); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.CopyCalls++

	var p *pending
	if token == "" {
		o, ok := s.objects[src.String()]
		if !ok {
			return "", arkerrors.NewObjectError("copy", src.String(), arkerrors.ErrObjectNotFound)
		}
		p = &pending{src: src.String(), dst: dst.String(), buf: append([]byte(nil), o.data...)}
	} else {
		var ok bool
		p, ok = s.pending[token]
		if !ok || p.src != src.String() || p.dst != dst.String() {
			return "", arkerrors.NewObjectError("copy", src.String(),
				fmt.Errorf("%w: unknown continuation token %q", arkerrors.ErrInvalidInput, token))
		}
		delete(s.pending, token)
	}

	end := p.offset + s.chunkSize
	if end > len(p.buf) {
		end = len(p.buf)
	}
	s.stats.CopiedBytes += int64(end - p.offset)
	p.offset = end

	if p.offset < len(p.buf) {
		s.nextToken++
		next := "mem-" + strconv.Itoa(s.nextToken)
		s.pending[next] = p
		return next, nil
	}

	s.objects[p.dst] = object{data: p.buf}
	return "", nil
}

// Delete implements objstore.Store. Deleting a missing object is not an error.
func (s *Store) Delete(ctx context.Context, u objstore.URI) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.enter(OpDelete, u); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Deletes++
	delete(s.objects, u.String())
	return nil
}

// Upload implements objstore.Store.
func (s *Store) Upload(ctx context.Context, u objstore.URI, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.enter(OpUpload, u); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Uploads++
	s.objects[u.String()] = object{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

// List implements objstore.Store.
func (s *Store) List(ctx context.Context, prefix objstore.URI) ([]objstore.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.enter(OpList, prefix); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	want := prefix.String()
	var out []objstore.ObjectInfo
	for k, o := range s.objects {
		if !strings.HasPrefix(k, want) {
			continue
		}
		u, err := objstore.ParseURI(k)
		if err != nil {
			continue
		}
		out = append(out, objstore.ObjectInfo{URI: u, Size: int64(len(o.data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI.String() < out[j].URI.String() })
	return out, nil
}
