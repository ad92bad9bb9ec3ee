package objstore

import (
	"context"
	"fmt"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
)

// Router dispatches each call to the Store registered for the URI scheme.
type Router struct {
	stores map[string]Store
}

// NewRouter creates a Router over the given scheme to Store mapping.
func NewRouter(stores map[string]Store) *Router {
	m := make(map[string]Store, len(stores))
	for scheme, s := range stores {
		m[scheme] = s
	}
	return &Router{stores: m}
}

func (r *Router) route(op string, u URI) (Store, error) {
	s, ok := r.stores[u.Scheme]
	if !ok {
		return nil, arkerrors.NewObjectError(op, u.String(),
			fmt.Errorf("%w %q", arkerrors.ErrUnknownScheme, u.Scheme))
	}
	return s, nil
}

// Exists implements Store.
func (r *Router) Exists(ctx context.Context, u URI) (bool, error) {
	s, err := r.route("exists", u)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, u)
}

// Size implements Store.
func (r *Router) Size(ctx context.Context, u URI) (int64, error) {
	s, err := r.route("size", u)
	if err != nil {
		return 0, err
	}
	return s.Size(ctx, u)
}

// Copy implements Store. Both URIs must share a scheme.
func (r *Router) Copy(ctx context.Context, src, dst URI, token string) (string, error) {
	if src.Scheme != dst.Scheme {
		return "", arkerrors.NewObjectError("copy", src.String(),
			fmt.Errorf("%w: %s to %s", arkerrors.ErrCrossBackend, src.Scheme, dst.Scheme))
	}
	s, err := r.route("copy", src)
	if err != nil {
		return "", err
	}
	return s.Copy(ctx, src, dst, token)
}

// Delete implements Store.
func (r *Router) Delete(ctx context.Context, u URI) error {
	s, err := r.route("delete", u)
	if err != nil {
		return err
	}
	return s.Delete(ctx, u)
}

// Upload implements Store.
func (r *Router) Upload(ctx context.Context, u URI, data []byte, contentType string) error {
	s, err := r.route("upload", u)
	if err != nil {
		return err
	}
	return s.Upload(ctx, u, data, contentType)
}

// List implements Store.
func (r *Router) List(ctx context.Context, prefix URI) ([]ObjectInfo, error) {
	s, err := r.route("list", prefix)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, prefix)
}
