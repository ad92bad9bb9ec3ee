// Package secrets resolves credential references such as the record service
// token and object store keys.
//
// A reference names a provider and a path, optionally selecting one key of a
// JSON secret:
//
//	env:ARKYVE_TERRA_TOKEN
//	aws:prod/arkyve#token
//	memory:test/token
//
// Providers are registered on a Manager, which resolves references just in
// time and never logs secret values.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var (
	// ErrSecretNotFound indicates the secret does not exist in its provider
	ErrSecretNotFound = errors.New("secret not found")

	// ErrInvalidRef indicates a reference that does not parse
	ErrInvalidRef = errors.New("invalid secret reference")

	// ErrAccessDenied indicates the caller may not read the secret
	ErrAccessDenied = errors.New("access denied")

	// ErrSecretEmpty indicates the secret exists but holds no value
	ErrSecretEmpty = errors.New("secret value is empty")
)

// Ref identifies one secret.
type Ref struct {
	// Provider is the registered provider name
	Provider string

	// Path is the provider-specific secret identifier
	Path string

	// Key selects one field of a JSON object secret
	Key string
}

// ParseRef parses <provider>:<path>[#key].
func ParseRef(s string) (Ref, error) {
	provider, rest, ok := strings.Cut(s, ":")
	if !ok || provider == "" || rest == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	path, key, _ := strings.Cut(rest, "#")
	if path == "" {
		return Ref{}, fmt.Errorf("%w: %q has no path", ErrInvalidRef, s)
	}
	return Ref{Provider: provider, Path: path, Key: key}, nil
}

// String renders the reference. It never contains a secret value.
func (r Ref) String() string {
	s := r.Provider + ":" + r.Path
	if r.Key != "" {
		s += "#" + r.Key
	}
	return s
}

// Secret is a resolved value.
type Secret struct {
	Value []byte
}

// String returns the value.
func (s *Secret) String() string {
	return string(s.Value)
}

// Clear zeroes the value.
func (s *Secret) Clear() {
	for i := range s.Value {
		s.Value[i] = 0
	}
	s.Value = nil
}

// Provider resolves references for one backend.
type Provider interface {
	// Name is the prefix references use to select the provider.
	Name() string

	// Resolve returns the whole secret at ref.Path. Key selection is done
	// by the Manager.
	Resolve(ctx context.Context, ref Ref) (*Secret, error)
}

// ProviderError wraps a provider failure with the reference that caused it.
type ProviderError struct {
	Provider string
	Ref      Ref
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %q error for secret %q: %v", e.Provider, e.Ref.Path, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Manager holds the registered providers.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
	logger    *slog.Logger
}

// NewManager returns a Manager with the given providers. A nil logger is
// silent.
func NewManager(logger *slog.Logger, providers ...Provider) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Manager{providers: map[string]Provider{}, logger: logger}
	for _, p := range providers {
		m.providers[p.Name()] = p
	}
	return m
}

// Register adds a provider. Registering a name twice is an error.
func (m *Manager) Register(p Provider) error {
	if p == nil {
		return errors.New("secrets: provider cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[p.Name()]; ok {
		return fmt.Errorf("secrets: provider %q already registered", p.Name())
	}
	m.providers[p.Name()] = p
	return nil
}

// Resolve parses ref and returns the secret value as a string.
func (m *Manager) Resolve(ctx context.Context, ref string) (string, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	p, ok := m.providers[r.Provider]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: no provider %q", ErrInvalidRef, r.Provider)
	}

	secret, err := p.Resolve(ctx, r)
	if err != nil {
		m.logger.Debug("secret resolution failed", "ref", r.String(), "error", err)
		return "", &ProviderError{Provider: r.Provider, Ref: r, Err: err}
	}
	defer secret.Clear()
	m.logger.Debug("secret resolved", "ref", r.String())

	if r.Key == "" {
		return secret.String(), nil
	}
	var fields map[string]any
	if err := json.Unmarshal(secret.Value, &fields); err != nil {
		return "", &ProviderError{Provider: r.Provider, Ref: r, Err: fmt.Errorf("secret is not a JSON object: %w", err)}
	}
	v, ok := fields[r.Key]
	if !ok {
		return "", &ProviderError{Provider: r.Provider, Ref: r, Err: fmt.Errorf("%w: key %q", ErrSecretNotFound, r.Key)}
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ResolveOptional resolves ref, returning "" for an empty ref.
func (m *Manager) ResolveOptional(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	return m.Resolve(ctx, ref)
}
