// Package memory provides an in-memory secret provider for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/secrets"
)

// Provider stores secrets in memory. It is safe for concurrent use.
type Provider struct {
	mu    sync.RWMutex
	store map[string][]byte
}

// New returns a Provider holding values, keyed by path.
func New(values map[string]string) *Provider {
	p := &Provider{store: make(map[string][]byte, len(values))}
	for k, v := range values {
		p.store[k] = []byte(v)
	}
	return p
}

// Name implements secrets.Provider.
func (p *Provider) Name() string {
	return "memory"
}

// Set stores a secret.
func (p *Provider) Set(path, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store[path] = []byte(value)
}

// Resolve implements secrets.Provider. The returned secret is a copy.
func (p *Provider) Resolve(ctx context.Context, ref secrets.Ref) (*secrets.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve cancelled: %w", err)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.store[ref.Path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", secrets.ErrSecretNotFound, ref.Path)
	}
	return &secrets.Secret{Value: append([]byte(nil), v...)}, nil
}
