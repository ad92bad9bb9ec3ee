// Package env resolves secrets from environment variables.
package env

import (
	"context"
	"fmt"
	"os"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/secrets"
)

// Provider reads secrets from the process environment.
type Provider struct {
	lookup func(string) (string, bool)
}

// New returns a Provider backed by os.LookupEnv.
func New() *Provider {
	return &Provider{lookup: os.LookupEnv}
}

// Name implements secrets.Provider.
func (p *Provider) Name() string {
	return "env"
}

// Resolve implements secrets.Provider. An unset or empty variable is not found.
func (p *Provider) Resolve(ctx context.Context, ref secrets.Ref) (*secrets.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := p.lookup(ref.Path)
	if !ok || v == "" {
		return nil, fmt.Errorf("%w: $%s", secrets.ErrSecretNotFound, ref.Path)
	}
	return &secrets.Secret{Value: []byte(v)}, nil
}
