// Package aws resolves secrets from AWS Secrets Manager.
//
// Credentials are loaded with the SDK's default chain when the provider is
// created. Throttled calls are retried with jittered exponential backoff.
package aws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/retry"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/secrets"
)

// API is the subset of the Secrets Manager client the provider uses.
type API interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

// Provider implements secrets.Provider for AWS Secrets Manager.
type Provider struct {
	client API
	logger *slog.Logger
}

type options struct {
	client   API
	region   string
	endpoint string
	attempts int
	logger   *slog.Logger
}

// Option configures a Provider.
type Option func(*options)

// WithClient uses client instead of building one.
func WithClient(client API) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithRegion sets the region.
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// WithEndpoint overrides the service endpoint, e.g. for LocalStack.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithMaxAttempts sets the SDK retry budget.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		o.attempts = n
	}
}

// WithLogger sets the logger. Secret values are never logged.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a Provider.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.client != nil {
		return &Provider{client: o.client, logger: o.logger}, nil
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRetryer(func() aws.Retryer { return retry.NewSDKRetryer(o.attempts) }),
	}
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("secrets/aws: load config: %w", err)
	}
	client := secretsmanager.NewFromConfig(cfg, func(so *secretsmanager.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
		}
	})
	return &Provider{client: client, logger: o.logger}, nil
}

// Name implements secrets.Provider.
func (p *Provider) Name() string {
	return "aws"
}

// Resolve implements secrets.Provider. String and binary secrets are both
// returned as bytes.
func (p *Provider) Resolve(ctx context.Context, ref secrets.Ref) (*secrets.Secret, error) {
	p.logger.DebugContext(ctx, "retrieving secret", "secret_name", ref.Path)
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref.Path),
	})
	if err != nil {
		return nil, mapError(err)
	}

	switch {
	case out.SecretString != nil:
		return &secrets.Secret{Value: []byte(*out.SecretString)}, nil
	case out.SecretBinary != nil:
		return &secrets.Secret{Value: append([]byte(nil), out.SecretBinary...)}, nil
	}
	return nil, secrets.ErrSecretEmpty
}

func mapError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("GetSecretValue: %w", err)
	}
	switch apiErr.ErrorCode() {
	case "ResourceNotFoundException":
		return secrets.ErrSecretNotFound
	case "AccessDeniedException":
		return secrets.ErrAccessDenied
	}
	return fmt.Errorf("GetSecretValue: %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
}
