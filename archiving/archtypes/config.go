package archtypes

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// StoreConfig describes how to reach the object store behind one URI scheme.
type StoreConfig struct {
	// Backend selects the implementation: "s3", "minio" or "memory"
	Backend string `toml:"backend"`

	// Endpoint overrides the service endpoint (LocalStack, MinIO, storage.googleapis.com)
	Endpoint string `toml:"endpoint"`

	// Region is the storage region
	Region string `toml:"region"`

	// PathStyle forces path-style addressing
	PathStyle bool `toml:"path_style"`

	// Secure selects TLS for the minio backend
	Secure bool `toml:"secure"`

	// AccessKeyRef and SecretKeyRef are secret references resolved at startup.
	// Both empty means the default credential chain.
	AccessKeyRef string `toml:"access_key_ref"`
	SecretKeyRef string `toml:"secret_key_ref"`
}

// TerraConfig describes the record service.
type TerraConfig struct {
	// APIRoot is the base URL of the workspace API
	APIRoot string `toml:"api_root"`

	// TokenRef is a secret reference for the bearer token
	TokenRef string `toml:"token_ref"`

	// Timeout bounds each request
	Timeout time.Duration `toml:"timeout"`
}

// ClientConfig holds configuration options for a Migrator.
type ClientConfig struct {
	// Namespace is the billing namespace of the workspace
	Namespace string

	// Workspace is the workspace name; it is also the top-level archive prefix
	Workspace string

	// Archive is the archive container URI, e.g. gs://my-archive
	Archive string

	// Source overrides the source container URI; by default it is read
	// from the workspace metadata
	Source string

	// SourceScheme is the scheme of a source container read from the
	// workspace metadata
	SourceScheme string

	// Workers bounds every worker pool
	Workers int

	// EntityRetries is the per-record retry budget
	EntityRetries int

	// AttributeRetries is the retry budget of the workspace attribute batch
	AttributeRetries int

	// BackoffBase and BackoffMax configure jittered exponential backoff
	// between retries. A zero BackoffBase disables the delay.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// StateDir is the local directory holding plan artifacts and the ledger
	StateDir string

	// Stores maps URI schemes to object store configuration
	Stores map[string]StoreConfig

	// Terra configures the record service
	Terra TerraConfig

	// Secrets resolves secret references. Nil uses the env and aws providers.
	Secrets func(ctx context.Context, ref string) (string, error)

	// Logger receives structured logs. Nil means silent.
	Logger *slog.Logger

	// Progress receives the in-place progress line. Nil means no progress output.
	Progress io.Writer

	// DisableLedger skips the sqlite run ledger
	DisableLedger bool
}

// Option is a functional option for configuring a Migrator.
type Option func(*ClientConfig)
