package archiving

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
)

// WithWorkspace sets the billing namespace and workspace name.
func WithWorkspace(namespace, name string) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		c.Namespace = namespace
		c.Workspace = name
	}
}

// WithArchive sets the archive container URI, e.g. gs://my-archive.
func WithArchive(uri string) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		c.Archive = uri
	}
}

// WithSource overrides the source container. By default it is read from the
// workspace metadata.
func WithSource(uri string) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		c.Source = uri
	}
}

// WithSourceScheme sets the scheme of a source container read from the
// workspace metadata. Default is gs.
func WithSourceScheme(scheme string) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		if scheme != "" {
			c.SourceScheme = scheme
		}
	}
}

// WithWorkers sets the size of every worker pool.
// Values below one are ignored.
func WithWorkers(n int) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		if n > 0 {
			c.Workers = n
		}
	}
}

// WithRetries sets the per-record and workspace attribute retry budgets.
func WithRetries(entity, attributes int) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		if entity >= 0 {
			c.EntityRetries = entity
		}
		if attributes >= 0 {
			c.AttributeRetries = attributes
		}
	}
}

// WithBackoff sets the retry backoff. A zero base retries immediately.
func WithBackoff(base, maxDelay time.Duration) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		c.BackoffBase = base
		c.BackoffMax = maxDelay
	}
}

// WithStateDir sets the directory holding artifacts and the run ledger.
func WithStateDir(dir string) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		c.StateDir = dir
	}
}

// WithStore configures the object store for one URI scheme.
func WithStore(scheme string, sc archtypes.StoreConfig) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		if c.Stores == nil {
			c.Stores = make(map[string]archtypes.StoreConfig)
		}
		c.Stores[scheme] = sc
	}
}

// WithTerra configures the record service.
func WithTerra(tc archtypes.TerraConfig) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		c.Terra = tc
	}
}

// WithSecrets replaces the secret resolver.
func WithSecrets(resolve func(ctx context.Context, ref string) (string, error)) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		c.Secrets = resolve
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		c.Logger = logger
	}
}

// WithProgress writes an in-place progress line to w when it is a terminal.
func WithProgress(w io.Writer) archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		c.Progress = w
	}
}

// WithoutLedger disables the sqlite run ledger.
func WithoutLedger() archtypes.Option {
	return func(c *archtypes.ClientConfig) {
		c.DisableLedger = true
	}
}
