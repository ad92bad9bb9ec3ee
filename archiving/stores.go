package archiving

import (
	"context"
	"fmt"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore/memstore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore/miniostore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore/s3store"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/retry"
)

// Store backends.
const (
	BackendS3     = "s3"
	BackendMinio  = "minio"
	BackendMemory = "memory"
)

// GCSEndpoint is the S3-compatible XML API of Google Cloud Storage.
const GCSEndpoint = "storage.googleapis.com"

// DefaultStores returns the store configuration used for schemes that have
// none: gs goes through the GCS interoperability endpoint with HMAC keys
// from the environment, s3 uses the AWS default credential chain.
func DefaultStores() map[string]archtypes.StoreConfig {
	return map[string]archtypes.StoreConfig{
		"gs": {
			Backend:      BackendMinio,
			Endpoint:     GCSEndpoint,
			Secure:       true,
			AccessKeyRef: "env:GCS_HMAC_ACCESS_KEY",
			SecretKeyRef: "env:GCS_HMAC_SECRET_KEY",
		},
		"s3":     {Backend: BackendS3},
		"memory": {Backend: BackendMemory},
	}
}

// storeBuilder creates one store instance for a scheme.
type storeBuilder func(ctx context.Context) (objstore.Store, error)

// routedStores is the set of stores a run needs, one builder per scheme.
type routedStores struct {
	builders map[string]storeBuilder
}

// Factory builds a fresh router for each worker. Every s3 and minio scheme
// gets its own client per call; memory stores are shared since they hold
// the objects.
func (r routedStores) Factory() objstore.Factory {
	return func(ctx context.Context) (objstore.Store, error) {
		stores := make(map[string]objstore.Store, len(r.builders))
		for scheme, build := range r.builders {
			s, err := build(ctx)
			if err != nil {
				return nil, err
			}
			stores[scheme] = s
		}
		return objstore.NewRouter(stores), nil
	}
}

// buildStores prepares a store builder for the archive scheme and the
// source scheme. Credentials are resolved once here.
func buildStores(ctx context.Context, cfg archtypes.ClientConfig) (routedStores, error) {
	schemes := []string{cfg.SourceScheme}
	for _, raw := range []string{cfg.Archive, cfg.Source} {
		if raw == "" {
			continue
		}
		u, err := objstore.ParseURI(raw)
		if err != nil {
			return routedStores{}, arkerrors.NewError("client initialization", err)
		}
		schemes = append(schemes, u.Scheme)
	}

	defaults := DefaultStores()
	builders := make(map[string]storeBuilder, len(schemes))
	for _, scheme := range schemes {
		if _, ok := builders[scheme]; ok {
			continue
		}
		sc, ok := cfg.Stores[scheme]
		if !ok {
			if sc, ok = defaults[scheme]; !ok {
				return routedStores{}, arkerrors.NewError("client initialization",
					fmt.Errorf("%w %q: add a [stores.%s] section", arkerrors.ErrUnknownScheme, scheme, scheme))
			}
		}
		b, err := storeBuilderFor(ctx, cfg, scheme, sc)
		if err != nil {
			return routedStores{}, err
		}
		cfg.Logger.Debug("store configured", "scheme", scheme, "backend", sc.Backend, "endpoint", sc.Endpoint)
		builders[scheme] = b
	}
	return routedStores{builders: builders}, nil
}

func storeBuilderFor(ctx context.Context, cfg archtypes.ClientConfig, scheme string, sc archtypes.StoreConfig) (storeBuilder, error) {
	if sc.Backend == BackendMemory {
		shared := memstore.New()
		return func(context.Context) (objstore.Store, error) { return shared, nil }, nil
	}

	var access, secret string
	if sc.AccessKeyRef != "" || sc.SecretKeyRef != "" {
		var err error
		if access, err = cfg.Secrets(ctx, sc.AccessKeyRef); err != nil {
			return nil, arkerrors.NewError("client initialization", err).WithMessage(scheme + " access key")
		}
		if secret, err = cfg.Secrets(ctx, sc.SecretKeyRef); err != nil {
			return nil, arkerrors.NewError("client initialization", err).WithMessage(scheme + " secret key")
		}
	}

	switch sc.Backend {
	case BackendS3, "":
		cc := s3store.ClientConfig{
			Region:     sc.Region,
			Endpoint:   sc.Endpoint,
			PathStyle:  sc.PathStyle,
			AccessKey:  access,
			SecretKey:  secret,
			MaxRetries: retry.DefaultSDKAttempts,
		}
		return func(ctx context.Context) (objstore.Store, error) {
			client, err := s3store.NewClient(ctx, cc)
			if err != nil {
				return nil, err
			}
			return s3store.New(client), nil
		}, nil
	case BackendMinio:
		mc := miniostore.Config{
			Endpoint:  sc.Endpoint,
			Region:    sc.Region,
			AccessKey: access,
			SecretKey: secret,
			Secure:    sc.Secure,
			PathStyle: sc.PathStyle,
		}
		// fail at startup on a bad endpoint
		if _, err := miniostore.NewClient(mc); err != nil {
			return nil, err
		}
		return func(context.Context) (objstore.Store, error) {
			client, err := miniostore.NewClient(mc)
			if err != nil {
				return nil, err
			}
			return miniostore.New(client), nil
		}, nil
	}
	return nil, arkerrors.NewError("client initialization",
		fmt.Errorf("%w: unknown backend %q for scheme %s", arkerrors.ErrInvalidInput, sc.Backend, scheme))
}
