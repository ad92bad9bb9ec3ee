package archiving

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/artifacts"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/ledger"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore/terra"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/orchestrator"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/pool"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/progress"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/retry"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/secrets"
	awssecrets "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/secrets/providers/aws"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/secrets/providers/env"
)

// Defaults applied by New.
const (
	DefaultEntityRetries    = 3
	DefaultAttributeRetries = 10
	DefaultBackoffBase      = 100 * time.Millisecond
	DefaultBackoffMax       = 30 * time.Second

	// DefaultTokenRef is used when no record service token reference is configured
	DefaultTokenRef = "env:ARKYVE_TERRA_TOKEN"

	ledgerFile = "ledger.db"
)

// DefaultStateDir returns the default location for artifacts and the ledger.
func DefaultStateDir() string {
	return filepath.Join(xdg.StateHome, "arkyve")
}

// Migrator migrates one workspace. Methods must not be called concurrently.
type Migrator struct {
	orch   *orchestrator.Orchestrator
	arts   *artifacts.Store
	ledger *ledger.Ledger
}

// New creates a Migrator with the provided options.
// It resolves credentials, builds a store for every URI scheme the run
// touches and opens the local artifact directory and run ledger. It makes no
// calls to the record service.
//
// Example:
//
//	m, err := archiving.New(
//	    archiving.WithWorkspace("my-billing", "my-workspace"),
//	    archiving.WithArchive("gs://my-archive"),
//	)
func New(opts ...archtypes.Option) (*Migrator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	ctx := context.Background()
	if cfg.Secrets == nil {
		resolve, err := defaultSecrets(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cfg.Secrets = resolve
	}

	stores, err := buildStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tokenRef := cfg.Terra.TokenRef
	if tokenRef == "" {
		tokenRef = DefaultTokenRef
	}
	token, err := cfg.Secrets(ctx, tokenRef)
	if err != nil {
		return nil, arkerrors.NewError("client initialization", err).WithMessage("resolve record service token")
	}
	terraOpts := []terra.Option{terra.WithLogger(cfg.Logger)}
	if cfg.Terra.Timeout > 0 {
		terraOpts = append(terraOpts, terra.WithTimeout(cfg.Terra.Timeout))
	}
	records := terra.Factory(cfg.Terra.APIRoot, cfg.Namespace, cfg.Workspace, token, terraOpts...)

	return newMigrator(cfg, records, stores.Factory())
}

// newMigrator assembles a Migrator from already-built record and store
// factories.
func newMigrator(cfg archtypes.ClientConfig, records metastore.Factory, stores objstore.Factory) (*Migrator, error) {
	archive, err := objstore.ParseURI(cfg.Archive)
	if err != nil {
		return nil, arkerrors.NewError("client initialization", err)
	}
	var source objstore.URI
	if cfg.Source != "" {
		if source, err = objstore.ParseURI(cfg.Source); err != nil {
			return nil, arkerrors.NewError("client initialization", err)
		}
	}

	arts, err := artifacts.Open(cfg.StateDir, cfg.Workspace)
	if err != nil {
		return nil, arkerrors.NewError("client initialization", err)
	}

	m := &Migrator{arts: arts}
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(cfg.Logger),
		orchestrator.WithProgress(progress.New(cfg.Progress)),
	}
	if !cfg.DisableLedger {
		l, err := ledger.Open(filepath.Join(cfg.StateDir, ledgerFile))
		if err != nil {
			return nil, arkerrors.NewError("client initialization", err)
		}
		m.ledger = l
		orchOpts = append(orchOpts, orchestrator.WithLedger(l))
	}

	var retryOpts []retry.Option
	if cfg.BackoffBase > 0 {
		retryOpts = append(retryOpts, retry.WithBackoff(cfg.BackoffBase, cfg.BackoffMax))
	} else {
		retryOpts = append(retryOpts, retry.NoBackoff())
	}

	m.orch = orchestrator.New(orchestrator.Config{
		Workspace:        cfg.Workspace,
		Archive:          archive,
		Source:           source,
		SourceScheme:     cfg.SourceScheme,
		Workers:          cfg.Workers,
		EntityRetries:    cfg.EntityRetries,
		AttributeRetries: cfg.AttributeRetries,
		RetryOptions:     retryOpts,
	}, records, stores, arts, orchOpts...)
	return m, nil
}

func defaultConfig() archtypes.ClientConfig {
	return archtypes.ClientConfig{
		Workers:          pool.DefaultWorkers,
		EntityRetries:    DefaultEntityRetries,
		AttributeRetries: DefaultAttributeRetries,
		BackoffBase:      DefaultBackoffBase,
		BackoffMax:       DefaultBackoffMax,
		SourceScheme:     orchestrator.DefaultSourceScheme,
		StateDir:         DefaultStateDir(),
	}
}

func validateConfig(cfg *archtypes.ClientConfig) error {
	switch {
	case cfg.Namespace == "" || cfg.Workspace == "":
		return arkerrors.NewError("client initialization",
			fmt.Errorf("%w: namespace and workspace are required", arkerrors.ErrInvalidInput))
	case strings.Contains(cfg.Workspace, "/"):
		return arkerrors.NewError("client initialization",
			fmt.Errorf("%w: workspace name %q contains '/'", arkerrors.ErrInvalidInput, cfg.Workspace))
	case cfg.Archive == "":
		return arkerrors.NewError("client initialization",
			fmt.Errorf("%w: archive container is required", arkerrors.ErrInvalidInput))
	case cfg.StateDir == "":
		return arkerrors.NewError("client initialization",
			fmt.Errorf("%w: state directory is required", arkerrors.ErrInvalidInput))
	}
	if cfg.Workers < 1 {
		cfg.Workers = pool.DefaultWorkers
	}
	if cfg.SourceScheme == "" {
		cfg.SourceScheme = orchestrator.DefaultSourceScheme
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return nil
}

// defaultSecrets resolves env references, and aws references when any
// configured reference names that provider.
func defaultSecrets(ctx context.Context, cfg archtypes.ClientConfig) (func(context.Context, string) (string, error), error) {
	m := secrets.NewManager(cfg.Logger, env.New())
	if usesProvider(cfg, "aws") {
		p, err := awssecrets.New(ctx, awssecrets.WithLogger(cfg.Logger))
		if err != nil {
			return nil, arkerrors.NewError("client initialization", err)
		}
		if err := m.Register(p); err != nil {
			return nil, arkerrors.NewError("client initialization", err)
		}
	}
	return m.Resolve, nil
}

func usesProvider(cfg archtypes.ClientConfig, name string) bool {
	refs := []string{cfg.Terra.TokenRef}
	for _, sc := range cfg.Stores {
		refs = append(refs, sc.AccessKeyRef, sc.SecretKeyRef)
	}
	for _, ref := range refs {
		if strings.HasPrefix(ref, name+":") {
			return true
		}
	}
	return false
}

// Plan scans the workspace and persists the plan without touching storage
// or records.
func (m *Migrator) Plan(ctx context.Context) (*archtypes.PlanSummary, error) {
	return m.orch.Plan(ctx)
}

// Migrate runs the full pipeline. A gate failure returns an error wrapping
// errors.ErrTransferGate or errors.ErrUpdateGate together with the report.
func (m *Migrator) Migrate(ctx context.Context) (*archtypes.Report, error) {
	return m.orch.Migrate(ctx)
}

// Reattempt transfers only the pairs the last failed transfer gate recorded,
// then continues with the update, snapshot and finalize phases.
func (m *Migrator) Reattempt(ctx context.Context) (*archtypes.Report, error) {
	return m.orch.Reattempt(ctx)
}

// Sweep moves every object under prefix of the source container into the
// archive's misc_files area, skipping keys matching any exclude pattern.
func (m *Migrator) Sweep(ctx context.Context, prefix string, excludes []string) (*archtypes.Report, error) {
	return m.orch.Sweep(ctx, prefix, excludes)
}

// ArtifactDir returns the directory holding this workspace's artifacts.
func (m *Migrator) ArtifactDir() string {
	return m.arts.Dir()
}

// Close releases the run ledger.
func (m *Migrator) Close() error {
	if m.ledger == nil {
		return nil
	}
	return m.ledger.Close()
}
