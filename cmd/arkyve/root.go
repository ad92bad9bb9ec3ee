package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/config"
)

// app holds the state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	profile    string
	logFormat  string
	stateDir   string
	verbose    bool

	file   *config.File
	logger *slog.Logger

	// report is the last run's report, for the failure diagnostic
	report *archtypes.Report
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var usage usageError
	if errors.As(err, &usage) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if a.logger != nil {
		a.logger.Error("run failed", "error", err)
	}
	fmt.Fprintln(stderr, archiving.Diagnostic(err, a.report))
	return 1
}

// usageError marks bad arguments.
type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "arkyve",
		Short: "Archive the files of a workspace",
		Long: `arkyve moves every object a workspace references into an archive container,
rewrites the workspace records to point at the archived copies, snapshots the
workspace metadata and only then deletes the originals.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup() },
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "path to arkyve.toml (default: discovered from the working directory)")
	f.StringVar(&a.profile, "profile", "", "load .env.<profile> before .env (default: $"+config.ProfileEnv+")")
	f.StringVar(&a.stateDir, "state-dir", "", "directory for plan artifacts and the run ledger")
	f.StringVar(&a.logFormat, "log-format", "text", "log format: text or json")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.migrateCmd(),
		a.reattemptCmd(),
		a.planCmd(),
		a.sweepCmd(),
		a.statusCmd(),
	)
	return root
}

// setup loads the config file and .env overlays and builds the logger.
func (a *app) setup() error {
	logger, err := newLogger(a.stderr, a.logFormat, a.verbose)
	if err != nil {
		return usageError{err}
	}
	a.logger = logger

	if a.configPath != "" {
		abs, err := filepath.Abs(a.configPath)
		if err != nil {
			return err
		}
		if a.file, err = config.Load(osfs.New(filepath.Dir(abs)), filepath.Base(abs)); err != nil {
			return err
		}
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		if a.file, err = config.Discover(cwd); err != nil {
			return err
		}
	}

	envDir := a.file.Dir()
	if envDir == "" {
		if envDir, err = os.Getwd(); err != nil {
			return err
		}
	}
	profile := a.profile
	if profile == "" {
		profile = a.file.Run.Profile
	}
	files, err := config.LoadEnv(envDir, profile)
	if err != nil {
		return err
	}
	a.logger.Debug("configuration loaded", "config", a.file.Path, "env_files", files)
	return nil
}

func newLogger(w io.Writer, format string, verbose bool) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// target is a workspace named on the command line.
type target struct {
	namespace string
	workspace string
}

// parseTarget accepts namespace/workspace, or a bare workspace when the
// config file names a default namespace.
func parseTarget(arg, defaultNamespace string) (target, error) {
	ns, ws, ok := strings.Cut(arg, "/")
	if !ok {
		ns, ws = defaultNamespace, arg
	}
	if ns == "" || ws == "" || strings.Contains(ws, "/") {
		return target{}, usageError{fmt.Errorf("%w: want <namespace>/<workspace>, got %q", arkerrors.ErrInvalidInput, arg)}
	}
	return target{namespace: ns, workspace: ws}, nil
}

// runFlags are shared by the commands that start a run.
type runFlags struct {
	workers int
	source  string
}

func (rf *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&rf.workers, "workers", "n", 0, "worker pool size (default from config, else 8)")
	cmd.Flags().StringVar(&rf.source, "source", "", "source container URI (default: the workspace bucket)")
}

// migrator builds a Migrator for args: <namespace/workspace> [archive].
func (a *app) migrator(args []string, rf runFlags) (*archiving.Migrator, error) {
	t, err := parseTarget(args[0], a.file.Terra.Namespace)
	if err != nil {
		return nil, err
	}

	opts := a.file.Options()
	opts = append(opts,
		archiving.WithWorkspace(t.namespace, t.workspace),
		archiving.WithLogger(a.logger.With("workspace", t.workspace)),
		archiving.WithProgress(a.stdout),
	)
	if len(args) > 1 {
		opts = append(opts, archiving.WithArchive(args[1]))
	}
	if rf.workers > 0 {
		opts = append(opts, archiving.WithWorkers(rf.workers))
	}
	if rf.source != "" {
		opts = append(opts, archiving.WithSource(rf.source))
	}
	if a.stateDir != "" {
		opts = append(opts, archiving.WithStateDir(a.stateDir))
	}
	return archiving.New(opts...)
}

// resolvedStateDir is the state directory the status command reads.
func (a *app) resolvedStateDir() string {
	if a.stateDir != "" {
		return a.stateDir
	}
	var cfg archtypes.ClientConfig
	cfg.StateDir = archiving.DefaultStateDir()
	for _, opt := range a.file.Options() {
		opt(&cfg)
	}
	return cfg.StateDir
}
