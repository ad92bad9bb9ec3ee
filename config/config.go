// Package config loads arkyve.toml and its .env overlays and turns them into
// Migrator options.
//
// The config file is looked up from the working directory upwards, stopping
// at a project root (a directory holding .git or go.mod), and then in
// $XDG_CONFIG_HOME/arkyve. Relative paths in the file are resolved against
// the file's directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pelletier/go-toml/v2"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
)

// FileName is the name of the config file.
const FileName = "arkyve.toml"

// ErrInvalidConfig indicates the config file could not be decoded.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Run is the [run] section.
type Run struct {
	Archive          string    `toml:"archive"`
	Workers          int       `toml:"workers"`
	EntityRetries    *int      `toml:"entity_retries"`
	AttributeRetries *int      `toml:"attribute_retries"`
	BackoffBase      *Duration `toml:"backoff_base"`
	BackoffMax       *Duration `toml:"backoff_max"`
	SourceScheme     string    `toml:"source_scheme"`
	StateDir         string    `toml:"state_dir"`
	Profile          string    `toml:"profile"`
}

// Terra is the [terra] section.
type Terra struct {
	APIRoot   string   `toml:"api_root"`
	Namespace string   `toml:"namespace"`
	TokenRef  string   `toml:"token_ref"`
	Timeout   Duration `toml:"timeout"`
}

// File is the decoded content of arkyve.toml.
type File struct {
	Run    Run                              `toml:"run"`
	Terra  Terra                            `toml:"terra"`
	Stores map[string]archtypes.StoreConfig `toml:"stores"`

	// Path is where the file was read from; empty when no file was found
	Path string `toml:"-"`
}

// Dir returns the directory of the config file, or "" if none was loaded.
func (f *File) Dir() string {
	if f.Path == "" {
		return ""
	}
	return filepath.Dir(f.Path)
}

// Parse decodes data. path is recorded for relative path resolution.
func Parse(data []byte, path string) (*File, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("%w: %s:%d:%d: %s", ErrInvalidConfig, path, row, col, derr.Error())
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	f.Path = path
	return &f, nil
}

// Load reads and decodes the config file at path on fs.
func Load(fs billy.Filesystem, path string) (*File, error) {
	data, err := util.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, fs.Join(fs.Root(), path))
}

// Discover finds arkyve.toml starting at dir. It returns an empty File when
// none exists.
func Discover(dir string) (*File, error) {
	if p := findUp(dir); p != "" {
		return readFile(p)
	}
	if p, err := xdg.SearchConfigFile(filepath.Join("arkyve", FileName)); err == nil {
		return readFile(p)
	}
	return &File{}, nil
}

func readFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, path)
}

func findUp(dir string) string {
	for {
		p := filepath.Join(dir, FileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
		if isProjectRoot(dir) {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func isProjectRoot(dir string) bool {
	for _, marker := range []string{".git", "go.mod"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// Options converts the file into Migrator options. Values left unset keep
// the Migrator defaults; explicit options passed after these override them.
func (f *File) Options() []archtypes.Option {
	var opts []archtypes.Option
	r := f.Run
	if r.Archive != "" {
		opts = append(opts, archiving.WithArchive(r.Archive))
	}
	if r.Workers > 0 {
		opts = append(opts, archiving.WithWorkers(r.Workers))
	}
	if r.EntityRetries != nil || r.AttributeRetries != nil {
		opts = append(opts, archiving.WithRetries(intOr(r.EntityRetries, -1), intOr(r.AttributeRetries, -1)))
	}
	if r.BackoffBase != nil {
		maxDelay := archiving.DefaultBackoffMax
		if r.BackoffMax != nil {
			maxDelay = time.Duration(*r.BackoffMax)
		}
		opts = append(opts, archiving.WithBackoff(time.Duration(*r.BackoffBase), maxDelay))
	}
	if r.SourceScheme != "" {
		opts = append(opts, archiving.WithSourceScheme(r.SourceScheme))
	}
	if r.StateDir != "" {
		opts = append(opts, archiving.WithStateDir(f.resolve(r.StateDir)))
	}

	if f.Terra != (Terra{}) {
		opts = append(opts, archiving.WithTerra(archtypes.TerraConfig{
			APIRoot:  f.Terra.APIRoot,
			TokenRef: f.Terra.TokenRef,
			Timeout:  time.Duration(f.Terra.Timeout),
		}))
	}
	for scheme, sc := range f.Stores {
		opts = append(opts, archiving.WithStore(scheme, sc))
	}
	return opts
}

func (f *File) resolve(p string) string {
	if filepath.IsAbs(p) || f.Dir() == "" {
		return p
	}
	return filepath.Join(f.Dir(), p)
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
