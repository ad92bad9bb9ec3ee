// Package artifacts persists plan and problem files for one workspace under
// <state>/migration/<workspace>/.
//
// Files are written atomically (temporary file plus rename) and checked
// against a JSON schema when read back, so a resumed run never proceeds on a
// truncated or hand-edited artifact it does not understand. A manifest
// records the format version and a digest of every file.
package artifacts

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/opencontainers/go-digest"
	"github.com/xeipuuv/gojsonschema"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
)

// FormatVersion is written into every manifest.
const FormatVersion = "1.0.0"

// compatible is the range of manifest versions this package reads.
const compatible = ">= 1.0.0, < 2.0.0"

// Artifact file names.
const (
	FileMap           = "file_map.json"
	EntityPlan        = "entity_plan.json"
	AttrPlan          = "attr_plan.json"
	MigrationProblems = "migration_problems.json"
	MissingMap        = "missing_map.json"
	UpdateProblems    = "update_problems.json"
	FinalizeReport    = "finalize_report.json"
	MiscFileMap       = "misc_file_map.json"
	MiscFileFiltered  = "misc_file_filtered.json"
	MiscFileProblems  = "misc_file_problems.json"
	Manifest          = "artifacts.json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	FileMap:           "reference_map.json",
	MissingMap:        "reference_map.json",
	MiscFileMap:       "reference_map.json",
	EntityPlan:        "entity_plan.json",
	AttrPlan:          "attr_plan.json",
	MigrationProblems: "migration_problems.json",
	UpdateProblems:    "update_problems.json",
	FinalizeReport:    "finalize_report.json",
	MiscFileFiltered:  "filtered.json",
	MiscFileProblems:  "migration_problems.json",
	Manifest:          "manifest.json",
}

// manifest is the content of artifacts.json.
type manifest struct {
	FormatVersion string            `json:"format_version"`
	Workspace     string            `json:"workspace"`
	Files         map[string]string `json:"files"`
}

// Store reads and writes the artifacts of one workspace.
type Store struct {
	fs        billy.Filesystem
	dir       string
	workspace string
	schemas   map[string]*gojsonschema.Schema
}

// Open returns a Store rooted at stateDir on the local filesystem.
func Open(stateDir, workspace string) (*Store, error) {
	return New(osfs.New(stateDir), workspace)
}

// New returns a Store on fs. The artifact directory is created on first write.
func New(fs billy.Filesystem, workspace string) (*Store, error) {
	s := &Store{
		fs:        fs,
		dir:       path.Join("migration", workspace),
		workspace: workspace,
		schemas:   map[string]*gojsonschema.Schema{},
	}
	for name, file := range schemaFiles {
		raw, err := schemaFS.ReadFile("schemas/" + file)
		if err != nil {
			return nil, fmt.Errorf("artifacts: read schema %s: %w", file, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("artifacts: compile schema %s: %w", file, err)
		}
		s.schemas[name] = schema
	}
	return s, nil
}

// Dir returns the artifact directory as seen by a user.
func (s *Store) Dir() string {
	return filepath.Join(s.fs.Root(), filepath.FromSlash(s.dir))
}

// Path returns the full path of an artifact, for diagnostics.
func (s *Store) Path(name string) string {
	return filepath.Join(s.Dir(), name)
}

// Exists reports whether an artifact is present.
func (s *Store) Exists(name string) bool {
	_, err := s.fs.Stat(path.Join(s.dir, name))
	return err == nil
}

// Write serializes v as name and records it in the manifest.
func (s *Store) Write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: encode %s: %w", name, err)
	}
	data = append(data, '\n')
	if err := s.writeFile(name, data); err != nil {
		return err
	}
	if name == Manifest {
		return nil
	}
	return s.touchManifest(name, data)
}

// Read decodes name into v after validating it against its schema.
// A missing artifact yields an error satisfying errors.Is(err, os.ErrNotExist).
func (s *Store) Read(name string, v any) error {
	data, err := util.ReadFile(s.fs, path.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("artifacts: read %s: %w", name, err)
	}
	if err := s.validate(name, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", arkerrors.ErrArtifactSchema, name, err)
	}
	return nil
}

// Remove deletes an artifact. Removing a missing artifact is not an error.
func (s *Store) Remove(name string) error {
	err := s.fs.Remove(path.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifacts: remove %s: %w", name, err)
	}
	if name == Manifest {
		return nil
	}
	return s.touchManifest(name, nil)
}

// CheckCompatible verifies that existing artifacts were written by a
// compatible format version. A directory without a manifest is compatible.
func (s *Store) CheckCompatible() error {
	if !s.Exists(Manifest) {
		return nil
	}
	var m manifest
	if err := s.Read(Manifest, &m); err != nil {
		return err
	}
	v, err := semver.NewVersion(m.FormatVersion)
	if err != nil {
		return fmt.Errorf("%w: format version %q: %v", arkerrors.ErrIncompatibleArtifact, m.FormatVersion, err)
	}
	c, err := semver.NewConstraint(compatible)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: format version %s is outside %s", arkerrors.ErrIncompatibleArtifact, v, compatible)
	}
	if m.Workspace != "" && m.Workspace != s.workspace {
		return fmt.Errorf("%w: artifacts belong to workspace %q", arkerrors.ErrIncompatibleArtifact, m.Workspace)
	}
	return nil
}

// Verify checks every file listed in the manifest against its digest and
// returns the names that changed since they were written.
func (s *Store) Verify() ([]string, error) {
	m, err := s.loadManifest()
	if err != nil {
		return nil, err
	}
	var changed []string
	for name, want := range m.Files {
		data, err := util.ReadFile(s.fs, path.Join(s.dir, name))
		if err != nil || digest.FromBytes(data).String() != want {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func (s *Store) validate(name string, data []byte) error {
	schema, ok := s.schemas[name]
	if !ok {
		return nil
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", arkerrors.ErrArtifactSchema, name, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s: %s", arkerrors.ErrArtifactSchema, name, strings.Join(msgs, "; "))
}

func (s *Store) writeFile(name string, data []byte) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("artifacts: mkdir %s: %w", s.dir, err)
	}
	final := path.Join(s.dir, name)
	tmp := final + ".tmp"
	if err := util.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("artifacts: write %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("artifacts: rename %s: %w", name, err)
	}
	return nil
}

func (s *Store) loadManifest() (*manifest, error) {
	m := &manifest{FormatVersion: FormatVersion, Workspace: s.workspace, Files: map[string]string{}}
	if !s.Exists(Manifest) {
		return m, nil
	}
	if err := s.Read(Manifest, m); err != nil {
		return nil, err
	}
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	return m, nil
}

// touchManifest records the digest of name, or drops it when data is nil.
func (s *Store) touchManifest(name string, data []byte) error {
	m, err := s.loadManifest()
	if err != nil {
		return err
	}
	if data == nil {
		delete(m.Files, name)
	} else {
		m.Files[name] = digest.FromBytes(data).String()
	}
	m.FormatVersion = FormatVersion
	return s.Write(Manifest, m)
}

// ReadRaw returns an artifact's bytes after validating it.
func (s *Store) ReadRaw(name string) ([]byte, error) {
	data, err := util.ReadFile(s.fs, path.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("artifacts: read %s: %w", name, err)
	}
	if err := s.validate(name, data); err != nil {
		return nil, err
	}
	return data, nil
}
