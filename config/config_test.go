package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
)

const sample = `
[run]
archive = "gs://my-archive"
workers = 16
entity_retries = 5
backoff_base = "250ms"
backoff_max = "5s"
state_dir = "state"

[terra]
namespace = "my-billing"
token_ref = "aws:prod/terra#token"
timeout = "90s"

[stores.gs]
backend = "minio"
endpoint = "storage.googleapis.com"
secure = true
access_key_ref = "env:GCS_HMAC_ACCESS_KEY"
secret_key_ref = "env:GCS_HMAC_SECRET_KEY"

[stores.s3]
backend = "s3"
region = "us-east-2"
`

func apply(opts []archtypes.Option) archtypes.ClientConfig {
	var cfg archtypes.ClientConfig
	cfg.EntityRetries = 3
	cfg.AttributeRetries = 10
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample), "/etc/arkyve/arkyve.toml")
	require.NoError(t, err)

	assert.Equal(t, "gs://my-archive", f.Run.Archive)
	assert.Equal(t, Duration(250*time.Millisecond), *f.Run.BackoffBase)
	assert.Nil(t, f.Run.AttributeRetries)
	assert.Equal(t, "my-billing", f.Terra.Namespace)
	assert.Equal(t, archtypes.StoreConfig{
		Backend:      "minio",
		Endpoint:     "storage.googleapis.com",
		Secure:       true,
		AccessKeyRef: "env:GCS_HMAC_ACCESS_KEY",
		SecretKeyRef: "env:GCS_HMAC_SECRET_KEY",
	}, f.Stores["gs"])

	cfg := apply(f.Options())
	assert.Equal(t, "gs://my-archive", cfg.Archive)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, 5, cfg.EntityRetries)
	assert.Equal(t, 10, cfg.AttributeRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.BackoffBase)
	assert.Equal(t, 5*time.Second, cfg.BackoffMax)
	assert.Equal(t, "/etc/arkyve/state", cfg.StateDir)
	assert.Equal(t, archtypes.TerraConfig{TokenRef: "aws:prod/terra#token", Timeout: 90 * time.Second}, cfg.Terra)
	assert.Len(t, cfg.Stores, 2)
	assert.Equal(t, "us-east-2", cfg.Stores["s3"].Region)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "syntax", data: "[run\nworkers = 1"},
		{name: "bad duration", data: "[run]\nbackoff_base = \"soon\""},
		{name: "wrong type", data: "[run]\nworkers = \"many\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "arkyve.toml")
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestOptions_Empty(t *testing.T) {
	f := &File{}
	assert.Empty(t, f.Options())
	assert.Equal(t, "", f.Dir())
}

func TestLoad(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "conf/arkyve.toml", []byte("[run]\nworkers = 3\n"), 0o644))

	f, err := Load(fs, "conf/arkyve.toml")
	require.NoError(t, err)
	assert.Equal(t, 3, f.Run.Workers)
	assert.Equal(t, "conf", filepath.Base(f.Dir()))

	_, err = Load(fs, "missing.toml")
	assert.Error(t, err)
}

func TestDiscover(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	xdg.Reload()
	t.Cleanup(xdg.Reload)

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	f, err := Discover(nested)
	require.NoError(t, err)
	assert.Empty(t, f.Path)

	path := filepath.Join(root, FileName)
	require.NoError(t, os.WriteFile(path, []byte("[run]\nworkers = 7\n"), 0o644))
	f, err = Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, path, f.Path)
	assert.Equal(t, 7, f.Run.Workers)
}

func TestDiscover_StopsAtProjectRoot(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	xdg.Reload()
	t.Cleanup(xdg.Reload)

	outer := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outer, FileName), []byte("[run]\nworkers = 1\n"), 0o644))
	project := filepath.Join(outer, "project")
	require.NoError(t, os.MkdirAll(project, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "go.mod"), []byte("module x\n"), 0o644))

	f, err := Discover(project)
	require.NoError(t, err)
	assert.Empty(t, f.Path)
}

func TestDiscover_XDGFallback(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	xdg.Reload()
	t.Cleanup(xdg.Reload)

	require.NoError(t, os.MkdirAll(filepath.Join(home, "arkyve"), 0o755))
	path := filepath.Join(home, "arkyve", FileName)
	require.NoError(t, os.WriteFile(path, []byte("[run]\nworkers = 9\n"), 0o644))

	project := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(project, ".git"), 0o755))

	f, err := Discover(project)
	require.NoError(t, err)
	assert.Equal(t, 9, f.Run.Workers)
}
