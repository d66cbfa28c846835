package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openmined/treesync/internal/hashcache"
	"github.com/openmined/treesync/internal/utils"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		LocalDir:   t.TempDir(),
		RemotePath: "backups/laptop",
		Backend:    BackendS3,
		S3:         S3Config{Bucket: "bucket"},
		CacheDir:   t.TempDir(),
		ErrorFile:  filepath.Join(t.TempDir(), "errors.log"),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid s3", mutate: func(c *Config) {}},
		{name: "missing local dir", mutate: func(c *Config) { c.LocalDir = "" }, wantErr: true},
		{name: "missing bucket", mutate: func(c *Config) { c.S3.Bucket = "" }, wantErr: true},
		{name: "half credentials", mutate: func(c *Config) { c.S3.AccessKey = "AKIA" }, wantErr: true},
		{name: "http without server", mutate: func(c *Config) { c.Backend = BackendHTTP }, wantErr: true},
		{name: "http", mutate: func(c *Config) {
			c.Backend = BackendHTTP
			c.HTTP.ServerURL = "http://localhost:8090"
		}},
		{name: "dir", mutate: func(c *Config) {
			c.Backend = BackendDir
			c.RemotePath = t.TempDir()
		}},
		{name: "dir without path", mutate: func(c *Config) {
			c.Backend = BackendDir
			c.RemotePath = ""
		}, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "ftp" }, wantErr: true},
		{name: "bad pattern", mutate: func(c *Config) { c.Exclude = []string{"[a-"} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig(t)
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_ResolvesPaths(t *testing.T) {
	c := validConfig(t)
	c.ErrorFile = ""
	c.CacheDir = ""
	c.LocalDir = "."
	require.NoError(t, c.Validate())

	assert.True(t, filepath.IsAbs(c.LocalDir))
	assert.Equal(t, DefaultErrorFile, c.ErrorFile)
	assert.Equal(t, DefaultCacheDir, c.CacheDir)
}

func TestPaths(t *testing.T) {
	c := &Config{LocalDir: "/photos", CacheDir: "/cache", ErrorFile: "/logs/errors.log"}
	lockName := "treesync-" + utils.BytesHash([]byte("/photos"))[:12] + ".lock"
	assert.Equal(t, filepath.Join("/cache", "hashes.db"), c.HashCachePath())
	assert.Equal(t, filepath.Join("/cache", lockName), c.LockPath())

	c.NoCache = true
	assert.Equal(t, hashcache.MemoryPath, c.HashCachePath())
	assert.Equal(t, filepath.Join("/logs", lockName), c.LockPath())
}

func TestLockPath_PerLocalRoot(t *testing.T) {
	a := &Config{LocalDir: "/photos", CacheDir: "/cache"}
	b := &Config{LocalDir: "/documents", CacheDir: "/cache"}
	assert.NotEqual(t, a.LockPath(), b.LockPath())
	assert.Equal(t, filepath.Dir(a.LockPath()), filepath.Dir(b.LockPath()))
	assert.Equal(t, a.LockPath(), (&Config{LocalDir: "/photos", CacheDir: "/cache"}).LockPath())
}

func TestReadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: http
server: http://localhost:8090
exclude:
  - "*.log"
  - cache/
dry_run: true
`), 0o644))

	v := viper.New()
	SetDefaults(v)
	require.NoError(t, ReadConfigFile(v, path))

	c := FromViper(v, "/src", "dst")
	assert.Equal(t, BackendHTTP, c.Backend)
	assert.Equal(t, "http://localhost:8090", c.HTTP.ServerURL)
	assert.Equal(t, []string{"*.log", "cache/"}, c.Exclude)
	assert.True(t, c.DryRun)
	assert.Equal(t, path, c.Path)
	assert.Equal(t, DefaultCacheDir, c.CacheDir)
}

func TestReadConfigFile_Missing(t *testing.T) {
	v := viper.New()
	err := ReadConfigFile(v, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestReadConfigFile_Env(t *testing.T) {
	t.Setenv("TREESYNC_BUCKET", "from-env")
	t.Setenv("TREESYNC_TOKEN", "secret-token")

	v := viper.New()
	SetDefaults(v)
	require.NoError(t, ReadConfigFile(v, ""))

	c := FromViper(v, "/src", "dst")
	assert.Equal(t, "from-env", c.S3.Bucket)
	assert.Equal(t, "secret-token", c.HTTP.Token)
	assert.Equal(t, BackendS3, c.Backend)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TREESYNC_REGION=eu-west-1\n"), 0o644))
	t.Setenv("TREESYNC_REGION", "")
	os.Unsetenv("TREESYNC_REGION")

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "eu-west-1", os.Getenv("TREESYNC_REGION"))
}

func TestString_MasksSecrets(t *testing.T) {
	c := &Config{HTTP: HTTPConfig{Token: "supersecret"}, S3: S3Config{SecretKey: "anothersecret"}}
	s := c.String()
	assert.NotContains(t, s, "supersecret")
	assert.NotContains(t, s, "anothersecret")
	assert.Contains(t, s, "supe*****")
}
