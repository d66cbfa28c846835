// Package config resolves the treesync run configuration from flags, a config
// file, TREESYNC_ environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/openmined/treesync/internal/hashcache"
	"github.com/openmined/treesync/internal/ignore"
	"github.com/openmined/treesync/internal/utils"
	"github.com/spf13/viper"
)

const (
	BackendS3   = "s3"
	BackendHTTP = "http"
	BackendDir  = "dir"

	EnvPrefix      = "TREESYNC"
	configFileName = "config"
)

var (
	home, _           = os.UserHomeDir()
	DefaultBaseDir    = filepath.Join(home, ".treesync")
	DefaultErrorFile  = filepath.Join(DefaultBaseDir, "logs", "treesync-errors.log")
	DefaultCacheDir   = filepath.Join(DefaultBaseDir, "cache")
	DefaultConfigDirs = []string{DefaultBaseDir, filepath.Join(home, ".config", "treesync")}
)

var ErrInvalidConfig = errors.New("invalid config")

// Keys are the viper keys. Flags are bound to the same names.
const (
	KeyExclude             = "exclude"
	KeyDryRun              = "dry_run"
	KeyErrorFile           = "errorfile"
	KeyBackend             = "backend"
	KeyBucket              = "bucket"
	KeyRegion              = "region"
	KeyEndpoint            = "endpoint"
	KeyAccessKey           = "access_key"
	KeySecretKey           = "secret_key"
	KeyServerURL           = "server"
	KeyToken               = "token"
	KeyCacheDir            = "cache_dir"
	KeyNoCache             = "no_cache"
	KeyNoDefaultExcludes   = "no_default_excludes"
	KeyWatch               = "watch"
	KeyAbortOnListingError = "abort_on_listing_error"
	KeyVerbose             = "verbose"
)

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type HTTPConfig struct {
	ServerURL string
	Token     string
}

type Config struct {
	LocalDir   string
	RemotePath string

	Exclude           []string
	NoDefaultExcludes bool
	DryRun            bool
	ErrorFile         string

	Backend string
	S3      S3Config
	HTTP    HTTPConfig

	CacheDir string
	NoCache  bool

	Watch               bool
	AbortOnListingError bool
	Verbose             bool

	// Path is the config file in use, if any
	Path string
}

// SetDefaults registers the defaults of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyErrorFile, DefaultErrorFile)
	v.SetDefault(KeyBackend, BackendS3)
	v.SetDefault(KeyCacheDir, DefaultCacheDir)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process environment.
// Missing files are skipped and existing variables are never overridden.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if !utils.FileExists(p) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %q: %w", p, err)
		}
	}
	return nil
}

// ReadConfigFile points v at configPath, or at the default locations when it is empty,
// and reads it. A missing default config file is not an error.
func ReadConfigFile(v *viper.Viper, configPath string) error {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		for _, dir := range DefaultConfigDirs {
			v.AddConfigPath(dir)
		}
		v.SetConfigName(configFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || (!enoent && !errors.As(err, &notFound)) {
			return fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// FromViper builds a Config from v and the two positional arguments.
func FromViper(v *viper.Viper, localDir, remotePath string) *Config {
	return &Config{
		LocalDir:          localDir,
		RemotePath:        remotePath,
		Exclude:           v.GetStringSlice(KeyExclude),
		NoDefaultExcludes: v.GetBool(KeyNoDefaultExcludes),
		DryRun:            v.GetBool(KeyDryRun),
		ErrorFile:         v.GetString(KeyErrorFile),
		Backend:           strings.ToLower(v.GetString(KeyBackend)),
		S3: S3Config{
			Bucket:    v.GetString(KeyBucket),
			Region:    v.GetString(KeyRegion),
			Endpoint:  v.GetString(KeyEndpoint),
			AccessKey: v.GetString(KeyAccessKey),
			SecretKey: v.GetString(KeySecretKey),
		},
		HTTP: HTTPConfig{
			ServerURL: v.GetString(KeyServerURL),
			Token:     v.GetString(KeyToken),
		},
		CacheDir:            v.GetString(KeyCacheDir),
		NoCache:             v.GetBool(KeyNoCache),
		Watch:               v.GetBool(KeyWatch),
		AbortOnListingError: v.GetBool(KeyAbortOnListingError),
		Verbose:             v.GetBool(KeyVerbose),
		Path:                v.ConfigFileUsed(),
	}
}

// Validate resolves the paths in c and checks the backend settings.
func (c *Config) Validate() error {
	var err error

	if c.LocalDir, err = utils.ResolvePath(c.LocalDir); err != nil {
		return fmt.Errorf("%w: local dir: %w", ErrInvalidConfig, err)
	}

	if c.ErrorFile == "" {
		c.ErrorFile = DefaultErrorFile
	}
	if c.ErrorFile, err = utils.ResolvePath(c.ErrorFile); err != nil {
		return fmt.Errorf("%w: errorfile: %w", ErrInvalidConfig, err)
	}

	if !c.NoCache {
		if c.CacheDir == "" {
			c.CacheDir = DefaultCacheDir
		}
		if c.CacheDir, err = utils.ResolvePath(c.CacheDir); err != nil {
			return fmt.Errorf("%w: cache dir: %w", ErrInvalidConfig, err)
		}
	}

	if _, err := ignore.New(c.Exclude...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.Backend {
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("%w: --bucket is required for the s3 backend", ErrInvalidConfig)
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			return fmt.Errorf("%w: s3 access key and secret key must be set together", ErrInvalidConfig)
		}
	case BackendHTTP:
		if c.HTTP.ServerURL == "" {
			return fmt.Errorf("%w: --server is required for the http backend", ErrInvalidConfig)
		}
	case BackendDir:
		if c.RemotePath == "" {
			return fmt.Errorf("%w: remote path is required for the dir backend", ErrInvalidConfig)
		}
		if c.RemotePath, err = utils.ResolvePath(c.RemotePath); err != nil {
			return fmt.Errorf("%w: remote dir: %w", ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q (want %s, %s or %s)", ErrInvalidConfig, c.Backend, BackendS3, BackendHTTP, BackendDir)
	}

	return nil
}

// HashCachePath is the sqlite file of the hash cache, or the in-memory path with --no-cache.
func (c *Config) HashCachePath() string {
	if c.NoCache {
		return hashcache.MemoryPath
	}
	return filepath.Join(c.CacheDir, "hashes.db")
}

// LockPath guards against two runs on the same local root at once. Runs on
// different roots sharing a cache dir get different lock files.
func (c *Config) LockPath() string {
	base := c.CacheDir
	if c.NoCache || base == "" {
		base = filepath.Dir(c.ErrorFile)
	}
	return filepath.Join(base, "treesync-"+utils.BytesHash([]byte(c.LocalDir))[:12]+".lock")
}

// String masks the credentials.
func (c *Config) String() string {
	return fmt.Sprintf("Config{LocalDir: %s, RemotePath: %s, Backend: %s, Bucket: %s, Server: %s, Token: %s, SecretKey: %s, DryRun: %t, CacheDir: %s, ErrorFile: %s}",
		c.LocalDir, c.RemotePath, c.Backend, c.S3.Bucket, c.HTTP.ServerURL,
		utils.MaskSecret(c.HTTP.Token), utils.MaskSecret(c.S3.SecretKey),
		c.DryRun, c.CacheDir, c.ErrorFile)
}
