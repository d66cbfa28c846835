package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openmined/treesync/internal/config"
	"github.com/openmined/treesync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flag name -> viper key
var flagKeys = map[string]string{
	"exclude":                config.KeyExclude,
	"no-default-excludes":    config.KeyNoDefaultExcludes,
	"dry-run":                config.KeyDryRun,
	"errorfile":              config.KeyErrorFile,
	"backend":                config.KeyBackend,
	"bucket":                 config.KeyBucket,
	"region":                 config.KeyRegion,
	"endpoint":               config.KeyEndpoint,
	"server":                 config.KeyServerURL,
	"token":                  config.KeyToken,
	"cache-dir":              config.KeyCacheDir,
	"no-cache":               config.KeyNoCache,
	"watch":                  config.KeyWatch,
	"abort-on-listing-error": config.KeyAbortOnListingError,
	"verbose":                config.KeyVerbose,
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "treesync [flags] <local-dir> <remote-path>",
		Short: "Mirror a local directory tree onto remote storage",
		Long: `treesync walks a local directory and a remote path side by side and makes the
remote match: new files are uploaded, files gone locally are deleted and files
whose content changed are replaced. Nothing is ever downloaded.`,
		Version:      version.Detailed(),
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromViper(v, args[0], args[1])
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.SortFlags = false
	f.StringArrayP("exclude", "x", nil, "Exclude paths matching a gitignore style pattern (repeatable)")
	f.Bool("no-default-excludes", false, "Do not exclude temporary and OS metadata files")
	f.BoolP("dry-run", "n", false, "Show what would be done without changing the remote")
	f.String("errorfile", config.DefaultErrorFile, "File that collects the errors of a run")
	f.StringP("backend", "b", config.BackendS3, "Remote backend: s3, http or dir")
	f.String("bucket", "", "S3 bucket")
	f.String("region", "", "S3 region")
	f.String("endpoint", "", "S3 compatible endpoint URL (MinIO, R2, ...)")
	f.String("server", "", "Blob server URL for the http backend")
	f.String("token", "", "Bearer token for the http backend")
	f.String("cache-dir", config.DefaultCacheDir, "Directory of the hash cache and run lock")
	f.Bool("no-cache", false, "Keep file hashes in memory only")
	f.Bool("watch", false, "Keep running and sync again when local files change")
	f.Bool("abort-on-listing-error", false, "Stop the run when a directory cannot be listed")
	f.BoolP("verbose", "v", false, "Print every file operation and debug logs")
	cmd.PersistentFlags().StringP("config", "c", "", "Config file (json, yaml or toml)")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red.Render("Error: "+err.Error()))
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, errAborted) {
		return 2
	}
	return 1
}

func loadConfig(cmd *cobra.Command, v *viper.Viper) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("config")
	if err := config.ReadConfigFile(v, configPath); err != nil {
		return err
	}

	config.SetDefaults(v)
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	// credentials only come from the environment or the config file
	v.BindEnv(config.KeyAccessKey, "TREESYNC_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	v.BindEnv(config.KeySecretKey, "TREESYNC_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")

	return nil
}
