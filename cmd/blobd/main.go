package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/treesync/internal/blobserver"
	"github.com/openmined/treesync/internal/version"
	"github.com/spf13/cobra"
)

const defaultBind = ":8090"

func newRootCmd() *cobra.Command {
	config := &blobserver.Config{}

	cmd := &cobra.Command{
		Use:          "blobd",
		Short:        "Blob server backing the treesync http remote",
		Version:      version.Detailed(),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.Token == "" {
				config.Token = os.Getenv("BLOBD_TOKEN")
			}
			srv, err := blobserver.New(config)
			if err != nil {
				return err
			}
			defer slog.Info("Bye!")
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&config.Bind, "bind", "b", defaultBind, "Address to bind the server")
	cmd.Flags().StringVarP(&config.Root, "root", "r", "./blobs", "Directory holding the blobs")
	cmd.Flags().StringVar(&config.Token, "token", "", "Require this bearer token on the API (or BLOBD_TOKEN)")
	cmd.Flags().StringVar(&config.Rate, "rate", "", "Per client rate limit, e.g. 100-S")
	cmd.Flags().StringVarP(&config.CertFile, "cert", "c", "", "Path to the certificate file")
	cmd.Flags().StringVarP(&config.KeyFile, "key", "k", "", "Path to the key file")
	return cmd
}

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
