package main

import (
	"context"
	"fmt"

	"github.com/openmined/treesync/internal/config"
	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/remote/dirremote"
	"github.com/openmined/treesync/internal/remote/httpremote"
	"github.com/openmined/treesync/internal/remote/s3remote"
)

// newRemote builds the configured backend and returns it with the remote root to sync into.
func newRemote(ctx context.Context, cfg *config.Config, hasher remote.Hasher) (remote.Remote, string, error) {
	switch cfg.Backend {
	case config.BackendS3:
		r, err := s3remote.New(ctx, &s3remote.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		}, s3remote.WithHasher(hasher))
		if err != nil {
			return nil, "", err
		}
		return r, remote.CleanRoot(cfg.RemotePath), nil

	case config.BackendHTTP:
		r, err := httpremote.New(&httpremote.Config{
			ServerURL: cfg.HTTP.ServerURL,
			Token:     cfg.HTTP.Token,
		}, httpremote.WithHasher(hasher))
		if err != nil {
			return nil, "", err
		}
		return r, remote.CleanRoot(cfg.RemotePath), nil

	case config.BackendDir:
		// the remote path is a directory, synced from its root
		r, err := dirremote.New(cfg.RemotePath, dirremote.WithHasher(hasher))
		if err != nil {
			return nil, "", err
		}
		return r, "", nil
	}

	return nil, "", fmt.Errorf("unknown backend %q", cfg.Backend)
}
