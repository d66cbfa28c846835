// Package blobserver is a small HTTP blob store that the http remote talks to.
// Blobs live as plain files under a root directory.
package blobserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openmined/treesync/internal/remote/dirremote"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	config *Config
	server *http.Server
	store  *dirremote.Store
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := dirremote.New(config.Root)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	handler, err := SetupRoutes(config, store)
	if err != nil {
		return nil, fmt.Errorf("setup routes: %w", err)
	}

	return &Server{
		config: config,
		store:  store,
		server: &http.Server{
			Addr:              config.Bind,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler exposes the routes, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("blob server start", "addr", s.config.Bind, "root", s.store.Root(), "auth", s.config.Token != "", "tls", s.config.TLSEnabled(), "rate", s.config.Rate)
	defer slog.Info("blob server stop")

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSEnabled() {
			err = s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
