package blobserver

import (
	"errors"
	"fmt"

	"github.com/ulule/limiter/v3"
)

type Config struct {
	// Bind is the listen address, e.g. ":8090"
	Bind string
	// Root is the directory holding the blobs
	Root string
	// Token enables bearer token auth on the API routes when set
	Token string
	// Rate is a ulule/limiter formatted rate such as "100-S". Empty disables rate limiting
	Rate string
	// CertFile and KeyFile enable TLS and HSTS when both are set
	CertFile string
	KeyFile  string
}

func (c *Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

func (c *Config) Validate() error {
	if c.Bind == "" {
		return errors.New("bind address is required")
	}
	if c.Root == "" {
		return errors.New("root directory is required")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("cert file and key file must be set together")
	}
	if c.Rate != "" {
		if _, err := limiter.NewRateFromFormatted(c.Rate); err != nil {
			return fmt.Errorf("invalid rate %q: %w", c.Rate, err)
		}
	}
	return nil
}
