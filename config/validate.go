package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-hclog"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateReader(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if c.Journal.Path == "" {
		return errors.New("journal.path must be set")
	}
	if hclog.LevelFromString(c.Logging.Level) == hclog.NoLevel {
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required. Set DAVI_API_BASE_URL or edit the config file (create with 'davi-attendance config init')")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url must be an http or https URL, got %q", c.API.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("api.base_url %q has no host", c.API.BaseURL)
	}
	return nil
}

func (c *Config) validateReader() error {
	switch c.Reader.Backend {
	case BackendLibNFC, BackendPhone, BackendMock:
		return nil
	default:
		return fmt.Errorf("reader.backend must be one of %s, %s, %s; got %q",
			BackendLibNFC, BackendPhone, BackendMock, c.Reader.Backend)
	}
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RatePerSecond < 0 {
		return errors.New("server.rate_per_second must not be negative")
	}
	return nil
}
