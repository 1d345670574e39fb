// Package config loads the kiosk's TOML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// API configures the remote attendance API.
type API struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the per-request timeout.
func (a API) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Reader selects and tunes the NFC capability.
type Reader struct {
	Backend        string `toml:"backend"` // libnfc, phone or mock
	Device         string `toml:"device"`  // libnfc connection string
	AlertMessage   string `toml:"alert_message"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
}

// PollInterval returns the libnfc polling interval.
func (r Reader) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

// Server configures the local kiosk HTTP server.
type Server struct {
	Bind          string  `toml:"bind"`
	Port          int     `toml:"port"`
	MDNS          bool    `toml:"mdns"`
	RatePerSecond float64 `toml:"rate_per_second"`
}

// Address returns bind:port.
func (s Server) Address() string {
	return fmt.Sprintf("%s:%d", s.Bind, s.Port)
}

// Journal configures the local action log.
type Journal struct {
	Path string `toml:"path"`
}

// Logging configures log verbosity.
type Logging struct {
	Level string `toml:"level"`
}

// Config is the full kiosk configuration.
type Config struct {
	API     API     `toml:"api"`
	Reader  Reader  `toml:"reader"`
	Server  Server  `toml:"server"`
	Journal Journal `toml:"journal"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/davi-attendance/config.toml")
}

// Load locates, parses, normalizes and validates a configuration file. A
// missing file yields the defaults. It also reports the resolved path and
// whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func (c *Config) normalize() error {
	if env := strings.TrimSpace(os.Getenv("DAVI_API_BASE_URL")); env != "" {
		c.API.BaseURL = env
	}
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	c.Reader.Backend = strings.ToLower(strings.TrimSpace(c.Reader.Backend))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Reader.PollIntervalMS <= 0 {
		c.Reader.PollIntervalMS = defaultPollIntervalMS
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	journalPath, err := expandPath(c.Journal.Path)
	if err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	c.Journal.Path = journalPath
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		path = defaultPath
	}

	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
