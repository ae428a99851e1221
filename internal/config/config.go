package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes one upstream source. The set of sources is fixed
// at process start; descriptors are never mutated at runtime.
type SourceConfig struct {
	// Name identifies the source in logs, metrics and Event.Source.
	Name string `yaml:"name" json:"name"`

	// Kind selects the adapter: "json-api", "ical", "rss" or "scrape".
	Kind string `yaml:"kind" json:"kind"`

	// URL is the upstream endpoint (JSON API, ICS feed, RSS feed or page
	// to scrape).
	URL string `yaml:"url" json:"url"`

	// CacheTTL, when positive, puts this source behind the shared TTL
	// cache. Used for expensive sources (e.g. scrape sources doing
	// per-item enrichment calls).
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	// Render, for scrape sources, fetches the page through headless
	// Chromium so that script-injected markup is visible.
	Render bool `yaml:"render" json:"render"`

	// Enrich, for scrape sources, enables the per-item og:image lookup
	// for items that carry no image of their own.
	Enrich bool `yaml:"enrich" json:"enrich"`

	// Images maps a lowercased category/theme keyword to an image URL or
	// path. Matched against the record's category, then its title.
	Images map[string]string `yaml:"images,omitempty" json:"images,omitempty"`

	// DefaultImage is used when no Images entry matches. Falls back to
	// the global placeholder when empty.
	DefaultImage string `yaml:"default_image" json:"default_image"`
}

// RetryConfig is the retry policy applied to every adapter call.
type RetryConfig struct {
	// MaxAttempts bounds the total number of tries (first call included).
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Backoff is the fixed delay between attempts.
	Backoff time.Duration `yaml:"backoff" json:"backoff"`

	// AttemptTimeout bounds each individual attempt.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attempt_timeout"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is "debug", "info" or "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Timezone is the IANA timezone used when rendering display dates
	// (e.g. "Europe/Paris"). Event.Date itself is always UTC.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WindowDays is the default rolling window length for /api/events.
	WindowDays int `yaml:"window_days" json:"window_days"`

	// FetchTimeout, when positive, bounds one whole aggregation pass.
	// Zero means no global deadline; each attempt is still bounded by
	// Retry.AttemptTimeout.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`

	// RefreshCron is a cron-style schedule (e.g. "*/15 * * * *") for the
	// background cache-warming aggregation. Empty disables it.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// MaxConcurrentFetches bounds the fan-out worker pool.
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches" json:"max_concurrent_fetches"`

	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Sources is the fixed list of upstream sources to aggregate.
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// BasicAuth, if non-nil, protects all endpoints except /health and
	// /metrics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:               "127.0.0.1:8080",
		LogLevel:             "info",
		Timezone:             "Europe/Paris",
		WindowDays:           31,
		FetchTimeout:         2 * time.Minute,
		RefreshCron:          "*/15 * * * *",
		MaxConcurrentFetches: 8,
		Retry: RetryConfig{
			MaxAttempts:    3,
			Backoff:        2 * time.Second,
			AttemptTimeout: 15 * time.Second,
		},
		Sources: []SourceConfig{},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Paris"
	}
	if c.WindowDays <= 0 {
		c.WindowDays = 31
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = 8
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Backoff <= 0 {
		c.Retry.Backoff = 2 * time.Second
	}
	if c.Retry.AttemptTimeout <= 0 {
		c.Retry.AttemptTimeout = 15 * time.Second
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Name == "" {
			s.Name = s.URL
		}
		if s.Kind == "" {
			s.Kind = "json-api"
		}
	}
}

// Validate reports configuration errors that Normalize cannot paper over.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.URL == "" {
			return fmt.Errorf("source %q: url is required", s.Name)
		}
		switch s.Kind {
		case "json-api", "ical", "rss", "scrape":
		default:
			return fmt.Errorf("source %q: unknown kind %q", s.Name, s.Kind)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (parent
// directory created as needed) and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename, 0600).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".agendad-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
