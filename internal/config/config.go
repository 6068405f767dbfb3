// Package config loads flowpatch's settings: a YAML file under the user's
// home directory, overridden field by field from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting.
type Config struct {
	// N8NBaseURL is the engine's REST root, e.g. http://localhost:5678.
	N8NBaseURL string `yaml:"n8n_base_url"`
	N8NAPIKey  string `yaml:"n8n_api_key"`
	// RequestTimeout bounds each REST call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RegistryDSN selects the registration table: "sqlite://path" or a
	// postgres URL. Empty disables webhook audits and credential checks.
	// A sqlite registry starts empty; fill it with "flowpatch import".
	RegistryDSN string `yaml:"registry_dsn"`

	// JournalPath is the SQLite file recording patch attempts. Empty
	// disables the journal.
	JournalPath string `yaml:"journal_path"`
	// JournalRetain caps recorded patches per workflow; 0 keeps all.
	JournalRetain int `yaml:"journal_retain"`

	// HTTPAddr is the listen address of the REST surface ("http" command).
	HTTPAddr string `yaml:"http_addr"`
	// MetricsAddr, when set, serves Prometheus metrics on /metrics.
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel string `yaml:"log_level"`

	// VersionCheck aborts a patch when the workflow's versionId moved
	// between fetch and persist.
	VersionCheck bool `yaml:"version_check"`

	// AuditConcurrency bounds parallel workflow audits.
	AuditConcurrency int `yaml:"audit_concurrency"`
}

// DefaultDir returns ~/.flowpatch.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".flowpatch")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		N8NBaseURL:       "http://localhost:5678",
		RequestTimeout:   30 * time.Second,
		JournalPath:      filepath.Join(DefaultDir(), "journal.db"),
		JournalRetain:    200,
		HTTPAddr:         ":8080",
		LogLevel:         "info",
		AuditConcurrency: 4,
	}
}

// Load reads path over the defaults (a missing file is not an error) and
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"N8N_BASE_URL":           &c.N8NBaseURL,
		"N8N_API_KEY":            &c.N8NAPIKey,
		"FLOWPATCH_REGISTRY_DSN": &c.RegistryDSN,
		"FLOWPATCH_JOURNAL_PATH": &c.JournalPath,
		"FLOWPATCH_HTTP_ADDR":    &c.HTTPAddr,
		"FLOWPATCH_METRICS_ADDR": &c.MetricsAddr,
		"FLOWPATCH_LOG_LEVEL":    &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("FLOWPATCH_VERSION_CHECK"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: FLOWPATCH_VERSION_CHECK: %w", err)
		}
		c.VersionCheck = b
	}
	return nil
}

// Validate checks the settings that would otherwise fail late.
func (c Config) Validate() error {
	if strings.TrimSpace(c.N8NBaseURL) == "" {
		return errors.New("config: n8n_base_url is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.JournalRetain < 0 {
		return fmt.Errorf("config: journal_retain must be >= 0, got %d", c.JournalRetain)
	}
	if c.AuditConcurrency < 1 {
		return fmt.Errorf("config: audit_concurrency must be >= 1, got %d", c.AuditConcurrency)
	}
	return nil
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: log_level: %w", err)
	}
	return lvl, nil
}
