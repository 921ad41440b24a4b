// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dotnetfactory/model-faceoff/internal/util"
)

// =============================================================================
// CONFIG STRUCTURE
// =============================================================================

// MaxPanels is the number of side-by-side response panels.
const MaxPanels = 3

// Config represents the complete faceoff configuration.
type Config struct {
	// APIKey is the OpenRouter API key. Empty selects free mode.
	APIKey string `toml:"api_key"`

	// BaseURL overrides the provider endpoint (for testing and proxies).
	BaseURL string `toml:"base_url"`

	// DefaultModels are the model ids preselected per panel, in panel
	// order. At most MaxPanels entries are used.
	DefaultModels []string `toml:"default_models"`

	// TitleModel generates conversation titles after the first exchange.
	TitleModel string `toml:"title_model"`

	// ModelsCacheTTLSecs is how long the fetched model list stays fresh.
	ModelsCacheTTLSecs int `toml:"models_cache_ttl_secs"`

	// DBPath is the SQLite database location (empty = default under
	// the config directory).
	DBPath string `toml:"db_path"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		APIKey:             "",
		BaseURL:            "", // provider default
		DefaultModels:      []string{},
		TitleModel:         "meta-llama/llama-3.2-3b-instruct:free",
		ModelsCacheTTLSecs: 600,
		DBPath:             "",
	}
}

// ModelsCacheTTL returns the cache TTL as a duration.
func (c *Config) ModelsCacheTTL() time.Duration {
	if c.ModelsCacheTTLSecs <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.ModelsCacheTTLSecs) * time.Second
}

// HasCredential reports whether an API key is configured.
func (c *Config) HasCredential() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the faceoff configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".faceoff"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultDBPath returns the default SQLite database path.
func DefaultDBPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "faceoff.db"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on the config file.
// The file holds an API key, so it must be owner read/write only.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the default config file. A missing file is
// not an error: defaults plus environment overrides are returned.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific TOML file, applying defaults
// underneath and environment overrides on top.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		if err := ensureSecurePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides to the config.
func (c *Config) ApplyEnvOverrides() {
	// FACEOFF_API_KEY takes precedence, OPENROUTER_API_KEY is honored for
	// compatibility with other OpenRouter tooling.
	if key := os.Getenv("FACEOFF_API_KEY"); key != "" {
		c.APIKey = key
	} else if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.APIKey = key
	}

	if url := os.Getenv("FACEOFF_BASE_URL"); url != "" {
		c.BaseURL = url
	}

	if path := os.Getenv("FACEOFF_DB_PATH"); path != "" {
		c.DBPath = path
	}
}

// Validate checks the configuration for nonsensical values.
func (c *Config) Validate() error {
	if len(c.DefaultModels) > MaxPanels {
		c.DefaultModels = c.DefaultModels[:MaxPanels]
	}
	if c.ModelsCacheTTLSecs < 0 {
		return fmt.Errorf("models_cache_ttl_secs must not be negative, got %d", c.ModelsCacheTTLSecs)
	}
	return nil
}

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(cfg, path)
}

// SaveFile writes the configuration to a specific TOML file with owner-only
// permissions, atomically so a crash mid-write never corrupts the key.
func SaveFile(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# faceoff configuration file")
	fmt.Fprintln(&buf, "# Generated by faceoff - edit with care")
	fmt.Fprintln(&buf, "")
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
