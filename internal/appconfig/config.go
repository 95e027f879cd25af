// Package appconfig manages mole's own configuration and on-disk layout.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application-level configuration loaded from config.yaml.
// All fields are optional; zero values fall back to defaults.
type Config struct {
	// SSHConfig overrides the root ssh_config path (default ~/.ssh/config).
	SSHConfig string `yaml:"ssh_config,omitempty"`
	// Editor overrides $VISUAL/$EDITOR for `mole edit` and `mole config`.
	Editor string `yaml:"editor,omitempty"`
	// HealthTimeoutSeconds bounds the post-start health probe.
	HealthTimeoutSeconds int `yaml:"health_timeout_seconds"`
	// MaxLogSize is the per-tunnel log size in bytes that triggers rotation.
	MaxLogSize int64 `yaml:"max_log_size"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		HealthTimeoutSeconds: 5,
		MaxLogSize:           1 << 20,
	}
}

// HealthTimeout returns the configured health probe timeout as a duration.
func (c Config) HealthTimeout() time.Duration {
	secs := c.HealthTimeoutSeconds
	if secs <= 0 {
		secs = 5
	}
	return time.Duration(secs) * time.Second
}

// ResolveEditor picks the editor to launch: config > $VISUAL > $EDITOR > vi.
func (c Config) ResolveEditor() string {
	if c.Editor != "" {
		return c.Editor
	}
	if v := os.Getenv("VISUAL"); v != "" {
		return v
	}
	if v := os.Getenv("EDITOR"); v != "" {
		return v
	}
	return "vi"
}

// SSHConfigPath resolves the root ssh_config file to parse.
func (c Config) SSHConfigPath() (string, error) {
	if c.SSHConfig != "" {
		return expandHome(c.SSHConfig)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".ssh", "config"), nil
}

// ConfigDir returns mole's config directory.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/mole.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mole"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "mole"), nil
}

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "config.yaml"), nil
}

// Load reads config.yaml from the config directory, falling back to
// defaults when the file is missing or unreadable. A malformed file is an
// error; a missing one is not.
func Load() (Config, error) {
	path, err := ConfigFilePath()
	if err != nil {
		return Default(), err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Default(), err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Default(), fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.HealthTimeoutSeconds <= 0 {
		cfg.HealthTimeoutSeconds = 5
	}
	if cfg.MaxLogSize <= 0 {
		cfg.MaxLogSize = 1 << 20
	}
	return cfg, nil
}

// Save writes config to config.yaml, creating the directory if needed.
func Save(cfg Config) (string, error) {
	path, err := ConfigFilePath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, b, 0o600)
}

// Init writes a default config file if none exists and returns its path.
func Init() (string, error) {
	path, err := ConfigFilePath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return Save(Default())
}

func expandHome(path string) (string, error) {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
