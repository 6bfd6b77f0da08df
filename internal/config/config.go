// Package config loads optional daemon defaults from a YAML file, the same
// way the teacher pack loads its per-user bridge settings: a best-effort
// read from a dotfile under the user's home directory, empty config (not an
// error) when the file is absent, and a validate pass on whatever parses.
// Command-line flags always take precedence over anything read here; this
// is only a place to pin defaults so they don't need to be retyped on every
// invocation.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds daemon defaults normally set via flags. Zero values mean
// "unset" and the caller's own default (or an explicit flag) applies.
type Config struct {
	MaxSessions int    `yaml:"max_sessions"`
	Workers     int    `yaml:"workers"`
	DBPath      string `yaml:"db_path"`
	LogPath     string `yaml:"log_path"`
	SocketPath  string `yaml:"socket_path"`
}

// Dir returns the daemon's configuration directory (~/.agent-tui/).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".agent-tui")
	}
	return filepath.Join(home, ".agent-tui")
}

// Load reads the config from ~/.agent-tui/config.yaml.
// If the file does not exist, it returns an empty Config with no error.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(Dir(), "config.yaml"))
}

// LoadFrom reads the config from the given path.
// If the file does not exist, it returns an empty Config with no error.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MaxSessions < 0 {
		return fmt.Errorf("max_sessions: must not be negative")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers: must not be negative")
	}
	return nil
}

// ApplyDefaults overwrites unset (zero-value) fields of dst with the
// config's values, leaving anything the caller already set via flags alone.
func (c *Config) ApplyDefaults(maxSessions, workers *int, dbPath, logPath, socketPath *string) {
	if *maxSessions == 0 {
		*maxSessions = c.MaxSessions
	}
	if *workers == 0 {
		*workers = c.Workers
	}
	if *dbPath == "" {
		*dbPath = c.DBPath
	}
	if *logPath == "" {
		*logPath = c.LogPath
	}
	if *socketPath == "" {
		*socketPath = c.SocketPath
	}
}
