// Package config loads the server configuration from a YAML file, the
// DRAFTWIRE_* environment, and command-line flags, merged with flags
// winning over env winning over file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// StorageBackend resolves the configured backend name, defaulting to
// pebble when a db path is set and memory otherwise.
func (c *Config) StorageBackend() string {
	if c.Storage.Backend != "" {
		return c.Storage.Backend
	}
	if c.Storage.DBPath != "" {
		return "pebble"
	}
	return "memory"
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the DRAFTWIRE_CONFIG environment variable when the flag was
// not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("DRAFTWIRE_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
