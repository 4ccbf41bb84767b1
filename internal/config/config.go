// Package config persists named environments and tool defaults in a
// YAML file under the user's home directory. The loaded struct is
// passed explicitly to whoever needs it, never held as a global.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Redis describes one connection target.
type Redis struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls,omitempty"`
	Timeout  int    `yaml:"timeout,omitempty"` // seconds
}

// Addr returns the host:port dial address.
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// TimeoutDuration returns the configured dial timeout, zero when
// unset.
func (r Redis) TimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// Environment is a named connection target.
type Environment struct {
	Name  string `yaml:"name"`
	Redis Redis  `yaml:"redis"`
}

// Config is the whole tool configuration.
type Config struct {
	Environments       map[string]Environment `yaml:"environments"`
	DefaultEnvironment string                 `yaml:"default_environment,omitempty"`
	OutputFormat       string                 `yaml:"output_format,omitempty"`
	HistorySize        int                    `yaml:"history_size,omitempty"`
}

// Default returns the shipped configuration: a local dev target.
func Default() Config {
	return Config{
		Environments: map[string]Environment{
			"dev": {
				Name: "dev",
				Redis: Redis{
					Host:    "localhost",
					Port:    6379,
					DB:      0,
					Timeout: 30,
				},
			},
		},
		DefaultEnvironment: "dev",
		OutputFormat:       "json",
		HistorySize:        1000,
	}
}

// DefaultPath is ~/.redis-admin/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".redis-admin", "config.yaml"), nil
}

// Load reads the file at path, falling back to Default when it does
// not exist.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Environments == nil {
		cfg.Environments = map[string]Environment{}
	}
	return cfg, nil
}

// Save writes the configuration, creating the directory if needed.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Environment resolves a name, the default one for "".
func (c Config) Environment(name string) (Environment, error) {
	if name == "" {
		name = c.DefaultEnvironment
	}
	env, ok := c.Environments[name]
	if !ok {
		return Environment{}, fmt.Errorf("environment %q not found", name)
	}
	return env, nil
}
