package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine kinds.
const (
	EnginePcap    = "pcap"
	EngineNethogs = "nethogs"
)

const defaultFileName = "gnethogs.yml"

// Config is the root configuration.
type Config struct {
	GNethogs AppConfig `yaml:"gnethogs"`
}

// AppConfig is the project configuration.
type AppConfig struct {
	Engine  EngineConfig  `yaml:"engine"`
	Users   UsersConfig   `yaml:"users"`
	UI      UIConfig      `yaml:"ui"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig selects and tunes the measurement engine.
type EngineConfig struct {
	Kind        string        `yaml:"kind"` // pcap|nethogs
	Interval    time.Duration `yaml:"interval"`
	Devices     []string      `yaml:"devices"`
	Filter      string        `yaml:"filter"`
	Snaplen     int           `yaml:"snaplen"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// UsersConfig controls uid resolution.
type UsersConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// UIConfig controls the terminal dashboard.
type UIConfig struct {
	Title string `yaml:"title"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.GNethogs.Logging.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	cfg.GNethogs.Logging.Enabled = true
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, nil
}

// Load finds the config file, reads it if present and applies defaults.
func Load(configArg string) (*Config, error) {
	path := FindConfigFile(configArg)
	cfg, err := LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) && configArg == "" {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// FindConfigFile returns the explicit path if given, otherwise the first
// gnethogs.yml found in the working directory or next to the executable.
func FindConfigFile(configArg string) string {
	if configArg != "" {
		return configArg
	}

	if _, err := os.Stat(defaultFileName); err == nil {
		return defaultFileName
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), defaultFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return defaultFileName
}

func ApplyDefaults(cfg *Config) {
	c := &cfg.GNethogs

	if c.Engine.Kind == "" {
		c.Engine.Kind = EnginePcap
	}
	if c.Engine.Interval == 0 {
		c.Engine.Interval = 100 * time.Millisecond
	}
	if c.Engine.Snaplen <= 0 {
		c.Engine.Snaplen = 65535
	}
	if c.Engine.IdleTimeout == 0 {
		c.Engine.IdleTimeout = 5 * time.Second
	}

	if c.Users.CacheSize <= 0 {
		c.Users.CacheSize = 256
	}

	if c.UI.Title == "" {
		c.UI.Title = "GNethogs"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9464"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	// console logging with no file stays stderr only
	if c.Logging.File == "" && !c.Logging.Console {
		c.Logging.File = "gnethogs.log"
	}
}

// Validate reports the first invalid setting.
func (cfg *Config) Validate() error {
	c := cfg.GNethogs

	switch c.Engine.Kind {
	case EnginePcap, EngineNethogs:
	default:
		return fmt.Errorf("unknown engine kind %q", c.Engine.Kind)
	}
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine interval must be positive, got %s", c.Engine.Interval)
	}
	if c.Engine.IdleTimeout <= 0 {
		return fmt.Errorf("engine idle_timeout must be positive, got %s", c.Engine.IdleTimeout)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /, got %q", c.Metrics.Path)
	}
	return nil
}
