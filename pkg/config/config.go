package config

import (
	"fmt"
	"os"

	"github.com/burrowdb/burrow/pkg/types"
	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultListen = ":9999"
	DefaultMemory = "64MB"
)

// Config is the server configuration, loadable from YAML and
// overridable by flags.
type Config struct {
	// Listen is the TCP address for the SQL protocol.
	Listen string `yaml:"listen"`
	// MetricsListen serves /metrics and the health endpoints when
	// non-empty.
	MetricsListen string `yaml:"metrics_listen"`
	// Memory is the page-cache budget, in human units (64MB, 1GB).
	Memory string `yaml:"memory"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// LogJSON switches log output from console to JSON.
	LogJSON bool `yaml:"log_json"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Listen:   DefaultListen,
		Memory:   DefaultMemory,
		LogLevel: "info",
	}
}

// Load reads a YAML config file; empty fields fall back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Memory == "" {
		c.Memory = DefaultMemory
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// MemoryBytes parses the memory budget.
func (c *Config) MemoryBytes() (int64, error) {
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(c.Memory)); err != nil {
		return 0, fmt.Errorf("memory %q: %w", c.Memory, types.ErrInvalidMem)
	}
	if size == 0 {
		return 0, fmt.Errorf("memory %q: %w", c.Memory, types.ErrInvalidMem)
	}
	return int64(size.Bytes()), nil
}
