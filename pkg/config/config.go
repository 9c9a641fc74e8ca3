// Package config holds the pulsectl configuration: compiled-in defaults
// from struct tags, optionally overridden by a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"error"`
	OutputFormat   string        `yaml:"output_format" default:"table"` // table, json
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`

	DFU        DFUConfig        `yaml:"dfu"`
	Bootloader BootloaderConfig `yaml:"bootloader"`
}

// DFUConfig tunes the firmware transfer.
type DFUConfig struct {
	// Timeout is the bootloader inactivity window.
	Timeout       time.Duration `yaml:"timeout" default:"10s"`
	InitPacketPRN uint16        `yaml:"init_packet_prn" default:"0"`
	FirmwarePRN   uint16        `yaml:"firmware_prn" default:"10"`
	PacketSize    int           `yaml:"packet_size" default:"20"`
}

// BootloaderConfig controls the switch into the DFU bootloader.
type BootloaderConfig struct {
	// Name is advertised by the bootloader after the restart.
	Name        string        `yaml:"name" default:"PulseDFU"`
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"30s"`
}

// maxBootloaderNameLen mirrors the limit the accessory enforces.
const maxBootloaderNameLen = 20

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultConfigPath returns ~/.config/pulsectl/config.yaml, or "" when the
// home directory is unknown.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "pulsectl", "config.yaml")
}

// Load reads a YAML config file. Fields missing from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when given. With an empty path it loads the
// default path if that file exists and falls back to the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	path = DefaultConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("output_format must be \"table\" or \"json\", got %q", c.OutputFormat)
	}

	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be > 0")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be > 0")
	}
	if c.DFU.Timeout <= 0 {
		return fmt.Errorf("dfu.timeout must be > 0")
	}
	if c.DFU.PacketSize <= 0 {
		return fmt.Errorf("dfu.packet_size must be > 0")
	}

	if c.Bootloader.Name == "" {
		return fmt.Errorf("bootloader.name must not be empty")
	}
	if len(c.Bootloader.Name) > maxBootloaderNameLen {
		return fmt.Errorf("bootloader.name must be at most %d bytes, got %d", maxBootloaderNameLen, len(c.Bootloader.Name))
	}
	if c.Bootloader.ScanTimeout <= 0 {
		return fmt.Errorf("bootloader.scan_timeout must be > 0")
	}
	return nil
}

// Level returns the parsed log level, Info when it does not parse.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
