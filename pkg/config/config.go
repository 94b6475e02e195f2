// Package config loads blebatt settings from defaults and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in Config.Backend.
const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
	BackendSim    = "sim"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds application configuration
type Config struct {
	LogLevel        string        `yaml:"log_level"` // empty keeps logging silent
	Backend         string        `yaml:"backend" default:"goble"`
	RefreshInterval time.Duration `yaml:"refresh_interval" default:"120s"`
	BatteryTimeout  time.Duration `yaml:"battery_timeout" default:"30s"`
	Scan            ScanConfig    `yaml:"scan"`
	MQTT            MQTTConfig    `yaml:"mqtt"`
}

// ScanConfig controls discovery.
type ScanConfig struct {
	AllowDuplicates bool          `yaml:"allow_duplicates" default:"false"`
	Duration        time.Duration `yaml:"duration" default:"10s"`
}

// MQTTConfig controls the optional battery export.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" default:"false"`
	Broker      string `yaml:"broker" default:"tcp://localhost:1883"`
	ClientID    string `yaml:"client_id" default:"blebatt"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix" default:"blebatt"`
	QoS         int    `yaml:"qos" default:"1"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns ~/.config/blebatt/config.yaml, or "" when the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blebatt", "config.yaml")
}

// Load reads path over the defaults. An empty path means DefaultPath, which
// may be absent; an explicitly named file must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		return cfg, cfg.Validate()
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
		}
	}
	switch c.Backend {
	case BackendGoBLE, BackendTinyGo, BackendSim:
	default:
		return fmt.Errorf("%w: backend %q is not one of %s, %s, %s",
			ErrInvalidConfig, c.Backend, BackendGoBLE, BackendTinyGo, BackendSim)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("%w: refresh_interval must be positive, got %v", ErrInvalidConfig, c.RefreshInterval)
	}
	if c.BatteryTimeout <= 0 {
		return fmt.Errorf("%w: battery_timeout must be positive, got %v", ErrInvalidConfig, c.BatteryTimeout)
	}
	if c.Scan.Duration <= 0 {
		return fmt.Errorf("%w: scan.duration must be positive, got %v", ErrInvalidConfig, c.Scan.Duration)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("%w: mqtt.broker is required when mqtt is enabled", ErrInvalidConfig)
		}
		if c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("%w: mqtt.topic_prefix is required when mqtt is enabled", ErrInvalidConfig)
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2, got %d", ErrInvalidConfig, c.MQTT.QoS)
		}
	}
	return nil
}

// Level returns the parsed log level: PanicLevel (silent) when unset,
// InfoLevel when it does not parse.
func (c *Config) Level() logrus.Level {
	if c.LogLevel == "" {
		return logrus.PanicLevel
	}
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

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
