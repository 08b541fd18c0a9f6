package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Classifier ClassifierConfig `yaml:"classifier"`
	Client     ClientConfig     `yaml:"client"`
	Shm        ShmConfig        `yaml:"shm"`
	Daemon     DaemonConfig     `yaml:"daemon"`
	Logging    LogConfig        `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ClassifierConfig holds the neighbor count used by both servers.
type ClassifierConfig struct {
	K int `envconfig:"KNN_K" default:"3" yaml:"k"`
}

// ClientConfig holds client harness settings.
type ClientConfig struct {
	Tests int `envconfig:"KNN_TESTS" default:"10000" yaml:"tests"`
}

// ShmConfig locates the mailbox variant's named objects.
type ShmConfig struct {
	Dir    string `envconfig:"KNN_SHM_DIR" default:"/dev/shm" yaml:"dir"`
	Prefix string `envconfig:"KNN_SHM_PREFIX" default:"" yaml:"prefix"`
}

// DaemonConfig holds pipe daemon lifecycle settings.
type DaemonConfig struct {
	Foreground bool `envconfig:"KNN_FOREGROUND" default:"false" yaml:"foreground"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"KNN_LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"KNN_LOG_DEV" default:"false" yaml:"development"`
}

// MetricsConfig enables the observability endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `envconfig:"KNN_METRICS_ADDR" default:"" yaml:"addr"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads the environment and then overlays the YAML file at path.
// Keys absent from the file keep their environment or default value. An
// empty path skips the overlay.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Classifier: ClassifierConfig{K: 3},
		Client:     ClientConfig{Tests: 10000},
		Shm:        ShmConfig{Dir: "/dev/shm"},
		Logging:    LogConfig{Level: "info"},
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Classifier.K < 1 {
		errs = append(errs, fmt.Errorf("k must be at least 1, got %d", c.Classifier.K))
	}
	if c.Client.Tests < 0 {
		errs = append(errs, fmt.Errorf("test count must not be negative, got %d", c.Client.Tests))
	}
	if c.Shm.Dir == "" {
		errs = append(errs, errors.New("shm dir must not be empty"))
	}
	return errors.Join(errs...)
}
