// Package config loads the API server configuration from a yaml file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Server struct {
		Port        string   `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Store struct {
		Backend           string        `yaml:"backend"`
		NotifyChannel     string        `yaml:"notify_channel"`
		ClockSyncInterval time.Duration `yaml:"clock_sync_interval"`
	} `yaml:"store"`

	Caucus struct {
		RedrawInterval time.Duration `yaml:"redraw_interval"`
	} `yaml:"caucus"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.Server.Port = "8080"
	c.Server.CORSOrigins = []string{"*"}
	c.Log.Level = "info"
	c.Store.Backend = BackendPostgres
	c.Store.NotifyChannel = "committee_documents"
	c.Store.ClockSyncInterval = 30 * time.Second
	c.Caucus.RedrawInterval = 250 * time.Millisecond
	return &c
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.NotifyChannel = getEnv("NOTIFY_CHANNEL", c.Store.NotifyChannel)
	c.Store.ClockSyncInterval = getEnvAsDuration("CLOCK_SYNC_INTERVAL", c.Store.ClockSyncInterval)
	c.Caucus.RedrawInterval = getEnvAsDuration("REDRAW_INTERVAL", c.Caucus.RedrawInterval)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = strings.Split(origins, ",")
	}
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Caucus.RedrawInterval <= 0 {
		return errors.New("caucus.redraw_interval must be positive")
	}
	if c.Store.ClockSyncInterval <= 0 {
		return errors.New("store.clock_sync_interval must be positive")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level for zerolog.
func (c *Config) LogLevel() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
