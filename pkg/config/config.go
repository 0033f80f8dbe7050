// Package config loads the dashboard configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Poll     PollConfig     `yaml:"poll"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig locates the bbolt device table.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PollConfig tunes the synchronization engine.
type PollConfig struct {
	// Interval between polls of one device.
	Interval time.Duration `yaml:"interval"`
	// Tick is the scheduler resolution.
	Tick time.Duration `yaml:"tick"`
	// Timeout bounds every device request.
	Timeout time.Duration `yaml:"timeout"`
	// FailureThreshold is the consecutive-failure count after which a
	// property is treated as unsupported for the session.
	FailureThreshold int `yaml:"failure_threshold"`
}

// MQTTConfig configures the optional event bridge.
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	TopicRoot string `yaml:"topic_root"`
	QoS       int    `yaml:"qos"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:   ":8080",
		Database: DatabaseConfig{Path: "alpacadash.db"},
		Poll: PollConfig{
			Interval:         time.Second,
			Tick:             250 * time.Millisecond,
			Timeout:          5 * time.Second,
			FailureThreshold: 3,
		},
		MQTT: MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			TopicRoot: "alpacadash",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.Poll.Interval)
	}
	if c.Poll.Tick <= 0 || c.Poll.Tick > c.Poll.Interval {
		return fmt.Errorf("poll tick must be positive and at most the interval, got %v", c.Poll.Tick)
	}
	if c.Poll.Timeout <= 0 {
		return fmt.Errorf("poll timeout must be positive, got %v", c.Poll.Timeout)
	}
	if c.Poll.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive, got %d", c.Poll.FailureThreshold)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			return fmt.Errorf("mqtt host cannot be empty")
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			return fmt.Errorf("invalid mqtt port: %d", c.MQTT.Port)
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("invalid mqtt qos: %d", c.MQTT.QoS)
		}
	}
	return nil
}
