package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
poll:
  interval: 2s
mqtt:
  enabled: true
  host: broker.local
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)

	// Untouched values keep their defaults.
	assert.Equal(t, 250*time.Millisecond, cfg.Poll.Tick)
	assert.Equal(t, 3, cfg.Poll.FailureThreshold)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "alpacadash.db", cfg.Database.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "listen: [unclosed"))
	assert.ErrorContains(t, err, "parsing config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty listen",
			mutate:  func(c *Config) { c.Listen = "" },
			wantErr: "listen address",
		},
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.Poll.Interval = 0 },
			wantErr: "poll interval",
		},
		{
			name:    "tick above interval",
			mutate:  func(c *Config) { c.Poll.Tick = 2 * time.Second },
			wantErr: "poll tick",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Poll.Timeout = 0 },
			wantErr: "poll timeout",
		},
		{
			name:    "zero threshold",
			mutate:  func(c *Config) { c.Poll.FailureThreshold = 0 },
			wantErr: "failure threshold",
		},
		{
			name: "mqtt without host",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.Host = ""
			},
			wantErr: "mqtt host",
		},
		{
			name: "mqtt bad port",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.Port = 70000
			},
			wantErr: "mqtt port",
		},
		{
			name: "mqtt bad qos",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: "mqtt qos",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}
