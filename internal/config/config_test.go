package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/fuzzy"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rover.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.ListenAddr())
	assert.Equal(t, control.DropNewest, cfg.OverflowPolicy())
	assert.Equal(t, 20*time.Millisecond, cfg.Control.Rate)
	assert.Equal(t, 100*time.Millisecond, cfg.Control.Timeout)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, `
server:
  host: 127.0.0.1
  port: 9000
control:
  rate: 10ms
  overflow: drop-oldest
  profile:
    mode: tank
    curve: cubic
    invert_left: true
odometry:
  wheel_diameter_mm: 80
drive:
  kind: serial
  port: /dev/ttyUSB0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr())
	assert.Equal(t, 10*time.Millisecond, cfg.Control.Rate)
	assert.Equal(t, control.DropOldest, cfg.OverflowPolicy())
	assert.Equal(t, fuzzy.ModeTank, cfg.Control.Profile.Mode)
	assert.Equal(t, fuzzy.CurveCubic, cfg.Control.Profile.Curve)
	assert.True(t, cfg.Control.Profile.InvertLeft)
	assert.Equal(t, 0.7, cfg.Control.Profile.TurnFactor, "unset profile fields keep defaults")
	assert.Equal(t, 80.0, cfg.Odometry.WheelDiameterMM)
	assert.Equal(t, DriveSerial, cfg.Drive.Kind)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "server:\n  port: 9000\n")
	t.Setenv("ROVER_PORT", "9100")
	t.Setenv("ROVER_CONTROL_TIMEOUT", "250ms")
	t.Setenv("ROVER_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("ROVER_AUTH_SECRET", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Control.Timeout)
	assert.Equal(t, "tcp://broker:1883", cfg.Uplink.Broker)
	assert.Equal(t, "hunter2", cfg.Auth.Secret)
}

func TestPresetKeepsInversion(t *testing.T) {
	path := writeFile(t, "control:\n  preset: gentle\n  profile:\n    invert_right: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	want := fuzzy.GentleConfig()
	want.InvertRight = true
	assert.Equal(t, want, cfg.Control.Profile)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "server: [1, 2"},
		{"unknown mode", "control:\n  profile:\n    mode: hover\n"},
		{"unknown preset", "control:\n  preset: turbo\n"},
		{"serial without port", "drive:\n  kind: serial\n"},
		{"unknown drive", "drive:\n  kind: can\n"},
		{"timeout below rate", "control:\n  rate: 50ms\n  timeout: 20ms\n"},
		{"bad overflow", "control:\n  overflow: drop-random\n"},
		{"bad diameter", "odometry:\n  wheel_diameter_mm: 0\n"},
		{"bad profile", "control:\n  profile:\n    min_duty: 300\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Control.QueueSize = 0
	cfg.Uplink.QoS = 3

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "queue_size")
	assert.Contains(t, err.Error(), "qos")
}
