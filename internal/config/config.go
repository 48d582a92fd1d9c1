// Package config loads the rover configuration: defaults in code, then an
// optional YAML file, then ROVER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/fuzzy"
	"github.com/teslashibe/go-rover/pkg/odometry"
	"github.com/teslashibe/go-rover/pkg/telemetry"
)

// Drive kinds.
const (
	DriveSim    = "sim"
	DriveSerial = "serial"
)

// ErrInvalid indicates a configuration that failed validation.
var ErrInvalid = errors.New("config: invalid")

// Rover is the complete configuration of cmd/rover.
type Rover struct {
	Server   Server   `yaml:"server"`
	Control  Control  `yaml:"control"`
	Odometry Odometry `yaml:"odometry"`
	Drive    Drive    `yaml:"drive"`
	Uplink   Uplink   `yaml:"uplink"`
	Auth     Auth     `yaml:"auth"`
	Log      Log      `yaml:"log"`
}

// Server is the operator web server.
type Server struct {
	Host       string `yaml:"host" env:"ROVER_HOST"`
	Port       int    `yaml:"port" env:"ROVER_PORT"`
	StaticDir  string `yaml:"static_dir" env:"ROVER_STATIC_DIR"`
	MaxClients int    `yaml:"max_clients" env:"ROVER_MAX_CLIENTS"`
}

// Control is the motor scheduler and its input queue.
type Control struct {
	Profile   fuzzy.Config  `yaml:"profile"`
	Preset    string        `yaml:"preset" env:"ROVER_PRESET"`
	Rate      time.Duration `yaml:"rate" env:"ROVER_CONTROL_RATE"`
	Timeout   time.Duration `yaml:"timeout" env:"ROVER_CONTROL_TIMEOUT"`
	QueueSize int           `yaml:"queue_size" env:"ROVER_QUEUE_SIZE"`
	Overflow  string        `yaml:"overflow" env:"ROVER_QUEUE_OVERFLOW"`
}

// Odometry is the encoder and wheel geometry.
type Odometry struct {
	PulsesPerRev    float64       `yaml:"pulses_per_rev" env:"ROVER_PULSES_PER_REV"`
	WheelDiameterMM float64       `yaml:"wheel_diameter_mm" env:"ROVER_WHEEL_DIAMETER_MM"`
	TelemetryRate   time.Duration `yaml:"telemetry_rate" env:"ROVER_TELEMETRY_RATE"`
}

// Drive selects the motor/encoder backend.
type Drive struct {
	Kind     string `yaml:"kind" env:"ROVER_DRIVE"`
	Port     string `yaml:"port" env:"ROVER_SERIAL_PORT"`
	BaudRate int    `yaml:"baud_rate" env:"ROVER_SERIAL_BAUD"`
	EnvProbe bool   `yaml:"env_probe" env:"ROVER_ENV_PROBE"`
	SelfTest bool   `yaml:"self_test" env:"ROVER_SELF_TEST"`
}

// Uplink is the optional MQTT bridge. Disabled when Broker is empty.
type Uplink struct {
	Broker   string `yaml:"broker" env:"ROVER_MQTT_BROKER"`
	ClientID string `yaml:"client_id" env:"ROVER_MQTT_CLIENT_ID"`
	Username string `yaml:"username" env:"ROVER_MQTT_USERNAME"`
	Password string `yaml:"password" env:"ROVER_MQTT_PASSWORD"`
	Prefix   string `yaml:"prefix" env:"ROVER_MQTT_PREFIX"`
	QoS      byte   `yaml:"qos" env:"ROVER_MQTT_QOS"`
}

// Auth enables operator tokens when Secret is set.
type Auth struct {
	Secret string `yaml:"secret" env:"ROVER_AUTH_SECRET"`
}

// Log configures internal/log.
type Log struct {
	Level  string `yaml:"level" env:"ROVER_LOG_LEVEL"`
	Format string `yaml:"format" env:"ROVER_LOG_FORMAT"`
	File   string `yaml:"file" env:"ROVER_LOG_FILE"`
}

// Default returns the built-in configuration.
func Default() Rover {
	return Rover{
		Server: Server{
			Port:       8080,
			MaxClients: 4,
		},
		Control: Control{
			Profile:   fuzzy.DefaultConfig(),
			Rate:      control.DefaultRate,
			Timeout:   control.DefaultTimeout,
			QueueSize: control.DefaultQueueSize,
			Overflow:  control.DropNewest.String(),
		},
		Odometry: Odometry{
			PulsesPerRev:    odometry.DefaultPulsesPerRev,
			WheelDiameterMM: odometry.DefaultWheelDiameter,
			TelemetryRate:   telemetry.DefaultRate,
		},
		Drive: Drive{
			Kind:     DriveSim,
			BaudRate: 115200,
		},
		Uplink: Uplink{
			Prefix: "rover",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path
// (skipped when path is empty) and the environment, then validates it.
func Load(path string) (Rover, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Rover{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Rover{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Rover{}, fmt.Errorf("config: environment: %w", err)
	}

	if cfg.Control.Preset != "" {
		p, err := fuzzy.GetPreset(cfg.Control.Preset)
		if err != nil {
			return Rover{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		p.InvertLeft = cfg.Control.Profile.InvertLeft
		p.InvertRight = cfg.Control.Profile.InvertRight
		cfg.Control.Profile = p
	}

	if err := cfg.Validate(); err != nil {
		return Rover{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Rover) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Server.MaxClients > 0, "server.max_clients must be positive")

	if err := c.Control.Profile.Validate(); err != nil {
		errs = append(errs, err)
	}
	check(c.Control.Rate > 0, "control.rate must be positive")
	check(c.Control.Timeout >= c.Control.Rate, "control.timeout %v shorter than rate %v", c.Control.Timeout, c.Control.Rate)
	check(c.Control.QueueSize > 0, "control.queue_size must be positive")
	if _, err := control.ParseOverflowPolicy(c.Control.Overflow); err != nil {
		errs = append(errs, err)
	}

	check(c.Odometry.PulsesPerRev > 0, "odometry.pulses_per_rev must be positive")
	check(c.Odometry.WheelDiameterMM > 0, "odometry.wheel_diameter_mm must be positive")
	check(c.Odometry.TelemetryRate > 0, "odometry.telemetry_rate must be positive")

	switch c.Drive.Kind {
	case DriveSim:
	case DriveSerial:
		check(c.Drive.Port != "", "drive.port is required for the serial drive")
	default:
		errs = append(errs, fmt.Errorf("drive.kind %q (want %s or %s)", c.Drive.Kind, DriveSim, DriveSerial))
	}

	check(c.Uplink.QoS <= 2, "uplink.qos %d out of range", c.Uplink.QoS)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// OverflowPolicy returns the parsed queue policy.
func (c *Rover) OverflowPolicy() control.OverflowPolicy {
	p, _ := control.ParseOverflowPolicy(c.Control.Overflow)
	return p
}

// ListenAddr returns the web server address.
func (c *Rover) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
