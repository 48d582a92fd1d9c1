// Package telemetry samples the drive and sensors at a fixed rate, keeps
// the odometry estimate current and hands each snapshot to its sinks.
package telemetry

import (
	"context"
	"errors"

	"github.com/teslashibe/go-rover/pkg/fuzzy"
)

// NominalBatteryVoltage is reported when no battery monitor is wired.
const NominalBatteryVoltage = 7.2

// ErrClearPending is returned when an encoder clear is already queued.
var ErrClearPending = errors.New("telemetry: clear request queue full")

// Snapshot is one telemetry sample.
type Snapshot struct {
	LeftPWM  int16 `json:"left_pwm"`
	RightPWM int16 `json:"right_pwm"`

	LeftCount     int64   `json:"left_count"`
	RightCount    int64   `json:"right_count"`
	LeftRPM       float64 `json:"left_rpm"`
	RightRPM      float64 `json:"right_rpm"`
	LeftDistance  float64 `json:"left_distance"`
	RightDistance float64 `json:"right_distance"`
	EncodersOK    bool    `json:"encoders_ok"`

	BatteryVoltage float64 `json:"battery_voltage"`
	Uptime         uint64  `json:"uptime"`    // seconds
	FreeHeap       uint64  `json:"free_heap"` // bytes

	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	DHTValid    bool    `json:"dht_valid"`

	Timestamp int64 `json:"timestamp"` // unix milliseconds
}

// Sink receives every snapshot. Publish should not block for long; the
// collector calls sinks in turn on its own goroutine.
type Sink interface {
	Publish(ctx context.Context, s Snapshot) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, s Snapshot) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, s Snapshot) error {
	return f(ctx, s)
}

// DutySource reports the duty last sent to the motors.
type DutySource interface {
	LastApplied() fuzzy.MotorCommand
}

// EnvReading is one ambient sensor sample.
type EnvReading struct {
	Temperature float64 // °C
	Humidity    float64 // %RH
	Valid       bool
}

// EnvSensor is an optional temperature/humidity source.
type EnvSensor interface {
	ReadEnv(ctx context.Context) (EnvReading, error)
}
