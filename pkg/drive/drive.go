// Package drive defines the hardware boundary of the rover: the motor
// driver and the wheel encoders, plus in-process implementations used for
// simulation, testing and bring-up.
//
// Consumers depend only on MotorDriver or EncoderSource, never on a
// concrete board.
package drive

import (
	"errors"
	"fmt"
)

// PWMResolution is the full-scale duty accepted by motor drivers.
const PWMResolution = 255

// Wheel identifies one side of the differential drive.
type Wheel int

const (
	Left Wheel = iota
	Right
)

// Wheels lists both wheels in index order.
var Wheels = [...]Wheel{Left, Right}

func (w Wheel) String() string {
	switch w {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("wheel(%d)", int(w))
	}
}

// Valid reports whether w names a real wheel.
func (w Wheel) Valid() bool {
	return w == Left || w == Right
}

// ParseWheel parses "left"/"right" (or "l"/"r").
func ParseWheel(s string) (Wheel, error) {
	switch s {
	case "left", "l", "L":
		return Left, nil
	case "right", "r", "R":
		return Right, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidWheel, s)
	}
}

// MotorDriver accepts signed duty for each motor.
type MotorDriver interface {
	SetLeft(duty int16) error
	SetRight(duty int16) error
	Stop() error
}

// EncoderSource reads the hardware count register of each wheel.
// Count wraps at the register width; callers extend it.
type EncoderSource interface {
	Count(w Wheel) (int32, error)
	Clear(w Wheel) error
}

// PairedEncoder is an EncoderSource that reads both registers in one
// device transaction, so left and right come from the same sample.
type PairedEncoder interface {
	EncoderSource
	Counts() (left, right int32, err error)
}

// Sentinel errors for the drive package.
var (
	// ErrInvalidWheel indicates a wheel outside Left/Right.
	ErrInvalidWheel = errors.New("drive: invalid wheel")

	// ErrClosed indicates the device has been closed.
	ErrClosed = errors.New("drive: device closed")

	// ErrProtocol indicates a malformed reply from a device.
	ErrProtocol = errors.New("drive: protocol error")
)

// DriverError carries the wheel and operation of a failed device call.
type DriverError struct {
	Wheel Wheel
	Op    string
	Err   error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Wheel, e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// ClampDuty limits duty to the PWM resolution.
func ClampDuty(duty int16) int16 {
	if duty > PWMResolution {
		return PWMResolution
	}
	if duty < -PWMResolution {
		return -PWMResolution
	}
	return duty
}
