// Package fuzzy maps polar joystick input onto differential-drive motor duty.
//
// A joystick sample (angle, magnitude) passes through a fixed pipeline:
// dead zone, response curve, per-mode mixing, duty scaling, minimum-duty
// floor and inversion. The active profile is a Config owned by a Controller
// and swapped atomically as a whole.
//
// Joystick coordinate system:
//
//	       Forward (π/2)
//	            ↑
//	Left (π) ←--+--→ Right (0)
//	            ↓
//	       Back (3π/2)
package fuzzy

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// MaxPWM is the driver's PWM resolution; no profile may exceed it.
const MaxPWM = 255

// Sentinel errors for the fuzzy package.
var (
	// ErrInvalidConfig indicates a profile outside its documented domain.
	ErrInvalidConfig = errors.New("fuzzy: invalid config")

	// ErrUnknownPreset indicates a preset name that is not defined.
	ErrUnknownPreset = errors.New("fuzzy: unknown preset")

	// ErrUnknownMode indicates a mode name that does not parse.
	ErrUnknownMode = errors.New("fuzzy: unknown mode")

	// ErrUnknownCurve indicates a curve name that does not parse.
	ErrUnknownCurve = errors.New("fuzzy: unknown curve")
)

// Mode selects how Cartesian stick components are mixed into wheel speeds.
type Mode int

const (
	// ModeArcade: magnitude is speed, angle is turn rate.
	ModeArcade Mode = iota
	// ModeTank: full differential, in-place rotation at pure lateral input.
	ModeTank
	// ModeCar: reduce the inner wheel, Ackermann style.
	ModeCar
	// ModeSmooth: arcade with a softened turn factor.
	ModeSmooth
)

var modeNames = [...]string{
	ModeArcade: "arcade",
	ModeTank:   "tank",
	ModeCar:    "car",
	ModeSmooth: "smooth",
}

// Modes returns every defined mode in declaration order.
func Modes() []Mode {
	return []Mode{ModeArcade, ModeTank, ModeCar, ModeSmooth}
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m >= ModeArcade && m <= ModeSmooth
}

func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode parses a case-insensitive mode name.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Curve shapes the rescaled magnitude before mixing.
type Curve int

const (
	// CurveLinear maps 1:1.
	CurveLinear Curve = iota
	// CurveQuadratic is gentler at low speed.
	CurveQuadratic
	// CurveCubic is gentler still.
	CurveCubic
	// CurveSqrt responds faster at low speed.
	CurveSqrt
)

var curveNames = [...]string{
	CurveLinear:    "linear",
	CurveQuadratic: "quadratic",
	CurveCubic:     "cubic",
	CurveSqrt:      "sqrt",
}

var curveFuncs = [...]func(float64) float64{
	CurveLinear:    func(m float64) float64 { return m },
	CurveQuadratic: func(m float64) float64 { return m * m },
	CurveCubic:     func(m float64) float64 { return m * m * m },
	CurveSqrt:      math.Sqrt,
}

// Curves returns every defined curve in declaration order.
func Curves() []Curve {
	return []Curve{CurveLinear, CurveQuadratic, CurveCubic, CurveSqrt}
}

// Valid reports whether c is one of the defined curves.
func (c Curve) Valid() bool {
	return c >= CurveLinear && c <= CurveSqrt
}

// Apply shapes m. Undefined curves behave as linear.
func (c Curve) Apply(m float64) float64 {
	if !c.Valid() {
		return m
	}
	return curveFuncs[c](m)
}

func (c Curve) String() string {
	if !c.Valid() {
		return fmt.Sprintf("curve(%d)", int(c))
	}
	return curveNames[c]
}

// ParseCurve parses a case-insensitive curve name.
func ParseCurve(s string) (Curve, error) {
	for i, name := range curveNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Curve(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCurve, s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Curve) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCurve, int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Curve) UnmarshalText(text []byte) error {
	parsed, err := ParseCurve(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Config is a complete control profile.
type Config struct {
	Mode  Mode  `yaml:"mode" json:"mode"`
	Curve Curve `yaml:"curve" json:"curve"`

	// DeadZone is the magnitude below which input is treated as zero. [0,1)
	DeadZone float64 `yaml:"dead_zone" json:"dead_zone"`

	// TurnFactor scales how hard the rover turns. [0,1]
	TurnFactor float64 `yaml:"turn_factor" json:"turn_factor"`

	// MaxDuty bounds output duty; MinDuty is the static-friction floor.
	MaxDuty int16 `yaml:"max_duty" json:"max_duty"`
	MinDuty int16 `yaml:"min_duty" json:"min_duty"`

	// Inversion corrects reversed motor wiring.
	InvertLeft  bool `yaml:"invert_left" json:"invert_left"`
	InvertRight bool `yaml:"invert_right" json:"invert_right"`
}

// DefaultConfig returns the startup profile (same values as the normal preset).
func DefaultConfig() Config {
	return Config{
		Mode:       ModeArcade,
		Curve:      CurveQuadratic,
		DeadZone:   0.08,
		TurnFactor: 0.7,
		MaxDuty:    MaxPWM,
		MinDuty:    35,
	}
}

// Validate checks that the profile is inside its documented domain.
func (c *Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: mode %d", ErrInvalidConfig, int(c.Mode))
	}
	if !c.Curve.Valid() {
		return fmt.Errorf("%w: curve %d", ErrInvalidConfig, int(c.Curve))
	}
	if !(c.DeadZone >= 0 && c.DeadZone < 1) {
		return fmt.Errorf("%w: dead_zone must be in [0,1), got %v", ErrInvalidConfig, c.DeadZone)
	}
	if !(c.TurnFactor >= 0 && c.TurnFactor <= 1) {
		return fmt.Errorf("%w: turn_factor must be in [0,1], got %v", ErrInvalidConfig, c.TurnFactor)
	}
	if c.MinDuty < 0 || c.MinDuty > c.MaxDuty || c.MaxDuty > MaxPWM {
		return fmt.Errorf("%w: need 0 <= min_duty <= max_duty <= %d, got min=%d max=%d",
			ErrInvalidConfig, MaxPWM, c.MinDuty, c.MaxDuty)
	}
	return nil
}

// MotorCommand is a signed duty pair for the two drive motors.
type MotorCommand struct {
	Left  int16 `json:"left_duty"`
	Right int16 `json:"right_duty"`
}

// IsStop reports whether both duties are zero.
func (m MotorCommand) IsStop() bool {
	return m.Left == 0 && m.Right == 0
}
